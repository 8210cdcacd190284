package trapobservers

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/zinolabs/zino/internal/zino/trapd"
)

// SessionPoller re-polls a whole device, implemented by
// scheduler.Scheduler.PollDevice: BFDTask re-walks the whole session
// table, so the observer's job is only to ask for the poll, not to
// single out one row.
type SessionPoller interface {
	PollDevice(ctx context.Context, device string) error
}

// BFDObserver reacts to BFD-STD-MIB session-state-change traps. The
// trap's variable set carries the affected session-index range as a
// pair of bfdSessDiag-prefixed varbinds (low/high); fewer than two such
// bindings means the range can't be determined and the trap is dropped
// with a log line.
type BFDObserver struct {
	Poller SessionPoller
	Logger *slog.Logger
}

func (o *BFDObserver) Wants() []trapd.TrapID {
	return []trapd.TrapID{
		{MIB: "BFD-STD-MIB", Name: "bfdSessUp"},
		{MIB: "BFD-STD-MIB", Name: "bfdSessDown"},
	}
}

func (o *BFDObserver) Handle(ctx context.Context, trap *trapd.Trap) bool {
	var indices []int64
	for name, v := range trap.Vars {
		if !hasBfdSessDiagPrefix(name) {
			continue
		}
		n, ok := intVar(v)
		if !ok {
			continue
		}
		indices = append(indices, n)
	}
	if len(indices) < 2 {
		o.Logger.Debug("bfd trap missing session-index range, dropping",
			slog.String("device", trap.Device))
		return true
	}

	lo, hi := indices[0], indices[0]
	for _, n := range indices[1:] {
		if n < lo {
			lo = n
		}
		if n > hi {
			hi = n
		}
	}
	o.Logger.Debug("bfd trap received, scheduling re-poll",
		slog.String("device", trap.Device),
		slog.String("session_range", strconv.FormatInt(lo, 10)+"-"+strconv.FormatInt(hi, 10)))

	if o.Poller != nil {
		if err := o.Poller.PollDevice(ctx, trap.Device); err != nil {
			o.Logger.Debug("bfd verification poll failed",
				slog.String("device", trap.Device), slog.String("error", err.Error()))
		}
	}
	return true
}

// hasBfdSessDiagPrefix matches only row-indexed bfdSessDiag bindings
// ("bfdSessDiag.<row>"); the bare object-name alias the dispatcher also
// stores would double-count one of them.
func hasBfdSessDiagPrefix(name string) bool {
	const prefix = "bfdSessDiag."
	return len(name) >= len(prefix) && name[:len(prefix)] == prefix
}
