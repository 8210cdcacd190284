package trapobservers

import (
	"context"
	"log/slog"

	"github.com/zinolabs/zino/internal/zino/trapd"
)

// IgnoreSet subscribes to a fixed list of (mib, name) pairs the device
// population is known to send frequently and which carry no state of
// interest (e.g. coldStart, authenticationFailure on devices with
// trap-community mismatches expected by design). Registering this
// observer first for those TrapIDs keeps them from reaching any
// log-only observer registered after it, since it always returns false.
type IgnoreSet struct {
	IDs []trapd.TrapID
}

func (s *IgnoreSet) Wants() []trapd.TrapID { return s.IDs }

func (s *IgnoreSet) Handle(context.Context, *trapd.Trap) bool { return false }

// LogOnlySet subscribes to traps worth a log line but no event-store
// mutation (informational vendor traps with no corresponding MODULE).
type LogOnlySet struct {
	IDs    []trapd.TrapID
	Logger *slog.Logger
}

func (s *LogOnlySet) Wants() []trapd.TrapID { return s.IDs }

func (s *LogOnlySet) Handle(_ context.Context, trap *trapd.Trap) bool {
	s.Logger.Info("trap received (log only)",
		slog.String("device", trap.Device), slog.String("mib", trap.MIB), slog.String("name", trap.Name))
	return true
}
