// Package trapobservers implements the trapd.Observer policy set: link
// state traps feed the same flap tracker and PortState events as the
// polling pipeline, BFD traps trigger a re-poll of the whole device, and
// BGP backward-transition traps record a peering loss
// without waiting for the next poll cycle. Each observer is a small
// policy object consulted by the dispatcher, holding no transport state
// of its own.
package trapobservers

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/zinolabs/zino/internal/zino/flap"
	"github.com/zinolabs/zino/internal/zino/model"
	"github.com/zinolabs/zino/internal/zino/store"
	"github.com/zinolabs/zino/internal/zino/trapd"
)

// DeviceLookup resolves a device by name, implemented by
// scheduler.Scheduler.
type DeviceLookup interface {
	DeviceByName(name string) (*model.Device, bool)
}

// IntervalPoller schedules an out-of-cycle single-interface verification
// poll, implemented by scheduler.Scheduler.PollInterface.
type IntervalPoller interface {
	PollInterface(ctx context.Context, device string, ifIndex uint32) error
}

// verificationDelay is how long the link observer waits after the
// immediate verification poll before re-polling the interface a second
// time, giving the device a moment to settle before the confirming GET.
const verificationDelay = 2 * time.Second

// LinkObserver reacts to IF-MIB linkUp/linkDown traps: it feeds the flap
// tracker exactly like LinkStateTask does on a normal poll, commits the
// resulting PortState event, and schedules an immediate plus a delayed
// verification poll so a device that traps once but doesn't settle is
// still caught by the next cycle.
type LinkObserver struct {
	Devices DeviceLookup
	Store   *store.Store
	Flap    *flap.Tracker
	Poller  IntervalPoller
	Now     func() time.Time
	Logger  *slog.Logger
}

func (o *LinkObserver) Wants() []trapd.TrapID {
	return []trapd.TrapID{
		{MIB: "IF-MIB", Name: "linkUp"},
		{MIB: "IF-MIB", Name: "linkDown"},
	}
}

func (o *LinkObserver) Handle(ctx context.Context, trap *trapd.Trap) bool {
	dev, ok := o.Devices.DeviceByName(trap.Device)
	if !ok {
		return true
	}

	ifIndex, ok := intVar(trap.Vars["ifIndex"])
	if !ok {
		return true
	}
	port, ok := dev.Ports[uint32(ifIndex)]
	if !ok {
		// Unknown ifIndex: the device has never reported this interface
		// on a poll. Ignore rather than fabricate a port record.
		return true
	}
	if !dev.Watched(port.IfDescr) {
		return true
	}

	now := o.now()
	operState := model.PortDown
	if trap.Name == "linkUp" {
		operState = model.PortUp
	}
	if port.OperState == operState {
		// Redundant trap: nothing changed since the last known state.
		return true
	}
	prevState := port.OperState
	port.OperState = operState

	key := flap.Key{Device: trap.Device, IfIndex: uint32(ifIndex)}
	o.Flap.Update(key, now)
	flapping := o.Flap.IsFlapping(key, now)

	if err := o.commit(dev, port, ifIndex, operState, prevState, flapping, now); err != nil {
		o.Logger.Warn("link trap commit failed",
			slog.String("device", trap.Device), slog.String("error", err.Error()))
		return true
	}

	if o.Poller != nil {
		go func() {
			for _, delay := range []time.Duration{0, verificationDelay} {
				time.Sleep(delay)
				if err := o.Poller.PollInterface(ctx, trap.Device, uint32(ifIndex)); err != nil {
					o.Logger.Debug("link verification poll failed",
						slog.String("device", trap.Device), slog.String("error", err.Error()))
				}
			}
		}()
	}
	return true
}

func (o *LinkObserver) commit(dev *model.Device, port *model.Port, ifIndex int64, operState, prevState model.PortOperState, flapping bool, now time.Time) error {
	idx := model.EventIndex{Router: dev.Name, SubIndex: strconv.FormatInt(ifIndex, 10), Kind: model.KindPortState}
	ev, created, err := o.Store.GetOrCreate(idx, dev.Priority, now)
	if err != nil {
		return err
	}

	ev.PortState.IfIndex = uint32(ifIndex)
	ev.PortState.Descr = port.IfDescr
	ev.PortState.Alias = port.IfAlias
	ev.PortState.PortState = operState
	if prevState == model.PortDown && operState == model.PortUp && !ev.PortState.LastTrans.IsZero() {
		ev.PortState.ACDown += now.Sub(ev.PortState.LastTrans)
	}
	ev.PortState.LastTrans = now
	if flapping {
		ev.PortState.FlapState = model.PortFlapping
		ev.PortState.Flaps++
	} else {
		ev.PortState.FlapState = operState
	}

	verb := "down"
	if operState == model.PortUp {
		verb = "up"
	}
	switch {
	case created:
		ev.AddLog(now, "port "+port.IfDescr+" is "+verb+" (trap)")
	case flapping:
		ev.AddLog(now, "port "+port.IfDescr+" is flapping (trap)")
	default:
		ev.AddLog(now, "port "+port.IfDescr+" changed to "+verb+" (trap)")
	}

	_, err = o.Store.Commit(ev, "monitor", now)
	return err
}

func (o *LinkObserver) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func intVar(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}
