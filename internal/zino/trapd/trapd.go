// Package trapd is the trap dispatcher: source-address authentication
// against the scheduler's address index, a community filter, symbolic
// resolution of the trap's varbinds, and fan-out to a (mib, name)-keyed
// multimap of observers invoked in registration order with boolean
// short-circuit semantics.
//
// The dispatch loop logs and continues past a single bad packet rather
// than stopping; RawTrap is the boundary a concrete UDP listener
// produces into, keeping PDU decode separate from dispatch policy.
package trapd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zinolabs/zino/internal/snmp"
)

// ErrUnresolvedVarbind is returned by Dispatch when a trap is missing one
// of the two mandatory varbinds (snmpTrapOID, sysUpTime) or a varbind's
// OID cannot be resolved against the loaded MIB set.
var ErrUnresolvedVarbind = errors.New("trap missing required varbind")

// RawTrap is one inbound trap datagram after UDP/PDU decode but before
// symbolic resolution.
type RawTrap struct {
	SourceAddr string
	Community  string
	Variables  []snmp.VarBind
}

// PacketSource supplies decoded traps to Dispatcher.Run, one at a time.
// A production implementation wraps a net.PacketConn and an SNMP trap
// PDU decoder; tests use a channel-backed fake.
type PacketSource interface {
	ReadFrom(ctx context.Context) (RawTrap, error)
}

// Resolver maps OIDs to and from symbolic (MIB, object) names,
// standing in for the loaded MIB set.
type Resolver interface {
	// Resolve returns the symbolic name of oid.
	Resolve(oid snmp.OID) (snmp.Symbol, error)
	// ResolveValue returns the symbolic (mib, name) of an OID carried as
	// a trap's own value, e.g. the snmpTrapOID varbind's payload.
	ResolveValue(oid snmp.OID) (mib, name string, err error)
}

// AddressLookup maps a trap's source address to the device name that
// owns it, implemented by scheduler.AddressIndex.
type AddressLookup interface {
	Lookup(addr string) (string, bool)
}

// Metrics counts accepted traps by identity, satisfied by
// *zinometrics.Collector. A nil Metrics disables counting.
type Metrics interface {
	IncTrapsReceived(kind string)
}

// Trap is a fully resolved, dispatch-ready trap.
type Trap struct {
	Device     string
	SourceAddr string
	MIB        string
	Name       string
	SysUpTime  time.Duration
	Vars       map[string]any
}

// TrapID identifies a (mib, name) pair observers subscribe to.
type TrapID struct {
	MIB  string
	Name string
}

// Observer is notified of every trap matching one of the TrapIDs it
// declares via Wants. Handle returns false to short-circuit dispatch:
// no observer registered after it for the same TrapID runs.
type Observer interface {
	Wants() []TrapID
	Handle(ctx context.Context, trap *Trap) bool
}

// Dispatcher implements the five-step dispatch algorithm: source
// lookup, community filter, symbolic resolution, mandatory-varbind
// check, and (mib, name) dispatch.
type Dispatcher struct {
	mu          sync.RWMutex
	addresses   AddressLookup
	resolver    Resolver
	communities map[string]struct{} // empty set: no filtering configured
	observers   map[TrapID][]Observer
	metrics     Metrics
	logger      *slog.Logger
}

// New creates a Dispatcher with no community filter and no observers
// registered.
func New(addresses AddressLookup, resolver Resolver, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		addresses: addresses,
		resolver:  resolver,
		observers: make(map[TrapID][]Observer),
		logger:    logger,
	}
}

// SetMetrics wires a trap counter into Dispatch. Call before Run.
func (d *Dispatcher) SetMetrics(m Metrics) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metrics = m
}

// SetCommunities restricts accepted traps to the given community
// strings. An empty slice disables the filter (the default).
func (d *Dispatcher) SetCommunities(communities []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.communities = make(map[string]struct{}, len(communities))
	for _, c := range communities {
		d.communities[c] = struct{}{}
	}
}

// Register subscribes obs to every TrapID it declares wanting.
func (d *Dispatcher) Register(obs Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range obs.Wants() {
		d.observers[id] = append(d.observers[id], obs)
	}
}

// Run reads traps from src until ctx is cancelled, dispatching each one.
// A read error is logged and the loop continues; only ctx cancellation
// stops it.
func (d *Dispatcher) Run(ctx context.Context, src PacketSource) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		raw, err := src.ReadFrom(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.logger.Warn("trap read error", slog.String("error", err.Error()))
			continue
		}
		if err := d.Dispatch(ctx, raw); err != nil {
			d.logger.Debug("trap dropped", slog.String("error", err.Error()))
		}
	}
}

// Dispatch runs the five-step algorithm against one raw trap. A nil
// error does not imply an observer ran: traps from unknown sources or
// filtered communities are silently dropped, producing no event and no
// log entry.
func (d *Dispatcher) Dispatch(ctx context.Context, raw RawTrap) error {
	deviceName, ok := d.addresses.Lookup(raw.SourceAddr)
	if !ok {
		return nil
	}

	d.mu.RLock()
	communities := d.communities
	d.mu.RUnlock()
	if len(communities) > 0 {
		if _, ok := communities[raw.Community]; !ok {
			return nil
		}
	}

	trap, err := d.resolve(deviceName, raw)
	if err != nil {
		return err
	}

	d.mu.RLock()
	observers := append([]Observer(nil), d.observers[TrapID{MIB: trap.MIB, Name: trap.Name}]...)
	metrics := d.metrics
	d.mu.RUnlock()

	if metrics != nil {
		metrics.IncTrapsReceived(trap.MIB + "::" + trap.Name)
	}

	for _, obs := range observers {
		if !d.runObserver(ctx, obs, trap) {
			break
		}
	}
	return nil
}

func (d *Dispatcher) resolve(deviceName string, raw RawTrap) (*Trap, error) {
	vars := make(map[string]any, len(raw.Variables))
	var trapOID snmp.OID
	var sysUpTime time.Duration
	haveTrapOID, haveUpTime := false, false

	for _, vb := range raw.Variables {
		sym, err := d.resolver.Resolve(vb.OID)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", vb.OID, err)
		}
		// Varbinds are reachable both by bare object name (single-
		// instance payloads like ifIndex) and, for table cells, by
		// "object.row" so observers can see every row of a repeated
		// column (the BFD session-range extraction needs all of them).
		vars[sym.Object] = vb.Value
		if sym.RowIndex != "" {
			vars[sym.Object+"."+sym.RowIndex] = vb.Value
		}

		switch sym.Object {
		case "snmpTrapOID":
			if oid, ok := vb.Value.(snmp.OID); ok {
				trapOID = oid
				haveTrapOID = true
			}
		case "sysUpTime":
			if v, ok := toHundredths(vb.Value); ok {
				sysUpTime = time.Duration(v) * 10 * time.Millisecond
				haveUpTime = true
			}
		}
	}
	if !haveTrapOID || !haveUpTime {
		return nil, ErrUnresolvedVarbind
	}

	mib, name, err := d.resolver.ResolveValue(trapOID)
	if err != nil {
		return nil, fmt.Errorf("resolve trap oid %s: %w", trapOID, err)
	}

	return &Trap{
		Device:     deviceName,
		SourceAddr: raw.SourceAddr,
		MIB:        mib,
		Name:       name,
		SysUpTime:  sysUpTime,
		Vars:       vars,
	}, nil
}

func (d *Dispatcher) runObserver(ctx context.Context, obs Observer, trap *Trap) (cont bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("trap observer panicked",
				slog.Any("panic", r),
				slog.String("device", trap.Device),
				slog.String("mib", trap.MIB),
				slog.String("name", trap.Name),
			)
			cont = true
		}
	}()
	return obs.Handle(ctx, trap)
}

func toHundredths(v any) (int64, bool) {
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
