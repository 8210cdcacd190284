package tasks

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/zinolabs/zino/internal/snmp"
	"github.com/zinolabs/zino/internal/zino/flap"
	"github.com/zinolabs/zino/internal/zino/model"
)

// IF-MIB column roots. ifAlias lives in the ifXTable extension; the rest
// are in the base ifTable. All are stable standard-MIB OIDs needing no
// symbolic resolution.
var (
	ifDescrOID       = mustOID(".1.3.6.1.2.1.2.2.1.2")
	ifAdminStatusOID = mustOID(".1.3.6.1.2.1.2.2.1.7")
	ifOperStatusOID  = mustOID(".1.3.6.1.2.1.2.2.1.8")
	ifLastChangeOID  = mustOID(".1.3.6.1.2.1.2.2.1.9")
	ifAliasOID       = mustOID(".1.3.6.1.2.1.31.1.1.1.18")
)

// operStateFromInt maps the IF-MIB ifOperStatus integer encoding.
func operStateFromInt(v int64) model.PortOperState {
	switch v {
	case 1:
		return model.PortUp
	case 2:
		return model.PortDown
	case 3:
		return model.PortTesting
	case 4:
		return model.PortUnknown
	case 5:
		return model.PortDormant
	case 6:
		return model.PortNotPresent
	case 7:
		return model.PortLowerLayerDown
	default:
		return model.PortUnknown
	}
}

// LinkStateTask sparse-walks the interface table, records flap events via
// the flap tracker, and commits a PortState event for every interface
// whose effective state (oper state, or the synthetic "flapping" state
// once an interface crosses the flap threshold) changed since the last
// cycle. Administratively-down interfaces are recorded but never flagged
// as flapping.
type LinkStateTask struct{}

func (t *LinkStateTask) Name() string { return "linkstate" }

func (t *LinkStateTask) Run(ctx context.Context, tc *Context) error {
	rows, err := tc.SNMP.SparseWalk(ctx, map[string]snmp.OID{
		"ifDescr":       ifDescrOID,
		"ifAdminStatus": ifAdminStatusOID,
		"ifOperStatus":  ifOperStatusOID,
		"ifLastChange":  ifLastChangeOID,
		"ifAlias":       ifAliasOID,
	}, tc.Device.MaxRepetitions)
	if err != nil {
		return err
	}

	now := tc.Now()
	for rowIdx, row := range rows {
		if err := processLinkRow(tc, rowIdx, row, now); err != nil {
			return err
		}
	}
	return nil
}

// VerifyInterface re-polls a single interface's operational state
// directly, used for the operator POLLINTF command and the link trap
// observer's post-trap verification reschedules. It walks the same
// standard-MIB columns as Run but only commits the one requested row.
func VerifyInterface(ctx context.Context, tc *Context, ifIndex uint32) error {
	rows, err := tc.SNMP.SparseWalk(ctx, map[string]snmp.OID{
		"ifDescr":       ifDescrOID,
		"ifAdminStatus": ifAdminStatusOID,
		"ifOperStatus":  ifOperStatusOID,
		"ifLastChange":  ifLastChangeOID,
		"ifAlias":       ifAliasOID,
	}, tc.Device.MaxRepetitions)
	if err != nil {
		return err
	}
	rowIdx := "." + strconv.FormatUint(uint64(ifIndex), 10)
	row, ok := rows[rowIdx]
	if !ok {
		return nil
	}
	return processLinkRow(tc, rowIdx, row, tc.Now())
}

// processLinkRow updates the device's port record for one sparse-walk
// row and, if the interface is watched and its operational state
// changed, records the flap transition and commits a PortState event.
func processLinkRow(tc *Context, rowIdx string, row snmp.Row, now time.Time) error {
	ifIndex, err := strconv.ParseUint(strings.TrimPrefix(rowIdx, "."), 10, 32)
	if err != nil {
		return nil
	}
	descr, _ := row["ifDescr"].(string)
	alias, _ := row["ifAlias"].(string)
	if !tc.Device.Watched(descr) {
		return nil
	}

	adminInt := intOf(row["ifAdminStatus"])
	operInt := intOf(row["ifOperStatus"])
	operState := operStateFromInt(operInt)
	adminDown := adminInt == 2

	port, existed := tc.Device.Ports[uint32(ifIndex)]
	if !existed {
		port = &model.Port{IfIndex: uint32(ifIndex)}
		tc.Device.Ports[uint32(ifIndex)] = port
	}
	prevOper := port.OperState
	if !existed {
		// A freshly discovered admin-up interface that is not up is
		// worth an event on this very first cycle: seed the previous
		// state to unknown so the comparison below sees a transition.
		// A first sighting in the up (or admin-down) state stays quiet.
		if adminDown || operState == model.PortUp {
			prevOper = operState
		} else {
			prevOper = model.PortUnknown
		}
	}
	port.IfDescr = descr
	port.IfAlias = alias
	port.OperState = operState

	if adminDown {
		return nil
	}
	if prevOper == operState {
		return nil
	}

	key := flap.Key{Device: tc.Device.Name, IfIndex: uint32(ifIndex)}
	tc.Flap.Update(key, now)
	flapping := tc.Flap.IsFlapping(key, now)

	t := &LinkStateTask{}
	return t.commitPortState(tc, uint32(ifIndex), descr, alias, operState, flapping, now)
}

func (t *LinkStateTask) commitPortState(tc *Context, ifIndex uint32, descr, alias string, operState model.PortOperState, flapping bool, now time.Time) error {
	idx := model.EventIndex{Router: tc.Device.Name, SubIndex: strconv.FormatUint(uint64(ifIndex), 10), Kind: model.KindPortState}
	ev, created, err := tc.Store.GetOrCreate(idx, tc.Device.Priority, now)
	if err != nil {
		return err
	}

	ev.PortState.IfIndex = ifIndex
	ev.PortState.Descr = descr
	ev.PortState.Alias = alias
	ev.PortState.PortState = operState
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
	if created {
		ev.AddLog(now, "port "+descr+" is "+verb)
	} else if flapping {
		ev.AddLog(now, "port "+descr+" is flapping")
	} else {
		ev.AddLog(now, "port "+descr+" changed to "+verb)
	}

	_, err = tc.Store.Commit(ev, "monitor", now)
	return err
}

func intOf(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	default:
		return 0
	}
}
