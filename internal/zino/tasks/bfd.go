package tasks

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/zinolabs/zino/internal/snmp"
	"github.com/zinolabs/zino/internal/zino/model"
)

// BFD-STD-MIB (RFC 9314) session table columns, keyed by bfdSessIndex.
var (
	bfdSessStateOID      = mustOID(".1.3.6.1.2.1.10.246.1.2.1.2")
	bfdSessDiscriminator = mustOID(".1.3.6.1.2.1.10.246.1.2.1.3")
	bfdSessAddrOID       = mustOID(".1.3.6.1.2.1.10.246.1.3.1.3")
)

var bfdStateNames = map[int64]string{
	1: "adminDown",
	2: "down",
	3: "init",
	4: "up",
}

// BFDTask walks the device's BFD session table and commits a BFD event
// whenever a session's reported state changes. Devices
// without a BFD session table (the common case) simply contribute no
// rows and the task is a silent no-op; a genuine SNMP error still
// surfaces so the pipeline can log it.
type BFDTask struct{}

func (t *BFDTask) Name() string { return "bfd" }

func (t *BFDTask) Run(ctx context.Context, tc *Context) error {
	rows, err := tc.SNMP.SparseWalk(ctx, map[string]snmp.OID{
		"state": bfdSessStateOID,
		"discr": bfdSessDiscriminator,
		"addr":  bfdSessAddrOID,
	}, tc.Device.MaxRepetitions)
	if err != nil {
		if isNoSuchTable(err) {
			return nil
		}
		return err
	}

	now := tc.Now()
	for rowIdx, row := range rows {
		sessIdx := strings.TrimPrefix(rowIdx, ".")
		stateInt := intOf(row["state"])
		state, ok := bfdStateNames[stateInt]
		if !ok {
			continue
		}
		discr := uint32(intOf(row["discr"]))
		addr, _ := row["addr"].(string)

		if err := t.commitIfChanged(tc, sessIdx, discr, addr, state, now); err != nil {
			return err
		}
	}
	return nil
}

func (t *BFDTask) commitIfChanged(tc *Context, sessIdx string, discr uint32, addr, state string, now time.Time) error {
	idx := model.EventIndex{Router: tc.Device.Name, SubIndex: sessIdx, Kind: model.KindBFD}
	existing, hasOpen := tc.Store.Get(idx)
	if hasOpen && existing.BFD.BFDState == state {
		return nil
	}

	ev, created, err := tc.Store.GetOrCreate(idx, tc.Device.Priority, now)
	if err != nil {
		return err
	}
	ifIndex, _ := strconv.ParseUint(sessIdx, 10, 32)
	ev.BFD.BFDIndex = uint32(ifIndex)
	ev.BFD.BFDDiscr = discr
	ev.BFD.BFDAddr = addr
	ev.BFD.BFDState = state

	if created {
		ev.AddLog(now, "bfd session to "+addr+" is "+state)
	} else {
		ev.AddLog(now, "bfd session to "+addr+" changed to "+state)
	}
	_, err = tc.Store.Commit(ev, "monitor", now)
	return err
}

func isNoSuchTable(err error) bool {
	f, ok := err.(*snmp.Failure)
	if !ok {
		return false
	}
	return f.What == snmp.FailureNoSuchObject || f.What == snmp.FailureEndOfMIBView
}
