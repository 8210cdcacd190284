package tasks

import (
	"context"
	"strconv"
	"time"

	"github.com/zinolabs/zino/internal/snmp"
	"github.com/zinolabs/zino/internal/zino/model"
)

// Juniper enterprise number and its chassis alarm scalar OIDs
// (JUNIPER-ALARM-MIB).
const juniperEnterpriseID = 2636

var (
	jnxYellowAlarmCountOID = mustOID(".1.3.6.1.4.1.2636.3.4.2.2.0")
	jnxRedAlarmCountOID    = mustOID(".1.3.6.1.4.1.2636.3.4.2.3.0")
)

// AlarmsTask reads Juniper's chassis yellow/red alarm counters and
// commits an Alarm event per color whenever the count changes. Non-
// Juniper devices (EnterpriseID populated by the Vendor task) are
// skipped entirely; this is the only task in the pipeline gated on
// vendor, reflecting that alarm MIBs are not standardized.
type AlarmsTask struct{}

func (t *AlarmsTask) Name() string { return "alarms" }

func (t *AlarmsTask) Run(ctx context.Context, tc *Context) error {
	if tc.Device.EnterpriseID != juniperEnterpriseID {
		return nil
	}

	now := tc.Now()
	if err := t.checkColor(ctx, tc, "yellow", jnxYellowAlarmCountOID, now); err != nil {
		return err
	}
	return t.checkColor(ctx, tc, "red", jnxRedAlarmCountOID, now)
}

func (t *AlarmsTask) checkColor(ctx context.Context, tc *Context, color string, oid snmp.OID, now time.Time) error {
	vbs, err := tc.SNMP.Walk(ctx, oid)
	if err != nil {
		if isNoSuchTable(err) {
			return nil
		}
		return err
	}
	count := 0
	if len(vbs) > 0 {
		count = int(intOf(vbs[0].Value))
	}

	idx := model.EventIndex{Router: tc.Device.Name, SubIndex: color, Kind: model.KindAlarm}
	existing, hasOpen := tc.Store.Get(idx)
	if hasOpen && existing.Alarm.AlarmCount == count {
		return nil
	}
	if !hasOpen && count == 0 {
		return nil
	}

	ev, created, err := tc.Store.GetOrCreate(idx, tc.Device.Priority, now)
	if err != nil {
		return err
	}
	ev.Alarm.AlarmType = color
	ev.Alarm.AlarmCount = count
	if count == 0 {
		ev.State = model.StateClosed
		ev.AddLog(now, color+" alarm count cleared")
	} else if created {
		ev.AddLog(now, color+" alarm count is "+strconv.Itoa(count))
	} else {
		ev.AddLog(now, color+" alarm count changed to "+strconv.Itoa(count))
	}

	_, err = tc.Store.Commit(ev, "monitor", now)
	return err
}
