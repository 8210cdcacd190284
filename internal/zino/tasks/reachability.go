package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/zinolabs/zino/internal/snmp"
	"github.com/zinolabs/zino/internal/zino/model"
)

// BackoffIntervals are the one-shot probe delays scheduled while a
// device is unreachable.
var BackoffIntervals = []time.Duration{
	60 * time.Second,
	120 * time.Second,
	240 * time.Second,
	480 * time.Second,
	960 * time.Second,
}

// ReachabilityTask probes sysUpTime. On success it clears any pending
// back-off jobs and ensures an open Reachability event reports
// reachable; on timeout it opens/updates one reporting no-response,
// schedules the back-off probes (idempotently), and returns
// ErrDeviceUnreachable to abort the rest of this cycle's pipeline.
type ReachabilityTask struct{}

func (t *ReachabilityTask) Name() string { return "reachability" }

func (t *ReachabilityTask) Run(ctx context.Context, tc *Context) error {
	now := tc.Now()
	idx := model.EventIndex{Router: tc.Device.Name, SubIndex: "0", Kind: model.KindReachability}

	_, err := tc.SNMP.Get(ctx, snmp.Symbol{MIB: "SNMPv2-MIB", Object: "sysUpTime", RowIndex: "0"})
	if err == nil {
		if tc.Backoff.BackoffRunning(tc.Device.Name) {
			tc.Backoff.CancelBackoff(tc.Device.Name)
		}
		return t.commitReachable(idx, tc, now)
	}

	if !isTimeout(err) {
		// Permanent/backend error: surfaced but not promoted to
		// device-unreachable (that signal is reserved for timeouts).
		return err
	}

	if err := t.commitUnreachable(idx, tc, now); err != nil {
		return err
	}
	if !tc.Backoff.BackoffRunning(tc.Device.Name) {
		tc.Backoff.ScheduleBackoff(ctx, tc.Device.Name, func(probeCtx context.Context) {
			_ = t.Run(probeCtx, tc)
		})
	}
	return ErrDeviceUnreachable
}

func (t *ReachabilityTask) commitReachable(idx model.EventIndex, tc *Context, now time.Time) error {
	ev, exists := tc.Store.Get(idx)
	if !exists {
		return nil
	}
	checked, err := tc.Store.Checkout(ev.ID)
	if err != nil {
		return err
	}
	checked.Reachability.Reachability = model.Reachable
	checked.AddLog(now, "device is reachable")
	_, err = tc.Store.Commit(checked, "monitor", now)
	return err
}

func (t *ReachabilityTask) commitUnreachable(idx model.EventIndex, tc *Context, now time.Time) error {
	ev, created, err := tc.Store.GetOrCreate(idx, tc.Device.Priority, now)
	if err != nil {
		return err
	}
	ev.Reachability.Reachability = model.NoResponse
	ev.Reachability.Unit = "0"
	if created {
		ev.AddLog(now, "device is not responding to SNMP")
	}
	_, err = tc.Store.Commit(ev, "monitor", now)
	return err
}

func isTimeout(err error) bool {
	return errors.Is(err, snmp.ErrTimeout)
}
