// Package tasks implements the fixed per-device task pipeline:
// Reachability, Vendor, AddressMap, LinkState, BFD, BGP, Alarms, run in
// that order, with the reachability probe's failure aborting the rest
// of the cycle. One goroutine per device runs its pipeline each cycle;
// ErrDeviceUnreachable is the sentinel that walks back up through
// RunAll to short-circuit the remaining tasks.
package tasks

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/zinolabs/zino/internal/snmp"
	"github.com/zinolabs/zino/internal/zino/flap"
	"github.com/zinolabs/zino/internal/zino/model"
	"github.com/zinolabs/zino/internal/zino/store"
)

// ErrDeviceUnreachable is returned by the Reachability task on SNMP
// timeout. RunAll treats it as the designated short-circuit: the
// remaining tasks in the pipeline do not run this cycle.
var ErrDeviceUnreachable = errors.New("device unreachable")

// AddressIndex is the process-wide address -> device-name map maintained
// by the AddressMap task and consulted by the trap dispatcher (4.G step
// 1). Defined as an interface here, implemented by the scheduler/runtime
// package, to avoid an import cycle between tasks and its caller.
type AddressIndex interface {
	Set(addr, deviceName string)
	Delete(addr string)
}

// BackoffScheduler schedules and cancels the one-shot back-off probes
// for an unreachable device, kept as an interface for the same reason
// as AddressIndex: the scheduler that implements it depends on tasks,
// not the reverse.
type BackoffScheduler interface {
	ScheduleBackoff(ctx context.Context, deviceName string, probe func(context.Context))
	CancelBackoff(deviceName string)
	BackoffRunning(deviceName string) bool
}

// Metrics receives per-task timing and poll-failure counts, satisfied
// by *zinometrics.Collector and defined here as an interface for the
// same import-direction reason as AddressIndex. A nil Metrics disables
// recording.
type Metrics interface {
	ObserveTaskDuration(task string, seconds float64)
	IncPollErrors(router string)
}

// Context carries everything a Task needs to run once for one device.
type Context struct {
	Device    *model.Device
	Store     *store.Store
	Flap      *flap.Tracker
	Addresses AddressIndex
	Backoff   BackoffScheduler
	SNMP      snmp.Client
	Metrics   Metrics
	Now       func() time.Time
	Logger    *slog.Logger
}

// Task is one stage of the pipeline.
type Task interface {
	Name() string
	Run(ctx context.Context, tc *Context) error
}

// DefaultPipeline returns the task sequence in its fixed run order.
func DefaultPipeline() []Task {
	return []Task{
		&ReachabilityTask{},
		&VendorTask{},
		&AddressMapTask{},
		&LinkStateTask{},
		&BFDTask{},
		&BGPTask{},
		&AlarmsTask{},
	}
}

// RunAll runs tasks in order against tc, stopping early if a task
// returns ErrDeviceUnreachable (expected: the cycle is abandoned, not
// the device) or any other error (an unexpected failure aborts the
// remaining tasks for that device this cycle only; logged here, not
// propagated as a pipeline failure).
func RunAll(ctx context.Context, tasks []Task, tc *Context) {
	for _, t := range tasks {
		started := tc.Now()
		err := t.Run(ctx, tc)
		if tc.Metrics != nil {
			tc.Metrics.ObserveTaskDuration(t.Name(), tc.Now().Sub(started).Seconds())
		}
		if err == nil {
			continue
		}
		if tc.Metrics != nil {
			tc.Metrics.IncPollErrors(tc.Device.Name)
		}
		if errors.Is(err, ErrDeviceUnreachable) {
			tc.Logger.Debug("device unreachable, aborting remaining tasks this cycle",
				slog.String("device", tc.Device.Name))
			return
		}
		tc.Logger.Warn("task failed, aborting remaining tasks this cycle",
			slog.String("device", tc.Device.Name),
			slog.String("task", t.Name()),
			slog.String("error", err.Error()),
		)
		return
	}
}
