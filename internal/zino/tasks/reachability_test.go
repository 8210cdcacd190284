package tasks_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zinolabs/zino/internal/snmp"
	"github.com/zinolabs/zino/internal/zino/flap"
	"github.com/zinolabs/zino/internal/zino/model"
	"github.com/zinolabs/zino/internal/zino/store"
	"github.com/zinolabs/zino/internal/zino/tasks"
)

type fakeAddresses struct {
	set map[string]string
}

func newFakeAddresses() *fakeAddresses { return &fakeAddresses{set: make(map[string]string)} }

func (f *fakeAddresses) Set(addr, device string) { f.set[addr] = device }
func (f *fakeAddresses) Delete(addr string)       { delete(f.set, addr) }

type fakeBackoff struct {
	running map[string]bool
	probes  int
}

func newFakeBackoff() *fakeBackoff { return &fakeBackoff{running: make(map[string]bool)} }

func (f *fakeBackoff) ScheduleBackoff(_ context.Context, device string, _ func(context.Context)) {
	f.running[device] = true
	f.probes++
}
func (f *fakeBackoff) CancelBackoff(device string)     { f.running[device] = false }
func (f *fakeBackoff) BackoffRunning(device string) bool { return f.running[device] }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestContext(device *model.Device, cl snmp.Client) *tasks.Context {
	s := store.New(1, testLogger())
	return &tasks.Context{
		Device:    device,
		Store:     s,
		Flap:      flap.NewTracker(testLogger()),
		Addresses: newFakeAddresses(),
		Backoff:   newFakeBackoff(),
		SNMP:      cl,
		Now:       time.Now,
		Logger:    testLogger(),
	}
}

func TestReachabilityTask_SuccessClearsBackoffAndReportsReachable(t *testing.T) {
	t.Parallel()
	dev := model.NewDevice("rtr-a", "10.0.0.1")
	client := snmp.NewFakeClient()
	client.Scalars["SNMPv2-MIB::sysUpTime.0"] = int64(12345)
	tc := newTestContext(dev, client)
	tc.Backoff.(*fakeBackoff).running[dev.Name] = true

	task := &tasks.ReachabilityTask{}
	err := task.Run(context.Background(), tc)
	require.NoError(t, err)
	assert.False(t, tc.Backoff.BackoffRunning(dev.Name))
}

func TestReachabilityTask_TimeoutOpensEventAndSchedulesBackoff(t *testing.T) {
	t.Parallel()
	dev := model.NewDevice("rtr-a", "10.0.0.1")
	client := snmp.NewFakeClient()
	client.Fail = snmp.ErrTimeout
	tc := newTestContext(dev, client)

	task := &tasks.ReachabilityTask{}
	err := task.Run(context.Background(), tc)
	require.ErrorIs(t, err, tasks.ErrDeviceUnreachable)

	idx := model.EventIndex{Router: dev.Name, SubIndex: "0", Kind: model.KindReachability}
	ev, ok := tc.Store.Get(idx)
	require.True(t, ok)
	assert.Equal(t, model.NoResponse, ev.Reachability.Reachability)
	assert.True(t, tc.Backoff.BackoffRunning(dev.Name))
	assert.Equal(t, 1, tc.Backoff.(*fakeBackoff).probes)
}

func TestReachabilityTask_SecondTimeoutDoesNotRescheduleBackoff(t *testing.T) {
	t.Parallel()
	dev := model.NewDevice("rtr-a", "10.0.0.1")
	client := snmp.NewFakeClient()
	client.Fail = snmp.ErrTimeout
	tc := newTestContext(dev, client)

	task := &tasks.ReachabilityTask{}
	_ = task.Run(context.Background(), tc)
	_ = task.Run(context.Background(), tc)
	assert.Equal(t, 1, tc.Backoff.(*fakeBackoff).probes)
}

func TestReachabilityTask_NonTimeoutErrorPropagates(t *testing.T) {
	t.Parallel()
	dev := model.NewDevice("rtr-a", "10.0.0.1")
	client := snmp.NewFakeClient()
	client.Fail = errors.New("boom")
	tc := newTestContext(dev, client)

	task := &tasks.ReachabilityTask{}
	err := task.Run(context.Background(), tc)
	require.Error(t, err)
	assert.False(t, errors.Is(err, tasks.ErrDeviceUnreachable))
}
