package scheduler_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zinolabs/zino/internal/snmp"
	"github.com/zinolabs/zino/internal/zino/flap"
	"github.com/zinolabs/zino/internal/zino/scheduler"
	"github.com/zinolabs/zino/internal/zino/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(t *testing.T) *scheduler.Scheduler {
	t.Helper()
	st := store.New(1, testLogger())
	tracker := flap.NewTracker(testLogger())
	cache := snmp.NewSessionCache(&snmp.FakeFactory{Client: snmp.NewFakeClient()})
	return scheduler.New(st, tracker, cache, testLogger())
}

func writeDeviceFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "devices.cf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReconcileAddsNewDevices(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t)
	path := writeDeviceFile(t, "name: rtr-a\naddress: 10.0.0.1\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	created, removed, updated, err := s.ReconcileDeviceFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Equal(t, 0, removed)
	assert.Equal(t, 0, updated)
}

func TestReconcileRemovesVanishedDevices(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := writeDeviceFile(t, "name: rtr-a\naddress: 10.0.0.1\n")
	_, _, _, err := s.ReconcileDeviceFile(ctx, first)
	require.NoError(t, err)

	second := writeDeviceFile(t, "name: rtr-b\naddress: 10.0.0.2\n")
	created, removed, _, err := s.ReconcileDeviceFile(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, removed)
}

func TestReconcileUpdatesExistingDeviceInPlace(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := writeDeviceFile(t, "name: rtr-a\naddress: 10.0.0.1\ncommunity: public\n")
	_, _, _, err := s.ReconcileDeviceFile(ctx, first)
	require.NoError(t, err)

	second := writeDeviceFile(t, "name: rtr-a\naddress: 10.0.0.1\ncommunity: secret\n")
	created, removed, updated, err := s.ReconcileDeviceFile(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.Equal(t, 0, removed)
	assert.Equal(t, 1, updated)
}

func TestDumpJobs_ReflectsRegisteredDevices(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := writeDeviceFile(t, "name: rtr-a\naddress: 10.0.0.1\n")
	_, _, _, err := s.ReconcileDeviceFile(ctx, path)
	require.NoError(t, err)

	// allow the device goroutine to start before asserting on it
	require.Eventually(t, func() bool {
		_, ok := s.DumpJobs()["rtr-a"]
		return ok
	}, time.Second, 10*time.Millisecond)
}
