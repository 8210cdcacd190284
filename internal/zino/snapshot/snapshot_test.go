package snapshot_test

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
	"github.com/zinolabs/zino/internal/zino/model"
	"github.com/zinolabs/zino/internal/zino/pm"
	"github.com/zinolabs/zino/internal/zino/scheduler"
	"github.com/zinolabs/zino/internal/zino/snapshot"
	"github.com/zinolabs/zino/internal/zino/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRuntime(t *testing.T, ctx context.Context) snapshot.Runtime {
	t.Helper()
	st := store.New(1, testLogger())
	tracker := flap.NewTracker(testLogger())
	cache := snmp.NewSessionCache(&snmp.FakeFactory{Client: snmp.NewFakeClient()})
	sched := scheduler.New(st, tracker, cache, testLogger())

	dir := t.TempDir()
	devPath := filepath.Join(dir, "devices.cf")
	require.NoError(t, os.WriteFile(devPath, []byte("name: rtr-a\naddress: 10.0.0.1\n"), 0o644))
	_, _, _, err := sched.ReconcileDeviceFile(ctx, devPath)
	require.NoError(t, err)

	return snapshot.Runtime{
		Store:     st,
		Flap:      tracker,
		Scheduler: sched,
		PMs:       pm.New(st, sched, testLogger()),
	}
}

// Whole-second timestamps so the Unix-seconds serialization
// round-trips exactly; sub-second precision is deliberately not
// preserved.
func ts(sec int64) time.Time { return time.Unix(sec, 0) }

func TestSnapshotRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newRuntime(t, ctx)
	now := ts(1700000000)

	// One event per kind, exercising every payload branch.
	portIdx := model.EventIndex{Router: "rtr-a", SubIndex: "1", Kind: model.KindPortState}
	ev, err := src.Store.Create(portIdx, 100, now)
	require.NoError(t, err)
	ev.PortState = model.PortStateAttrs{
		IfIndex:   1,
		PortState: model.PortDown,
		FlapState: model.PortDown,
		Descr:     "Gi1/1",
		Alias:     "uplink",
		ACDown:    90 * time.Second,
		LastTrans: ts(1699999990),
	}
	ev.AddLog(now, "link down")
	_, err = src.Store.Commit(ev, "monitor", now)
	require.NoError(t, err)

	bgpIdx := model.EventIndex{Router: "rtr-a", SubIndex: "192.0.2.9", Kind: model.KindBGP}
	ev, _, err = src.Store.GetOrCreate(bgpIdx, 100, now)
	require.NoError(t, err)
	ev.BGP = model.BGPAttrs{RemoteAddr: "192.0.2.9", RemoteAS: 65001, BGPAS: "idle", PeerUptime: 3 * time.Second}
	_, err = src.Store.Commit(ev, "monitor", now)
	require.NoError(t, err)

	reachIdx := model.EventIndex{Router: "rtr-a", SubIndex: "", Kind: model.KindReachability}
	ev, _, err = src.Store.GetOrCreate(reachIdx, 100, now)
	require.NoError(t, err)
	ev.Reachability.Reachability = model.NoResponse
	committed, err := src.Store.Commit(ev, "monitor", now)
	require.NoError(t, err)

	// Close the reachability event so the closed index round-trips too.
	ev, err = src.Store.Checkout(committed.ID)
	require.NoError(t, err)
	ev.State = model.StateClosed
	_, err = src.Store.Commit(ev, "operator", now.Add(time.Minute))
	require.NoError(t, err)

	src.Flap.Restore(map[flap.Key]model.FlappingState{
		{Device: "rtr-a", IfIndex: 1}: {
			HistVal:               40,
			Flaps:                 12,
			FirstFlap:             ts(1699999000),
			LastFlap:              ts(1699999900),
			LastAge:               ts(1699999900),
			FlappedAboveThreshold: true,
			InActiveFlapState:     true,
		},
	})
	src.Scheduler.Addresses().Set("10.0.0.1", "rtr-a")
	src.PMs.Create(ts(1700003600), ts(1700007200), model.PMKindDevice, model.MatchExact, "rtr-a", "")

	state := snapshot.Capture(src, now.Add(2*time.Minute))
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, snapshot.Save(path, state))

	loaded, err := snapshot.Load(path)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	dst := newRuntime(t, ctx)
	require.NoError(t, snapshot.Apply(dst, loaded))

	wantEvents, wantNext := src.Store.Dump()
	gotEvents, gotNext := dst.Store.Dump()
	assert.Equal(t, wantNext, gotNext)
	assert.ElementsMatch(t, wantEvents, gotEvents)

	got, ok := dst.Store.Get(portIdx)
	require.True(t, ok)
	assert.Equal(t, "Gi1/1", got.PortState.Descr)
	assert.Equal(t, model.PortDown, got.PortState.PortState)

	_, ok = dst.Store.GetClosed(reachIdx)
	assert.True(t, ok, "closed event survives the round trip")

	fs, ok := dst.Flap.Get(flap.Key{Device: "rtr-a", IfIndex: 1})
	require.True(t, ok)
	assert.Equal(t, 40.0, fs.HistVal)
	assert.True(t, fs.FlappedAboveThreshold)

	name, ok := dst.Scheduler.Addresses().Lookup("10.0.0.1")
	require.True(t, ok)
	assert.Equal(t, "rtr-a", name)

	pms := dst.PMs.List()
	require.Len(t, pms, 1)
	assert.Equal(t, "rtr-a", pms[0].MatchExpression)
	assert.Equal(t, model.PMKindDevice, pms[0].Kind)
}

func TestIDMonotonicityAcrossRestore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newRuntime(t, ctx)
	now := ts(1700000000)

	idx := model.EventIndex{Router: "rtr-a", SubIndex: "7", Kind: model.KindPortState}
	ev, _, err := src.Store.GetOrCreate(idx, 100, now)
	require.NoError(t, err)
	ev.PortState.IfIndex = 7
	committed, err := src.Store.Commit(ev, "monitor", now)
	require.NoError(t, err)

	state := snapshot.Capture(src, now)

	dst := newRuntime(t, ctx)
	require.NoError(t, snapshot.Apply(dst, state))

	fresh, _, err := dst.Store.GetOrCreate(
		model.EventIndex{Router: "rtr-a", SubIndex: "8", Kind: model.KindPortState}, 100, now)
	require.NoError(t, err)
	next, err := dst.Store.Commit(fresh, "monitor", now)
	require.NoError(t, err)
	assert.Greater(t, next.ID, committed.ID)
}

func TestLoadMissingFileIsNil(t *testing.T) {
	st, err := snapshot.Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestArchiverWritesClosedEvents(t *testing.T) {
	dir := t.TempDir()
	st := store.New(1, testLogger())
	arch := &snapshot.Archiver{Dir: dir, Logger: testLogger()}
	st.AddObserver(arch.Observer())

	now := ts(1700000000)
	idx := model.EventIndex{Router: "rtr-a", SubIndex: "1", Kind: model.KindPortState}
	ev, _, err := st.GetOrCreate(idx, 100, now)
	require.NoError(t, err)
	committed, err := st.Commit(ev, "monitor", now)
	require.NoError(t, err)

	// Nothing archived while the event is still open.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	ev, err = st.Checkout(committed.ID)
	require.NoError(t, err)
	ev.State = model.StateClosed
	_, err = st.Commit(ev, "operator", now.Add(time.Minute))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "1.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state": "closed"`)
	assert.Contains(t, string(data), `"router": "rtr-a"`)
}
