package pm_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zinolabs/zino/internal/zino/model"
	"github.com/zinolabs/zino/internal/zino/pm"
	"github.com/zinolabs/zino/internal/zino/store"
)

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeDevices struct {
	byName map[string]*model.Device
}

func (f *fakeDevices) DeviceByName(name string) (*model.Device, bool) {
	d, ok := f.byName[name]
	return d, ok
}

func TestTickSuppressesAndRestoresDeviceMaintenance(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	dev := model.NewDevice("router1", "10.0.0.1")
	dev.Ports[1] = &model.Port{IfIndex: 1, IfDescr: "ge-0/0/0"}
	devices := &fakeDevices{byName: map[string]*model.Device{"router1": dev}}

	st := store.New(1, noopLogger())
	ev := model.NewEmbryonicEvent(model.EventIndex{Router: "router1", SubIndex: "1", Kind: model.KindPortState}, 100, start.Add(-time.Hour))
	ev.PortState.IfIndex = 1
	committed, err := st.Commit(ev, "monitor", start.Add(-time.Hour))
	require.NoError(t, err)

	engine := pm.New(st, devices, noopLogger())
	id := engine.Create(start, end, model.PMKindDevice, model.MatchExact, "router1", "")

	ctx := context.Background()
	engine.Tick(ctx, start)

	got, ok := st.ByID(committed.ID)
	require.True(t, ok)
	require.Equal(t, model.StateIgnored, got.State)

	// A device-kind exact-match PM should also have created a
	// suppressed reachability placeholder for the device.
	reach, ok := st.ByID(committed.ID + 1)
	require.True(t, ok)
	require.Equal(t, model.KindReachability, reach.Kind)
	require.Equal(t, model.StateIgnored, reach.State)

	engine.Tick(ctx, end)

	got, ok = st.ByID(committed.ID)
	require.True(t, ok)
	require.Equal(t, model.StateOpen, got.State)

	pmObj, ok := engine.Get(id)
	require.True(t, ok)
	require.Len(t, pmObj.EventIDs, 2)
}

func TestTickPortStateRegexpMatch(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	dev := model.NewDevice("router1", "10.0.0.1")
	dev.Ports[1] = &model.Port{IfIndex: 1, IfDescr: "ge-0/0/0"}
	devices := &fakeDevices{byName: map[string]*model.Device{"router1": dev}}

	st := store.New(1, noopLogger())
	ev := model.NewEmbryonicEvent(model.EventIndex{Router: "router1", SubIndex: "1", Kind: model.KindPortState}, 100, start)
	ev.PortState.IfIndex = 1
	committed, err := st.Commit(ev, "monitor", start)
	require.NoError(t, err)

	engine := pm.New(st, devices, noopLogger())
	engine.Create(start, end, model.PMKindPortState, model.MatchRegexp, "^ge-0/0/.*", "")

	engine.Tick(context.Background(), start)

	got, ok := st.ByID(committed.ID)
	require.True(t, ok)
	require.Equal(t, model.StateIgnored, got.State)
}

func TestTickExpiresOldPM(t *testing.T) {
	t.Parallel()
	end := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	start := end.Add(-time.Hour)

	st := store.New(1, noopLogger())
	devices := &fakeDevices{byName: map[string]*model.Device{}}
	engine := pm.New(st, devices, noopLogger())
	id := engine.Create(start, end, model.PMKindDevice, model.MatchExact, "router1", "")

	engine.Tick(context.Background(), end.Add(model.PMExpiry+time.Hour))

	_, ok := engine.Get(id)
	require.False(t, ok)
}
