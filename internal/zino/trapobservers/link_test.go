package trapobservers_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zinolabs/zino/internal/zino/flap"
	"github.com/zinolabs/zino/internal/zino/model"
	"github.com/zinolabs/zino/internal/zino/store"
	"github.com/zinolabs/zino/internal/zino/trapd"
	"github.com/zinolabs/zino/internal/zino/trapobservers"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

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

func TestLinkObserverCommitsOnTransition(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	dev := model.NewDevice("router1", "10.0.0.1")
	dev.Ports[5] = &model.Port{IfIndex: 5, IfDescr: "ge-0/0/0", OperState: model.PortUp}

	st := store.New(1, noopLogger())
	tracker := flap.NewTracker(noopLogger())
	obs := &trapobservers.LinkObserver{
		Devices: &fakeDevices{byName: map[string]*model.Device{"router1": dev}},
		Store:   st,
		Flap:    tracker,
		Now:     func() time.Time { return now },
		Logger:  noopLogger(),
	}

	trap := &trapd.Trap{
		Device: "router1",
		MIB:    "IF-MIB",
		Name:   "linkDown",
		Vars:   map[string]any{"ifIndex": int64(5)},
	}
	cont := obs.Handle(context.Background(), trap)
	require.True(t, cont)

	ev, ok := st.Get(model.EventIndex{Router: "router1", SubIndex: "5", Kind: model.KindPortState})
	require.True(t, ok)
	require.Equal(t, model.PortDown, ev.PortState.PortState)
}

func TestLinkObserverIgnoresUnknownIfIndex(t *testing.T) {
	t.Parallel()
	dev := model.NewDevice("router1", "10.0.0.1")
	st := store.New(1, noopLogger())
	tracker := flap.NewTracker(noopLogger())
	obs := &trapobservers.LinkObserver{
		Devices: &fakeDevices{byName: map[string]*model.Device{"router1": dev}},
		Store:   st,
		Flap:    tracker,
		Logger:  noopLogger(),
	}

	trap := &trapd.Trap{Device: "router1", MIB: "IF-MIB", Name: "linkDown", Vars: map[string]any{"ifIndex": int64(99)}}
	require.True(t, obs.Handle(context.Background(), trap))
	_, ok := st.Get(model.EventIndex{Router: "router1", SubIndex: "99", Kind: model.KindPortState})
	require.False(t, ok)
}
