package trapobservers_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zinolabs/zino/internal/zino/model"
	"github.com/zinolabs/zino/internal/zino/store"
	"github.com/zinolabs/zino/internal/zino/trapd"
	"github.com/zinolabs/zino/internal/zino/trapobservers"
)

func newBGPFixture(now time.Time) (*trapobservers.BGPObserver, *store.Store, *model.Device) {
	dev := model.NewDevice("router1", "10.0.0.1")
	dev.Peers["192.0.2.9"] = &model.BGPPeerSession{
		RemoteAddr: "192.0.2.9",
		RemoteAS:   65001,
		State:      "established",
	}
	st := store.New(1, noopLogger())
	obs := &trapobservers.BGPObserver{
		Devices: &fakeDevices{byName: map[string]*model.Device{"router1": dev}},
		Store:   st,
		Now:     func() time.Time { return now },
		Logger:  noopLogger(),
	}
	return obs, st, dev
}

func TestBGPObserverBackwardTransitionCommitsPeeringLoss(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	obs, st, dev := newBGPFixture(now)

	trap := &trapd.Trap{
		Device: "router1",
		MIB:    "BGP4-MIB",
		Name:   "bgpBackwardTransition",
		Vars:   map[string]any{"bgpPeerRemoteAddr": "192.0.2.9"},
	}
	require.True(t, obs.Handle(context.Background(), trap))

	ev, ok := st.Get(model.EventIndex{Router: "router1", SubIndex: "192.0.2.9", Kind: model.KindBGP})
	require.True(t, ok)
	assert.Equal(t, "idle", ev.BGP.BGPAS)
	assert.Equal(t, 65001, ev.BGP.RemoteAS)
	assert.Equal(t, "idle", dev.Peers["192.0.2.9"].State)
}

func TestBGPObserverEstablishedOnlyLogs(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	obs, st, _ := newBGPFixture(now)

	trap := &trapd.Trap{
		Device: "router1",
		MIB:    "BGP4-MIB",
		Name:   "bgpEstablished",
		Vars:   map[string]any{"bgpPeerRemoteAddr": "192.0.2.9"},
	}
	require.True(t, obs.Handle(context.Background(), trap))

	_, ok := st.Get(model.EventIndex{Router: "router1", SubIndex: "192.0.2.9", Kind: model.KindBGP})
	assert.False(t, ok, "established traps reconcile on the next poll, not via an event")
}

func TestBGPObserverIgnoresNonEstablishedPeer(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	obs, st, dev := newBGPFixture(now)
	dev.Peers["192.0.2.9"].State = "active"

	trap := &trapd.Trap{
		Device: "router1",
		MIB:    "BGP4-MIB",
		Name:   "bgpBackwardTransition",
		Vars:   map[string]any{"bgpPeerRemoteAddr": "192.0.2.9"},
	}
	require.True(t, obs.Handle(context.Background(), trap))

	_, ok := st.Get(model.EventIndex{Router: "router1", SubIndex: "192.0.2.9", Kind: model.KindBGP})
	assert.False(t, ok, "a backward transition from a non-established session is not a peering loss")
}

func TestBGPObserverJuniperVariant(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	obs, st, _ := newBGPFixture(now)

	trap := &trapd.Trap{
		Device: "router1",
		MIB:    "BGP4-V2-MIB-JUNIPER",
		Name:   "jnxBgpM2BackwardTransition",
		Vars:   map[string]any{"jnxBgpM2PeerRemoteAddr": "192.0.2.9"},
	}
	require.True(t, obs.Handle(context.Background(), trap))

	ev, ok := st.Get(model.EventIndex{Router: "router1", SubIndex: "192.0.2.9", Kind: model.KindBGP})
	require.True(t, ok)
	assert.Equal(t, "idle", ev.BGP.BGPAS)
}
