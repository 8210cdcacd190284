package trapobservers

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/zinolabs/zino/internal/zino/model"
	"github.com/zinolabs/zino/internal/zino/store"
	"github.com/zinolabs/zino/internal/zino/trapd"
)

// BGPObserver reacts to backward-transition and established traps: a
// backward transition out of an established session is committed
// immediately (the operator shouldn't have to wait for the next poll to
// see a peering loss); an established transition is logged only, since
// the next poll reconciles the session's full attrs anyway.
type BGPObserver struct {
	Devices DeviceLookup
	Store   *store.Store
	Now     func() time.Time
	Logger  *slog.Logger
}

func (o *BGPObserver) Wants() []trapd.TrapID {
	return []trapd.TrapID{
		{MIB: "BGP4-MIB", Name: "bgpBackwardTransition"},
		{MIB: "BGP4-MIB", Name: "bgpEstablished"},
		{MIB: "BGP4-V2-MIB-JUNIPER", Name: "jnxBgpM2BackwardTransition"},
		{MIB: "BGP4-V2-MIB-JUNIPER", Name: "jnxBgpM2Established"},
	}
}

func (o *BGPObserver) Handle(_ context.Context, trap *trapd.Trap) bool {
	dev, ok := o.Devices.DeviceByName(trap.Device)
	if !ok {
		return true
	}
	remoteAddr, _ := trap.Vars["bgpPeerRemoteAddr"].(string)
	if remoteAddr == "" {
		remoteAddr, _ = trap.Vars["jnxBgpM2PeerRemoteAddr"].(string)
	}
	if remoteAddr == "" {
		return true
	}

	now := o.now()
	if trap.Name == "bgpEstablished" || trap.Name == "jnxBgpM2Established" {
		o.Logger.Info("bgp peer established (trap)",
			slog.String("device", trap.Device), slog.String("peer", remoteAddr))
		return true
	}

	peer, known := dev.Peers[remoteAddr]
	if !known || peer.State != "established" {
		return true
	}
	peer.State = "idle"

	idx := model.EventIndex{Router: trap.Device, SubIndex: remoteAddr, Kind: model.KindBGP}
	ev, _, err := o.Store.GetOrCreate(idx, dev.Priority, now)
	if err != nil {
		o.Logger.Warn("bgp trap commit failed",
			slog.String("device", trap.Device), slog.String("error", err.Error()))
		return true
	}
	ev.BGP.RemoteAddr = remoteAddr
	ev.BGP.RemoteAS = peer.RemoteAS
	ev.BGP.BGPAS = "idle"
	ev.AddLog(now, "bgp peering with AS"+strconv.Itoa(peer.RemoteAS)+" lost (backward transition trap)")

	if _, err := o.Store.Commit(ev, "monitor", now); err != nil {
		o.Logger.Warn("bgp trap commit failed",
			slog.String("device", trap.Device), slog.String("error", err.Error()))
	}
	return true
}

func (o *BGPObserver) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}
