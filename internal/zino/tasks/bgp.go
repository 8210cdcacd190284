package tasks

import (
	"context"
	"strconv"
	"strings"
	"time"

	apipb "github.com/osrg/gobgp/v3/api"

	"github.com/zinolabs/zino/internal/snmp"
	"github.com/zinolabs/zino/internal/zino/model"
)

// BGP4-MIB peer table columns (RFC 4273), common to Cisco and Juniper
// implementations and used as the generic fallback style.
var (
	bgpPeerStateOID       = mustOID(".1.3.6.1.2.1.15.3.1.2")
	bgpPeerRemoteAsOID    = mustOID(".1.3.6.1.2.1.15.3.1.9")
	bgpPeerFsmUptimeOID   = mustOID(".1.3.6.1.2.1.15.3.1.16")
	bgpPeerAdminStatusOID = mustOID(".1.3.6.1.2.1.15.3.1.3")
)

// bgpStateName maps BGP4-MIB's bgpPeerState integer encoding (RFC 4273
// §4.1) to the state string recorded on the event. The MIB's values
// idle(1)..established(6) line up one-to-one with GoBGP's session-state
// enum, so that enum is the authoritative name source.
func bgpStateName(v int64) (string, bool) {
	if v < int64(apipb.PeerState_IDLE) || v > int64(apipb.PeerState_ESTABLISHED) {
		return "", false
	}
	return strings.ToLower(apipb.PeerState_SessionState_name[int32(v)]), true
}

// uint32WrapThreshold guards against a FsmEstablishedTime counter
// wraparound (RFC 4273's 32-bit counter rolls over roughly every 497
// days of continuous uptime in hundredths of a second, in practice a
// session reset manifests as the counter going backwards): per the
// resolved open question, a newly observed value lower than the
// previously recorded one by more than this margin is treated as a
// session restart rather than clock skew.
const uint32WrapThreshold = 10

// BGPTask walks the device's BGP peer table (BGP4-MIB, the common style
// across Cisco and Juniper implementations) and commits a BGP event when
// a peer's session state (bgpPeerState) changes or its uptime counter rolls back
// far enough to indicate a session restart the state alone wouldn't show.
type BGPTask struct{}

func (t *BGPTask) Name() string { return "bgp" }

func (t *BGPTask) Run(ctx context.Context, tc *Context) error {
	if !tc.Device.DoBGP {
		return nil
	}

	rows, err := tc.SNMP.SparseWalk(ctx, map[string]snmp.OID{
		"state":  bgpPeerStateOID,
		"as":     bgpPeerRemoteAsOID,
		"uptime": bgpPeerFsmUptimeOID,
		"admin":  bgpPeerAdminStatusOID,
	}, tc.Device.MaxRepetitions)
	if err != nil {
		if isNoSuchTable(err) {
			return nil
		}
		return err
	}

	now := tc.Now()
	for rowIdx, row := range rows {
		remoteAddr := strings.TrimPrefix(rowIdx, ".")
		stateInt := intOf(row["state"])
		state, ok := bgpStateName(stateInt)
		if !ok {
			continue
		}
		remoteAS := int(intOf(row["as"]))
		uptime := uint32(intOf(row["uptime"]))

		prev, known := tc.Device.Peers[remoteAddr]
		restarted := known && wrappedBackwards(prev.LastUptime, uptime)
		stateChanged := !known || prev.State != state

		tc.Device.Peers[remoteAddr] = &model.BGPPeerSession{
			RemoteAddr: remoteAddr,
			RemoteAS:   remoteAS,
			State:      state,
			Uptime:     time.Duration(uptime) * 10 * time.Millisecond,
			LastUptime: uptime,
		}

		if !stateChanged && !restarted {
			continue
		}
		if err := t.commit(tc, remoteAddr, remoteAS, state, uint32(uptime), now); err != nil {
			return err
		}
	}
	return nil
}

func (t *BGPTask) commit(tc *Context, remoteAddr string, remoteAS int, state string, uptimeHundredths uint32, now time.Time) error {
	idx := model.EventIndex{Router: tc.Device.Name, SubIndex: remoteAddr, Kind: model.KindBGP}
	ev, created, err := tc.Store.GetOrCreate(idx, tc.Device.Priority, now)
	if err != nil {
		return err
	}
	ev.BGP.RemoteAddr = remoteAddr
	ev.BGP.RemoteAS = remoteAS
	ev.BGP.BGPAS = state
	ev.BGP.PeerUptime = time.Duration(uptimeHundredths) * 10 * time.Millisecond

	if created {
		ev.AddLog(now, "bgp peering with AS"+strconv.Itoa(remoteAS)+" is "+state)
	} else {
		ev.AddLog(now, "bgp peering changed to "+state)
	}
	_, err = tc.Store.Commit(ev, "monitor", now)
	return err
}

func wrappedBackwards(prev, next uint32) bool {
	return prev > next && (prev-next) > uint32WrapThreshold
}
