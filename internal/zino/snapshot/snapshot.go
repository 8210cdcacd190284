// Package snapshot persists the daemon's in-memory state to a JSON
// file and restores it on startup: the event store (open and retained
// closed events plus the id counter), the learned per-device state, the
// planned maintenances, the flap tracker, and the address index. The
// file format is plain records with stable snake_case keys so a state
// file survives field reordering and can be inspected with standard
// tools; timestamps are Unix seconds, matching the operator protocol's
// convention.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zinolabs/zino/internal/zino/flap"
	"github.com/zinolabs/zino/internal/zino/model"
	"github.com/zinolabs/zino/internal/zino/pm"
	"github.com/zinolabs/zino/internal/zino/scheduler"
	"github.com/zinolabs/zino/internal/zino/store"
)

// Runtime bundles the components a snapshot reads from and writes back
// into. Capture and Apply only touch the slices of each component's
// surface made for persistence (Dump/Restore); nothing here holds
// references across a suspension point.
type Runtime struct {
	Store     *store.Store
	Flap      *flap.Tracker
	Scheduler *scheduler.Scheduler
	PMs       *pm.Engine
}

// State is the serialized form of one snapshot.
type State struct {
	SavedAt     int64             `json:"saved_at"`
	NextEventID int               `json:"next_event_id"`
	NextPMID    int               `json:"next_pm_id"`
	Events      []EventRecord     `json:"events"`
	Devices     []deviceRecord    `json:"devices"`
	PMs         []pmRecord        `json:"planned_maintenances"`
	FlapStates  []flapRecord      `json:"flap_states"`
	Addresses   map[string]string `json:"addresses"`
}

type logEntry struct {
	Time int64  `json:"time"`
	Text string `json:"text"`
}

// EventRecord is the serialized form of one event. It is exported
// because the closed-event archive (archive.go) writes the same shape,
// one file per event.
type EventRecord struct {
	ID       int        `json:"id"`
	Router   string     `json:"router"`
	SubIndex string     `json:"sub_index"`
	Kind     string     `json:"kind"`
	State    string     `json:"state"`
	Opened   int64      `json:"opened"`
	Updated  int64      `json:"updated"`
	Priority int        `json:"priority"`
	Log      []logEntry `json:"log,omitempty"`
	History  []logEntry `json:"history,omitempty"`

	PortState    *portStateRecord    `json:"portstate,omitempty"`
	BGP          *bgpRecord          `json:"bgp,omitempty"`
	BFD          *bfdRecord          `json:"bfd,omitempty"`
	Reachability *reachabilityRecord `json:"reachability,omitempty"`
	Alarm        *alarmRecord        `json:"alarm,omitempty"`
}

type portStateRecord struct {
	IfIndex   uint32 `json:"ifindex"`
	PortState string `json:"portstate"`
	FlapState string `json:"flapstate"`
	Flaps     int    `json:"flaps"`
	Descr     string `json:"descr"`
	Alias     string `json:"alias"`
	ACDown    int64  `json:"ac_down"`
	LastTrans int64  `json:"lasttrans"`
}

type bgpRecord struct {
	RemoteAddr string `json:"remote_addr"`
	RemoteAS   int    `json:"remote_as"`
	PeerUptime int64  `json:"peer_uptime"`
	BGPOS      string `json:"bgpos"`
	BGPAS      string `json:"bgpas"`
}

type bfdRecord struct {
	BFDIndex  uint32 `json:"bfdix"`
	BFDDiscr  uint32 `json:"bfddiscr"`
	BFDAddr   string `json:"bfdaddr"`
	BFDState  string `json:"bfdstate"`
	NeighRDNS string `json:"neigh_rdns"`
}

type reachabilityRecord struct {
	Reachability string `json:"reachability"`
	Unit         string `json:"unit"`
}

type alarmRecord struct {
	AlarmType  string `json:"alarm_type"`
	AlarmCount int    `json:"alarm_count"`
}

type devicePortRecord struct {
	IfIndex   uint32 `json:"ifindex"`
	IfDescr   string `json:"ifdescr"`
	IfAlias   string `json:"ifalias"`
	OperState string `json:"state"`
	BFDState  string `json:"bfd_state,omitempty"`
}

type devicePeerRecord struct {
	RemoteAddr string `json:"remote_addr"`
	RemoteAS   int    `json:"remote_as"`
	State      string `json:"state"`
	Uptime     int64  `json:"uptime"`
	LastUptime uint32 `json:"last_uptime"`
}

type deviceRecord struct {
	Name         string             `json:"name"`
	EnterpriseID int                `json:"enterprise_id,omitempty"`
	BootTime     int64              `json:"boot_time,omitempty"`
	Addresses    []string           `json:"addresses,omitempty"`
	Ports        []devicePortRecord `json:"ports,omitempty"`
	Peers        []devicePeerRecord `json:"peers,omitempty"`
}

type pmRecord struct {
	ID              int    `json:"id"`
	Start           int64  `json:"start"`
	End             int64  `json:"end"`
	MatchType       string `json:"match_type"`
	MatchExpression string `json:"match_expression"`
	MatchDevice     string `json:"match_device,omitempty"`
	Kind            string `json:"kind"`
	EventIDs        []int  `json:"event_ids,omitempty"`
	LastRun         int64  `json:"last_run,omitempty"`
}

type flapRecord struct {
	Device                string  `json:"device"`
	IfIndex               uint32  `json:"ifindex"`
	HistVal               float64 `json:"hist_val"`
	Flaps                 int     `json:"flaps"`
	FirstFlap             int64   `json:"first_flap"`
	LastFlap              int64   `json:"last_flap"`
	LastAge               int64   `json:"last_age"`
	FlappedAboveThreshold bool    `json:"flapped_above_threshold"`
	InActiveFlapState     bool    `json:"in_active_flap_state"`
}

// Capture reads every component's persistent state into a State value.
func Capture(rt Runtime, now time.Time) *State {
	events, nextEventID := rt.Store.Dump()
	pms, nextPMID := rt.PMs.Dump()

	st := &State{
		SavedAt:     now.Unix(),
		NextEventID: nextEventID,
		NextPMID:    nextPMID,
		Addresses:   rt.Scheduler.Addresses().Dump(),
	}
	for _, ev := range events {
		st.Events = append(st.Events, EncodeEvent(ev))
	}
	for _, dev := range rt.Scheduler.Devices() {
		st.Devices = append(st.Devices, encodeDevice(dev))
	}
	for _, p := range pms {
		st.PMs = append(st.PMs, encodePM(p))
	}
	for key, fs := range rt.Flap.Dump() {
		st.FlapStates = append(st.FlapStates, encodeFlap(key, fs))
	}
	return st
}

// Apply restores a loaded State into the runtime's components. The
// event store must be empty and the scheduler must already have been
// reconciled against the device file (learned device state is merged
// onto the configured records, never the other way around).
func Apply(rt Runtime, st *State) error {
	events := make([]*model.Event, 0, len(st.Events))
	for _, rec := range st.Events {
		ev, err := DecodeEvent(rec)
		if err != nil {
			return fmt.Errorf("restore event %d: %w", rec.ID, err)
		}
		events = append(events, ev)
	}
	rt.Store.Restore(events, st.NextEventID)

	devices := make([]*model.Device, 0, len(st.Devices))
	for _, rec := range st.Devices {
		dev, err := decodeDevice(rec)
		if err != nil {
			return fmt.Errorf("restore device %s: %w", rec.Name, err)
		}
		devices = append(devices, dev)
	}
	rt.Scheduler.RestoreDeviceState(devices)

	pms := make([]*model.PlannedMaintenance, 0, len(st.PMs))
	for _, rec := range st.PMs {
		p, err := decodePM(rec)
		if err != nil {
			return fmt.Errorf("restore pm %d: %w", rec.ID, err)
		}
		pms = append(pms, p)
	}
	rt.PMs.Restore(pms, st.NextPMID)

	flapStates := make(map[flap.Key]model.FlappingState, len(st.FlapStates))
	for _, rec := range st.FlapStates {
		key, fs := decodeFlap(rec)
		flapStates[key] = fs
	}
	rt.Flap.Restore(flapStates)

	rt.Scheduler.Addresses().Restore(st.Addresses)
	return nil
}

// Save writes st to path atomically: the JSON is written to a
// temporary file in the same directory and renamed into place, so a
// crash mid-write never truncates the previous snapshot.
func Save(path string, st *State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename snapshot into place: %w", err)
	}
	return nil
}

// Load reads a snapshot from path. A missing file is not an error; it
// returns (nil, nil) so first-boot and post-restore startup share one
// code path.
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	st := &State{}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	return st, nil
}

// EncodeEvent converts an event to its serialized record. Only the
// payload matching the event's kind is emitted.
func EncodeEvent(ev *model.Event) EventRecord {
	rec := EventRecord{
		ID:       ev.ID,
		Router:   ev.Router,
		SubIndex: ev.SubIndex,
		Kind:     ev.Kind.String(),
		State:    ev.State.String(),
		Opened:   ev.Opened.Unix(),
		Updated:  ev.Updated.Unix(),
		Priority: ev.Priority,
		Log:      encodeLogEntries(ev.Log),
		History:  encodeLogEntries(ev.History),
	}
	switch ev.Kind {
	case model.KindPortState:
		rec.PortState = &portStateRecord{
			IfIndex:   ev.PortState.IfIndex,
			PortState: ev.PortState.PortState.String(),
			FlapState: ev.PortState.FlapState.String(),
			Flaps:     ev.PortState.Flaps,
			Descr:     ev.PortState.Descr,
			Alias:     ev.PortState.Alias,
			ACDown:    int64(ev.PortState.ACDown / time.Second),
			LastTrans: ev.PortState.LastTrans.Unix(),
		}
	case model.KindBGP:
		rec.BGP = &bgpRecord{
			RemoteAddr: ev.BGP.RemoteAddr,
			RemoteAS:   ev.BGP.RemoteAS,
			PeerUptime: int64(ev.BGP.PeerUptime / time.Second),
			BGPOS:      ev.BGP.BGPOS,
			BGPAS:      ev.BGP.BGPAS,
		}
	case model.KindBFD:
		rec.BFD = &bfdRecord{
			BFDIndex:  ev.BFD.BFDIndex,
			BFDDiscr:  ev.BFD.BFDDiscr,
			BFDAddr:   ev.BFD.BFDAddr,
			BFDState:  ev.BFD.BFDState,
			NeighRDNS: ev.BFD.NeighRDNS,
		}
	case model.KindReachability:
		rec.Reachability = &reachabilityRecord{
			Reachability: ev.Reachability.Reachability.String(),
			Unit:         ev.Reachability.Unit,
		}
	case model.KindAlarm:
		rec.Alarm = &alarmRecord{
			AlarmType:  ev.Alarm.AlarmType,
			AlarmCount: ev.Alarm.AlarmCount,
		}
	}
	return rec
}

// DecodeEvent is the inverse of EncodeEvent.
func DecodeEvent(rec EventRecord) (*model.Event, error) {
	kind, err := model.ParseEventKind(rec.Kind)
	if err != nil {
		return nil, err
	}
	state, err := model.ParseEventState(rec.State)
	if err != nil {
		return nil, err
	}
	ev := &model.Event{
		ID:       rec.ID,
		Router:   rec.Router,
		SubIndex: rec.SubIndex,
		Kind:     kind,
		State:    state,
		Opened:   time.Unix(rec.Opened, 0),
		Updated:  time.Unix(rec.Updated, 0),
		Priority: rec.Priority,
		Log:      decodeLogEntries(rec.Log),
		History:  decodeLogEntries(rec.History),
	}
	switch {
	case rec.PortState != nil:
		ps, err := model.ParsePortOperState(rec.PortState.PortState)
		if err != nil {
			return nil, err
		}
		fs, err := model.ParsePortOperState(rec.PortState.FlapState)
		if err != nil {
			return nil, err
		}
		ev.PortState = model.PortStateAttrs{
			IfIndex:   rec.PortState.IfIndex,
			PortState: ps,
			FlapState: fs,
			Flaps:     rec.PortState.Flaps,
			Descr:     rec.PortState.Descr,
			Alias:     rec.PortState.Alias,
			ACDown:    time.Duration(rec.PortState.ACDown) * time.Second,
			LastTrans: time.Unix(rec.PortState.LastTrans, 0),
		}
	case rec.BGP != nil:
		ev.BGP = model.BGPAttrs{
			RemoteAddr: rec.BGP.RemoteAddr,
			RemoteAS:   rec.BGP.RemoteAS,
			PeerUptime: time.Duration(rec.BGP.PeerUptime) * time.Second,
			BGPOS:      rec.BGP.BGPOS,
			BGPAS:      rec.BGP.BGPAS,
		}
	case rec.BFD != nil:
		ev.BFD = model.BFDAttrs{
			BFDIndex:  rec.BFD.BFDIndex,
			BFDDiscr:  rec.BFD.BFDDiscr,
			BFDAddr:   rec.BFD.BFDAddr,
			BFDState:  rec.BFD.BFDState,
			NeighRDNS: rec.BFD.NeighRDNS,
		}
	case rec.Reachability != nil:
		r := model.Reachable
		if rec.Reachability.Reachability == model.NoResponse.String() {
			r = model.NoResponse
		}
		ev.Reachability = model.ReachabilityAttrs{
			Reachability: r,
			Unit:         rec.Reachability.Unit,
		}
	case rec.Alarm != nil:
		ev.Alarm = model.AlarmAttrs{
			AlarmType:  rec.Alarm.AlarmType,
			AlarmCount: rec.Alarm.AlarmCount,
		}
	}
	return ev, nil
}

func encodeLogEntries(entries []model.LogEntry) []logEntry {
	out := make([]logEntry, len(entries))
	for i, e := range entries {
		out[i] = logEntry{Time: e.Timestamp.Unix(), Text: e.Text}
	}
	return out
}

func decodeLogEntries(entries []logEntry) []model.LogEntry {
	if len(entries) == 0 {
		return nil
	}
	out := make([]model.LogEntry, len(entries))
	for i, e := range entries {
		out[i] = model.LogEntry{Timestamp: time.Unix(e.Time, 0), Text: e.Text}
	}
	return out
}

func encodeDevice(dev *model.Device) deviceRecord {
	rec := deviceRecord{
		Name:         dev.Name,
		EnterpriseID: dev.EnterpriseID,
	}
	if !dev.BootTime.IsZero() {
		rec.BootTime = dev.BootTime.Unix()
	}
	for addr := range dev.Addresses {
		rec.Addresses = append(rec.Addresses, addr)
	}
	for _, port := range dev.Ports {
		rec.Ports = append(rec.Ports, devicePortRecord{
			IfIndex:   port.IfIndex,
			IfDescr:   port.IfDescr,
			IfAlias:   port.IfAlias,
			OperState: port.OperState.String(),
			BFDState:  port.BFDState,
		})
	}
	for _, peer := range dev.Peers {
		rec.Peers = append(rec.Peers, devicePeerRecord{
			RemoteAddr: peer.RemoteAddr,
			RemoteAS:   peer.RemoteAS,
			State:      peer.State,
			Uptime:     int64(peer.Uptime / time.Second),
			LastUptime: peer.LastUptime,
		})
	}
	return rec
}

func decodeDevice(rec deviceRecord) (*model.Device, error) {
	dev := &model.Device{
		Name:         rec.Name,
		EnterpriseID: rec.EnterpriseID,
		Addresses:    make(map[string]struct{}, len(rec.Addresses)),
		Ports:        make(map[uint32]*model.Port, len(rec.Ports)),
		Peers:        make(map[string]*model.BGPPeerSession, len(rec.Peers)),
	}
	if rec.BootTime != 0 {
		dev.BootTime = time.Unix(rec.BootTime, 0)
	}
	for _, addr := range rec.Addresses {
		dev.Addresses[addr] = struct{}{}
	}
	for _, port := range rec.Ports {
		state, err := model.ParsePortOperState(port.OperState)
		if err != nil {
			return nil, err
		}
		dev.Ports[port.IfIndex] = &model.Port{
			IfIndex:   port.IfIndex,
			IfDescr:   port.IfDescr,
			IfAlias:   port.IfAlias,
			OperState: state,
			BFDState:  port.BFDState,
		}
	}
	for _, peer := range rec.Peers {
		dev.Peers[peer.RemoteAddr] = &model.BGPPeerSession{
			RemoteAddr: peer.RemoteAddr,
			RemoteAS:   peer.RemoteAS,
			State:      peer.State,
			Uptime:     time.Duration(peer.Uptime) * time.Second,
			LastUptime: peer.LastUptime,
		}
	}
	return dev, nil
}

func encodePM(p *model.PlannedMaintenance) pmRecord {
	rec := pmRecord{
		ID:              p.ID,
		Start:           p.Start.Unix(),
		End:             p.End.Unix(),
		MatchType:       p.MatchType.String(),
		MatchExpression: p.MatchExpression,
		MatchDevice:     p.MatchDevice,
		Kind:            p.Kind.String(),
		EventIDs:        append([]int(nil), p.EventIDs...),
	}
	if !p.LastRun.IsZero() {
		rec.LastRun = p.LastRun.Unix()
	}
	return rec
}

func decodePM(rec pmRecord) (*model.PlannedMaintenance, error) {
	matchType, err := model.ParsePMMatchType(rec.MatchType)
	if err != nil {
		return nil, err
	}
	kind, err := model.ParsePMKind(rec.Kind)
	if err != nil {
		return nil, err
	}
	p := &model.PlannedMaintenance{
		ID:              rec.ID,
		Start:           time.Unix(rec.Start, 0),
		End:             time.Unix(rec.End, 0),
		MatchType:       matchType,
		MatchExpression: rec.MatchExpression,
		MatchDevice:     rec.MatchDevice,
		Kind:            kind,
		EventIDs:        append([]int(nil), rec.EventIDs...),
	}
	if rec.LastRun != 0 {
		p.LastRun = time.Unix(rec.LastRun, 0)
	}
	return p, nil
}

func encodeFlap(key flap.Key, fs model.FlappingState) flapRecord {
	return flapRecord{
		Device:                key.Device,
		IfIndex:               key.IfIndex,
		HistVal:               fs.HistVal,
		Flaps:                 fs.Flaps,
		FirstFlap:             fs.FirstFlap.Unix(),
		LastFlap:              fs.LastFlap.Unix(),
		LastAge:               fs.LastAge.Unix(),
		FlappedAboveThreshold: fs.FlappedAboveThreshold,
		InActiveFlapState:     fs.InActiveFlapState,
	}
}

func decodeFlap(rec flapRecord) (flap.Key, model.FlappingState) {
	return flap.Key{Device: rec.Device, IfIndex: rec.IfIndex}, model.FlappingState{
		HistVal:               rec.HistVal,
		Flaps:                 rec.Flaps,
		FirstFlap:             time.Unix(rec.FirstFlap, 0),
		LastFlap:              time.Unix(rec.LastFlap, 0),
		LastAge:               time.Unix(rec.LastAge, 0),
		FlappedAboveThreshold: rec.FlappedAboveThreshold,
		InActiveFlapState:     rec.InActiveFlapState,
	}
}
