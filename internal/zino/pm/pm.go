// Package pm implements the planned-maintenance engine: a per-minute
// job that suppresses matching events for the duration of a
// time-windowed rule, then restores them, all through the event store's
// Checkout/Commit surface so a suppressed event always stays reachable
// back to open by construction rather than by direct map mutation.
//
// The five steps of a run (start newly active windows, ignore-match
// against ongoing ones, restore ended ones, discard stale ones, stamp
// the last run) collapse into one Tick(ctx, now) method invoked by the
// scheduler's periodic job.
package pm

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zinolabs/zino/internal/zino/model"
	"github.com/zinolabs/zino/internal/zino/store"
)

// DeviceLookup resolves a device by name, used to find the ifdescr of a
// portstate-kind event's port for regexp/str/intf-regexp matching.
// Implemented by scheduler.Scheduler.
type DeviceLookup interface {
	DeviceByName(name string) (*model.Device, bool)
}

// Engine owns the live set of planned maintenances and applies the
// per-minute matching algorithm against an event store.
type Engine struct {
	mu      sync.Mutex
	pms     map[int]*model.PlannedMaintenance
	nextID  int
	store   *store.Store
	devices DeviceLookup
	logger  *slog.Logger
}

// New constructs an empty Engine.
func New(st *store.Store, devices DeviceLookup, logger *slog.Logger) *Engine {
	return &Engine{
		pms:     make(map[int]*model.PlannedMaintenance),
		nextID:  1,
		store:   st,
		devices: devices,
		logger:  logger,
	}
}

// Create registers a new planned maintenance and returns its id.
func (e *Engine) Create(start, end time.Time, kind model.PMKind, matchType model.PMMatchType, expr, device string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.pms[id] = &model.PlannedMaintenance{
		ID:              id,
		Start:           start,
		End:             end,
		MatchType:       matchType,
		MatchExpression: expr,
		MatchDevice:     device,
		Kind:            kind,
	}
	return id
}

// List returns every live planned maintenance, in no particular order.
func (e *Engine) List() []*model.PlannedMaintenance {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*model.PlannedMaintenance, 0, len(e.pms))
	for _, pm := range e.pms {
		out = append(out, pm)
	}
	return out
}

// Get returns the planned maintenance with the given id.
func (e *Engine) Get(id int) (*model.PlannedMaintenance, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pm, ok := e.pms[id]
	return pm, ok
}

// Dump returns a copy of every live planned maintenance and the next
// id to allocate, for snapshot persistence.
func (e *Engine) Dump() ([]*model.PlannedMaintenance, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*model.PlannedMaintenance, 0, len(e.pms))
	for _, pm := range e.pms {
		c := *pm
		c.EventIDs = append([]int(nil), pm.EventIDs...)
		out = append(out, &c)
	}
	return out, e.nextID
}

// Restore replaces the engine's PM set with one from a snapshot. The
// next allocated id is the larger of nextID and one past the highest
// restored id.
func (e *Engine) Restore(pms []*model.PlannedMaintenance, nextID int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pms = make(map[int]*model.PlannedMaintenance, len(pms))
	for _, pm := range pms {
		c := *pm
		c.EventIDs = append([]int(nil), pm.EventIDs...)
		e.pms[c.ID] = &c
		if c.ID >= nextID {
			nextID = c.ID + 1
		}
	}
	if nextID > e.nextID {
		e.nextID = nextID
	}
}

// Cancel ends the planned maintenance with the given id. A PM whose
// window never opened is discarded outright; an active one has its End
// clamped to now so the next Tick restores every event it suppressed.
func (e *Engine) Cancel(id int, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	pm, ok := e.pms[id]
	if !ok {
		return false
	}
	if pm.LastRun.Before(pm.Start) {
		delete(e.pms, id)
		return true
	}
	if pm.End.After(now) {
		pm.End = now
	}
	return true
}

// Tick runs the five-step algorithm against now: start
// matching newly active PMs, continuously ignore-match events against
// every active PM, restore events of PMs that just ended, and discard
// PMs whose end is more than PMExpiry in the past.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	e.mu.Lock()
	live := make([]*model.PlannedMaintenance, 0, len(e.pms))
	for _, pm := range e.pms {
		live = append(live, pm)
	}
	e.mu.Unlock()

	for _, pm := range live {
		if pm.HasStarted(now) {
			e.start(ctx, pm, now)
		}
	}

	for _, pm := range live {
		if pm.IsActive(now) {
			e.matchOngoing(pm, now)
		}
	}

	for _, pm := range live {
		if pm.HasEnded(now) {
			e.restore(pm, now)
		}
	}

	e.mu.Lock()
	for id, pm := range e.pms {
		if pm.Expired(now) {
			delete(e.pms, id)
			e.logger.Debug("planned maintenance expired, discarding", slog.Int("pm_id", id))
		}
	}
	e.mu.Unlock()

	for _, pm := range live {
		pm.LastRun = now
	}
}

// start ignore-matches every currently open event against pm and, for a
// device-kind PM with the exact match type, ensures a Reachability event
// exists (created already ignored) so the device itself is visibly under
// maintenance even if no other event happens to be open for it. Device
// PMs of the other match types create no such placeholder event.
func (e *Engine) start(ctx context.Context, pm *model.PlannedMaintenance, now time.Time) {
	if pm.Kind == model.PMKindDevice && pm.MatchType == model.MatchExact {
		e.ensureReachability(pm, now)
	}
	e.matchOngoing(pm, now)
}

func (e *Engine) ensureReachability(pm *model.PlannedMaintenance, now time.Time) {
	dev, ok := e.devices.DeviceByName(pm.MatchExpression)
	if !ok {
		return
	}
	idx := model.EventIndex{Router: dev.Name, SubIndex: "0", Kind: model.KindReachability}
	if _, open := e.store.Get(idx); open {
		return
	}
	ev := model.NewEmbryonicEvent(idx, dev.Priority, now)
	ev.Reachability.Reachability = model.Reachable
	ev.Reachability.Unit = "0"
	ev.State = model.StateIgnored
	ev.AddHistory(now, "embryonic -> ignored (planned maintenance "+strconv.Itoa(pm.ID)+")")
	committed, err := e.store.Commit(ev, "monitor", now)
	if err != nil {
		e.logger.Warn("pm reachability placeholder commit failed",
			slog.Int("pm_id", pm.ID), slog.String("device", dev.Name), slog.String("error", err.Error()))
		return
	}
	pm.EventIDs = append(pm.EventIDs, committed.ID)
}

// matchOngoing scans every open, non-ignored event and ignores the ones
// that match pm, appending their ids to pm's suppression list. Events
// already ignored (by this or another PM) are left alone.
func (e *Engine) matchOngoing(pm *model.PlannedMaintenance, now time.Time) {
	for _, ev := range e.store.OpenEvents() {
		if ev.State == model.StateIgnored || ev.State == model.StateClosed {
			continue
		}
		if !e.eventMatchesPM(ev, pm) {
			continue
		}
		e.ignore(ev.ID, pm, now)
	}
}

func (e *Engine) ignore(id int, pm *model.PlannedMaintenance, now time.Time) {
	ev, err := e.store.Checkout(id)
	if err != nil {
		return
	}
	old := ev.State
	ev.State = model.StateIgnored
	ev.AddLog(now, old.String()+" -> ignored (planned maintenance "+strconv.Itoa(pm.ID)+")")
	committed, err := e.store.Commit(ev, "monitor", now)
	if err != nil {
		e.logger.Warn("pm ignore commit failed",
			slog.Int("pm_id", pm.ID), slog.Int("event_id", id), slog.String("error", err.Error()))
		return
	}
	pm.EventIDs = append(pm.EventIDs, committed.ID)
}

// restore reopens every event pm suppressed that is still ignored. An
// event already moved elsewhere (closed, or re-ignored by a different
// overlapping PM) is left untouched.
func (e *Engine) restore(pm *model.PlannedMaintenance, now time.Time) {
	for _, id := range pm.EventIDs {
		ev, err := e.store.Checkout(id)
		if err != nil {
			continue
		}
		if ev.State != model.StateIgnored {
			continue
		}
		ev.State = model.StateOpen
		ev.AddLog(now, "ignored -> open (planned maintenance "+strconv.Itoa(pm.ID)+" ended)")
		if _, err := e.store.Commit(ev, "monitor", now); err != nil {
			e.logger.Warn("pm restore commit failed",
				slog.Int("pm_id", pm.ID), slog.Int("event_id", id), slog.String("error", err.Error()))
		}
	}
}

// eventMatchesPM applies the match-type rules: exact and
// regexp/str test the device name for device-kind PMs or the port's
// ifdescr for portstate-kind PMs; intf-regexp additionally requires the
// device name equal MatchDevice.
func (e *Engine) eventMatchesPM(ev *model.Event, pm *model.PlannedMaintenance) bool {
	switch pm.Kind {
	case model.PMKindDevice:
		if pm.MatchType == model.MatchIntfRegexp {
			return false
		}
		return matchString(pm.MatchType, pm.MatchExpression, ev.Router)
	case model.PMKindPortState:
		if ev.Kind != model.KindPortState {
			return false
		}
		dev, ok := e.devices.DeviceByName(ev.Router)
		if !ok {
			return false
		}
		port, ok := dev.Ports[ev.PortState.IfIndex]
		if !ok {
			return false
		}
		if pm.MatchType == model.MatchIntfRegexp {
			return ev.Router == pm.MatchDevice && matchString(model.MatchRegexp, pm.MatchExpression, port.IfDescr)
		}
		return matchString(pm.MatchType, pm.MatchExpression, port.IfDescr)
	default:
		return false
	}
}

// matchString applies one of the three string-comparison match types
// shared by device- and portstate-kind PMs (intf-regexp is handled by
// its caller, since it additionally constrains the device).
func matchString(matchType model.PMMatchType, expr, value string) bool {
	switch matchType {
	case model.MatchExact:
		return value == expr
	case model.MatchStr:
		return strings.Contains(value, expr)
	case model.MatchRegexp, model.MatchIntfRegexp:
		re, err := regexp.Compile(expr)
		if err != nil {
			return false
		}
		return re.MatchString(value)
	default:
		return false
	}
}
