package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/zinolabs/zino/internal/snmp"
	"github.com/zinolabs/zino/internal/zino/flap"
	"github.com/zinolabs/zino/internal/zino/model"
	"github.com/zinolabs/zino/internal/zino/store"
	"github.com/zinolabs/zino/internal/zino/tasks"
)

// deviceEntry is one device's live registration: its mutable Device
// record plus the cancel function for its per-device ticker goroutine.
type deviceEntry struct {
	device *model.Device
	cancel context.CancelFunc
	done   chan struct{}
	busy   sync.Mutex // held for the duration of one pipeline run; enforces max_instances=1
}

// Scheduler owns the live device registry and runs one ticker goroutine
// per device, each starting after a random delay within its own interval
// so a large device file doesn't poll every device in lockstep; device
// priority does not affect when a device is polled. The device file is the desired state;
// ReconcileDeviceFile diffs it against the registry and creates,
// reschedules, or destroys device loops to match.
type Scheduler struct {
	mu      sync.RWMutex
	devices map[string]*deviceEntry

	store     *store.Store
	flap      *flap.Tracker
	addresses *AddressIndex
	backoff   *BackoffScheduler
	snmp      *snmp.SessionCache
	metrics   tasks.Metrics
	logger    *slog.Logger

	jobsRun uint64 // completed pipeline runs; DumpJobs does not report it
}

// New creates a Scheduler with no devices registered. Call
// ReconcileDeviceFile to populate it.
func New(st *store.Store, flapTracker *flap.Tracker, cache *snmp.SessionCache, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		devices:   make(map[string]*deviceEntry),
		store:     st,
		flap:      flapTracker,
		addresses: NewAddressIndex(),
		backoff:   NewBackoffScheduler(),
		snmp:      cache,
		logger:    logger,
	}
}

// Addresses returns the process-wide address index, for wiring into the
// trap dispatcher.
func (s *Scheduler) Addresses() *AddressIndex { return s.addresses }

// SetMetrics wires a metrics recorder into every subsequent task run.
// Call before the first ReconcileDeviceFile.
func (s *Scheduler) SetMetrics(m tasks.Metrics) { s.metrics = m }

// DeviceByName returns the live device record registered under name, for
// operator commands and trap observers that need port/peer lookups.
func (s *Scheduler) DeviceByName(name string) (*model.Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.devices[name]
	if !ok {
		return nil, false
	}
	return entry.device, true
}

// Devices returns every registered device, for snapshot persistence.
func (s *Scheduler) Devices() []*model.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Device, 0, len(s.devices))
	for _, entry := range s.devices {
		out = append(out, entry.device)
	}
	return out
}

// RestoreDeviceState copies snapshot-recovered learned state (ports,
// peers, discovered addresses, boot time, enterprise id) onto the live
// device records. Configured fields (community, interval, regexes, ...)
// are not touched: the device file remains authoritative for those, so
// this must run after the initial ReconcileDeviceFile. Snapshot devices
// no longer present in the file are skipped.
func (s *Scheduler) RestoreDeviceState(saved []*model.Device) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, old := range saved {
		entry, ok := s.devices[old.Name]
		if !ok {
			continue
		}
		live := entry.device
		live.EnterpriseID = old.EnterpriseID
		live.BootTime = old.BootTime
		live.Addresses = old.Addresses
		live.Ports = old.Ports
		live.Peers = old.Peers
	}
}

// PollDevice runs one out-of-cycle pipeline pass for name, the engine
// behind the operator POLLRTR command. It is best-effort: a device
// already mid-cycle is skipped rather than queued, same as a regular
// tick finding the busy lock held.
func (s *Scheduler) PollDevice(ctx context.Context, name string) error {
	s.mu.RLock()
	entry, ok := s.devices[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("poll device %q: %w", name, ErrUnknownDevice)
	}
	go s.runOneCycle(ctx, entry)
	return nil
}

// PollInterface re-verifies a single interface's link state immediately,
// the engine behind the operator POLLINTF command and the link trap
// observer's post-trap verification reschedules.
func (s *Scheduler) PollInterface(ctx context.Context, name string, ifIndex uint32) error {
	s.mu.RLock()
	entry, ok := s.devices[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("poll interface: device %q: %w", name, ErrUnknownDevice)
	}

	client, err := s.snmp.Acquire(ctx, sessionParamsFor(entry.device))
	if err != nil {
		return fmt.Errorf("poll interface: acquire session: %w", err)
	}
	tc := &tasks.Context{
		Device:    entry.device,
		Store:     s.store,
		Flap:      s.flap,
		Addresses: s.addresses,
		Backoff:   s.backoff,
		SNMP:      client,
		Metrics:   s.metrics,
		Now:       time.Now,
		Logger:    s.logger,
	}
	return tasks.VerifyInterface(ctx, tc, ifIndex)
}

// ClearFlap clears the tracked flap state for one interface and restores
// its event's flap-state attribute to its current operational state,
// the engine behind the operator CLEARFLAP command.
func (s *Scheduler) ClearFlap(name string, ifIndex uint32) error {
	s.mu.RLock()
	entry, ok := s.devices[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("clear flap: device %q: %w", name, ErrUnknownDevice)
	}

	s.flap.Unflap(flap.Key{Device: name, IfIndex: ifIndex})

	port, ok := entry.device.Ports[ifIndex]
	if !ok {
		return nil
	}
	idx := model.EventIndex{Router: name, SubIndex: fmt.Sprintf("%d", ifIndex), Kind: model.KindPortState}
	existing, ok := s.store.Get(idx)
	if !ok {
		return nil
	}
	ev, err := s.store.Checkout(existing.ID)
	if err != nil {
		return err
	}
	ev.PortState.FlapState = port.OperState
	ev.AddLog(time.Now(), "flap state cleared by operator")
	_, err = s.store.Commit(ev, "operator", time.Now())
	return err
}

// Community returns the SNMP community string configured for name, the
// engine behind the operator COMMUNITY command.
func (s *Scheduler) Community(name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.devices[name]
	if !ok {
		return "", fmt.Errorf("community: device %q: %w", name, ErrUnknownDevice)
	}
	return entry.device.Community, nil
}

func sessionParamsFor(dev *model.Device) snmp.SessionParams {
	return snmp.SessionParams{
		Address:        dev.Address,
		Community:      dev.Community,
		Port:           dev.Port,
		Timeout:        int(dev.Timeout.Seconds()),
		Retries:        dev.Retries,
		HighCounters:   dev.HCounters,
		MaxRepetitions: dev.MaxRepetitions,
	}
}

// ErrUnknownDevice is returned by the operator-facing accessors above
// when no device is registered under the requested name.
var ErrUnknownDevice = errors.New("unknown device")

// ReconcileDeviceFile parses path and reconciles the live registry
// against it: devices present in the file but not yet registered are
// added and started; devices registered but no longer in the file are
// stopped and removed; devices present in both are updated in place
// (their Ports/Peers/Addresses state survives the reload).
func (s *Scheduler) ReconcileDeviceFile(ctx context.Context, path string) (created, removed, updated int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("open device file: %w", err)
	}
	defer f.Close()

	desired, err := ParseDeviceFile(f)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("parse device file: %w", err)
	}
	desiredByName := make(map[string]*model.Device, len(desired))
	for _, d := range desired {
		desiredByName[d.Name] = d
	}

	s.mu.Lock()
	var toRemove []string
	for name := range s.devices {
		if _, ok := desiredByName[name]; !ok {
			toRemove = append(toRemove, name)
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, name := range toRemove {
		s.removeDevice(name)
		removed++
	}

	for name, desiredDev := range desiredByName {
		s.mu.Lock()
		entry, exists := s.devices[name]
		s.mu.Unlock()

		if !exists {
			if startErr := s.addDevice(ctx, desiredDev); startErr != nil {
				errs = append(errs, fmt.Errorf("start device %s: %w", name, startErr))
				continue
			}
			created++
			continue
		}

		s.mu.Lock()
		applyDesiredConfig(entry.device, desiredDev)
		s.mu.Unlock()
		updated++
	}

	if len(errs) > 0 {
		err = errors.Join(errs...)
	}
	s.logger.Info("device file reconciled",
		slog.Int("created", created), slog.Int("removed", removed), slog.Int("updated", updated))
	return created, removed, updated, err
}

// applyDesiredConfig copies the mutable polling parameters from desired
// onto live, leaving live's discovered state (Ports, Peers, Addresses)
// untouched — only the device file's declared fields are reconcilable.
func applyDesiredConfig(live, desired *model.Device) {
	live.Address = desired.Address
	live.Community = desired.Community
	live.Port = desired.Port
	live.Interval = desired.Interval
	live.Priority = desired.Priority
	live.Timeout = desired.Timeout
	live.Retries = desired.Retries
	live.Statistics = desired.Statistics
	live.HCounters = desired.HCounters
	live.DoBGP = desired.DoBGP
	live.WatchPat = desired.WatchPat
	live.IgnorePat = desired.IgnorePat
}

func (s *Scheduler) addDevice(ctx context.Context, dev *model.Device) error {
	runCtx, cancel := context.WithCancel(ctx)
	entry := &deviceEntry{device: dev, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.devices[dev.Name] = entry
	s.mu.Unlock()

	go s.runDeviceLoop(runCtx, entry)
	return nil
}

func (s *Scheduler) removeDevice(name string) {
	s.mu.Lock()
	entry, ok := s.devices[name]
	if ok {
		delete(s.devices, name)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	entry.cancel()
	<-entry.done

	for addr := range entry.device.Addresses {
		s.addresses.Delete(addr)
	}
	s.backoff.CancelBackoff(name)
}

// runDeviceLoop staggers its first tick by a random fraction of the
// device's interval so a reload doesn't start every device's cycle on
// the same instant.
func (s *Scheduler) runDeviceLoop(ctx context.Context, entry *deviceEntry) {
	defer close(entry.done)

	interval := entry.device.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	initialDelay := time.Duration(rand.Int64N(int64(interval)))

	timer := time.NewTimer(initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.runOneCycle(ctx, entry)
			timer.Reset(entry.device.Interval)
		}
	}
}

func (s *Scheduler) runOneCycle(ctx context.Context, entry *deviceEntry) {
	if !entry.busy.TryLock() {
		s.logger.Warn("skipping cycle: previous run still in progress",
			slog.String("device", entry.device.Name))
		return
	}
	defer entry.busy.Unlock()

	dev := entry.device
	client, err := s.snmp.Acquire(ctx, sessionParamsFor(dev))
	if err != nil {
		s.logger.Warn("could not open snmp session",
			slog.String("device", dev.Name), slog.String("error", err.Error()))
		return
	}

	tc := &tasks.Context{
		Device:    dev,
		Store:     s.store,
		Flap:      s.flap,
		Addresses: s.addresses,
		Backoff:   s.backoff,
		SNMP:      client,
		Metrics:   s.metrics,
		Now:       time.Now,
		Logger:    s.logger,
	}
	tasks.RunAll(ctx, tasks.DefaultPipeline(), tc)
	s.mu.Lock()
	s.jobsRun++
	s.mu.Unlock()
}

// RunFlapDecay runs the periodic flap-aging pass, intended to be invoked
// once per flap.DecrementInterval by the daemon's top-level ticker. An
// interface whose score has decayed below the minimum gets a synthetic
// PortState update flipping it from flapping back to stable. The update
// goes through GetOrCreate, never a checkout of an archived event, so
// decay can't resurrect history on a closed event.
func (s *Scheduler) RunFlapDecay(ctx context.Context, now time.Time) {
	s.flap.RunDecay(ctx, now, func(_ context.Context, key flap.Key, fs model.FlappingState) {
		s.mu.RLock()
		entry, ok := s.devices[key.Device]
		s.mu.RUnlock()
		if !ok {
			return
		}
		dev := entry.device

		idx := model.EventIndex{
			Router:   key.Device,
			SubIndex: strconv.FormatUint(uint64(key.IfIndex), 10),
			Kind:     model.KindPortState,
		}
		ev, created, err := s.store.GetOrCreate(idx, dev.Priority, now)
		if err != nil {
			s.logger.Warn("flap decay update failed",
				slog.String("device", key.Device), slog.String("error", err.Error()))
			return
		}
		ev.PortState.IfIndex = key.IfIndex
		if created {
			if port, known := dev.Ports[key.IfIndex]; known {
				ev.PortState.PortState = port.OperState
				ev.PortState.Descr = port.IfDescr
				ev.PortState.Alias = port.IfAlias
			}
		}
		ev.PortState.FlapState = ev.PortState.PortState
		ev.PortState.Flaps = fs.Flaps
		ev.AddLog(now, fmt.Sprintf("interface stopped flapping after %d flaps", fs.Flaps))
		if _, err := s.store.Commit(ev, "monitor", now); err != nil {
			s.logger.Warn("flap decay commit failed",
				slog.String("device", key.Device), slog.String("error", err.Error()))
		}
	})
}

// DumpJobs returns a debug snapshot of the scheduler's device
// registry, for the SIGUSR1 running-jobs dump.
func (s *Scheduler) DumpJobs() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.devices))
	for name, entry := range s.devices {
		out[name] = fmt.Sprintf("interval=%s priority=%d ports=%d peers=%d",
			entry.device.Interval, entry.device.Priority, len(entry.device.Ports), len(entry.device.Peers))
	}
	return out
}
