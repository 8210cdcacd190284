package flap

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zinolabs/zino/internal/zino/model"
)

// Key identifies one tracked interface.
type Key struct {
	Device  string
	IfIndex uint32
}

// DecayObserver is invoked by RunDecay whenever the periodic aging pass
// determines an interface has quieted down enough to leave active flap
// state; the caller (wired to the link trap observer / task pipeline)
// is responsible for emitting the corresponding synthetic PortState
// event update.
type DecayObserver func(ctx context.Context, key Key, state model.FlappingState)

// Metrics reports the current flap score per router, satisfied by
// *zinometrics.Collector. A nil Metrics disables reporting.
type Metrics interface {
	SetFlapScore(router string, score float64)
}

// Tracker owns the map of per-interface FlappingState values. All
// mutation happens through its methods under a single mutex, mirroring
// the "mutate via method, never the map directly" discipline the event
// store also follows.
type Tracker struct {
	mu      sync.Mutex
	states  map[Key]*model.FlappingState
	metrics Metrics
	logger  *slog.Logger
}

// SetMetrics wires a flap-score gauge into Update and RunDecay. Call
// before any traffic arrives.
func (t *Tracker) SetMetrics(m Metrics) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics = m
}

// NewTracker creates an empty Tracker.
func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{
		states: make(map[Key]*model.FlappingState),
		logger: logger,
	}
}

// Update records a flap transition for key at now, creating tracking
// state on first use.
func (t *Tracker) Update(key Key, now time.Time) model.FlappingState {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[key]
	if !ok {
		s = &model.FlappingState{}
		t.states[key] = s
	}
	*s = Update(*s, now)
	if t.metrics != nil {
		t.metrics.SetFlapScore(key.Device, s.HistVal)
	}
	return *s
}

// IsFlapping reports (and updates, via aging) whether key is currently
// considered flapping. An interface with no tracking record is never
// flapping.
func (t *Tracker) IsFlapping(key Key, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[key]
	if !ok {
		return false
	}
	return IsFlapping(s, now)
}

// Get returns a snapshot of key's tracking state, if any.
func (t *Tracker) Get(key Key) (model.FlappingState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[key]
	if !ok {
		return model.FlappingState{}, false
	}
	return *s, true
}

// Unflap removes key's tracking record entirely, per the CLEARFLAP
// operator command.
func (t *Tracker) Unflap(key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, key)
}

// Dump returns a copy of every tracked interface's state, for snapshot
// persistence.
func (t *Tracker) Dump() map[Key]model.FlappingState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Key]model.FlappingState, len(t.states))
	for key, s := range t.states {
		out[key] = *s
	}
	return out
}

// Restore replaces the tracking records with those from a snapshot.
func (t *Tracker) Restore(states map[Key]model.FlappingState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states = make(map[Key]*model.FlappingState, len(states))
	for key, s := range states {
		c := s
		t.states[key] = &c
	}
}

// RunDecay ages every tracked interface and, for any whose score has
// dropped below Min, removes its tracking record and invokes observer
// with the final state so the caller can transition the interface's
// PortState event from flapping back to stable. It is meant to be
// called once per DecrementInterval by the scheduler's periodic job.
func (t *Tracker) RunDecay(ctx context.Context, now time.Time, observer DecayObserver) {
	var quieted []Key
	var finalStates []model.FlappingState

	t.mu.Lock()
	for key, s := range t.states {
		aged := Age(*s, now)
		*s = aged
		if t.metrics != nil {
			t.metrics.SetFlapScore(key.Device, aged.HistVal)
		}
		if aged.HistVal < Min {
			quieted = append(quieted, key)
			finalStates = append(finalStates, aged)
		}
	}
	for _, key := range quieted {
		delete(t.states, key)
	}
	t.mu.Unlock()

	for i, key := range quieted {
		t.logger.Debug("interface exited flap state",
			slog.String("device", key.Device),
			slog.Uint64("ifindex", uint64(key.IfIndex)),
		)
		if observer != nil {
			observer(ctx, key, finalStates[i])
		}
	}
}
