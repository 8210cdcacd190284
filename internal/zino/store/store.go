// Package store implements the event store: creation, checkout,
// commit, observer fan-out, and id allocation. All mutation happens
// through Checkout/Commit; the maps are mutex-guarded and never touched
// directly from outside the package.
package store

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zinolabs/zino/internal/zino/fsm"
	"github.com/zinolabs/zino/internal/zino/model"
)

// Observer is invoked synchronously within Commit with the newly
// committed event, the prior committed copy (nil for a brand-new
// event), and the changed field set. A panicking observer is recovered
// and logged; it must never corrupt the store, since the commit has
// already completed before observers run.
type Observer func(newEvent, oldEvent *model.Event, changedFields []string)

// Store is the sole owner of Event values. Construct with New.
type Store struct {
	mu     sync.RWMutex
	open   map[model.EventIndex]*model.Event
	closed map[model.EventIndex]*model.Event // most recent closure only, per identity
	byID   map[int]*model.Event
	nextID int

	observers []Observer
	logger    *slog.Logger
}

// New creates an empty Store. startID is the first id that will be
// allocated (normally 1, or one past the highest id recovered from a
// snapshot on restart).
func New(startID int, logger *slog.Logger) *Store {
	if startID < 1 {
		startID = 1
	}
	return &Store{
		open:   make(map[model.EventIndex]*model.Event),
		closed: make(map[model.EventIndex]*model.Event),
		byID:   make(map[int]*model.Event),
		nextID: startID,
		logger: logger,
	}
}

// AddObserver registers obs to be invoked, in registration order, after
// every future commit.
func (s *Store) AddObserver(obs Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, obs)
}

// Get returns the open event at idx, if any. The returned pointer is a
// read-only snapshot; callers that intend to mutate must Checkout first.
func (s *Store) Get(idx model.EventIndex) (*model.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.open[idx]
	return e, ok
}

// GetClosed returns the most recently closed event at idx, if one has
// been retained. Closed events are indexed only by id in general; this
// identity-keyed map retains just the single most recent closure per
// identity, the only identity lookup callers need.
func (s *Store) GetClosed(idx model.EventIndex) (*model.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.closed[idx]
	return e, ok
}

// ByID returns the event with the given id, open or closed.
func (s *Store) ByID(id int) (*model.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	return e, ok
}

// NonClosedIDs returns the ids of every event not in StateClosed, for
// the CASEIDS operator command.
func (s *Store) NonClosedIDs() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int, 0, len(s.open))
	for _, e := range s.open {
		ids = append(ids, e.ID)
	}
	return ids
}

// OpenEvents returns every currently open event, for callers that must
// scan the whole open set (the planned-maintenance ticker matching new
// events against active windows). The returned events are read-only
// snapshots; callers that intend to mutate must Checkout by id first.
func (s *Store) OpenEvents() []*model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := make([]*model.Event, 0, len(s.open))
	for _, e := range s.open {
		events = append(events, e)
	}
	return events
}

// Create returns a detached embryonic event for idx. It fails with
// model.ErrEventExists if an open event with that identity already
// exists.
func (s *Store) Create(idx model.EventIndex, priority int, now time.Time) (*model.Event, error) {
	s.mu.RLock()
	_, exists := s.open[idx]
	s.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("create %s: %w", idx, model.ErrEventExists)
	}
	return model.NewEmbryonicEvent(idx, priority, now), nil
}

// GetOrCreate returns (event, created). If an open event exists at idx,
// it returns a checkout (deep copy) of it for mutation and created=false;
// otherwise a fresh embryonic event and created=true. Either way, the
// caller must later call Commit.
func (s *Store) GetOrCreate(idx model.EventIndex, priority int, now time.Time) (*model.Event, bool, error) {
	s.mu.RLock()
	existing, ok := s.open[idx]
	s.mu.RUnlock()
	if ok {
		return existing.Clone(), false, nil
	}
	return model.NewEmbryonicEvent(idx, priority, now), true, nil
}

// Checkout returns a deep copy of the committed event with the given id,
// for mutation without observable effect until Commit.
func (s *Store) Checkout(id int) (*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("checkout %d: %w", id, model.ErrEventNotFound)
	}
	return e.Clone(), nil
}

// Commit applies the five-step commit algorithm:
//
//  1. embryonic -> open (records a history entry).
//  2. allocate an id if unset.
//  3. diff against the prior committed copy.
//  4. replace in the open index, or move to the closed index if the
//     new state is closed.
//  5. invoke every observer with (new, old, changedFields).
//
// user defaults to "monitor" for system-driven commits; operator-driven
// commits pass the authenticated username, which is recorded in the
// transition's history entry.
func (s *Store) Commit(ev *model.Event, user string, now time.Time) (*model.Event, error) {
	if user == "" {
		user = "monitor"
	}

	s.mu.Lock()

	idx := ev.Index()
	prior := s.byID[ev.ID]
	if ev.ID != 0 && prior == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("commit: %w", model.ErrEventNotFound)
	}
	if prior != nil {
		if err := fsm.Validate(prior.State, ev.State); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}

	wasEmbryonic := ev.State == model.StateEmbryonic
	if wasEmbryonic {
		old := ev.State
		ev.State = model.StateOpen
		ev.AddHistory(now, fsm.HistoryText(old, ev.State, user))
	} else if prior != nil && prior.State != ev.State {
		ev.AddHistory(now, fsm.HistoryText(prior.State, ev.State, user))
	}

	if ev.ID == 0 {
		ev.ID = s.nextID
		s.nextID++
	}
	ev.Updated = now

	changed := ChangedFields(prior, ev)

	committed := ev.Clone()
	s.byID[committed.ID] = committed

	if committed.State == model.StateClosed {
		delete(s.open, idx)
		s.closed[idx] = committed
	} else {
		s.open[idx] = committed
	}

	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	s.fanOut(committed, prior, changed, observers)

	return committed, nil
}

// fanOut invokes every observer outside the store's lock, recovering
// from and logging any panic so one misbehaving observer cannot corrupt
// the store (the commit has already completed) or block its peers.
func (s *Store) fanOut(newEvent, oldEvent *model.Event, changed []string, observers []Observer) {
	for _, obs := range observers {
		s.runObserver(obs, newEvent, oldEvent, changed)
	}
}

func (s *Store) runObserver(obs Observer, newEvent, oldEvent *model.Event, changed []string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event observer panicked",
				slog.Any("panic", r),
				slog.Int("event_id", newEvent.ID),
			)
		}
	}()
	obs(newEvent, oldEvent, changed)
}

// NextIDPeek returns the id that would be allocated by the next commit
// of a new event, without allocating it. Used by snapshot persistence.
func (s *Store) NextIDPeek() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID
}

// Dump returns a deep copy of every event the store holds (open plus
// the retained most-recent closures) and the next id to allocate, for
// snapshot persistence. Observers are not part of the dump.
func (s *Store) Dump() ([]*model.Event, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := make([]*model.Event, 0, len(s.byID))
	for _, e := range s.byID {
		events = append(events, e.Clone())
	}
	return events, s.nextID
}

// Restore rebuilds the store's indexes from a snapshot produced by
// Dump. It must only be called on an empty store, before any commit;
// no observers are invoked for restored events. The next allocated id
// is the larger of nextID and one past the highest restored id, so id
// monotonicity survives a snapshot written before its last commit.
func (s *Store) Restore(events []*model.Event, nextID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		e := ev.Clone()
		s.byID[e.ID] = e
		idx := e.Index()
		if e.State == model.StateClosed {
			if prev, ok := s.closed[idx]; !ok || e.Updated.After(prev.Updated) {
				s.closed[idx] = e
			}
		} else {
			s.open[idx] = e
		}
		if e.ID >= nextID {
			nextID = e.ID + 1
		}
	}
	if nextID > s.nextID {
		s.nextID = nextID
	}
}
