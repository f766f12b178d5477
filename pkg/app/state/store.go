package state

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"github.com/pilot-dev/pilot/pkg/app/metrics"
)

// Store owns the state snapshot and serializes transitions. Dispatch is
// atomic: no caller can observe a partially-applied transition. The store
// is constructed once at process start and passed by reference into the
// transport, poller, and synchronizer.
type Store struct {
	mu    sync.Mutex
	state AppState
	subs  map[int]func(AppState)
	next  int
	log   logr.Logger
}

// NewStore creates a store holding the initial state.
func NewStore(log logr.Logger) *Store {
	return &Store{
		subs: make(map[int]func(AppState)),
		log:  log.WithName("store"),
	}
}

// State returns the current snapshot. Transitions copy before they
// mutate, so the returned value is stable; callers must not modify the
// slices it carries.
func (s *Store) State() AppState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch applies one transition and notifies subscribers with the
// resulting snapshot. Subscribers run outside the store lock.
func (s *Store) Dispatch(action Action) {
	s.mu.Lock()
	s.state = Reduce(s.state, action)
	snap := s.state
	subs := make([]func(AppState), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	name := actionName(action)
	metrics.Transitions.WithLabelValues(name).Inc()
	s.log.V(1).Info("transition applied", "action", name)

	for _, fn := range subs {
		fn(snap)
	}
}

// Subscribe registers a change listener and returns its cancel function.
func (s *Store) Subscribe(fn func(AppState)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func actionName(a Action) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", a), "state.")
}
