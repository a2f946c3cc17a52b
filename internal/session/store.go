package session

import "sync"

// Listener observes every dispatched action together with the state it produced.
type Listener func(a Action, next State)

// Dispatcher is what widgets get instead of the store itself.
type Dispatcher interface {
	Dispatch(a Action) State
	State() State
}

// Store is the single writer of the session state.
type Store struct {
	// dispatch serializes reduce plus notification so listeners see actions
	// in the order they were reduced.
	dispatch  sync.Mutex
	mu        sync.Mutex
	state     State
	listeners []Listener
}

func NewStore(initial State) *Store {
	return &Store{state: initial}
}

// Dispatch reduces a into the current state and notifies listeners in
// registration order before the next dispatch may start. Listeners may read
// the store but must not dispatch.
func (s *Store) Dispatch(a Action) State {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()

	s.mu.Lock()
	next := Reduce(s.state, a)
	s.state = next
	ls := s.listeners
	s.mu.Unlock()

	for _, l := range ls {
		l(a, next)
	}
	return next
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reset replaces the state without notifying listeners. Used by restore.
func (s *Store) Reset(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Store) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(append([]Listener(nil), s.listeners...), l)
}
