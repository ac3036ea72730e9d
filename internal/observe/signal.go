package observe

import "sync"

// Signal is a tracked value cell. Reading it through Get records a dependency
// on its key; Set notifies dependents when the value changes.
type Signal[T comparable] struct {
	tracker *Tracker
	key     Key

	mu    sync.RWMutex
	value T
}

// NewSignal creates a signal holding initial.
func NewSignal[T comparable](t *Tracker, key Key, initial T) *Signal[T] {
	return &Signal[T]{tracker: t, key: key, value: initial}
}

// Key returns the key dependents are notified under.
func (s *Signal[T]) Key() Key {
	return s.key
}

// Get returns the current value and records the read in scope (nil scope
// reads untracked).
func (s *Signal[T]) Get(scope *Scope) T {
	scope.Track(s.key)
	return s.Peek()
}

// Peek returns the current value without tracking.
func (s *Signal[T]) Peek() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Set stores v. Dependents are notified only if the value changed.
// Reports whether it changed.
func (s *Signal[T]) Set(v T) bool {
	s.mu.Lock()
	if s.value == v {
		s.mu.Unlock()
		return false
	}
	s.value = v
	s.mu.Unlock()

	s.tracker.Notify(s.key)
	return true
}
