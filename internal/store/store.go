// Package store provides an observable state container owned by the
// composition root and handed to its readers and writer explicitly.
package store

import "sync"

// Store holds a value of type T and notifies subscribers after every write.
type Store[T any] struct {
	mu    sync.Mutex // serializes writes and their notifications
	state sync.RWMutex
	value T

	subMu  sync.Mutex
	nextID int
	subs   []subscriber[T]
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

// New creates a store seeded with initial.
func New[T any](initial T) *Store[T] {
	return &Store[T]{value: initial}
}

// Get returns the current value.
func (s *Store[T]) Get() T {
	s.state.RLock()
	defer s.state.RUnlock()
	return s.value
}

// Set replaces the value and notifies subscribers.
func (s *Store[T]) Set(v T) {
	s.Update(func(T) T { return v })
}

// Update applies fn to the current value and stores the result. Writes are
// serialized; subscribers see every committed value in commit order.
func (s *Store[T]) Update(fn func(T) T) T {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Lock()
	next := fn(s.value)
	s.value = next
	s.state.Unlock()

	for _, sub := range s.snapshot() {
		sub.fn(next)
	}
	return next
}

func (s *Store[T]) snapshot() []subscriber[T] {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	out := make([]subscriber[T], len(s.subs))
	copy(out, s.subs)
	return out
}

// Subscribe registers fn to be called with every committed value. The
// returned subscription must be closed when the owner goes away.
func (s *Store[T]) Subscribe(fn func(T)) *Subscription {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber[T]{id: id, fn: fn})
	return &Subscription{release: func() { s.unsubscribe(id) }}
}

// Subscribers returns the number of live subscriptions.
func (s *Store[T]) Subscribers() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs)
}

func (s *Store[T]) unsubscribe(id int) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

// Subscription is a handle on a registered listener.
type Subscription struct {
	once    sync.Once
	release func()
}

// Close releases the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(s.release)
}
