// Package session holds an actor's per-counterparty negotiation state.
//
// Inbound messages for the same counterparty can be handled concurrently,
// so every read-modify-write goes through Update, which runs the mutation
// under the store lock.
package session

import (
	"sort"
	"sync"
)

// Store is a mutex-guarded map from session key to record.
type Store[K ~string, V any] struct {
	mu   sync.Mutex
	data map[K]V
}

// New creates an empty store.
func New[K ~string, V any]() *Store[K, V] {
	return &Store[K, V]{data: make(map[K]V)}
}

// Get returns the record for key.
func (s *Store[K, V]) Get(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// Put replaces the record for key.
func (s *Store[K, V]) Put(key K, v V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = v
}

// Update applies fn to the current record (zero value and false when
// absent). When fn returns true its result is stored; otherwise the store is
// left unchanged. The read-modify-write runs under the store lock, so fn must
// not call back into the store.
func (s *Store[K, V]) Update(key K, fn func(cur V, ok bool) (V, bool)) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.data[key]
	next, keep := fn(cur, ok)
	if !keep {
		return cur, false
	}
	s.data[key] = next
	return next, true
}

// Delete removes key and reports whether it was present.
func (s *Store[K, V]) Delete(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	delete(s.data, key)
	return ok
}

// Keys returns the keys in sorted order.
func (s *Store[K, V]) Keys() []K {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]K, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Snapshot returns a shallow copy of every record.
func (s *Store[K, V]) Snapshot() map[K]V {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[K]V, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// Len returns the number of records.
func (s *Store[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
