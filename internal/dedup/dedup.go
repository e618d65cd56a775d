// Package dedup provides a bounded seen-set for idempotency checks.
//
// The Eye uses it to guarantee at-most-once signal emission per observed
// fill, and the Brain uses it to drop duplicate signal_ids. Capacity is
// capped with insertion-order eviction so a long-running process cannot grow
// the set without bound.
package dedup

import (
	"container/list"
	"sync"
)

// DefaultCapacity bounds SeenFills-style sets. At one fill per second this
// covers almost three hours of history, far beyond any replay window.
const DefaultCapacity = 10_000

// Set is a concurrency-safe bounded set of string ids. When the cap is
// reached the oldest entry is evicted first.
type Set struct {
	mu    sync.Mutex
	cap   int
	items map[string]*list.Element
	order *list.List // front = oldest
}

// NewSet creates a Set with the given capacity. Non-positive capacities fall
// back to DefaultCapacity.
func NewSet(capacity int) *Set {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Set{
		cap:   capacity,
		items: make(map[string]*list.Element),
		order: list.New(),
	}
}

// Seen records id and reports whether it was already present. The first call
// for an id returns false; every subsequent call returns true until the
// entry is evicted.
func (s *Set) Seen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; ok {
		return true
	}

	s.items[id] = s.order.PushBack(id)
	if s.order.Len() > s.cap {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.items, oldest.Value.(string))
	}
	return false
}

// Contains reports whether id is present without recording it.
func (s *Set) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[id]
	return ok
}

// Len returns the number of ids currently tracked.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
