// Package dedup keeps a fixed-capacity record of recently processed event IDs
// so that redelivered command events become silent no-ops.
package dedup

import "sync"

// Set remembers the last capacity IDs it has seen and evicts the oldest one
// first once full.
type Set struct {
	mu       sync.Mutex
	capacity int
	seen     map[string]struct{}
	order    []string
}

func New(capacity int) *Set {
	if capacity < 1 {
		capacity = 1
	}
	return &Set{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
	}
}

// MarkOnce records id and reports whether this was its first appearance
// within the retention window. The check and the insert are one atomic step.
func (s *Set) MarkOnce(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.seen[id]; dup {
		return false
	}
	if len(s.order) >= s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.seen, oldest)
	}
	s.seen[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

// Len reports how many IDs are currently retained.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
