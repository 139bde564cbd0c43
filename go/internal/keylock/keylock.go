// Package keylock provides per-key mutual exclusion so that mutations for one
// match run as short sequential critical sections without blocking others.
package keylock

import (
	"sync"

	"github.com/google/uuid"
)

type entry struct {
	mu   sync.Mutex
	refs int
}

// Set hands out one mutex per key. Entries are dropped once no goroutine
// holds or waits on them.
type Set struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entry
}

// New creates an empty lock set.
func New() *Set {
	return &Set{entries: make(map[uuid.UUID]*entry)}
}

// Lock acquires the mutex for key and returns its release func.
func (s *Set) Lock(key uuid.UUID) func() {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	e.refs++
	s.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		s.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(s.entries, key)
		}
		s.mu.Unlock()
	}
}

// Len returns the number of keys currently held or awaited.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
