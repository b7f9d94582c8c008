package cache

import (
	"context"
	"sync"
)

// Ephemeral is an unbounded in-process store. Entries live until Clear or
// process exit.
type Ephemeral struct {
	mu      sync.RWMutex
	entries map[Key]*Entry
	bytes   int64
}

// NewEphemeral creates an empty ephemeral store.
func NewEphemeral() *Ephemeral {
	return &Ephemeral{
		entries: make(map[Key]*Entry),
	}
}

// Get retrieves an entry and increments its hit count.
func (s *Ephemeral) Get(_ context.Context, key Key) (*Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	entry.HitCount++
	return entry.snapshot(), true, nil
}

// Put stores an entry, replacing any previous entry for the same key.
func (s *Ephemeral) Put(_ context.Context, entry *Entry) error {
	if entry == nil || entry.Key.IsZero() {
		return ErrInvalidKey
	}

	s.mu.Lock()
	if old, ok := s.entries[entry.Key]; ok {
		s.bytes -= old.Size()
	}
	s.entries[entry.Key] = entry.snapshot()
	s.bytes += entry.Size()
	s.mu.Unlock()
	return nil
}

// Contains reports whether key is present.
func (s *Ephemeral) Contains(_ context.Context, key Key) (bool, error) {
	s.mu.RLock()
	_, ok := s.entries[key]
	s.mu.RUnlock()
	return ok, nil
}

// Clear drops every entry.
func (s *Ephemeral) Clear(_ context.Context) error {
	s.mu.Lock()
	s.entries = make(map[Key]*Entry)
	s.bytes = 0
	s.mu.Unlock()
	return nil
}

// Len returns the number of entries.
func (s *Ephemeral) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Bytes returns the encoded size of all held values.
func (s *Ephemeral) Bytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bytes
}

var (
	_ Store   = (*Ephemeral)(nil)
	_ Clearer = (*Ephemeral)(nil)
	_ Sizer   = (*Ephemeral)(nil)
)
