package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the entry limit of a Bounded store when none is given.
const DefaultCapacity = 128

// BoundedConfig configures a Bounded store.
type BoundedConfig struct {
	// Capacity is the maximum number of entries. Default: 128
	Capacity int

	// MaxBytes additionally bounds the summed Entry.Size. Zero disables it.
	MaxBytes int64

	// OnEvict is called for every evicted entry, outside the store lock.
	OnEvict func(*Entry)
}

// Bounded is an in-process store with least-recently-used eviction. Every
// hit and every Put moves the entry to the most-recently-used end.
type Bounded struct {
	mu        sync.Mutex
	capacity  int
	maxBytes  int64
	bytes     int64
	order     *list.List // front is most recently used
	index     map[Key]*list.Element
	onEvict   func(*Entry)
	evictions atomic.Int64
}

// NewBounded creates a Bounded store. Zero values in cfg select defaults.
func NewBounded(cfg BoundedConfig) *Bounded {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	return &Bounded{
		capacity: cfg.Capacity,
		maxBytes: cfg.MaxBytes,
		order:    list.New(),
		index:    make(map[Key]*list.Element, cfg.Capacity),
		onEvict:  cfg.OnEvict,
	}
}

// Get retrieves an entry, marks it most recently used and counts the hit.
func (s *Bounded) Get(_ context.Context, key Key) (*Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.index[key]
	if !ok {
		return nil, false, nil
	}
	s.order.MoveToFront(el)
	entry := el.Value.(*Entry)
	entry.HitCount++
	return entry.snapshot(), true, nil
}

// Put inserts or overwrites an entry and evicts from the least-recently-used
// end until the store is back within budget. An entry larger than MaxBytes on
// its own is rejected with ErrEntryTooLarge.
func (s *Bounded) Put(_ context.Context, entry *Entry) error {
	if entry == nil || entry.Key.IsZero() {
		return ErrInvalidKey
	}
	size := entry.Size()
	if s.maxBytes > 0 && size > s.maxBytes {
		return ErrEntryTooLarge
	}

	s.mu.Lock()
	if el, ok := s.index[entry.Key]; ok {
		old := el.Value.(*Entry)
		s.bytes -= old.Size()
		el.Value = entry.snapshot()
		s.order.MoveToFront(el)
	} else {
		s.index[entry.Key] = s.order.PushFront(entry.snapshot())
	}
	s.bytes += size
	evicted := s.evictLocked()
	s.mu.Unlock()

	if s.onEvict != nil {
		for _, e := range evicted {
			s.onEvict(e)
		}
	}
	return nil
}

func (s *Bounded) evictLocked() []*Entry {
	var evicted []*Entry
	for s.order.Len() > s.capacity || (s.maxBytes > 0 && s.bytes > s.maxBytes) {
		el := s.order.Back()
		if el == nil {
			break
		}
		entry := s.order.Remove(el).(*Entry)
		delete(s.index, entry.Key)
		s.bytes -= entry.Size()
		s.evictions.Add(1)
		evicted = append(evicted, entry)
	}
	return evicted
}

// Contains reports whether key is present without touching recency.
func (s *Bounded) Contains(_ context.Context, key Key) (bool, error) {
	s.mu.Lock()
	_, ok := s.index[key]
	s.mu.Unlock()
	return ok, nil
}

// Clear drops every entry. Cleared entries are not reported as evictions.
func (s *Bounded) Clear(_ context.Context) error {
	s.mu.Lock()
	s.order.Init()
	s.index = make(map[Key]*list.Element, s.capacity)
	s.bytes = 0
	s.mu.Unlock()
	return nil
}

// Len returns the number of entries.
func (s *Bounded) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Bytes returns the summed size of the held entries.
func (s *Bounded) Bytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// Capacity returns the entry limit.
func (s *Bounded) Capacity() int {
	return s.capacity
}

// Evictions returns the number of entries evicted so far.
func (s *Bounded) Evictions() int64 {
	return s.evictions.Load()
}

// Keys returns the held keys from most to least recently used.
func (s *Bounded) Keys() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]Key, 0, s.order.Len())
	for el := s.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*Entry).Key)
	}
	return keys
}

var (
	_ Store   = (*Bounded)(nil)
	_ Clearer = (*Bounded)(nil)
	_ Sizer   = (*Bounded)(nil)
)
