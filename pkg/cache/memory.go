package cache

import (
	"bytes"
	"container/list"
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore is a process-local Store.
//
// Byte-slice values ([]byte, json.RawMessage) are copied on Set and Get so
// callers never share the stored bytes. Other values are copied shallowly.
//
// It is unbounded unless maxEntries > 0, in which case the least recently
// used entry is evicted when a new key would exceed the bound.
type MemoryStore[V any] struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front = most recently used
	maxEntries int
}

// NewMemoryStore creates an in-memory store. maxEntries <= 0 means unbounded.
func NewMemoryStore[V any](maxEntries int) *MemoryStore[V] {
	if maxEntries < 0 {
		maxEntries = 0
	}
	return &MemoryStore[V]{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
	}
}

// Name implements Store.
func (s *MemoryStore[V]) Name() string { return "memory" }

// Get implements Store.
func (s *MemoryStore[V]) Get(_ context.Context, key string) (*Entry[V], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	s.order.MoveToFront(el)

	entry := *el.Value.(*Entry[V])
	entry.Value = cloneValue(entry.Value)
	return &entry, nil
}

// Set implements Store.
func (s *MemoryStore[V]) Set(_ context.Context, entry *Entry[V]) error {
	if entry == nil {
		return ErrInvalidEntry
	}
	stored := *entry
	stored.Value = cloneValue(stored.Value)

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[stored.Key]; ok {
		el.Value = &stored
		s.order.MoveToFront(el)
		return nil
	}

	if s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		if oldest := s.order.Back(); oldest != nil {
			s.removeElement(oldest)
			CacheEvictions.WithLabelValues(s.Name()).Inc()
		}
	}

	s.entries[stored.Key] = s.order.PushFront(&stored)
	return nil
}

// Delete implements Store.
func (s *MemoryStore[V]) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		s.removeElement(el)
	}
	return nil
}

// CompareAndDelete implements Store.
func (s *MemoryStore[V]) CompareAndDelete(_ context.Context, entry *Entry[V]) (bool, error) {
	if entry == nil {
		return false, ErrInvalidEntry
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[entry.Key]
	if !ok || !el.Value.(*Entry[V]).SameWrite(entry) {
		return false, nil
	}
	s.removeElement(el)
	return true, nil
}

// Clear implements Store.
func (s *MemoryStore[V]) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*list.Element)
	s.order.Init()
	return nil
}

// Len returns the number of stored entries, fresh or stale.
func (s *MemoryStore[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore[V]) removeElement(el *list.Element) {
	entry := s.order.Remove(el).(*Entry[V])
	delete(s.entries, entry.Key)
}

// cloneValue copies byte-slice values; anything else is returned as is.
func cloneValue[V any](v V) V {
	switch b := any(v).(type) {
	case json.RawMessage:
		return any(json.RawMessage(bytes.Clone(b))).(V)
	case []byte:
		return any(bytes.Clone(b)).(V)
	}
	return v
}
