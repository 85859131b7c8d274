package store

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the in-process RecordStore. It is safe for concurrent use
// and is the default backend when no durable store is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
	}
}

// Get returns the record stored under key, or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, key string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Record{}, ErrClosed
	}

	rec, ok := s.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Set stores the record under key, replacing any previous record.
func (s *MemoryStore) Set(ctx context.Context, key string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	s.records[key] = rec
	return nil
}

// Delete removes the record under key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	delete(s.records, key)
	return nil
}

// List returns all records whose key starts with the given prefix.
func (s *MemoryStore) List(ctx context.Context, prefix string) (map[string]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	out := make(map[string]Record)
	for key, rec := range s.records {
		if strings.HasPrefix(key, prefix) {
			out[key] = rec
		}
	}
	return out, nil
}

// Sweep removes every expired record and returns the number removed.
func (s *MemoryStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	removed := 0
	for key, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

// Close marks the store closed; subsequent operations return ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ RecordStore = (*MemoryStore)(nil)
