package history

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	nextID  int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, entries ...Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range entries {
		s.nextID++
		entries[i].ID = s.nextID
		s.entries = append(s.entries, entries[i])
	}
	return nil
}

// Recent implements Store.
func (s *MemoryStore) Recent(_ context.Context, job string, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, e := range slices.Backward(s.entries) {
		if job != "" && e.Job != job {
			continue
		}
		out = append(out, e)
		if len(out) == n {
			break
		}
	}
	return out, nil
}

// Prune implements Store.
func (s *MemoryStore) Prune(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	s.entries = slices.DeleteFunc(s.entries, func(e Entry) bool { return e.StartedAt.Before(before) })
	return int64(n - len(s.entries)), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
