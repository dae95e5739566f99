package lock

import (
	"context"
	"sync"
)

// MemoryStore keeps leases in process memory. It only provides mutual
// exclusion between managers sharing the same instance, which makes it
// suitable for tests and single-process embedding.
type MemoryStore struct {
	mu     sync.Mutex
	leases map[string]Lease
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{leases: make(map[string]Lease)}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, lease Lease) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.leases[lease.Name]; exists {
		return false, nil
	}
	s.leases[lease.Name] = lease
	return true, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, name string) (Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[name]
	if !ok {
		return Lease{}, ErrNotFound
	}
	return l, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, name, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[name]
	if !ok || (owner != "" && l.Owner != owner) {
		return false, nil
	}
	delete(s.leases, name)
	return true, nil
}

// List implements Store. Leases are sorted by name.
func (s *MemoryStore) List(_ context.Context) ([]Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Lease, 0, len(s.leases))
	for _, l := range s.leases {
		out = append(out, l)
	}
	sortLeases(out)
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
