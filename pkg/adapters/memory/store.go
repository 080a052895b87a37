package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/pergola/pkg/domain"
)

// Store implements ports.CheckpointStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]*domain.Checkpoint
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*domain.Checkpoint),
	}
}

// Save persists a deep copy of the checkpoint.
func (s *Store) Save(ctx context.Context, key string, cp *domain.Checkpoint) error {
	copied := cp.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = copied
	return nil
}

// Load retrieves a copy of the checkpoint so callers cannot mutate the store.
func (s *Store) Load(ctx context.Context, key string) (*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.data[key]
	if !ok {
		return nil, domain.ErrThreadNotFound
	}
	return cp.Clone(), nil
}

// Delete removes the checkpoint.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// List returns stored keys.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for id := range s.data {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys, nil
}
