package store

import (
	"context"
	"sync"

	"github.com/miradorstack/mirador-aiops/internal/models"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records []models.IncidentRecord
	ids     map[string]struct{}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[string]struct{})}
}

// Put appends rec unless its id is already present.
func (s *MemoryStore) Put(_ context.Context, rec models.IncidentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[rec.ID]; ok {
		return ErrDuplicateID
	}
	rec.Evidence = append([]string{}, rec.Evidence...)
	s.records = append(s.records, rec)
	s.ids[rec.ID] = struct{}{}
	return nil
}

// Scan returns a copy of every record in insertion order.
func (s *MemoryStore) Scan(context.Context) ([]models.IncidentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.IncidentRecord, len(s.records))
	for i, rec := range s.records {
		rec.Evidence = append([]string{}, rec.Evidence...)
		out[i] = rec
	}
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
