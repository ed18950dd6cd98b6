package store

import (
	"fmt"
	"sync"

	"github.com/syncboard/syncboard/internal/model"
)

// memoryStore is the degraded-mode Store used when SQLite is unavailable.
// Data lives only for the process lifetime, which keeps the UI usable on a
// broken disk at the cost of durability.
type memoryStore struct {
	mu       sync.RWMutex
	entities map[model.EntityType][]Record
	pending  []*model.PendingChange
	kv       map[string][]byte
}

// NewMemory returns an empty in-memory store. Exported for tests, which
// prefer it over a real database when persistence is not under test.
func NewMemory() Store {
	return &memoryStore{
		entities: make(map[model.EntityType][]Record),
		kv:       make(map[string][]byte),
	}
}

func (s *memoryStore) List(entityType model.EntityType) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.entities[entityType]))
	copy(out, s.entities[entityType])
	return out, nil
}

func (s *memoryStore) ReplaceAll(entityType model.EntityType, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]Record, len(records))
	copy(cp, records)
	s.entities[entityType] = cp
	return nil
}

func (s *memoryStore) Upsert(entityType model.EntityType, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.entities[entityType]
	for i := range list {
		if list[i].ID == rec.ID {
			list[i] = rec
			return nil
		}
	}
	s.entities[entityType] = append(list, rec)
	return nil
}

func (s *memoryStore) Remove(entityType model.EntityType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.entities[entityType]
	for i := range list {
		if list[i].ID == id {
			s.entities[entityType] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *memoryStore) AppendPending(change *model.PendingChange) error {
	if err := change.Validate(); err != nil {
		return fmt.Errorf("invalid pending change: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *change
	s.pending = append(s.pending, &cp)
	return nil
}

func (s *memoryStore) ListPending() ([]*model.PendingChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.PendingChange, len(s.pending))
	for i, c := range s.pending {
		cp := *c
		out[i] = &cp
	}
	return out, nil
}

func (s *memoryStore) UpdatePending(change *model.PendingChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.pending {
		if c.ID == change.ID {
			c.RetryCount = change.RetryCount
			c.Payload = change.Payload
			return nil
		}
	}
	return nil
}

func (s *memoryStore) RemovePending(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.pending {
		if c.ID == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *memoryStore) ClearPending() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	return nil
}

func (s *memoryStore) GetValue(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.kv[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *memoryStore) SetValue(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.kv[key] = cp
	return nil
}

func (s *memoryStore) Close() error { return nil }
