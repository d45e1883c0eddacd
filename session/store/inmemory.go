package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sweetpotato0/shard/errors"
	"github.com/sweetpotato0/shard/session"
)

// InMemoryStore keeps generation records in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*session.Record
}

// NewInMemoryStore creates an empty in-memory store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]*session.Record),
	}
}

// Save stores a copy of record.
func (s *InMemoryStore) Save(ctx context.Context, record *session.Record) error {
	if record == nil || record.Key == "" {
		return fmt.Errorf("%w: record must have a key", errors.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Key] = record.Clone()
	return nil
}

// Load returns a copy of the record stored under key.
func (s *InMemoryStore) Load(ctx context.Context, key string) (*session.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", key, errors.ErrNotFound)
	}
	return rec.Clone(), nil
}

// Delete removes a record.
func (s *InMemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[key]; !ok {
		return fmt.Errorf("record %s: %w", key, errors.ErrNotFound)
	}
	delete(s.records, key)
	return nil
}

// List returns record keys oldest first.
func (s *InMemoryStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := make([]*session.Record, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].Key < recs[j].Key
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
	keys := make([]string, len(recs))
	for i, rec := range recs {
		keys[i] = rec.Key
	}
	return keys, nil
}

func (s *InMemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}
