package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/sweetpotato0/shard/errors"
	"github.com/sweetpotato0/shard/pkg/logging"
)

// Manager is the arena of live generations, indexed by id. Superseded
// generations are pruned as soon as a newer one is created; goroutines still
// holding one keep working on their own pointer.
type Manager struct {
	mu          sync.RWMutex
	generations map[uint64]*Generation
	store       Store
	runID       string
	logger      *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStore persists finished generations to store.
func WithStore(store Store) ManagerOption {
	return func(m *Manager) {
		m.store = store
	}
}

// WithRunID overrides the random id scoping this process's records.
func WithRunID(id string) ManagerOption {
	return func(m *Manager) {
		if id != "" {
			m.runID = id
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates an empty arena.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		generations: make(map[uint64]*Generation),
		runID:       uuid.NewString(),
		logger:      logging.WithComponent("session"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunID returns the id scoping record keys.
func (m *Manager) RunID() string { return m.runID }

// Create registers a new generation and prunes every older one.
func (m *Manager) Create(id uint64, model string) (*Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.generations[id]; exists {
		return nil, fmt.Errorf("generation %d already exists", id)
	}
	gen := NewGeneration(id, model)
	m.generations[id] = gen
	for old := range m.generations {
		if old < id {
			delete(m.generations, old)
		}
	}
	return gen, nil
}

// Get returns the generation with id if it is still in the arena.
func (m *Manager) Get(id uint64) (*Generation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	gen, ok := m.generations[id]
	return gen, ok
}

// Cancel flags generation id. It reports whether a live generation was
// flagged by this call.
func (m *Manager) Cancel(id uint64) bool {
	gen, ok := m.Get(id)
	if !ok {
		return false
	}
	return gen.Cancel()
}

// Len returns the number of generations in the arena.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.generations)
}

// Persist saves a snapshot of gen when a store is configured.
func (m *Manager) Persist(ctx context.Context, gen *Generation) error {
	if m.store == nil {
		return nil
	}
	rec := gen.Record(m.runID)
	if err := m.store.Save(ctx, rec); err != nil {
		m.logger.Warn("persist generation failed", "id", gen.ID(), "error", err)
		return err
	}
	m.logger.Debug("generation persisted", "id", gen.ID(), "state", rec.State)
	return nil
}

// History returns persisted records, oldest first.
func (m *Manager) History(ctx context.Context) ([]*Record, error) {
	if m.store == nil {
		return nil, nil
	}
	keys, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(keys))
	for _, key := range keys {
		rec, err := m.store.Load(ctx, key)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// HistoryCount returns the number of persisted records.
func (m *Manager) HistoryCount(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	return m.store.Count(ctx)
}

// Forget deletes the persisted record stored under key.
func (m *Manager) Forget(ctx context.Context, key string) error {
	if m.store == nil {
		return fmt.Errorf("%w: %s", errors.ErrNotFound, key)
	}
	if err := m.store.Delete(ctx, key); err != nil {
		return err
	}
	m.logger.Info("generation record deleted", "key", key)
	return nil
}
