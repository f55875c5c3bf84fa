package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/models"
)

// MemoryStore is a thread-safe in-memory DatasetStore. Datasets are copied on
// the way in and out, so callers never share backing arrays with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	datasets map[string]models.Dataset
	saves    map[string]int
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		datasets: make(map[string]models.Dataset),
		saves:    make(map[string]int),
	}
}

// Load implements DatasetReader.
func (m *MemoryStore) Load(ctx context.Context, name string) (models.Dataset, error) {
	if ctx.Err() != nil {
		return nil, NewStorageError("load", name, ctx.Err())
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewStorageError("load", name, errors.New("storage is closed"))
	}
	ds, ok := m.datasets[name]
	if !ok {
		return nil, NewStorageError("load", name, ErrNotFound)
	}
	return ds.Clone(), nil
}

// Exists implements DatasetReader.
func (m *MemoryStore) Exists(ctx context.Context, name string) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.datasets[name]
	return ok, nil
}

// Save implements DatasetWriter.
func (m *MemoryStore) Save(ctx context.Context, name string, ds models.Dataset) error {
	if ctx.Err() != nil {
		return NewStorageError("save", name, ctx.Err())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return NewStorageError("save", name, errors.New("storage is closed"))
	}
	m.datasets[name] = ds.Clone()
	m.saves[name]++
	return nil
}

// Names returns the stored dataset names in lexical order.
func (m *MemoryStore) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.datasets))
	for name := range m.datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SaveCount returns how many times name was saved.
func (m *MemoryStore) SaveCount(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves[name]
}

// HealthCheck verifies that the store is usable.
func (m *MemoryStore) HealthCheck(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return errors.New("storage is closed")
	}
	return nil
}

// Close marks the store closed. Subsequent loads and saves fail.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Compile-time interface compliance check
var (
	_ DatasetStore  = (*MemoryStore)(nil)
	_ HealthChecker = (*MemoryStore)(nil)
)
