// Package storage contains the in-memory scan record store used by the
// standalone server and by handler tests.
package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dharsanguruparan/catscan/internal/model"
)

// MemoryStore keeps scan records in a map guarded by an RWMutex. Every write
// goes through the model transition methods under the write lock, which
// gives the same per-key conditional semantics as the SQL store.
type MemoryStore struct {
	mu    sync.RWMutex
	scans map[string]*model.Scan
	now   func() time.Time
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		scans: make(map[string]*model.Scan),
		now:   time.Now,
	}
}

// Create inserts a new record. Identifiers are assigned once; reusing one is
// an error.
func (m *MemoryStore) Create(_ context.Context, scan *model.Scan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scans[scan.ID]; ok {
		return fmt.Errorf("insert scan %s: duplicate id", scan.ID)
	}
	m.scans[scan.ID] = scan.Clone()
	return nil
}

// Get returns a copy of the record.
func (m *MemoryStore) Get(_ context.Context, id string) (*model.Scan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.scans[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return rec.Clone(), nil
}

// MarkProcessing moves a non-terminal record to PROCESSING.
func (m *MemoryStore) MarkProcessing(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.scans[id]
	if !ok {
		return model.ErrNotFound
	}
	return rec.MarkProcessing(m.now())
}

// Finish applies a terminal outcome unless the record is already terminal.
func (m *MemoryStore) Finish(_ context.Context, id string, outcome model.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.scans[id]
	if !ok {
		return model.ErrNotFound
	}
	return rec.Finish(outcome, m.now())
}

// Len reports the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.scans)
}
