package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/OceanOptics/getOC/internal/download"
)

// InMemoryRepository is an in-memory implementation of Repository.
// It is the default when no ledger database is configured.
type InMemoryRepository struct {
	mu      sync.RWMutex
	entries map[key]*Entry
	seq     map[key]int
	next    int
}

type key struct {
	runID string
	name  string
}

// NewInMemoryRepository creates a new in-memory ledger.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		entries: make(map[key]*Entry),
		seq:     make(map[key]int),
	}
}

// Record inserts or updates an entry.
func (r *InMemoryRepository) Record(_ context.Context, t download.Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{runID: t.RunID, name: t.Name}
	entry := entryFromTransfer(t)
	if existing, ok := r.entries[k]; ok {
		entry.CreatedAt = existing.CreatedAt
	} else {
		r.seq[k] = r.next
		r.next++
	}
	r.entries[k] = entry
	return nil
}

// Get retrieves one entry.
func (r *InMemoryRepository) Get(_ context.Context, runID, name string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[key{runID: runID, name: name}]
	if !ok {
		return nil, ErrNotFound
	}
	entryCopy := *entry
	return &entryCopy, nil
}

// ListByRun returns the entries of a run in insertion order.
func (r *InMemoryRepository) ListByRun(_ context.Context, runID string) ([]*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var keys []key
	for k := range r.entries {
		if k.runID == runID {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return r.seq[keys[i]] < r.seq[keys[j]] })

	items := make([]*Entry, 0, len(keys))
	for _, k := range keys {
		entryCopy := *r.entries[k]
		items = append(items, &entryCopy)
	}
	return items, nil
}

// Close is a no-op.
func (r *InMemoryRepository) Close() error {
	return nil
}
