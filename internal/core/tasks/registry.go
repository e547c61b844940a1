package tasks

import (
	"context"
	"sync"

	"github.com/markdave123-py/kbparse/internal/models"
)

// Registry holds one batch record per knowledge base. Records are replaced
// whole and never evicted.
type Registry interface {
	// Begin stores initial unless the current record is still active.
	// It reports whether the record was stored.
	Begin(ctx context.Context, kbID string, initial models.BatchTask) (bool, error)
	Put(ctx context.Context, kbID string, task models.BatchTask) error
	Get(ctx context.Context, kbID string) (models.BatchTask, bool, error)
}

type memoryEntry struct {
	mu   sync.Mutex
	task models.BatchTask
	set  bool
}

// MemoryRegistry is the process-local registry. Each kb has its own lock.
type MemoryRegistry struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

var _ Registry = (*MemoryRegistry)(nil)

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[string]*memoryEntry)}
}

func (r *MemoryRegistry) entry(kbID string) *memoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[kbID]
	if !ok {
		e = &memoryEntry{}
		r.entries[kbID] = e
	}
	return e
}

func (r *MemoryRegistry) Begin(_ context.Context, kbID string, initial models.BatchTask) (bool, error) {
	e := r.entry(kbID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.set && e.task.Active() {
		return false, nil
	}
	e.task, e.set = initial, true
	return true, nil
}

func (r *MemoryRegistry) Put(_ context.Context, kbID string, task models.BatchTask) error {
	e := r.entry(kbID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.task, e.set = task, true
	return nil
}

func (r *MemoryRegistry) Get(_ context.Context, kbID string) (models.BatchTask, bool, error) {
	r.mu.Lock()
	e, ok := r.entries[kbID]
	r.mu.Unlock()
	if !ok {
		return models.BatchTask{}, false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task, e.set, nil
}
