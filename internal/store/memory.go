package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/conneroisu/fxlab/internal/renderer"
)

// MemoryDrafts keeps drafts for the life of the process.
type MemoryDrafts struct {
	mu     sync.RWMutex
	drafts map[string]Draft
	now    func() time.Time
}

func NewMemoryDrafts() *MemoryDrafts {
	return &MemoryDrafts{drafts: make(map[string]Draft), now: time.Now}
}

func (m *MemoryDrafts) Save(_ context.Context, id string, b renderer.Bundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drafts[id] = Draft{ID: id, Bundle: b, UpdatedAt: m.now().UTC()}
	return nil
}

func (m *MemoryDrafts) Load(_ context.Context, id string) (Draft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drafts[id]
	if !ok {
		return Draft{}, errNotFound(id)
	}
	return d, nil
}

func (m *MemoryDrafts) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drafts, id)
	return nil
}

// List returns drafts ordered by id.
func (m *MemoryDrafts) List(_ context.Context) ([]Draft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Draft, 0, len(m.drafts))
	for _, d := range m.drafts {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryDrafts) Close() error {
	return nil
}
