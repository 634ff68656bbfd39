package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyderomar92-ai/safeguard/internal/schema"
)

// Memory is an in-process Store. The zero value is not usable; call NewMemory.
type Memory struct {
	mu    sync.RWMutex
	cases map[string]*schema.Case
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{cases: make(map[string]*schema.Case)}
}

func (m *Memory) Get(_ context.Context, id string) (*schema.Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cases[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c.Clone(), nil
}

func (m *Memory) List(_ context.Context, f Filter) ([]*schema.Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*schema.Case, 0, len(m.cases))
	for _, c := range m.cases {
		if f.Match(c) {
			out = append(out, c.Clone())
		}
	}
	sortByUpdated(out)
	return out, nil
}

func (m *Memory) Put(_ context.Context, c *schema.Case) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("store: case id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cases[c.ID] = c.Clone()
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cases, id)
	return nil
}
