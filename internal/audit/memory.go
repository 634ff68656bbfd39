package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Log.
type Memory struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemory returns an empty Memory log.
func NewMemory() *Memory {
	return &Memory{entries: make([]*Entry, 0)}
}

func (m *Memory) Append(_ context.Context, r Record) (*Entry, error) {
	payload, err := canonicalPayload(r.Payload)
	if err != nil {
		return nil, err
	}
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev := genesis
	if n := len(m.entries); n > 0 {
		prev = m.entries[n-1].EntryHash
	}
	e := &Entry{
		ID:        uuid.New().String(),
		Sequence:  uint64(len(m.entries) + 1),
		Timestamp: ts.UTC(),
		Actor:     r.Actor,
		Action:    r.Action,
		CaseID:    r.CaseID,
	}
	if err := seal(e, payload, prev); err != nil {
		return nil, err
	}
	m.entries = append(m.entries, e)
	out := *e
	return &out, nil
}

func (m *Memory) Query(_ context.Context, f Filter) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*Entry, 0)
	for _, e := range m.entries {
		if f.matches(e) {
			cp := *e
			results = append(results, &cp)
			if f.MaxResults > 0 && len(results) >= f.MaxResults {
				break
			}
		}
	}
	return results, nil
}

func (m *Memory) Verify(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return verifyChain(m.entries)
}
