package store

import (
	"context"
	"sort"
	"sync"

	"github.com/awmpietro/golang-cascade-escalation/internal/audit"
)

type Memory struct {
	mu     sync.RWMutex
	runs   map[string]Run
	events map[string][]audit.Event
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		runs:   make(map[string]Run),
		events: make(map[string][]audit.Event),
	}
}

func (m *Memory) Create(ctx context.Context, run Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return ErrDuplicate
	}
	m.runs[run.ID] = run
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (Run, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	return run, nil
}

func (m *Memory) List(ctx context.Context, limit int) ([]Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]Run, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[id]; !ok {
		return ErrNotFound
	}
	delete(m.runs, id)
	return nil
}

func (m *Memory) AppendEvent(ctx context.Context, ev audit.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.events[ev.CorrelationID] = append(m.events[ev.CorrelationID], ev)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Events(ctx context.Context, correlationID string) ([]audit.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]audit.Event{}, m.events[correlationID]...), nil
}
