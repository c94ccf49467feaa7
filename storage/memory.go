package storage

import (
	"context"
	"slices"
	"sync"

	"photowatch/pkg/photowatch"
)

// Memory is an in-process Store used for tests and dry runs.
type Memory struct {
	observations []*photowatch.Observation
	access       []*photowatch.AccessEvent
	attempts     []*photowatch.CheckAttempt
	mu           sync.Mutex
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Latest(_ context.Context) (*photowatch.Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.observations) == 0 {
		return nil, nil
	}
	o := *m.observations[len(m.observations)-1]
	return &o, nil
}

func (m *Memory) Append(_ context.Context, obs *photowatch.Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *photowatch.Observation
	if n := len(m.observations); n > 0 {
		latest = m.observations[n-1]
	}
	if sameContent(latest, obs) {
		return ErrDuplicate
	}
	obs.ObservedAt = obs.ObservedAt.UTC()
	obs.Seq = int64(len(m.observations) + 1)
	o := *obs
	m.observations = append(m.observations, &o)
	return nil
}

func (m *Memory) History(_ context.Context) ([]*photowatch.Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*photowatch.Observation, 0, len(m.observations))
	for _, o := range m.observations {
		c := *o
		out = append(out, &c)
	}
	return out, nil
}

func (m *Memory) AppendAccessEvent(_ context.Context, ev *photowatch.AccessEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.OccurredAt = ev.OccurredAt.UTC()
	ev.Seq = int64(len(m.access) + 1)
	c := *ev
	m.access = append(m.access, &c)
	return nil
}

func (m *Memory) AccessEvents(_ context.Context, ascending bool) ([]*photowatch.AccessEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*photowatch.AccessEvent, 0, len(m.access))
	for _, ev := range m.access {
		c := *ev
		out = append(out, &c)
	}
	if !ascending {
		slices.Reverse(out)
	}
	return out, nil
}

func (m *Memory) AppendAttempt(_ context.Context, a *photowatch.CheckAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.CheckedAt = a.CheckedAt.UTC()
	a.Seq = int64(len(m.attempts) + 1)
	c := *a
	m.attempts = append(m.attempts, &c)
	return nil
}

func (m *Memory) Attempts(_ context.Context, limit int) ([]*photowatch.CheckAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return newestFirst(m.attempts, limit), nil
}

func (*Memory) Close() error { return nil }
