// Package memory is an in-memory store.Store backed by a mutex-guarded
// map. Safe for concurrent use; intended for tests and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/you/taskq/internal/domain"
	"github.com/you/taskq/internal/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

func New() *Store {
	return &Store{jobs: make(map[string]*domain.Job)}
}

func (m *Store) Put(_ context.Context, j *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[j.ID]; exists {
		return domain.ErrConflict
	}
	m.jobs[j.ID] = j.Clone()
	return nil
}

func (m *Store) Get(_ context.Context, id string) (*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return j.Clone(), nil
}

func (m *Store) CompareAndSetStatus(_ context.Context, id string, expected, next domain.Status, mutate store.Mutator) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if j.Status != expected {
		return false, nil
	}

	// Mutate a copy so a vetoing mutator leaves the record untouched.
	cp := j.Clone()
	cp.Status = next
	cp.UpdatedAt = time.Now().UTC()
	if mutate != nil {
		if err := mutate(cp); err != nil {
			return false, err
		}
	}
	m.jobs[id] = cp
	return true, nil
}

func (m *Store) ListByStatus(_ context.Context, s domain.Status, limit int) ([]*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Job
	for _, j := range m.jobs {
		if j.Status == s {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) ExpiredLeases(_ context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Job
	for _, j := range m.jobs {
		if j.Status != domain.Processing || j.LeaseExpiresAt == nil {
			continue
		}
		if j.LeaseExpiresAt.Before(now) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].LeaseExpiresAt.Before(*out[k].LeaseExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) Ping(_ context.Context) error { return nil }

func (m *Store) Close() error { return nil }
