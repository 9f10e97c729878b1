package worker

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/you/taskq/internal/domain"
)

// Handler executes the business logic for one job type. The returned
// bytes become the job's result blob.
type Handler func(ctx context.Context, j *domain.Job) (json.RawMessage, error)

// Registry maps job types to handlers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(jobType string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[jobType]; dup {
		return errors.Errorf("handler for %q already registered", jobType)
	}
	r.handlers[jobType] = h
	return nil
}

func (r *Registry) Lookup(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}
