// Package store defines the persistence contract for job records.
//
// CompareAndSetStatus is the sole mutation path for a job's status: every
// higher-level transition (claim, complete, fail, cancel, promote) is built
// from it, which makes each job id linearizable regardless of the backend.
package store

import (
	"context"
	"time"

	"github.com/you/taskq/internal/domain"
)

// Mutator adjusts the rest of the record inside a successful status
// transition (lease fields, attempt counter, result blob). Returning an
// error aborts the transition with no effect and the error is surfaced
// to the caller.
type Mutator func(*domain.Job) error

type Store interface {
	// Put persists a new job record. Fails if the id already exists.
	Put(ctx context.Context, j *domain.Job) error

	// Get retrieves a job by id, or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Job, error)

	// CompareAndSetStatus atomically transitions the job from expected to
	// next, applying mutate to the record in the same step. Returns false
	// (with no effect) when the stored status is not expected. A successful
	// CAS bumps UpdatedAt.
	CompareAndSetStatus(ctx context.Context, id string, expected, next domain.Status, mutate Mutator) (bool, error)

	// ListByStatus returns up to limit jobs in the given status, ordered by
	// CreatedAt ascending. Zero limit means no limit.
	ListByStatus(ctx context.Context, s domain.Status, limit int) ([]*domain.Job, error)

	// ExpiredLeases returns processing jobs whose lease expired before now,
	// candidates for the recovery sweep.
	ExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error)

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	Close() error
}
