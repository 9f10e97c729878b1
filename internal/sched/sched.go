// Package sched defines the priority/delay index contract.
//
// The scheduler holds only job ids and ordering metadata; job truth lives
// in the store. The ready index orders waiting jobs by priority descending
// then submission order; the delay index orders delayed jobs by the time
// they become available.
package sched

import (
	"context"
	"time"

	"github.com/you/taskq/internal/domain"
)

type Scheduler interface {
	// EnqueueWaiting adds the job to the ready index.
	EnqueueWaiting(ctx context.Context, j *domain.Job) error

	// EnqueueDelayed adds the job to the delay index, keyed by AvailableAt.
	EnqueueDelayed(ctx context.Context, j *domain.Job) error

	// PopReady removes and returns the id of the highest-priority ready
	// job. ok is false when the ready index is empty. The pop is atomic:
	// no two callers receive the same id.
	PopReady(ctx context.Context) (id string, ok bool, err error)

	// DueDelayed returns up to limit ids from the delay index whose
	// AvailableAt is at or before now, earliest first. The ids stay in
	// the index until Promote or Remove.
	DueDelayed(ctx context.Context, now time.Time, limit int) ([]string, error)

	// Promote moves the job from the delay index to the ready index.
	// Callers transition the job's status first; Promote is the index
	// half of the per-job promotion transaction.
	Promote(ctx context.Context, j *domain.Job) error

	// Remove drops the id from both indexes. Used by cancel and by
	// promotion when the job turned out to be gone.
	Remove(ctx context.Context, id string) error
}
