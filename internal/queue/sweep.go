package queue

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/taskq/internal/domain"
)

// PromoteDue moves every delayed job whose AvailableAt has passed into
// the ready index, one CAS per job. Returns the ids that were promoted.
func (q *Queue) PromoteDue(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := q.sched.DueDelayed(ctx, now, q.batch)
	if err != nil {
		return nil, err
	}

	var promoted []string
	for _, id := range ids {
		j, err := q.store.Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			_ = q.sched.Remove(ctx, id)
			continue
		}
		if err != nil {
			return promoted, err
		}

		ok, err := q.store.CompareAndSetStatus(ctx, id, domain.Delayed, domain.Waiting, nil)
		if err != nil {
			return promoted, err
		}
		if !ok {
			// The job moved on while due: canceled, claimed, or promoted
			// by a concurrent scheduler. Re-read and re-index from the
			// observed status. A blind Remove here would strip the ready
			// entry a concurrent promoter just added.
			cur, err := q.store.Get(ctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				_ = q.sched.Remove(ctx, id)
				continue
			}
			if err != nil {
				return promoted, err
			}
			_ = q.sched.Remove(ctx, id)
			switch cur.Status {
			case domain.Waiting:
				if err := q.sched.EnqueueWaiting(ctx, cur); err != nil {
					return promoted, err
				}
			case domain.Delayed:
				if err := q.sched.EnqueueDelayed(ctx, cur); err != nil {
					return promoted, err
				}
			}
			continue
		}
		if err := q.sched.Promote(ctx, j); err != nil {
			return promoted, err
		}
		promoted = append(promoted, id)
	}

	if len(promoted) > 0 {
		q.log.Debug("promoted delayed jobs", zap.Int("count", len(promoted)))
	}
	return promoted, nil
}

// SweepExpiredLeases finds processing jobs whose worker stopped renewing
// its lease and routes them through the retry policy as failures. This is
// what keeps a crashed worker from stranding a job forever.
func (q *Queue) SweepExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	jobs, err := q.store.ExpiredLeases(ctx, now, q.batch)
	if err != nil {
		return 0, err
	}

	var swept int
	for _, j := range jobs {
		if j.LeaseOwner == nil {
			continue
		}
		err := q.failAttempt(ctx, j, *j.LeaseOwner, "lease expired")
		if errors.Is(err, domain.ErrConflict) {
			// The worker reported in between the scan and our CAS. Its
			// transition won; nothing to recover.
			continue
		}
		if err != nil {
			return swept, err
		}
		swept++
		q.log.Warn("recovered expired lease",
			zap.String("job_id", j.ID), zap.String("worker_id", *j.LeaseOwner))
	}
	return swept, nil
}

// Reconcile re-indexes every waiting and delayed job from store truth.
// The indexes are not durable: a Redis restart, a crash between Put and
// the enqueue, or a claim that popped an id and then lost its store all
// leave a live job with no index entry. Re-enqueueing is idempotent for
// both backends, so running this every tick is safe.
func (q *Queue) Reconcile(ctx context.Context) error {
	waiting, err := q.store.ListByStatus(ctx, domain.Waiting, q.batch)
	if err != nil {
		return err
	}
	for _, j := range waiting {
		if err := q.sched.EnqueueWaiting(ctx, j); err != nil {
			return err
		}
	}

	delayed, err := q.store.ListByStatus(ctx, domain.Delayed, q.batch)
	if err != nil {
		return err
	}
	for _, j := range delayed {
		if err := q.sched.EnqueueDelayed(ctx, j); err != nil {
			return err
		}
	}
	return nil
}

// Run ticks promotion, lease recovery, and index reconciliation until
// ctx is done. One process per deployment runs this loop; promotion
// cadence is independent of worker claim activity.
func (q *Queue) Run(ctx context.Context, tick time.Duration) error {
	t := time.NewTicker(tick)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			now := q.now()
			if _, err := q.PromoteDue(ctx, now); err != nil {
				q.log.Error("promotion pass failed", zap.Error(err))
			}
			if _, err := q.SweepExpiredLeases(ctx, now); err != nil {
				q.log.Error("lease sweep failed", zap.Error(err))
			}
			if err := q.Reconcile(ctx); err != nil {
				q.log.Error("reconcile pass failed", zap.Error(err))
			}
		}
	}
}
