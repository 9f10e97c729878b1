package queue

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/taskq/internal/backoff"
	"github.com/you/taskq/internal/domain"
)

// Claim hands the highest-priority waiting job to workerID, or nil when
// nothing is claimable. Pop-then-CAS: the ready index yields a candidate
// id, and the waiting->processing CAS decides ownership. A lost CAS just
// moves on to the next candidate, so at-most-one-claimant holds no matter
// how the index behaves.
func (q *Queue) Claim(ctx context.Context, workerID string) (*domain.Job, error) {
	if workerID == "" {
		return nil, errors.Wrap(domain.ErrValidation, "workerId is required")
	}

	for {
		var id string
		var ok bool
		err := q.retryStore(ctx, "pop ready", func() error {
			var popErr error
			id, ok, popErr = q.sched.PopReady(ctx)
			return popErr
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}

		var claimed *domain.Job
		var casOK bool
		now := q.now()
		err = q.retryStore(ctx, "claim cas", func() error {
			var casErr error
			casOK, casErr = q.store.CompareAndSetStatus(ctx, id, domain.Waiting, domain.Processing, func(j *domain.Job) error {
				j.Attempt++
				owner := workerID
				j.LeaseOwner = &owner
				exp := now.Add(q.leaseTTL)
				j.LeaseExpiresAt = &exp
				claimed = j.Clone()
				return nil
			})
			return casErr
		})
		if errors.Is(err, domain.ErrNotFound) {
			// Stale index entry; skip it.
			continue
		}
		if err != nil {
			return nil, err
		}
		if !casOK {
			// Lost the race (concurrent cancel or claim); next candidate.
			continue
		}

		q.log.Debug("job claimed",
			zap.String("job_id", claimed.ID),
			zap.String("worker_id", workerID),
			zap.Int("attempt", claimed.Attempt))
		return claimed, nil
	}
}

// ReportSuccess records a worker's successful completion. Conflicts when
// the job is not processing under workerID's lease.
func (q *Queue) ReportSuccess(ctx context.Context, id, workerID string, result json.RawMessage) error {
	now := q.now()
	var done *domain.Job
	ok, err := q.store.CompareAndSetStatus(ctx, id, domain.Processing, domain.Completed, func(j *domain.Job) error {
		if err := requireLease(j, workerID); err != nil {
			return err
		}
		j.Result = result
		t := now
		j.CompletedAt = &t
		j.LeaseOwner = nil
		j.LeaseExpiresAt = nil
		done = j.Clone()
		return nil
	})
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrap(domain.ErrConflict, "job is not processing")
	}

	q.log.Info("job completed", zap.String("job_id", id), zap.String("worker_id", workerID))
	q.emitTerminal(ctx, done)
	return nil
}

// ReportFailure records a failed attempt. The retry policy decides
// between re-delaying with backoff and terminal failure.
func (q *Queue) ReportFailure(ctx context.Context, id, workerID, jobErr string) error {
	j, err := q.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status != domain.Processing {
		return errors.Wrapf(domain.ErrConflict, "job is %q, not processing", j.Status)
	}
	if err := requireLease(j, workerID); err != nil {
		return err
	}
	return q.failAttempt(ctx, j, workerID, jobErr)
}

// failAttempt routes one failed attempt of a processing job through the
// retry policy. owner guards the CAS so a concurrent completion or sweep
// cannot be double-counted.
func (q *Queue) failAttempt(ctx context.Context, j *domain.Job, owner, jobErr string) error {
	now := q.now()
	decision := backoff.OnFailure(j, now)

	if decision.Action == backoff.Retry {
		var delayed *domain.Job
		ok, err := q.store.CompareAndSetStatus(ctx, j.ID, domain.Processing, domain.Delayed, func(cur *domain.Job) error {
			if err := requireLease(cur, owner); err != nil {
				return err
			}
			cur.AvailableAt = decision.NextAvailableAt
			cur.LeaseOwner = nil
			cur.LeaseExpiresAt = nil
			e := jobErr
			cur.Error = &e
			delayed = cur.Clone()
			return nil
		})
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrap(domain.ErrConflict, "job is not processing")
		}
		if err := q.sched.EnqueueDelayed(ctx, delayed); err != nil {
			q.log.Error("re-delay enqueue failed", zap.String("job_id", j.ID), zap.Error(err))
			return err
		}
		q.log.Info("job scheduled for retry",
			zap.String("job_id", j.ID),
			zap.Int("attempt", j.Attempt),
			zap.Time("available_at", decision.NextAvailableAt))
		return nil
	}

	var failed *domain.Job
	ok, err := q.store.CompareAndSetStatus(ctx, j.ID, domain.Processing, domain.Failed, func(cur *domain.Job) error {
		if err := requireLease(cur, owner); err != nil {
			return err
		}
		e := jobErr
		cur.Error = &e
		t := now
		cur.CompletedAt = &t
		cur.LeaseOwner = nil
		cur.LeaseExpiresAt = nil
		failed = cur.Clone()
		return nil
	})
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrap(domain.ErrConflict, "job is not processing")
	}

	q.log.Warn("job failed terminally",
		zap.String("job_id", j.ID), zap.Int("attempt", j.Attempt), zap.String("error", jobErr))
	q.emitTerminal(ctx, failed)
	return nil
}

func requireLease(j *domain.Job, workerID string) error {
	if j.LeaseOwner == nil || *j.LeaseOwner != workerID {
		return errors.Wrap(domain.ErrConflict, "job is leased to another worker")
	}
	return nil
}
