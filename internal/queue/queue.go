// Package queue is the lifecycle core: it owns the job state machine,
// the claim protocol, delayed-job promotion, and lease recovery. All
// status changes funnel through the store's compare-and-set, so the
// transitions here stay race-free with any number of workers and API
// callers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/taskq/internal/domain"
	"github.com/you/taskq/internal/sched"
	"github.com/you/taskq/internal/store"
)

// Notifier receives the terminal payload for jobs that configured a
// webhook. Delivery is best-effort: errors are logged by the queue and
// never affect job state.
type Notifier interface {
	Notify(ctx context.Context, w domain.Webhook, n domain.Notification) error
}

type Queue struct {
	store    store.Store
	sched    sched.Scheduler
	notifier Notifier
	log      *zap.Logger

	leaseTTL     time.Duration
	defaultRetry domain.RetryPolicy
	storeRetries int
	batch        int
	now          func() time.Time
}

type Option func(*Queue)

// WithNotifier sets the terminal-notification collaborator.
func WithNotifier(n Notifier) Option {
	return func(q *Queue) { q.notifier = n }
}

// WithLeaseTTL sets how long a claimed job may run before the recovery
// sweep treats its worker as dead. Independent of retry backoff.
func WithLeaseTTL(d time.Duration) Option {
	return func(q *Queue) { q.leaseTTL = d }
}

// WithDefaultRetryPolicy sets the policy applied when submit omits one.
func WithDefaultRetryPolicy(p domain.RetryPolicy) Option {
	return func(q *Queue) { q.defaultRetry = p }
}

// WithStoreRetries bounds how many times a store error is retried before
// surfacing as fatal.
func WithStoreRetries(n int) Option {
	return func(q *Queue) { q.storeRetries = n }
}

// WithBatchSize caps how many jobs one promotion or sweep pass handles.
func WithBatchSize(n int) Option {
	return func(q *Queue) { q.batch = n }
}

// WithClock overrides the time source. Tests use this.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func New(st store.Store, sc sched.Scheduler, log *zap.Logger, opts ...Option) *Queue {
	q := &Queue{
		store:        st,
		sched:        sc,
		log:          log,
		leaseTTL:     60 * time.Second,
		defaultRetry: domain.RetryPolicy{MaxAttempts: 3, BackoffBaseMs: 1000},
		storeRetries: 2,
		batch:        200,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// SubmitParams are the caller-supplied fields of a new job.
type SubmitParams struct {
	Type     string
	Payload  json.RawMessage
	Priority int
	Delay    time.Duration
	Retry    *domain.RetryPolicy
	Webhook  *domain.Webhook
}

func (p SubmitParams) validate() error {
	if strings.TrimSpace(p.Type) == "" {
		return errors.Wrap(domain.ErrValidation, "type is required")
	}
	if p.Priority < domain.MinPriority || p.Priority > domain.MaxPriority {
		return errors.Wrapf(domain.ErrValidation, "priority %d outside [%d, %d]",
			p.Priority, domain.MinPriority, domain.MaxPriority)
	}
	if p.Delay < 0 {
		return errors.Wrap(domain.ErrValidation, "delay must not be negative")
	}
	if p.Retry != nil {
		if p.Retry.MaxAttempts < 1 {
			return errors.Wrap(domain.ErrValidation, "retry.maxAttempts must be at least 1")
		}
		if p.Retry.BackoffBaseMs < 0 {
			return errors.Wrap(domain.ErrValidation, "retry.backoffBaseMs must not be negative")
		}
	}
	if p.Webhook != nil && strings.TrimSpace(p.Webhook.URL) == "" {
		return errors.Wrap(domain.ErrValidation, "webhook.url is required when webhook is set")
	}
	return nil
}

// Submit persists a new job and registers it with the scheduler. Zero
// delay lands the job in waiting; a positive delay in delayed.
func (q *Queue) Submit(ctx context.Context, p SubmitParams) (*domain.Job, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	now := q.now()
	retry := q.defaultRetry
	if p.Retry != nil {
		retry = *p.Retry
	}
	j := &domain.Job{
		ID:          uuid.NewString(),
		Type:        p.Type,
		Payload:     p.Payload,
		Priority:    p.Priority,
		Status:      domain.Waiting,
		AvailableAt: now.Add(p.Delay),
		RetryPolicy: retry,
		Webhook:     p.Webhook,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if p.Delay > 0 {
		j.Status = domain.Delayed
	}

	if err := q.retryStore(ctx, "put", func() error {
		return q.store.Put(ctx, j)
	}); err != nil {
		return nil, err
	}

	var err error
	if j.Status == domain.Delayed {
		err = q.sched.EnqueueDelayed(ctx, j)
	} else {
		err = q.sched.EnqueueWaiting(ctx, j)
	}
	if err != nil {
		// Record exists but is unindexed; the reconcile pass picks it up.
		q.log.Error("enqueue after put failed",
			zap.String("job_id", j.ID), zap.Error(err))
		return nil, err
	}

	q.log.Info("job submitted",
		zap.String("job_id", j.ID),
		zap.String("type", j.Type),
		zap.Int("priority", j.Priority),
		zap.String("status", string(j.Status)))
	return j, nil
}

// GetStatus returns the current record for id.
func (q *Queue) GetStatus(ctx context.Context, id string) (*domain.Job, error) {
	return q.store.Get(ctx, id)
}

// Cancel moves a waiting or delayed job to canceled. Once a worker holds
// the job (or it already finished) the cancel is rejected with a conflict
// so the caller can tell "too late" from "done".
func (q *Queue) Cancel(ctx context.Context, id string) (*domain.Job, error) {
	now := q.now()
	reason := "job canceled"
	mutate := func(j *domain.Job) error {
		j.Error = &reason
		t := now
		j.CompletedAt = &t
		return nil
	}

	// A promotion may flip delayed->waiting between our attempts, so try
	// the pair a few times before declaring a conflict.
	for i := 0; i < 3; i++ {
		var canceled *domain.Job
		for _, from := range []domain.Status{domain.Waiting, domain.Delayed} {
			ok, err := q.store.CompareAndSetStatus(ctx, id, from, domain.Canceled, func(j *domain.Job) error {
				if err := mutate(j); err != nil {
					return err
				}
				canceled = j.Clone()
				return nil
			})
			if err != nil {
				return nil, err
			}
			if ok {
				if rmErr := q.sched.Remove(ctx, id); rmErr != nil {
					q.log.Warn("index removal after cancel failed",
						zap.String("job_id", id), zap.Error(rmErr))
				}
				q.emitTerminal(ctx, canceled)
				return canceled, nil
			}
		}

		j, err := q.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if j.Status != domain.Waiting && j.Status != domain.Delayed {
			return nil, errors.Wrapf(domain.ErrConflict, "cannot cancel job in status %q", j.Status)
		}
	}
	return nil, errors.Wrap(domain.ErrConflict, "cancel kept losing races")
}

// emitTerminal fires the at-most-once notification for a job that just
// entered a terminal state. Only the caller that won the terminal CAS
// reaches this, which is what makes the contract hold.
func (q *Queue) emitTerminal(ctx context.Context, j *domain.Job) {
	if j.Webhook == nil || q.notifier == nil {
		return
	}
	n := domain.NotificationFor(j)
	if err := q.notifier.Notify(ctx, *j.Webhook, n); err != nil {
		q.log.Warn("terminal notification failed",
			zap.String("job_id", j.ID),
			zap.String("status", string(j.Status)),
			zap.Error(err))
	}
}

// retryStore retries fn a bounded number of times when it fails with the
// store-unavailable class. Other errors pass through untouched.
func (q *Queue) retryStore(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i <= q.storeRetries; i++ {
		err = fn()
		if err == nil || !errors.Is(err, domain.ErrStore) {
			return err
		}
		q.log.Warn("store error",
			zap.String("op", op), zap.Int("attempt", i+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(i+1) * 25 * time.Millisecond):
		}
	}
	return errors.WithMessage(err, fmt.Sprintf("%s: retries exhausted", op))
}
