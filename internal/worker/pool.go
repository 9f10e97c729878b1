// Package worker runs claim loops against the queue core and executes
// job handlers. Workers pull: an empty claim means sleeping one poll
// interval, not blocking on the store.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/you/taskq/internal/domain"
	"github.com/you/taskq/internal/queue"
)

type Pool struct {
	queue       *queue.Queue
	registry    *Registry
	log         *zap.Logger
	workerID    string
	concurrency int
	poll        time.Duration
	jobTimeout  time.Duration
}

type Option func(*Pool)

// WithConcurrency sets the number of claim loops.
func WithConcurrency(n int) Option {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets the sleep between empty claims.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pool) { p.poll = d }
}

// WithJobTimeout bounds one handler execution. Keep it under the lease
// TTL or the sweep will fail attempts that are still running.
func WithJobTimeout(d time.Duration) Option {
	return func(p *Pool) { p.jobTimeout = d }
}

func NewPool(q *queue.Queue, reg *Registry, log *zap.Logger, opts ...Option) *Pool {
	p := &Pool{
		queue:       q,
		registry:    reg,
		log:         log,
		workerID:    "worker-" + uuid.NewString(),
		concurrency: 4,
		poll:        time.Second,
		jobTimeout:  50 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) WorkerID() string { return p.workerID }

// Run starts the claim loops and blocks until ctx is done.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		slot := fmt.Sprintf("%s/%d", p.workerID, i)
		g.Go(func() error { return p.loop(ctx, slot) })
	}
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context, slot string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		j, err := p.queue.Claim(ctx, slot)
		if err != nil {
			p.log.Error("claim failed", zap.String("worker_id", slot), zap.Error(err))
		}
		if j == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.poll):
			}
			continue
		}

		p.execute(ctx, slot, j)
	}
}

func (p *Pool) execute(ctx context.Context, slot string, j *domain.Job) {
	handler, ok := p.registry.Lookup(j.Type)
	if !ok {
		// No handler is a permanent condition for this worker; count it
		// as a failed attempt so retries can land on a worker that has one.
		p.report(ctx, slot, j, nil, fmt.Errorf("no handler for type %q", j.Type))
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	result, err := handler(runCtx, j)
	p.report(ctx, slot, j, result, err)
}

func (p *Pool) report(ctx context.Context, slot string, j *domain.Job, result []byte, execErr error) {
	var err error
	if execErr != nil {
		err = p.queue.ReportFailure(ctx, j.ID, slot, execErr.Error())
	} else {
		err = p.queue.ReportSuccess(ctx, j.ID, slot, result)
	}
	if err != nil {
		// A conflict here means the lease sweep beat us; the job's fate
		// was already decided.
		p.log.Warn("report rejected",
			zap.String("job_id", j.ID), zap.String("worker_id", slot), zap.Error(err))
	}
}
