// Package redis backs sched.Scheduler with two sorted sets: a ready ZSET
// scored so that ZPopMin yields (priority desc, createdAt asc), and a
// delay ZSET scored by AvailableAt in unix milliseconds.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"

	"github.com/you/taskq/internal/domain"
	"github.com/you/taskq/internal/sched"
)

var _ sched.Scheduler = (*Scheduler)(nil)

const (
	readyKey = "taskq:ready"
	delayKey = "taskq:delay"

	// priorityBand separates priority levels in the ready score. It must
	// exceed any unix-millisecond timestamp so bands never overlap.
	priorityBand = 1e14
)

type Scheduler struct{ rdb *r.Client }

func New(rdb *r.Client) *Scheduler { return &Scheduler{rdb} }

func wrap(op string, err error) error {
	return errors.Wrapf(domain.ErrStore, "redis %s: %v", op, err)
}

// readyScore folds priority and submission time into one score. Lower
// scores pop first, so priority is negated.
func readyScore(priority int, createdAt time.Time) float64 {
	return float64(-priority)*priorityBand + float64(createdAt.UnixMilli())
}

func (s *Scheduler) EnqueueWaiting(ctx context.Context, j *domain.Job) error {
	err := s.rdb.ZAdd(ctx, readyKey, r.Z{
		Score:  readyScore(j.Priority, j.CreatedAt),
		Member: j.ID,
	}).Err()
	if err != nil {
		return wrap("enqueue waiting", err)
	}
	return nil
}

func (s *Scheduler) EnqueueDelayed(ctx context.Context, j *domain.Job) error {
	err := s.rdb.ZAdd(ctx, delayKey, r.Z{
		Score:  float64(j.AvailableAt.UnixMilli()),
		Member: j.ID,
	}).Err()
	if err != nil {
		return wrap("enqueue delayed", err)
	}
	return nil
}

func (s *Scheduler) PopReady(ctx context.Context) (string, bool, error) {
	zs, err := s.rdb.ZPopMin(ctx, readyKey, 1).Result()
	if err != nil {
		return "", false, wrap("pop ready", err)
	}
	if len(zs) == 0 {
		return "", false, nil
	}
	id, _ := zs[0].Member.(string)
	return id, id != "", nil
}

func (s *Scheduler) DueDelayed(ctx context.Context, now time.Time, limit int) ([]string, error) {
	count := int64(limit)
	if count == 0 {
		count = -1
	}
	ids, err := s.rdb.ZRangeByScore(ctx, delayKey, &r.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now.UnixMilli()), Offset: 0, Count: count,
	}).Result()
	if err != nil {
		return nil, wrap("due delayed", err)
	}
	return ids, nil
}

func (s *Scheduler) Promote(ctx context.Context, j *domain.Job) error {
	pipe := s.rdb.TxPipeline()
	pipe.ZRem(ctx, delayKey, j.ID)
	pipe.ZAdd(ctx, readyKey, r.Z{
		Score:  readyScore(j.Priority, j.CreatedAt),
		Member: j.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap("promote", err)
	}
	return nil
}

func (s *Scheduler) Remove(ctx context.Context, id string) error {
	pipe := s.rdb.TxPipeline()
	pipe.ZRem(ctx, readyKey, id)
	pipe.ZRem(ctx, delayKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap("remove", err)
	}
	return nil
}
