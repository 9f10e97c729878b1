package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/you/taskq/internal/domain"
	"github.com/you/taskq/internal/queue"
	schedmem "github.com/you/taskq/internal/sched/memory"
	storemem "github.com/you/taskq/internal/store/memory"
)

func newTestPool(t *testing.T, reg *Registry) (*Pool, *queue.Queue) {
	t.Helper()
	q := queue.New(storemem.New(), schedmem.New(), zap.NewNop(),
		queue.WithDefaultRetryPolicy(domain.RetryPolicy{MaxAttempts: 2, BackoffBaseMs: 10}))
	p := NewPool(q, reg, zap.NewNop(),
		WithConcurrency(2),
		WithPollInterval(10*time.Millisecond),
		WithJobTimeout(time.Second))
	return p, q
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("a", func(context.Context, *domain.Job) (json.RawMessage, error) {
		return nil, nil
	}))
	assert.Error(t, reg.Register("a", func(context.Context, *domain.Job) (json.RawMessage, error) {
		return nil, nil
	}))

	_, ok := reg.Lookup("a")
	assert.True(t, ok)
	_, ok = reg.Lookup("b")
	assert.False(t, ok)
}

func TestPoolExecutesAndCompletes(t *testing.T) {
	reg := NewRegistry()
	var ran atomic.Int32
	require.NoError(t, reg.Register("ok", func(_ context.Context, j *domain.Job) (json.RawMessage, error) {
		ran.Add(1)
		return json.RawMessage(`{"done":true}`), nil
	}))

	p, q := newTestPool(t, reg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	j, err := q.Submit(ctx, queue.SubmitParams{Type: "ok"})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		got, err := q.GetStatus(ctx, j.ID)
		return err == nil && got.Status == domain.Completed
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	got, err := q.GetStatus(context.Background(), j.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"done":true}`, string(got.Result))
	assert.Equal(t, int32(1), ran.Load())
}

func TestPoolFailureGoesThroughRetryPolicy(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("bad", func(context.Context, *domain.Job) (json.RawMessage, error) {
		return nil, errors.New("handler exploded")
	}))

	p, q := newTestPool(t, reg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	j, err := q.Submit(ctx, queue.SubmitParams{
		Type:  "bad",
		Retry: &domain.RetryPolicy{MaxAttempts: 1, BackoffBaseMs: 10},
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		got, err := q.GetStatus(ctx, j.ID)
		return err == nil && got.Status == domain.Failed
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	got, err := q.GetStatus(context.Background(), j.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Error)
	assert.Equal(t, "handler exploded", *got.Error)
	assert.Equal(t, 1, got.Attempt)
}

func TestPoolUnknownTypeFailsAttempt(t *testing.T) {
	p, q := newTestPool(t, NewRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	j, err := q.Submit(ctx, queue.SubmitParams{
		Type:  "mystery",
		Retry: &domain.RetryPolicy{MaxAttempts: 1, BackoffBaseMs: 10},
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		got, err := q.GetStatus(ctx, j.ID)
		return err == nil && got.Status == domain.Failed
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
