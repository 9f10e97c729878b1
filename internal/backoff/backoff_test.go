package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/you/taskq/internal/domain"
)

func TestDelay_DoublesEachAttempt(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{0, 100 * time.Millisecond}, // clamped to attempt 1
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Delay(100, tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestOnFailure_RetriesWhileAttemptsRemain(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	j := &domain.Job{
		Attempt:     1,
		RetryPolicy: domain.RetryPolicy{MaxAttempts: 3, BackoffBaseMs: 100},
	}

	d := OnFailure(j, now)
	assert.Equal(t, Retry, d.Action)
	assert.Equal(t, now.Add(100*time.Millisecond), d.NextAvailableAt)

	j.Attempt = 2
	d = OnFailure(j, now)
	assert.Equal(t, Retry, d.Action)
	assert.Equal(t, now.Add(200*time.Millisecond), d.NextAvailableAt)
}

func TestOnFailure_FailsAtMaxAttempts(t *testing.T) {
	now := time.Now()
	j := &domain.Job{
		Attempt:     3,
		RetryPolicy: domain.RetryPolicy{MaxAttempts: 3, BackoffBaseMs: 100},
	}

	d := OnFailure(j, now)
	assert.Equal(t, Fail, d.Action)
	assert.True(t, d.NextAvailableAt.IsZero())
}
