// Package backoff decides what happens to a job after a failed attempt.
// Decisions are pure functions of the job and the supplied clock reading,
// so the package is safe for concurrent use and independently testable.
package backoff

import (
	"math"
	"time"

	"github.com/you/taskq/internal/domain"
)

type Action string

const (
	// Retry means the job goes back to delayed with NextAvailableAt set.
	Retry Action = "retry"
	// Fail means the job is terminally failed.
	Fail Action = "fail"
)

// Decision is the outcome of consulting the policy on a failed attempt.
type Decision struct {
	Action          Action
	NextAvailableAt time.Time
}

// Delay returns the exponential backoff before retry attempt n, counted
// from 1: base * 2^(n-1).
func Delay(baseMs int64, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(baseMs)*math.Pow(2, float64(attempt-1))) * time.Millisecond
}

// OnFailure decides whether the job gets another attempt. The job's
// Attempt field counts claims already made, so a job that has burned
// all of RetryPolicy.MaxAttempts fails terminally.
func OnFailure(j *domain.Job, now time.Time) Decision {
	if j.Attempt < j.RetryPolicy.MaxAttempts {
		return Decision{
			Action:          Retry,
			NextAvailableAt: now.Add(Delay(j.RetryPolicy.BackoffBaseMs, j.Attempt)),
		}
	}
	return Decision{Action: Fail}
}
