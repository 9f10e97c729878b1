package domain

import (
	"encoding/json"
	"time"
)

type Status string

const (
	Waiting    Status = "waiting"
	Delayed    Status = "delayed"
	Processing Status = "processing"
	Completed  Status = "completed"
	Failed     Status = "failed"
	Canceled   Status = "canceled"
)

// Terminal reports whether s is a final state. Jobs never leave a
// terminal state and result/error blobs are frozen once it is reached.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed || s == Canceled
}

const (
	MinPriority = -10
	MaxPriority = 10
)

// RetryPolicy controls how many claim attempts a job gets and the base
// of its exponential backoff between failed attempts.
type RetryPolicy struct {
	MaxAttempts   int   `json:"maxAttempts"`
	BackoffBaseMs int64 `json:"backoffBaseMs"`
}

// Webhook describes where terminal-state notifications for a job go.
// Delivery is a collaborator's concern; the core only builds the payload.
type Webhook struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	Status      Status          `json:"status"`
	AvailableAt time.Time       `json:"availableAt"`
	Attempt     int             `json:"attempt"`
	RetryPolicy RetryPolicy     `json:"retryPolicy"`
	Webhook     *Webhook        `json:"webhook,omitempty"`

	// Lease fields are set only while Status == Processing.
	LeaseOwner     *string    `json:"leaseOwner,omitempty"`
	LeaseExpiresAt *time.Time `json:"leaseExpiresAt,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	Result json.RawMessage `json:"result,omitempty"`
	Error  *string         `json:"error,omitempty"`
}

// Clone returns a deep enough copy that callers can mutate freely
// without racing against a store's retained record.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	if j.Result != nil {
		cp.Result = append(json.RawMessage(nil), j.Result...)
	}
	if j.Webhook != nil {
		w := *j.Webhook
		if j.Webhook.Headers != nil {
			w.Headers = make(map[string]string, len(j.Webhook.Headers))
			for k, v := range j.Webhook.Headers {
				w.Headers[k] = v
			}
		}
		cp.Webhook = &w
	}
	if j.LeaseOwner != nil {
		o := *j.LeaseOwner
		cp.LeaseOwner = &o
	}
	if j.LeaseExpiresAt != nil {
		t := *j.LeaseExpiresAt
		cp.LeaseExpiresAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	return &cp
}

// Notification is the payload handed to the webhook collaborator when a
// job reaches a terminal state. Emitted at most once per job.
type Notification struct {
	JobID       string          `json:"jobId"`
	Status      Status          `json:"status"`
	Type        string          `json:"type"`
	CompletedAt time.Time       `json:"completedAt"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *string         `json:"error,omitempty"`
}

// NotificationFor builds the terminal payload for j. The caller must
// only invoke it after j has reached a terminal state.
func NotificationFor(j *Job) Notification {
	n := Notification{
		JobID:  j.ID,
		Status: j.Status,
		Type:   j.Type,
		Result: j.Result,
		Error:  j.Error,
	}
	if j.CompletedAt != nil {
		n.CompletedAt = *j.CompletedAt
	}
	return n
}
