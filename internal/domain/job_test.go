package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{Completed, Failed, Canceled} {
		assert.True(t, s.Terminal(), "%s", s)
	}
	for _, s := range []Status{Waiting, Delayed, Processing} {
		assert.False(t, s.Terminal(), "%s", s)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	owner := "w1"
	j := &Job{
		ID:         "a",
		Payload:    json.RawMessage(`{"k":"v"}`),
		Webhook:    &Webhook{URL: "https://x", Headers: map[string]string{"A": "1"}},
		LeaseOwner: &owner,
	}

	cp := j.Clone()
	cp.Payload[2] = 'x'
	cp.Webhook.Headers["A"] = "2"
	*cp.LeaseOwner = "w2"

	assert.Equal(t, json.RawMessage(`{"k":"v"}`), j.Payload)
	assert.Equal(t, "1", j.Webhook.Headers["A"])
	assert.Equal(t, "w1", *j.LeaseOwner)
}

func TestNotificationFor(t *testing.T) {
	done := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	errMsg := "boom"
	j := &Job{
		ID:          "a",
		Type:        "email",
		Status:      Failed,
		CompletedAt: &done,
		Error:       &errMsg,
	}

	n := NotificationFor(j)
	assert.Equal(t, "a", n.JobID)
	assert.Equal(t, Failed, n.Status)
	assert.Equal(t, "email", n.Type)
	assert.Equal(t, done, n.CompletedAt)
	assert.Equal(t, &errMsg, n.Error)
	assert.Nil(t, n.Result)
}
