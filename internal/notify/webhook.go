// Package notify delivers terminal-state notifications. Delivery is
// best-effort by contract: the queue logs failures and job state is never
// affected by them.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/taskq/internal/domain"
)

// Webhook POSTs the notification payload to the job's configured URL with
// its configured headers.
type Webhook struct {
	client *http.Client
	log    *zap.Logger
}

func NewWebhook(log *zap.Logger) *Webhook {
	return &Webhook{
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

func (w *Webhook) Notify(ctx context.Context, hook domain.Webhook, n domain.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "marshal notification")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hook.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "deliver webhook")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return errors.Errorf("webhook returned %d", resp.StatusCode)
	}

	w.log.Debug("webhook delivered",
		zap.String("job_id", n.JobID),
		zap.String("status", string(n.Status)),
		zap.String("url", hook.URL))
	return nil
}
