// Package postgres is the durable store.Store backend. The jobs table is
// the source of truth; CompareAndSetStatus takes a row lock so the status
// check and the mutation commit as one unit.
package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/you/taskq/internal/domain"
	"github.com/you/taskq/internal/store"
)

var _ store.Store = (*Store)(nil)

type Store struct{ db *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{db} }

func wrap(op string, err error) error {
	return errors.Wrapf(domain.ErrStore, "%s: %v", op, err)
}

const jobColumns = `id, type, payload, priority, status, available_at, attempt,
max_attempts, backoff_base_ms, webhook_url, webhook_headers,
lease_owner, lease_expires_at, created_at, updated_at, completed_at, result, error`

func (s *Store) Put(ctx context.Context, j *domain.Job) error {
	var webhookURL *string
	var webhookHeaders []byte
	if j.Webhook != nil {
		webhookURL = &j.Webhook.URL
		if j.Webhook.Headers != nil {
			b, err := json.Marshal(j.Webhook.Headers)
			if err != nil {
				return errors.Wrap(domain.ErrValidation, "webhook headers not serializable")
			}
			webhookHeaders = b
		}
	}

	_, err := s.db.Exec(ctx, `insert into jobs(`+jobColumns+`)
values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		j.ID, j.Type, []byte(j.Payload), j.Priority, j.Status, j.AvailableAt, j.Attempt,
		j.RetryPolicy.MaxAttempts, j.RetryPolicy.BackoffBaseMs, webhookURL, webhookHeaders,
		j.LeaseOwner, j.LeaseExpiresAt, j.CreatedAt, j.UpdatedAt, j.CompletedAt,
		[]byte(j.Result), j.Error,
	)
	if err != nil {
		return wrap("put", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := s.db.QueryRow(ctx, `select `+jobColumns+` from jobs where id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, wrap("get", err)
	}
	return j, nil
}

// CompareAndSetStatus locks the row, checks the expected status, applies
// the mutator in process, and writes the whole record back in the same
// transaction. The row lock serializes concurrent CAS callers per id.
func (s *Store) CompareAndSetStatus(ctx context.Context, id string, expected, next domain.Status, mutate store.Mutator) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, wrap("cas begin", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `select `+jobColumns+` from jobs where id = $1 for update`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, domain.ErrNotFound
	}
	if err != nil {
		return false, wrap("cas select", err)
	}
	if j.Status != expected {
		return false, nil
	}

	j.Status = next
	j.UpdatedAt = time.Now().UTC()
	if mutate != nil {
		if err := mutate(j); err != nil {
			return false, err
		}
	}

	var webhookURL *string
	var webhookHeaders []byte
	if j.Webhook != nil {
		webhookURL = &j.Webhook.URL
		if j.Webhook.Headers != nil {
			webhookHeaders, _ = json.Marshal(j.Webhook.Headers)
		}
	}
	_, err = tx.Exec(ctx, `update jobs
   set status = $2, available_at = $3, attempt = $4,
       max_attempts = $5, backoff_base_ms = $6,
       webhook_url = $7, webhook_headers = $8,
       lease_owner = $9, lease_expires_at = $10,
       updated_at = $11, completed_at = $12, result = $13, error = $14
 where id = $1`,
		j.ID, j.Status, j.AvailableAt, j.Attempt,
		j.RetryPolicy.MaxAttempts, j.RetryPolicy.BackoffBaseMs,
		webhookURL, webhookHeaders,
		j.LeaseOwner, j.LeaseExpiresAt,
		j.UpdatedAt, j.CompletedAt, []byte(j.Result), j.Error,
	)
	if err != nil {
		return false, wrap("cas update", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, wrap("cas commit", err)
	}
	return true, nil
}

func (s *Store) ListByStatus(ctx context.Context, st domain.Status, limit int) ([]*domain.Job, error) {
	q := `select ` + jobColumns + ` from jobs where status = $1 order by created_at asc`
	args := []any{st}
	if limit > 0 {
		q += ` limit $2`
		args = append(args, limit)
	}
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, wrap("list", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *Store) ExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	q := `select ` + jobColumns + ` from jobs
 where status = 'processing'
   and lease_expires_at is not null
   and lease_expires_at < $1
 order by lease_expires_at asc`
	args := []any{now}
	if limit > 0 {
		q += ` limit $2`
		args = append(args, limit)
	}
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, wrap("expired leases", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return wrap("ping", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		j              domain.Job
		payload        []byte
		result         []byte
		webhookURL     *string
		webhookHeaders []byte
	)
	err := row.Scan(
		&j.ID, &j.Type, &payload, &j.Priority, &j.Status, &j.AvailableAt, &j.Attempt,
		&j.RetryPolicy.MaxAttempts, &j.RetryPolicy.BackoffBaseMs, &webhookURL, &webhookHeaders,
		&j.LeaseOwner, &j.LeaseExpiresAt, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt,
		&result, &j.Error,
	)
	if err != nil {
		return nil, err
	}
	j.Payload = payload
	j.Result = result
	if webhookURL != nil {
		w := &domain.Webhook{URL: *webhookURL}
		if len(webhookHeaders) > 0 {
			if err := json.Unmarshal(webhookHeaders, &w.Headers); err != nil {
				return nil, err
			}
		}
		j.Webhook = w
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*domain.Job, error) {
	var out []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, wrap("scan", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("rows", err)
	}
	return out, nil
}
