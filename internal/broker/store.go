package broker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RequestStore owns every in-flight request. All transitions go through the
// conditional updates below; nothing else mutates request_queue.
type RequestStore struct {
	db *sql.DB
}

func NewRequestStore(db *sql.DB) *RequestStore {
	return &RequestStore{db: db}
}

// Enqueue creates a request in pending state with a fresh id.
func (s *RequestStore) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if req.Kind == "" {
		return "", fmt.Errorf("kind is empty")
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var payload any
	if len(req.Payload) > 0 {
		payload = string(req.Payload)
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO request_queue(id, kind, model, payload, status, created_at)
VALUES(?, ?, ?, ?, ?, ?);
`, id, req.Kind, req.Model, payload, StatusPending, now)
	if err != nil {
		return "", fmt.Errorf("enqueue request: %w", err)
	}
	return id, nil
}

// Claim transitions pending->processing and records the start timestamp.
// Exactly one concurrent claimant can win; losers get (false, nil).
func (s *RequestStore) Claim(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(ctx, `
UPDATE request_queue
SET status = ?, started_at = ?
WHERE id = ? AND status = ?;
`, StatusProcessing, now, id, StatusPending)
	if err != nil {
		return false, fmt.Errorf("claim request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim request: %w", err)
	}
	return n == 1, nil
}

// Complete transitions processing->completed and publishes the result in the
// same transaction, so a waiter observing "completed" always finds the result.
func (s *RequestStore) Complete(ctx context.Context, id string, payload, usage []byte) error {
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
UPDATE request_queue
SET status = ?, completed_at = ?
WHERE id = ? AND status = ?;
`, StatusCompleted, now, id, StatusProcessing)
	if err != nil {
		return fmt.Errorf("complete request: %w", err)
	}
	if err := requireTransitioned(ctx, tx, res, id); err != nil {
		return err
	}

	var usageVal any
	if len(usage) > 0 {
		usageVal = string(usage)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO inference_results(request_id, payload, usage, created_at)
VALUES(?, ?, ?, ?);
`, id, string(payload), usageVal, now); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Fail transitions to failed. Pending is a valid source state: a request can
// be rejected before any provider claims it.
func (s *RequestStore) Fail(ctx context.Context, id, errorMessage string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(ctx, `
UPDATE request_queue
SET status = ?, completed_at = ?, last_error = ?
WHERE id = ? AND status IN (?, ?);
`, StatusFailed, now, errorMessage, id, StatusPending, StatusProcessing)
	if err != nil {
		return fmt.Errorf("fail request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("fail request: %w", err)
	}
	if n == 1 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM request_queue WHERE id = ?;`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load request state: %w", err)
	}
	return fmt.Errorf("request %s is %s: %w", id, status, ErrInvalidState)
}

// Get returns the request or ErrNotFound.
func (s *RequestStore) Get(ctx context.Context, id string) (*Request, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, kind, model, payload, status, created_at, started_at, completed_at, last_error
FROM request_queue
WHERE id = ?;
`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return req, nil
}

// Remove deletes the entry. Idempotent.
func (s *RequestStore) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM request_queue WHERE id = ?;`, id); err != nil {
		return fmt.Errorf("remove request: %w", err)
	}
	return nil
}

// Snapshot returns a consistent point-in-time view of every request,
// oldest-first. Used by the matcher and stats.
func (s *RequestStore) Snapshot(ctx context.Context) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, kind, model, payload, status, created_at, started_at, completed_at, last_error
FROM request_queue
ORDER BY created_at ASC, id ASC;
`)
	if err != nil {
		return nil, fmt.Errorf("snapshot requests: %w", err)
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("snapshot requests: %w", err)
		}
		out = append(out, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshot requests: %w", err)
	}
	return out, nil
}

// CountByStatus returns request counts keyed by status.
func (s *RequestStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM request_queue GROUP BY status;`)
	if err != nil {
		return nil, fmt.Errorf("count requests: %w", err)
	}
	defer rows.Close()

	out := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("count requests: %w", err)
		}
		out[Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count requests: %w", err)
	}
	return out, nil
}

// Depth returns the number of pending requests.
func (s *RequestStore) Depth(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM request_queue WHERE status = ?;`, StatusPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

// AbandonStale fails pending requests created before cutoff and returns their
// ids. This is the cleanup for requests orphaned by timed-out or cancelled
// synchronous waits.
func (s *RequestStore) AbandonStale(ctx context.Context, cutoff time.Time, errorMessage string) ([]string, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	rows, err := s.db.QueryContext(ctx, `
UPDATE request_queue
SET status = ?, completed_at = ?, last_error = ?
WHERE status = ? AND created_at < ?
RETURNING id;
`, StatusFailed, now, errorMessage, StatusPending, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("abandon stale requests: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("abandon stale requests: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("abandon stale requests: %w", err)
	}
	return ids, nil
}

// PurgeTerminal deletes completed/failed requests that finished before cutoff,
// along with any uncollected results.
func (s *RequestStore) PurgeTerminal(ctx context.Context, cutoff time.Time) (int, error) {
	cutoffS := cutoff.UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
DELETE FROM inference_results
WHERE request_id IN (
  SELECT id FROM request_queue
  WHERE status IN (?, ?) AND completed_at < ?
);
`, StatusCompleted, StatusFailed, cutoffS); err != nil {
		return 0, fmt.Errorf("purge results: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
DELETE FROM request_queue
WHERE status IN (?, ?) AND completed_at < ?;
`, StatusCompleted, StatusFailed, cutoffS)
	if err != nil {
		return 0, fmt.Errorf("purge requests: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge requests: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return int(n), nil
}

// requireTransitioned distinguishes ErrNotFound from ErrInvalidState after a
// conditional transition updated zero rows.
func requireTransitioned(ctx context.Context, tx *sql.Tx, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM request_queue WHERE id = ?;`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load request state: %w", err)
	}
	return fmt.Errorf("request %s is %s: %w", id, status, ErrInvalidState)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*Request, error) {
	var (
		r          Request
		payload    sql.NullString
		statusS    string
		createdS   string
		startedS   sql.NullString
		completedS sql.NullString
		lastError  sql.NullString
	)
	err := row.Scan(&r.ID, &r.Kind, &r.Model, &payload, &statusS, &createdS, &startedS, &completedS, &lastError)
	if err != nil {
		return nil, err
	}

	r.Status = Status(statusS)
	if payload.Valid {
		r.Payload = []byte(payload.String)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdS); err == nil {
		r.CreatedAt = t
	}
	if startedS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, startedS.String); err == nil {
			r.StartedAt = &t
		}
	}
	if completedS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedS.String); err == nil {
			r.CompletedAt = &t
		}
	}
	if lastError.Valid {
		r.LastError = &lastError.String
	}
	return &r, nil
}
