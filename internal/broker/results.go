package broker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ResultStore holds produced results keyed by request id until a single
// consumer collects them.
type ResultStore struct {
	db *sql.DB
}

func NewResultStore(db *sql.DB) *ResultStore {
	return &ResultStore{db: db}
}

// Get returns the stored result without consuming it, or ErrNotFound.
func (s *ResultStore) Get(ctx context.Context, requestID string) (*Result, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT request_id, payload, usage
FROM inference_results
WHERE request_id = ?;
`, requestID)
	return scanResult(row, requestID)
}

// TakeAndDelete atomically removes and returns the result. At most one caller
// can win; the rest get ErrNotFound.
func (s *ResultStore) TakeAndDelete(ctx context.Context, requestID string) (*Result, error) {
	row := s.db.QueryRowContext(ctx, `
DELETE FROM inference_results
WHERE request_id = ?
RETURNING request_id, payload, usage;
`, requestID)
	return scanResult(row, requestID)
}

func scanResult(row *sql.Row, requestID string) (*Result, error) {
	var (
		r       Result
		payload string
		usage   sql.NullString
	)
	err := row.Scan(&r.RequestID, &payload, &usage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load result %s: %w", requestID, err)
	}
	r.Payload = []byte(payload)
	if usage.Valid {
		r.Usage = []byte(usage.String)
	}
	return &r, nil
}
