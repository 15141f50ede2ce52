package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens the SQLite database at path and ensures required tables
// exist. The special path ":memory:" opens a process-lifetime database; a
// restart loses all queued and in-flight work.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}

	memory := path == ":memory:" || strings.HasPrefix(path, "file::memory:")
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// An in-memory database exists per connection; pin the pool to a single
	// connection so every component sees the same data.
	if memory {
		db.SetMaxOpenConns(1)
	}

	// Basic health check + apply a few safe pragmas.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS request_queue (
  id           TEXT PRIMARY KEY,
  kind         TEXT NOT NULL,
  model        TEXT NOT NULL,
  payload      JSON,
  status       TEXT NOT NULL,
  created_at   TEXT NOT NULL,
  started_at   TEXT,
  completed_at TEXT,
  last_error   TEXT
);`,
		`CREATE TABLE IF NOT EXISTS inference_results (
  request_id TEXT PRIMARY KEY,
  payload    JSON NOT NULL,
  usage      JSON,
  created_at TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS providers (
  id        TEXT PRIMARY KEY,
  models    JSON NOT NULL,
  kinds     JSON NOT NULL,
  last_seen TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS request_queue_status_created_at_idx ON request_queue(status, created_at);`,
		`CREATE INDEX IF NOT EXISTS request_queue_model_kind_status_idx ON request_queue(model, kind, status);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
