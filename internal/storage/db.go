package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// WAL lets the status API read while the orchestrator writes
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't handle concurrent writes well
	db.SetMaxIdleConns(1)

	return &DB{db}, nil
}

// Open creates the database at dbPath and applies migrations
func Open(ctx context.Context, dbPath string) (*DB, error) {
	db, err := New(dbPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate runs database migrations
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationMatrixRuns,
		migrationRunResults,
		migrationIndexes,
	}

	for i, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

const migrationMatrixRuns = `
CREATE TABLE IF NOT EXISTS matrix_runs (
	id TEXT PRIMARY KEY,
	config_path TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'running',
	run_count INTEGER NOT NULL DEFAULT 0,
	failed_count INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	finished_at DATETIME
);
`

const migrationRunResults = `
CREATE TABLE IF NOT EXISTS run_results (
	id TEXT PRIMARY KEY,
	matrix_id TEXT NOT NULL,
	run_name TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT,

	-- Denormalised for filtering and sorting
	prompt_count INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	mean_score REAL,
	p50_latency_s REAL,
	p99_latency_s REAL,

	config_json TEXT NOT NULL,
	summary_json TEXT,

	started_at DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,

	FOREIGN KEY (matrix_id) REFERENCES matrix_runs(id)
);
`

const migrationIndexes = `
CREATE INDEX IF NOT EXISTS idx_run_results_matrix_id ON run_results(matrix_id);
CREATE INDEX IF NOT EXISTS idx_run_results_run_name ON run_results(run_name);
CREATE INDEX IF NOT EXISTS idx_run_results_finished_at ON run_results(finished_at);
CREATE INDEX IF NOT EXISTS idx_matrix_runs_started_at ON matrix_runs(started_at);
`
