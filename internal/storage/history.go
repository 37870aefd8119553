package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/llm-bench/llm-bench/pkg/models"
)

const defaultHistoryLimit = 50

// HistoryStore persists matrix invocations and their run results
type HistoryStore struct {
	db *DB
}

// NewHistoryStore creates a new history store
func NewHistoryStore(db *DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// CreateMatrix inserts a matrix record, assigning an ID if empty
func (s *HistoryStore) CreateMatrix(ctx context.Context, m *models.MatrixRecord) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.StartedAt.IsZero() {
		m.StartedAt = time.Now().UTC()
	}
	if m.Status == "" {
		m.Status = models.MatrixStatusRunning
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matrix_runs (id, config_path, status, run_count, failed_count, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.ConfigPath, m.Status, m.RunCount, m.FailedCount, m.StartedAt, nullTimePtr(m.FinishedAt))
	if err != nil {
		if isConstraintError(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create matrix run: %w", err)
	}
	return nil
}

// FinishMatrix records the final status and counts of a matrix invocation
func (s *HistoryStore) FinishMatrix(ctx context.Context, id string, status models.MatrixStatus, runCount, failedCount int, finishedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE matrix_runs SET status = ?, run_count = ?, failed_count = ?, finished_at = ?
		WHERE id = ?
	`, status, runCount, failedCount, finishedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update matrix run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetMatrix retrieves a matrix record by ID
func (s *HistoryStore) GetMatrix(ctx context.Context, id string) (*models.MatrixRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, config_path, status, run_count, failed_count, started_at, finished_at
		FROM matrix_runs WHERE id = ?
	`, id)

	m, err := scanMatrix(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get matrix run: %w", err)
	}
	return m, nil
}

// ListMatrices returns the most recent matrix invocations first
func (s *HistoryStore) ListMatrices(ctx context.Context, limit int) ([]*models.MatrixRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, config_path, status, run_count, failed_count, started_at, finished_at
		FROM matrix_runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list matrix runs: %w", err)
	}
	defer rows.Close()

	var out []*models.MatrixRecord
	for rows.Next() {
		m, err := scanMatrix(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan matrix run: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveRunResult inserts a run result, assigning an ID if empty
func (s *HistoryStore) SaveRunResult(ctx context.Context, r *models.RunResult) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}

	configJSON, err := json.Marshal(r.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal run config: %w", err)
	}

	var (
		summaryJSON           sql.NullString
		promptCount, errCount int
		meanScore, p50, p99   sql.NullFloat64
	)
	if r.Summary != nil {
		data, err := json.Marshal(r.Summary)
		if err != nil {
			return fmt.Errorf("failed to marshal run summary: %w", err)
		}
		summaryJSON = sql.NullString{String: string(data), Valid: true}
		promptCount = r.Summary.PromptCount
		errCount = r.Summary.ErrorCount
		meanScore = nullFloat(r.Summary.MeanScore)
		p50 = nullFloat(r.Summary.P50LatencyS)
		p99 = nullFloat(r.Summary.P99LatencyS)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_results (
			id, matrix_id, run_name, status, error,
			prompt_count, error_count, mean_score, p50_latency_s, p99_latency_s,
			config_json, summary_json, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.MatrixID, r.RunName, r.Status, nullString(r.Error),
		promptCount, errCount, meanScore, p50, p99,
		string(configJSON), summaryJSON, r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		if isConstraintError(err) && strings.Contains(err.Error(), "UNIQUE") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to save run result: %w", err)
	}
	return nil
}

// GetRunResult retrieves a run result by ID
func (s *HistoryStore) GetRunResult(ctx context.Context, id string) (*models.RunResult, error) {
	row := s.db.QueryRowContext(ctx, selectRunResults+" WHERE id = ?", id)

	r, err := scanRunResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run result: %w", err)
	}
	return r, nil
}

// ListRunResults returns run results matching q, most recent first
func (s *HistoryStore) ListRunResults(ctx context.Context, q models.HistoryQuery) ([]*models.RunResult, error) {
	query := selectRunResults + " WHERE 1=1"
	var args []interface{}

	if q.MatrixID != "" {
		query += " AND matrix_id = ?"
		args = append(args, q.MatrixID)
	}
	if q.RunName != "" {
		query += " AND run_name = ?"
		args = append(args, q.RunName)
	}
	if q.Status != "" {
		query += " AND status = ?"
		args = append(args, q.Status)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	query += " ORDER BY finished_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list run results: %w", err)
	}
	defer rows.Close()

	var out []*models.RunResult
	for rows.Next() {
		r, err := scanRunResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const selectRunResults = `
	SELECT id, matrix_id, run_name, status, error, config_json, summary_json, started_at, finished_at
	FROM run_results`

type scanner interface {
	Scan(dest ...any) error
}

func scanMatrix(row scanner) (*models.MatrixRecord, error) {
	m := &models.MatrixRecord{}
	var finishedAt sql.NullTime
	if err := row.Scan(&m.ID, &m.ConfigPath, &m.Status, &m.RunCount, &m.FailedCount, &m.StartedAt, &finishedAt); err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		m.FinishedAt = &t
	}
	return m, nil
}

func scanRunResult(row scanner) (*models.RunResult, error) {
	r := &models.RunResult{}
	var errorStr, summaryJSON sql.NullString
	var configJSON string

	if err := row.Scan(&r.ID, &r.MatrixID, &r.RunName, &r.Status, &errorStr, &configJSON, &summaryJSON, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, err
	}

	r.Error = errorStr.String
	if err := json.Unmarshal([]byte(configJSON), &r.Config); err != nil {
		return nil, fmt.Errorf("failed to decode run config: %w", err)
	}
	if summaryJSON.Valid {
		var summary models.RunSummary
		if err := json.Unmarshal([]byte(summaryJSON.String), &summary); err != nil {
			return nil, fmt.Errorf("failed to decode run summary: %w", err)
		}
		r.Summary = &summary
	}
	return r, nil
}

func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
