package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"inferd/internal/common/fsutil"
	"inferd/pkg/types"

	_ "modernc.org/sqlite"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
    id          TEXT PRIMARY KEY,
    model       TEXT NOT NULL,
    status      TEXT NOT NULL,
    item_count  INTEGER NOT NULL,
    completed   INTEGER NOT NULL DEFAULT 0,
    error       TEXT,
    duration_ms INTEGER,
    created_at  INTEGER NOT NULL,
    finished_at INTEGER
)`

// ErrNotFound is returned when a job is not found.
var ErrNotFound = errors.New("job not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := fsutil.EnsureDir(dbPath); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createJobsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create jobs table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateJob inserts a new job record.
func (s *SQLiteStore) CreateJob(ctx context.Context, rec types.JobRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (
			id, model, status, item_count, completed, error,
			duration_ms, created_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Model, rec.Status, rec.ItemCount, rec.Completed, rec.Error,
		rec.DurationMS, rec.CreatedAt, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// FinishJob records the final outcome of a job.
func (s *SQLiteStore) FinishJob(ctx context.Context, id, status string, completed int, errMsg string, durationMS, finishedAt int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, completed = ?, error = ?, duration_ms = ?, finished_at = ?
		WHERE id = ?`,
		status, completed, errMsg, durationMS, finishedAt, id,
	)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish job rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (types.JobRecord, error) {
	var rec types.JobRecord
	var errMsg sql.NullString
	var durMS, finishedAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, model, status, item_count, completed, error, duration_ms, created_at, finished_at
		FROM jobs WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Model, &rec.Status, &rec.ItemCount, &rec.Completed, &errMsg, &durMS, &rec.CreatedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.JobRecord{}, ErrNotFound
	}
	if err != nil {
		return types.JobRecord{}, fmt.Errorf("get job: %w", err)
	}
	rec.Error = errMsg.String
	rec.DurationMS = durMS.Int64
	rec.FinishedAt = finishedAt.Int64
	return rec, nil
}

// ListJobs returns a paginated list of jobs ordered by created_at DESC,
// along with the total count of all jobs.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit, offset int) ([]types.JobRecord, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, model, status, item_count, completed, error, duration_ms, created_at, finished_at
		FROM jobs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []types.JobRecord
	for rows.Next() {
		var rec types.JobRecord
		var errMsg sql.NullString
		var durMS, finishedAt sql.NullInt64
		if err := rows.Scan(&rec.ID, &rec.Model, &rec.Status, &rec.ItemCount, &rec.Completed, &errMsg, &durMS, &rec.CreatedAt, &finishedAt); err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		rec.Error = errMsg.String
		rec.DurationMS = durMS.Int64
		rec.FinishedAt = finishedAt.Int64
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, total, nil
}
