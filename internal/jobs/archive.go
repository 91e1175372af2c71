package jobs

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/httpfs"

	// Registers the sqlite3 driver with database/sql.
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteArchive keeps snapshots of finished jobs in a SQLite database.
type SQLiteArchive struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLiteArchive opens (creating if needed) the database at path and
// applies the archive migrations.
func OpenSQLiteArchive(path string, logger *slog.Logger) (*SQLiteArchive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to archive database: %w", err)
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Debug("Job archive ready", "path", path)
	return &SQLiteArchive{db: db, logger: logger}, nil
}

func runMigrations(db *sql.DB) error {
	source, err := httpfs.New(http.FS(migrationsFS), "migrations")
	if err != nil {
		return fmt.Errorf("could not create migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("could not create sqlite3 migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("httpfs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply archive migrations: %w", err)
	}
	return nil
}

// Save stores or replaces the snapshot of job.
func (a *SQLiteArchive) Save(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO job_archive (id, status, total, success_count, failure_count, snapshot, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			success_count = excluded.success_count,
			failure_count = excluded.failure_count,
			snapshot = excluded.snapshot,
			finished_at = excluded.finished_at,
			archived_at = CURRENT_TIMESTAMP`,
		job.ID, string(job.Status), job.Total, job.SuccessCount, job.FailureCount,
		string(data), job.CreatedAt, job.FinishedAt)
	if err != nil {
		return fmt.Errorf("archive job %s: %w", job.ID, err)
	}
	return nil
}

// Load returns the archived snapshot or ErrNotFound.
func (a *SQLiteArchive) Load(ctx context.Context, id string) (Job, error) {
	var data string
	err := a.db.QueryRowContext(ctx, `SELECT snapshot FROM job_archive WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("load archived job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return Job{}, fmt.Errorf("decode archived job %s: %w", id, err)
	}
	return job, nil
}

// Delete removes an archived snapshot. Unknown ids yield ErrNotFound.
func (a *SQLiteArchive) Delete(ctx context.Context, id string) error {
	res, err := a.db.ExecContext(ctx, `DELETE FROM job_archive WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete archived job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of archived jobs.
func (a *SQLiteArchive) Count(ctx context.Context) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_archive`).Scan(&n)
	return n, err
}

// Close closes the database.
func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}
