// Package archive keeps a sqlite audit log of finished send jobs. The live
// job state stays in memory; this is an append-only record for after-the-fact
// review, swept by a retention prune.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"dmblast/internal/model"
	logx "dmblast/pkg/logx"
)

type Config struct {
	Path        string
	BusyTimeout time.Duration
	// Retention is how long finished jobs are kept. Zero keeps them forever.
	Retention time.Duration
}

type Store struct {
	db        *sql.DB
	retention time.Duration
	log       logx.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id        TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	total_users   INTEGER NOT NULL,
	sent_count    INTEGER NOT NULL,
	failed_count  INTEGER NOT NULL,
	started_at    TEXT,
	completed_at  TEXT,
	recorded_at   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS job_errors (
	job_id         TEXT NOT NULL,
	user_id        TEXT NOT NULL,
	user_name      TEXT,
	error          TEXT,
	error_code     TEXT,
	detailed_error TEXT,
	FOREIGN KEY(job_id) REFERENCES jobs(job_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_job_errors_job_id ON job_errors(job_id);
`

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("archive path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, retention: cfg.Retention, log: log}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record stores one finished job with its per-user failures.
func (s *Store) Record(ctx context.Context, snap model.JobSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO jobs(job_id, status, total_users, sent_count, failed_count, started_at, completed_at, recorded_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(job_id) DO UPDATE SET
		   status=excluded.status, sent_count=excluded.sent_count,
		   failed_count=excluded.failed_count, completed_at=excluded.completed_at`,
		snap.JobID, snap.Status, snap.TotalUsers, snap.SentCount, snap.FailedCount,
		nullTime(snap.StartedAt), nullTime(snap.CompletedAt), time.Now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM job_errors WHERE job_id = ?`, snap.JobID); err != nil {
		return err
	}
	for _, e := range snap.Errors {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO job_errors(job_id, user_id, user_name, error, error_code, detailed_error)
			 VALUES(?,?,?,?,?,?)`,
			snap.JobID, e.UserID, nullStr(e.UserName), nullStr(e.Error), nullStr(e.ErrorCode), nullStr(e.DetailedError),
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Job fetches one archived job, errors included.
func (s *Store) Job(ctx context.Context, jobID string) (*model.JobSnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, status, total_users, sent_count, failed_count, started_at, completed_at
		 FROM jobs WHERE job_id = ?`, jobID)

	snap, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, COALESCE(user_name,''), COALESCE(error,''), COALESCE(error_code,''), COALESCE(detailed_error,'')
		 FROM job_errors WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var e model.ErrorEntry
		if err := rows.Scan(&e.UserID, &e.UserName, &e.Error, &e.ErrorCode, &e.DetailedError); err != nil {
			return nil, err
		}
		snap.Errors = append(snap.Errors, e)
	}
	return snap, rows.Err()
}

// Recent lists the newest archived jobs, without per-user errors.
func (s *Store) Recent(ctx context.Context, limit int) ([]model.JobSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, status, total_users, sent_count, failed_count, started_at, completed_at
		 FROM jobs ORDER BY recorded_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.JobSnapshot
	for rows.Next() {
		snap, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

// Prune deletes archived jobs older than the retention window. A zero
// retention disables pruning.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-s.retention).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE recorded_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Info("archive pruned", logx.Int64("jobs", n))
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.JobSnapshot, error) {
	var snap model.JobSnapshot
	var started, completed sql.NullString
	if err := row.Scan(&snap.JobID, &snap.Status, &snap.TotalUsers, &snap.SentCount, &snap.FailedCount, &started, &completed); err != nil {
		return nil, err
	}
	snap.StartedAt = parseTime(started)
	snap.CompletedAt = parseTime(completed)
	return &snap, nil
}

func parseTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
