// Package ledger records finished runs in PostgreSQL.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"applet-tester/internal/domain/model"
	"applet-tester/internal/domain/repository"
	"applet-tester/pkg/log"
)

const schema = `CREATE TABLE IF NOT EXISTS test_runs (
	tag          TEXT PRIMARY KEY,
	applet_root  TEXT NOT NULL,
	applet_name  TEXT NOT NULL,
	backend      TEXT NOT NULL,
	applet_id    TEXT,
	job_id       TEXT,
	job_state    TEXT,
	status       TEXT NOT NULL,
	success      BOOLEAN NOT NULL,
	passed       INTEGER NOT NULL,
	failed       INTEGER NOT NULL,
	errors       INTEGER NOT NULL,
	skipped      INTEGER NOT NULL,
	summary_line TEXT,
	log_path     TEXT,
	error        TEXT,
	started_at   TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ
)`

const insertRun = `INSERT INTO test_runs (
	tag, applet_root, applet_name, backend, applet_id, job_id, job_state, status, success,
	passed, failed, errors, skipped, summary_line, log_path, error, started_at, finished_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
ON CONFLICT (tag) DO NOTHING`

// Config holds the database settings
type Config struct {
	URL             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Ledger stores one row per run
type Ledger struct {
	db   *sql.DB
	exec execer
}

// Ensure Ledger implements repository.RunLedger
var _ repository.RunLedger = (*Ledger)(nil)

// Open connects to the database and creates the runs table if needed.
func Open(ctx context.Context, cfg Config) (*Ledger, error) {
	if cfg.URL == "" {
		return nil, errors.New("ledger database url is required")
	}
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 2
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach ledger database: %w", err)
	}

	l := &Ledger{db: db, exec: db}
	if err := l.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) migrate(ctx context.Context) error {
	if _, err := l.exec.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create test_runs table: %w", err)
	}
	return nil
}

// Record inserts the run. A run already recorded under the same tag is left
// untouched.
func (l *Ledger) Record(ctx context.Context, result *model.RunResult) error {
	if _, err := l.exec.ExecContext(ctx, insertRun, recordArgs(result)...); err != nil {
		return fmt.Errorf("failed to record run %s: %w", result.Identity.Tag(), err)
	}
	log.Debug("Recorded run", "tag", result.Identity.Tag())
	return nil
}

// Close releases the database connections.
func (l *Ledger) Close() {
	if l.db != nil {
		if err := l.db.Close(); err != nil {
			log.Warn("Failed to close ledger database", "error", err)
		}
	}
}

func recordArgs(r *model.RunResult) []any {
	var errText, finished any
	if r.Err != nil {
		errText = r.Err.Error()
	}
	if !r.FinishedAt.IsZero() {
		finished = r.FinishedAt.UTC()
	}
	return []any{
		r.Identity.Tag(),
		r.Identity.Root,
		r.Identity.AppletName(),
		r.Backend,
		nullable(r.AppletID),
		nullable(r.JobID),
		nullable(string(r.JobState)),
		r.Status.String(),
		r.Success(),
		r.Summary.Passed,
		r.Summary.Failed,
		r.Summary.Errors,
		r.Summary.Skipped,
		nullable(r.Summary.Line),
		nullable(r.LogPath),
		errText,
		r.StartedAt.UTC(),
		finished,
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
