package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var baseSchema string

// migrations[i] moves a database from user_version i to i+1.
var migrations = []string{
	baseSchema,
	`CREATE INDEX idx_reanalysis_jobs_heartbeat ON reanalysis_jobs(status, last_heartbeat);`,
	reusableJobKeys,
}

// reusableJobKeys drops the table-level UNIQUE on idempotency keys. A key
// only guards a job while it is active or its candidate is still pending.
const reusableJobKeys = `
CREATE TABLE reanalysis_jobs_next (
    job_id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    idempotency_key TEXT NOT NULL,
    status TEXT NOT NULL,
    step TEXT,
    progress INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    error_kind TEXT,
    can_retry INTEGER NOT NULL DEFAULT 0,
    candidate_version_id INTEGER REFERENCES script_versions(id) ON DELETE SET NULL,
    scenes_json TEXT NOT NULL,
    full_script TEXT,
    retry_of TEXT,
    attempt INTEGER NOT NULL DEFAULT 1,
    last_heartbeat TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    started_at TEXT,
    completed_at TEXT
);
INSERT INTO reanalysis_jobs_next (
    job_id, project_id, idempotency_key, status, step, progress, error_message,
    error_kind, can_retry, candidate_version_id, scenes_json, full_script,
    retry_of, attempt, last_heartbeat, created_at, updated_at, started_at, completed_at
) SELECT
    job_id, project_id, idempotency_key, status, step, progress, error_message,
    error_kind, can_retry, candidate_version_id, scenes_json, full_script,
    retry_of, attempt, last_heartbeat, created_at, updated_at, started_at, completed_at
FROM reanalysis_jobs;
DROP TABLE reanalysis_jobs;
ALTER TABLE reanalysis_jobs_next RENAME TO reanalysis_jobs;
CREATE UNIQUE INDEX idx_reanalysis_jobs_one_active
    ON reanalysis_jobs(project_id) WHERE status IN ('queued', 'running');
CREATE INDEX idx_reanalysis_jobs_status ON reanalysis_jobs(status);
CREATE INDEX idx_reanalysis_jobs_heartbeat ON reanalysis_jobs(status, last_heartbeat);
CREATE INDEX idx_reanalysis_jobs_key ON reanalysis_jobs(project_id, idempotency_key);
`

// ErrSchemaMismatch means the database was written by a newer reelforge.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// SchemaVersion reports the database's applied migration count.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return version, nil
}

// migrate applies pending migrations, each in its own transaction together
// with the user_version bump.
func (s *Store) migrate(ctx context.Context) error {
	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if current > len(migrations) {
		return fmt.Errorf("%w: database is at version %d, this build knows %d",
			ErrSchemaMismatch, current, len(migrations))
	}
	for v := current; v < len(migrations); v++ {
		if err := s.applyMigration(ctx, v+1, migrations[v]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, target int, stmt string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %d: begin: %w", target, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("migration %d: %w", target, err)
	}
	// PRAGMA does not take bind parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", target)); err != nil {
		return fmt.Errorf("migration %d: set user_version: %w", target, err)
	}
	return tx.Commit()
}
