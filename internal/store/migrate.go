package store

import (
	"context"
	"fmt"
)

// ddl creates the tables the store writes to. Idempotent.
var ddl = []string{
	`CREATE TABLE IF NOT EXISTS batches (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		config     JSONB NOT NULL,
		status     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS simulation_runs (
		id          TEXT PRIMARY KEY,
		batch_id    TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
		persona_id  TEXT NOT NULL,
		transcript  JSONB NOT NULL,
		status      TEXT NOT NULL,
		error       TEXT NOT NULL DEFAULT '',
		started_at  TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS behavior_test_results (
		id           TEXT PRIMARY KEY,
		test_name    TEXT NOT NULL,
		persona_id   TEXT NOT NULL,
		persona      JSONB NOT NULL,
		conversation JSONB NOT NULL,
		score        DOUBLE PRECISION NOT NULL,
		passed       BOOLEAN NOT NULL,
		rationale    TEXT NOT NULL,
		scored_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_results_test_name ON behavior_test_results(test_name)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_batch_id ON simulation_runs(batch_id)`,
}

// Migrate applies the store schema.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil {
		return nil
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
