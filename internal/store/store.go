// Package store provides optional PostgreSQL persistence for batches, runs,
// and behavior test results. The engine itself is memory-only; the store
// exists so the consuming layer can survive process restarts. A nil *Store
// is valid and turns every method into a no-op.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/probelab/agentsim/internal/types"
)

// Store wraps a PostgreSQL connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool and verifies it.
func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// SaveBatch upserts a batch record with its current derived status.
func (s *Store) SaveBatch(ctx context.Context, batch types.Batch) error {
	if s == nil {
		return nil
	}
	cfg, err := json.Marshal(batch.Config)
	if err != nil {
		return fmt.Errorf("marshal batch config: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO batches (id, name, config, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET status = $4`,
		batch.ID, batch.Name, cfg, string(batch.Status), batch.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save batch: %w", err)
	}
	return nil
}

// SaveRun upserts one simulation run with its transcript.
func (s *Store) SaveRun(ctx context.Context, run types.SimulationRun) error {
	if s == nil {
		return nil
	}
	transcript, err := json.Marshal(run.Transcript)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO simulation_runs (id, batch_id, persona_id, transcript, status, error, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET transcript = $4, status = $5, error = $6, finished_at = $8`,
		run.ID, run.BatchID, run.PersonaID, transcript, string(run.Status), run.Error, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// SaveResult stores one behavior test result under a test name.
func (s *Store) SaveResult(ctx context.Context, testName string, result types.BehaviorTestResult) error {
	if s == nil {
		return nil
	}
	persona, err := json.Marshal(result.Persona)
	if err != nil {
		return fmt.Errorf("marshal persona: %w", err)
	}
	conversation, err := json.Marshal(result.Conversation)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO behavior_test_results (id, test_name, persona_id, persona, conversation, score, passed, rationale, scored_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		result.ID, testName, result.PersonaID, persona, conversation, result.Score, result.Passed, result.Rationale, result.ScoredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

// ListResults returns every stored result for a test, newest first.
func (s *Store) ListResults(ctx context.Context, testName string) ([]types.BehaviorTestResult, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, persona_id, persona, conversation, score, passed, rationale, scored_at
		 FROM behavior_test_results
		 WHERE test_name = $1
		 ORDER BY scored_at DESC`,
		testName,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var results []types.BehaviorTestResult
	for rows.Next() {
		var r types.BehaviorTestResult
		var persona, conversation []byte
		if err := rows.Scan(&r.ID, &r.PersonaID, &persona, &conversation, &r.Score, &r.Passed, &r.Rationale, &r.ScoredAt); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if err := json.Unmarshal(persona, &r.Persona); err != nil {
			return nil, fmt.Errorf("failed to decode persona: %w", err)
		}
		if err := json.Unmarshal(conversation, &r.Conversation); err != nil {
			return nil, fmt.Errorf("failed to decode conversation: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// SaveReportRuns persists a finished batch with all of its runs.
func (s *Store) SaveReportRuns(ctx context.Context, batch types.Batch, runs []types.SimulationRun) error {
	if s == nil {
		return nil
	}
	if err := s.SaveBatch(ctx, batch); err != nil {
		return err
	}
	for _, run := range runs {
		if err := s.SaveRun(ctx, run); err != nil {
			return err
		}
	}
	return nil
}
