// Package orchestration owns batches of simulation runs: it fans runs out to
// a bounded worker pool, tracks their lifecycle, and serves idempotent
// snapshot reads for a disconnect-prone polling consumer.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/probelab/agentsim/internal/simulation"
	"github.com/probelab/agentsim/internal/types"
)

// DefaultParallelism bounds concurrent runs per batch when the batch config
// does not set one. The underlying calls are outbound LLM requests, so the
// pool stays small.
const DefaultParallelism = 4

// ConversationRunner runs one simulated conversation. *simulation.Simulator
// satisfies it; tests substitute their own.
type ConversationRunner interface {
	RunConversation(ctx context.Context, persona types.Persona, agent simulation.AgentResponder, opts simulation.LoopOptions) ([]types.ConversationTurn, error)
}

// batchState is the orchestrator's mutable record of one batch. Runs are
// mutated only by the worker owning each run; every access to the maps and
// the run structs goes through the orchestrator mutex.
type batchState struct {
	batch    types.Batch
	runs     map[string]*types.SimulationRun
	runOrder []string
	cancel   context.CancelFunc
}

// Orchestrator schedules and tracks batches of simulation runs.
type Orchestrator struct {
	runner ConversationRunner
	agent  simulation.AgentResponder

	mu      sync.RWMutex
	batches map[string]*batchState
	order   []string

	workers sync.WaitGroup
}

// NewOrchestrator creates an orchestrator that drives conversations with the
// given runner against the given agent under test.
func NewOrchestrator(runner ConversationRunner, agent simulation.AgentResponder) *Orchestrator {
	return &Orchestrator{
		runner:  runner,
		agent:   agent,
		batches: make(map[string]*batchState),
	}
}

// CreateBatch allocates a batch, constructs one running SimulationRun per
// persona, and launches the turn loops as bounded concurrent work. It
// returns immediately with the batch and the initial run snapshots; callers
// poll for completion.
func (o *Orchestrator) CreateBatch(config types.BatchConfig, personaList []types.Persona) (types.Batch, []types.SimulationRun) {
	batchID := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())

	state := &batchState{
		batch: types.Batch{
			ID:        batchID,
			Name:      config.Name,
			Config:    config,
			CreatedAt: time.Now(),
		},
		runs:   make(map[string]*types.SimulationRun, len(personaList)),
		cancel: cancel,
	}

	now := time.Now()
	for _, p := range personaList {
		run := &types.SimulationRun{
			ID:        uuid.New().String(),
			BatchID:   batchID,
			PersonaID: p.ID,
			Status:    types.RunRunning,
			StartedAt: now,
		}
		state.runs[run.ID] = run
		state.runOrder = append(state.runOrder, run.ID)
		state.batch.RunIDs = append(state.batch.RunIDs, run.ID)
	}

	o.mu.Lock()
	o.batches[batchID] = state
	o.order = append(o.order, batchID)
	o.mu.Unlock()

	parallelism := config.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}

	o.workers.Add(1)
	go func() {
		defer o.workers.Done()
		defer cancel()

		g, runCtx := errgroup.WithContext(ctx)
		g.SetLimit(parallelism)
		for i, p := range personaList {
			runID := state.runOrder[i]
			persona := p
			g.Go(func() error {
				o.executeRun(runCtx, batchID, runID, persona, config.MaxTurns)
				// Run failures are recorded on the run, never propagated:
				// sibling runs in the batch must not be aborted.
				return nil
			})
		}
		g.Wait() //nolint:errcheck // workers never return errors
	}()

	return o.snapshotBatch(batchID), o.snapshotRuns(batchID)
}

// executeRun drives one conversation and records the terminal state. The
// worker is the run's only writer; turns reach pollers through the OnTurn
// callback under the orchestrator lock.
func (o *Orchestrator) executeRun(ctx context.Context, batchID, runID string, persona types.Persona, maxTurns int) {
	_, err := o.runner.RunConversation(ctx, persona, o.agent, simulation.LoopOptions{
		MaxTurns: maxTurns,
		OnTurn: func(turn types.ConversationTurn) {
			o.appendTurn(batchID, runID, turn)
		},
	})

	o.mu.Lock()
	defer o.mu.Unlock()

	state, ok := o.batches[batchID]
	if !ok {
		// Batch deleted mid-flight; DeleteBatch already recorded the
		// cancellation on its way out.
		return
	}
	run, ok := state.runs[runID]
	if !ok {
		return
	}

	finished := time.Now()
	run.FinishedAt = &finished
	switch {
	case err == nil:
		run.Status = types.RunCompleted
	case errors.Is(err, context.Canceled):
		run.Status = types.RunFailed
		run.Error = (&RunCancelledError{RunID: runID, BatchID: batchID}).Error()
	default:
		run.Status = types.RunFailed
		run.Error = err.Error()
	}
}

// appendTurn publishes one transcript turn to the polling path.
func (o *Orchestrator) appendTurn(batchID, runID string, turn types.ConversationTurn) {
	o.mu.Lock()
	defer o.mu.Unlock()

	state, ok := o.batches[batchID]
	if !ok {
		return
	}
	if run, ok := state.runs[runID]; ok {
		run.Transcript = append(run.Transcript, turn)
	}
}

// PollBatches returns a snapshot of every batch in creation order, with each
// batch's status derived from its runs. Side-effect free and safe to call
// repeatedly.
func (o *Orchestrator) PollBatches() []types.Batch {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]types.Batch, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.snapshotBatchLocked(o.batches[id]))
	}
	return out
}

// PollRuns returns a snapshot of the runs owned by one batch, in creation
// order. Returns ErrBatchNotFound for unknown or deleted batches.
func (o *Orchestrator) PollRuns(batchID string) ([]types.SimulationRun, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	state, ok := o.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("poll runs for %q: %w", batchID, ErrBatchNotFound)
	}

	out := make([]types.SimulationRun, 0, len(state.runOrder))
	for _, runID := range state.runOrder {
		out = append(out, state.runs[runID].Clone())
	}
	return out, nil
}

// DeleteBatch cancels the batch's in-flight runs and removes the batch and
// all owned runs from subsequent polls. In-flight runs observe the
// cancellation through their context instead of writing into a deleted batch.
func (o *Orchestrator) DeleteBatch(batchID string) error {
	o.mu.Lock()
	state, ok := o.batches[batchID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("delete batch %q: %w", batchID, ErrBatchNotFound)
	}

	// Record the cancellation on still-running runs so anyone holding an
	// earlier snapshot can reconcile terminal states.
	for _, runID := range state.runOrder {
		run := state.runs[runID]
		if !run.Status.Terminal() {
			finished := time.Now()
			run.Status = types.RunFailed
			run.Error = (&RunCancelledError{RunID: runID, BatchID: batchID}).Error()
			run.FinishedAt = &finished
		}
	}

	delete(o.batches, batchID)
	for i, id := range o.order {
		if id == batchID {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	o.mu.Unlock()

	state.cancel()
	return nil
}

// Wait blocks until every launched batch worker has finished. Used by tests
// and by graceful shutdown.
func (o *Orchestrator) Wait() {
	o.workers.Wait()
}

func (o *Orchestrator) snapshotBatch(batchID string) types.Batch {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snapshotBatchLocked(o.batches[batchID])
}

func (o *Orchestrator) snapshotBatchLocked(state *batchState) types.Batch {
	batch := state.batch
	batch.RunIDs = append([]string(nil), state.batch.RunIDs...)

	runs := make([]types.SimulationRun, 0, len(state.runOrder))
	for _, runID := range state.runOrder {
		runs = append(runs, *state.runs[runID])
	}
	batch.Status = types.DeriveBatchStatus(runs)
	return batch
}

func (o *Orchestrator) snapshotRuns(batchID string) []types.SimulationRun {
	runs, err := o.PollRuns(batchID)
	if err != nil {
		return nil
	}
	return runs
}
