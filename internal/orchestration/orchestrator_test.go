package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelab/agentsim/internal/simulation"
	"github.com/probelab/agentsim/internal/types"
)

// fakeRunner scripts conversation outcomes per persona id. A nil script entry
// means a two-turn success.
type fakeRunner struct {
	mu      sync.Mutex
	scripts map[string]func(ctx context.Context, opts simulation.LoopOptions) ([]types.ConversationTurn, error)
	started chan string // receives persona ids as runs begin, when non-nil
	release chan struct{}
}

func (f *fakeRunner) RunConversation(ctx context.Context, persona types.Persona, _ simulation.AgentResponder, opts simulation.LoopOptions) ([]types.ConversationTurn, error) {
	if f.started != nil {
		f.started <- persona.ID
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	script := f.scripts[persona.ID]
	f.mu.Unlock()
	if script != nil {
		return script(ctx, opts)
	}

	turns := []types.ConversationTurn{
		{Role: types.RoleUser, Content: "hello"},
		{Role: types.RoleAssistant, Content: "hi there"},
	}
	for _, turn := range turns {
		if opts.OnTurn != nil {
			opts.OnTurn(turn)
		}
	}
	return turns, nil
}

func makePersonas(n int) []types.Persona {
	out := make([]types.Persona, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, types.Persona{
			ID:      fmt.Sprintf("persona-1700000000000-%d", i),
			Name:    fmt.Sprintf("Persona %d", i),
			Role:    "Customer",
			Goal:    "goal",
			Context: "context",
		})
	}
	return out
}

func waitForStatus(t *testing.T, o *Orchestrator, batchID string, want types.BatchStatus) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("batch %s never reached status %s", batchID, want)
		default:
		}
		for _, b := range o.PollBatches() {
			if b.ID == batchID && b.Status == want {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCreateBatch_ReturnsImmediately(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	o := NewOrchestrator(runner, nil)

	done := make(chan struct{})
	var batch types.Batch
	var runs []types.SimulationRun
	go func() {
		batch, runs = o.CreateBatch(types.BatchConfig{Name: "blocked"}, makePersonas(2))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("CreateBatch blocked on run completion")
	}

	assert.NotEmpty(t, batch.ID)
	assert.Equal(t, types.BatchRunning, batch.Status)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, types.RunRunning, r.Status)
	}

	close(runner.release)
	o.Wait()
}

func TestBatch_AllRunsComplete(t *testing.T) {
	o := NewOrchestrator(&fakeRunner{}, nil)
	batch, _ := o.CreateBatch(types.BatchConfig{Name: "ok"}, makePersonas(3))

	waitForStatus(t, o, batch.ID, types.BatchCompleted)

	runs, err := o.PollRuns(batch.ID)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for _, r := range runs {
		assert.Equal(t, types.RunCompleted, r.Status)
		assert.Len(t, r.Transcript, 2)
		assert.Equal(t, types.RoleUser, r.Transcript[0].Role)
		require.NotNil(t, r.FinishedAt)
	}
}

func TestBatch_PartialFailureIsCompleted(t *testing.T) {
	runner := &fakeRunner{
		scripts: map[string]func(ctx context.Context, opts simulation.LoopOptions) ([]types.ConversationTurn, error){
			"persona-1700000000000-0": func(_ context.Context, opts simulation.LoopOptions) ([]types.ConversationTurn, error) {
				// One turn lands before the failure.
				turn := types.ConversationTurn{Role: types.RoleUser, Content: "opening"}
				if opts.OnTurn != nil {
					opts.OnTurn(turn)
				}
				return []types.ConversationTurn{turn}, errors.New("model unavailable")
			},
		},
	}
	o := NewOrchestrator(runner, nil)
	batch, _ := o.CreateBatch(types.BatchConfig{Name: "partial"}, makePersonas(2))

	waitForStatus(t, o, batch.ID, types.BatchCompleted)

	runs, err := o.PollRuns(batch.ID)
	require.NoError(t, err)

	var failed, completed int
	for _, r := range runs {
		switch r.Status {
		case types.RunFailed:
			failed++
			assert.Len(t, r.Transcript, 1, "partial transcript preserved")
			assert.Contains(t, r.Error, "model unavailable")
		case types.RunCompleted:
			completed++
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, completed)
}

func TestBatch_AllRunsFail(t *testing.T) {
	runner := &fakeRunner{scripts: map[string]func(ctx context.Context, opts simulation.LoopOptions) ([]types.ConversationTurn, error){}}
	for _, p := range makePersonas(2) {
		runner.scripts[p.ID] = func(_ context.Context, _ simulation.LoopOptions) ([]types.ConversationTurn, error) {
			return nil, errors.New("boom")
		}
	}
	o := NewOrchestrator(runner, nil)
	batch, _ := o.CreateBatch(types.BatchConfig{}, makePersonas(2))

	waitForStatus(t, o, batch.ID, types.BatchFailed)
}

func TestBatch_NoPersonasStaysPending(t *testing.T) {
	o := NewOrchestrator(&fakeRunner{}, nil)
	batch, runs := o.CreateBatch(types.BatchConfig{Name: "empty"}, nil)

	assert.Equal(t, types.BatchPending, batch.Status)
	assert.Empty(t, runs)
	o.Wait()

	batches := o.PollBatches()
	require.Len(t, batches, 1)
	assert.Equal(t, types.BatchPending, batches[0].Status)
}

func TestPollBatches_Idempotent(t *testing.T) {
	o := NewOrchestrator(&fakeRunner{}, nil)
	batch, _ := o.CreateBatch(types.BatchConfig{}, makePersonas(1))
	waitForStatus(t, o, batch.ID, types.BatchCompleted)

	first := o.PollBatches()
	second := o.PollBatches()
	assert.Equal(t, first, second)
}

func TestPollRuns_UnknownBatch(t *testing.T) {
	o := NewOrchestrator(&fakeRunner{}, nil)
	_, err := o.PollRuns("no-such-batch")
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestPollRuns_SnapshotIsolatedFromWorkers(t *testing.T) {
	o := NewOrchestrator(&fakeRunner{}, nil)
	batch, _ := o.CreateBatch(types.BatchConfig{}, makePersonas(1))
	waitForStatus(t, o, batch.ID, types.BatchCompleted)

	runs, err := o.PollRuns(batch.ID)
	require.NoError(t, err)
	runs[0].Transcript[0].Content = "mutated by caller"

	again, err := o.PollRuns(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", again[0].Transcript[0].Content)
}

func TestDeleteBatch_RemovesFromPolls(t *testing.T) {
	o := NewOrchestrator(&fakeRunner{}, nil)
	batch, _ := o.CreateBatch(types.BatchConfig{}, makePersonas(2))
	waitForStatus(t, o, batch.ID, types.BatchCompleted)

	require.NoError(t, o.DeleteBatch(batch.ID))

	assert.Empty(t, o.PollBatches())
	_, err := o.PollRuns(batch.ID)
	assert.ErrorIs(t, err, ErrBatchNotFound)

	assert.ErrorIs(t, o.DeleteBatch(batch.ID), ErrBatchNotFound)
}

func TestDeleteBatch_CancelsInFlightRuns(t *testing.T) {
	runner := &fakeRunner{
		started: make(chan string, 4),
		release: make(chan struct{}),
	}
	o := NewOrchestrator(runner, nil)
	batch, _ := o.CreateBatch(types.BatchConfig{Parallelism: 2}, makePersonas(2))

	// Both runs are inside RunConversation, blocked on release.
	<-runner.started
	<-runner.started

	require.NoError(t, o.DeleteBatch(batch.ID))
	o.Wait()

	// The workers observed cancellation rather than blocking forever, and the
	// deleted batch reports nothing to pollers.
	assert.Empty(t, o.PollBatches())
	_, err := o.PollRuns(batch.ID)
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestDeleteBatch_LeavesOtherBatchesAlone(t *testing.T) {
	o := NewOrchestrator(&fakeRunner{}, nil)
	first, _ := o.CreateBatch(types.BatchConfig{Name: "first"}, makePersonas(1))
	second, _ := o.CreateBatch(types.BatchConfig{Name: "second"}, makePersonas(1))
	waitForStatus(t, o, first.ID, types.BatchCompleted)
	waitForStatus(t, o, second.ID, types.BatchCompleted)

	require.NoError(t, o.DeleteBatch(first.ID))

	batches := o.PollBatches()
	require.Len(t, batches, 1)
	assert.Equal(t, second.ID, batches[0].ID)
}

func TestCreateBatch_ParallelismBound(t *testing.T) {
	runner := &fakeRunner{
		started: make(chan string, 8),
		release: make(chan struct{}),
	}
	o := NewOrchestrator(runner, nil)
	batch, _ := o.CreateBatch(types.BatchConfig{Parallelism: 2}, makePersonas(4))

	// Exactly two runs may start while the pool is saturated.
	<-runner.started
	<-runner.started
	select {
	case id := <-runner.started:
		t.Fatalf("third run %s started despite parallelism 2", id)
	case <-time.After(100 * time.Millisecond):
	}

	close(runner.release)
	waitForStatus(t, o, batch.ID, types.BatchCompleted)
	o.Wait()
}
