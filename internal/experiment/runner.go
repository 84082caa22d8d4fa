package experiment

import (
	"context"
	"fmt"
	"time"

	"github.com/probelab/agentsim/internal/orchestration"
	"github.com/probelab/agentsim/internal/personas"
	"github.com/probelab/agentsim/internal/scoring"
	"github.com/probelab/agentsim/internal/types"
)

const (
	// defaultPollInterval matches the cadence the polling consumer uses.
	defaultPollInterval = 2 * time.Second
	// defaultMaxWait bounds how long a behavior test waits for its batch.
	defaultMaxWait = 15 * time.Minute
)

// ProgressEvent reports behavior-test progress to an optional callback.
type ProgressEvent struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Content any    `json:"content,omitempty"`
}

// RunOptions configures one behavior test.
type RunOptions struct {
	PersonaCount int
	AgentContext string
	MaxTurns     int
	Parallelism  int
	PollInterval time.Duration
	MaxWait      time.Duration
	OnProgress   func(ProgressEvent)
}

// Report is the full outcome of one behavior test.
type Report struct {
	Rubric   types.ScorerRubric         `json:"rubric"`
	Personas []types.Persona            `json:"personas"`
	Batch    types.Batch                `json:"batch"`
	Runs     []types.SimulationRun      `json:"runs"`
	Results  []types.BehaviorTestResult `json:"results"`
	Summary  types.ExperimentSummary    `json:"summary"`
}

// Runner composes the full behavior-testing flow: compile the rubric,
// generate behavior-triggering personas, run the batch, score every
// completed transcript, and aggregate.
type Runner struct {
	compiler     *scoring.Compiler
	generator    *personas.Generator
	orchestrator *orchestration.Orchestrator
	scorer       *scoring.Scorer
	aggregator   *Aggregator
}

// NewRunner wires a behavior-test runner from its parts.
func NewRunner(compiler *scoring.Compiler, generator *personas.Generator, orchestrator *orchestration.Orchestrator, scorer *scoring.Scorer, aggregator *Aggregator) *Runner {
	return &Runner{
		compiler:     compiler,
		generator:    generator,
		orchestrator: orchestrator,
		scorer:       scorer,
		aggregator:   aggregator,
	}
}

// RunBehaviorTest executes one behavior test end to end.
//
// Failed simulation runs are excluded from scoring but remain visible in the
// report; only generation and compilation failures abort the test, since a
// caller cannot proceed without a rubric or personas.
func (r *Runner) RunBehaviorTest(ctx context.Context, problemDescription string, opts RunOptions) (*Report, error) {
	emit := func(stage, message string, content any) {
		if opts.OnProgress != nil {
			opts.OnProgress(ProgressEvent{Stage: stage, Message: message, Content: content})
		}
	}

	emit("compile", "compiling judge rubric", nil)
	rubric, err := r.compiler.Compile(ctx, problemDescription)
	if err != nil {
		return nil, err
	}
	emit("compile", fmt.Sprintf("compiled rubric for test %q", rubric.TestName), rubric)

	count := opts.PersonaCount
	if count <= 0 {
		count = 5
	}
	emit("personas", fmt.Sprintf("generating %d personas", count), nil)
	personaList, err := r.generator.GenerateForBehavior(ctx, count, problemDescription, rubric.PersonaHint, opts.AgentContext)
	if err != nil {
		return nil, err
	}

	batch, _ := r.orchestrator.CreateBatch(types.BatchConfig{
		Name:        rubric.TestName,
		MaxTurns:    opts.MaxTurns,
		Parallelism: opts.Parallelism,
		Description: problemDescription,
	}, personaList)
	emit("batch", fmt.Sprintf("launched batch %s with %d runs", batch.ID, len(personaList)), batch)

	runs, err := r.awaitBatch(ctx, batch.ID, opts)
	if err != nil {
		return nil, err
	}

	personaByID := make(map[string]types.Persona, len(personaList))
	for _, p := range personaList {
		personaByID[p.ID] = p
	}

	var results []types.BehaviorTestResult
	for _, run := range runs {
		if run.Status != types.RunCompleted {
			emit("score", fmt.Sprintf("skipping run %s (%s)", run.ID, run.Status), nil)
			continue
		}
		persona := personaByID[run.PersonaID]
		verdict, err := r.scorer.Score(ctx, rubric, run.Transcript, persona)
		if err != nil {
			emit("score", fmt.Sprintf("judge failed for run %s: %v", run.ID, err), nil)
			continue
		}
		results = append(results, scoring.BuildResult(persona, run.Transcript, verdict))
	}

	summary := r.aggregator.SummarizeExperiment(ctx, rubric.TestName, results)
	emit("summary", summary.AISummary, summary)

	finalBatch := batch
	for _, b := range r.orchestrator.PollBatches() {
		if b.ID == batch.ID {
			finalBatch = b
			break
		}
	}

	return &Report{
		Rubric:   rubric,
		Personas: personaList,
		Batch:    finalBatch,
		Runs:     runs,
		Results:  results,
		Summary:  summary,
	}, nil
}

// awaitBatch polls at a fixed cadence until no run is still running or the
// wait budget runs out.
func (r *Runner) awaitBatch(ctx context.Context, batchID string, opts RunOptions) ([]types.SimulationRun, error) {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	maxWait := opts.MaxWait
	if maxWait <= 0 {
		maxWait = defaultMaxWait
	}

	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		runs, err := r.orchestrator.PollRuns(batchID)
		if err != nil {
			return nil, err
		}

		running := false
		for _, run := range runs {
			if !run.Status.Terminal() {
				running = true
				break
			}
		}
		if !running {
			return runs, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("batch %s did not finish within %s", batchID, maxWait)
		case <-ticker.C:
		}
	}
}
