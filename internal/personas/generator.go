// Package personas generates synthetic user personas for simulated
// conversations. The model is unreliable about honoring large counts, so
// generation runs in fixed-size batches until the requested count is met
// exactly.
package personas

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/probelab/agentsim/internal/llm"
	"github.com/probelab/agentsim/internal/prompts"
	"github.com/probelab/agentsim/internal/schemas"
	"github.com/probelab/agentsim/internal/types"
)

const (
	// defaultBatchSize is how many personas are requested per model call.
	defaultBatchSize = 5
	// defaultBatchRetries is how many times a failed batch call is retried
	// before the whole generation call surfaces a GenerationError.
	defaultBatchRetries = 2
)

// Generator produces count-accurate persona lists.
type Generator struct {
	client    llm.Client
	batchSize int
	retries   int
	now       func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithBatchSize overrides the per-call batch size.
func WithBatchSize(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.batchSize = n
		}
	}
}

// WithRetries overrides the per-batch retry budget.
func WithRetries(n int) Option {
	return func(g *Generator) {
		if n >= 0 {
			g.retries = n
		}
	}
}

// withClock overrides the id timestamp source. Test hook.
func withClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// NewGenerator creates a persona generator backed by the given client.
func NewGenerator(client llm.Client, opts ...Option) *Generator {
	g := &Generator{
		client:    client,
		batchSize: defaultBatchSize,
		retries:   defaultBatchRetries,
		now:       time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate produces exactly count personas for a tester-supplied scenario
// description.
func (g *Generator) Generate(ctx context.Context, count int, description, agentContext string) ([]types.Persona, error) {
	return g.generateLoop(ctx, count, func(ask int, existing []types.Persona) string {
		return prompts.MustFormat("personas.json", "generate", map[string]string{
			"Count":            strconv.Itoa(ask),
			"Description":      description,
			"AgentContext":     agentContext,
			"ExistingPersonas": formatExisting(existing),
		})
	})
}

// GenerateForBehavior produces exactly count personas whose goals and
// contexts naturally trigger the described behavior during conversation.
func (g *Generator) GenerateForBehavior(ctx context.Context, count int, behaviorDescription, personaHint, agentContext string) ([]types.Persona, error) {
	return g.generateLoop(ctx, count, func(ask int, existing []types.Persona) string {
		return prompts.MustFormat("personas.json", "generate-for-behavior", map[string]string{
			"Count":               strconv.Itoa(ask),
			"BehaviorDescription": behaviorDescription,
			"PersonaHint":         personaHint,
			"AgentContext":        agentContext,
			"ExistingPersonas":    formatExisting(existing),
		})
	})
}

// GenerateFromContext produces exactly count personas derived purely from the
// agent's business context, with no user-supplied scenario.
func (g *Generator) GenerateFromContext(ctx context.Context, count int, agentContext string) ([]types.Persona, error) {
	return g.generateLoop(ctx, count, func(ask int, existing []types.Persona) string {
		return prompts.MustFormat("personas.json", "generate-from-context", map[string]string{
			"Count":            strconv.Itoa(ask),
			"AgentContext":     agentContext,
			"ExistingPersonas": formatExisting(existing),
		})
	})
}

// generateLoop requests personas in batches of min(batchSize, remaining)
// until the running total equals count. Every batch call is told which
// personas already exist so it avoids duplicates.
func (g *Generator) generateLoop(ctx context.Context, count int, buildPrompt func(ask int, existing []types.Persona) string) ([]types.Persona, error) {
	if count <= 0 {
		return nil, &GenerationError{Message: fmt.Sprintf("count must be positive, got %d", count)}
	}

	idBase := g.now().UnixMilli()
	personas := make([]types.Persona, 0, count)

	for len(personas) < count {
		ask := min(g.batchSize, count-len(personas))
		prompt := buildPrompt(ask, personas)

		batch, err := g.requestBatch(ctx, prompt)
		if err != nil {
			return nil, err
		}

		for i := 0; i < len(batch) && len(personas) < count; i++ {
			p := batch[i]
			p.ID = fmt.Sprintf("persona-%d-%d", idBase, len(personas))
			if err := p.Validate(); err != nil {
				return nil, &GenerationError{Message: "generated record is incomplete", Cause: err}
			}
			personas = append(personas, p)
		}
	}

	return personas, nil
}

// requestBatch issues one batch call with a bounded retry budget.
func (g *Generator) requestBatch(ctx context.Context, prompt string) ([]types.Persona, error) {
	var lastErr error
	for attempt := 0; attempt <= g.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &GenerationError{Message: "generation cancelled", Cause: err}
		}

		batch, err := g.tryBatch(ctx, prompt)
		if err == nil {
			return batch, nil
		}
		lastErr = err
	}
	return nil, &GenerationError{Message: fmt.Sprintf("batch failed after %d attempts", g.retries+1), Cause: lastErr}
}

func (g *Generator) tryBatch(ctx context.Context, prompt string) ([]types.Persona, error) {
	raw, err := g.client.GenerateJSON(ctx, prompt, llm.TierStandard)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("model returned empty response")
	}

	if err := schemas.ValidatePersonaBatch(raw); err != nil {
		return nil, err
	}

	var batch []types.Persona
	if err := json.Unmarshal([]byte(raw), &batch); err != nil {
		return nil, fmt.Errorf("unmarshal persona batch: %w", err)
	}
	return batch, nil
}

// formatExisting renders the previously generated personas as a name (role)
// list for the duplicate-avoidance section of the prompt. The list grows
// every iteration of the generation loop.
func formatExisting(existing []types.Persona) string {
	if len(existing) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(prompts.MustGet("personas.json", "existing-personas-preamble"))
	for _, p := range existing {
		sb.WriteString("- ")
		sb.WriteString(p.Summary())
		sb.WriteString("\n")
	}
	return sb.String()
}
