package types

import (
	"fmt"
	"strings"
	"time"
)

// Rubric placeholder tokens that every compiled scorer template must contain.
const (
	PlaceholderConversation = "{{conversation}}"
	PlaceholderPersona      = "{{persona}}"
)

// PassThreshold is the score at or above which a behavior test passes.
// It is an invariant of the engine, not a configuration knob: Passed is
// always recomputed from the score, never trusted from the judge.
const PassThreshold = 0.7

// ScorerRubric is a compiled judge prompt template, reusable across many
// scoring calls. Immutable after compilation.
type ScorerRubric struct {
	ScorerPromptTemplate string `json:"scorer_prompt_template" validate:"required"`
	TestName             string `json:"test_name" validate:"required"`
	PersonaHint          string `json:"persona_hint"`
}

// Validate checks required fields and that both substitution placeholders
// are present in the template.
func (r *ScorerRubric) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("rubric missing required fields: %w", err)
	}
	for _, ph := range []string{PlaceholderConversation, PlaceholderPersona} {
		if !strings.Contains(r.ScorerPromptTemplate, ph) {
			return fmt.Errorf("rubric template missing %s placeholder", ph)
		}
	}
	return nil
}

// BehaviorTestResult is the judged outcome of one simulation run.
// Produced once per run; immutable thereafter.
type BehaviorTestResult struct {
	ID           string             `json:"id"`
	PersonaID    string             `json:"persona_id"`
	Persona      Persona            `json:"persona"`
	Conversation []ConversationTurn `json:"conversation"`
	Score        float64            `json:"score"`
	Passed       bool               `json:"passed"`
	Rationale    string             `json:"rationale"`
	ScoredAt     time.Time          `json:"scored_at"`
}

// ExperimentSummary aggregates a set of behavior test results into pass/fail
// statistics plus optional model-authored insight. Derived, all-or-nothing
// per aggregation call.
type ExperimentSummary struct {
	Total           int      `json:"total"`
	Passed          int      `json:"passed"`
	Failed          int      `json:"failed"`
	PassRate        float64  `json:"pass_rate"`
	AvgScore        float64  `json:"avg_score"`
	AISummary       string   `json:"ai_summary,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}
