package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/probelab/agentsim/internal/llm"
	"github.com/probelab/agentsim/internal/types"
)

// defaultRationale fills in when the judge returns a score without any
// explanation.
const defaultRationale = "No rationale provided."

// ScoreResult is the judged outcome for one transcript.
type ScoreResult struct {
	Score     float64
	Rationale string
}

// Scorer applies a compiled rubric to transcripts.
type Scorer struct {
	client llm.Client
}

// NewScorer creates a behavior scorer backed by the given client.
func NewScorer(client llm.Client) *Scorer {
	return &Scorer{client: client}
}

// judgeVerdict is the JSON shape the rubric instructs the judge to return.
type judgeVerdict struct {
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale"`
}

// Score renders the transcript and persona into the rubric's placeholders and
// asks the judge for a verdict. Scores outside [0,1] are clamped, not
// rejected.
func (s *Scorer) Score(ctx context.Context, rubric types.ScorerRubric, transcript []types.ConversationTurn, persona types.Persona) (ScoreResult, error) {
	prompt := rubric.ScorerPromptTemplate
	prompt = strings.ReplaceAll(prompt, types.PlaceholderConversation, RenderTranscript(transcript))
	prompt = strings.ReplaceAll(prompt, types.PlaceholderPersona, RenderPersona(persona))

	raw, err := s.client.GenerateJSON(ctx, prompt, llm.TierLite)
	if err != nil {
		return ScoreResult{}, &JudgeError{Message: "model call failed", Cause: err}
	}

	var verdict judgeVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return ScoreResult{}, &JudgeError{Message: "unparsable verdict", Cause: err}
	}

	score := verdict.Score
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	rationale := strings.TrimSpace(verdict.Rationale)
	if rationale == "" {
		rationale = defaultRationale
	}

	return ScoreResult{Score: score, Rationale: rationale}, nil
}

// BuildResult assembles the immutable test result for one scored run.
// Passed is always recomputed from the score here, never trusted from the
// judge.
func BuildResult(persona types.Persona, conversation []types.ConversationTurn, res ScoreResult) types.BehaviorTestResult {
	return types.BehaviorTestResult{
		ID:           uuid.New().String(),
		PersonaID:    persona.ID,
		Persona:      persona,
		Conversation: conversation,
		Score:        res.Score,
		Passed:       res.Score >= types.PassThreshold,
		Rationale:    res.Rationale,
		ScoredAt:     time.Now(),
	}
}

// RenderTranscript renders alternating Lead:/Agent: lines for rubric
// substitution. The persona is the lead; the agent under test is the agent.
func RenderTranscript(transcript []types.ConversationTurn) string {
	var sb strings.Builder
	for _, turn := range transcript {
		label := "Agent"
		if turn.Role == types.RoleUser {
			label = "Lead"
		}
		sb.WriteString(fmt.Sprintf("%s: %s\n", label, turn.Content))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// RenderPersona renders the persona as the labeled block the rubric
// substitutes for {{persona}}.
func RenderPersona(p types.Persona) string {
	return fmt.Sprintf("Name: %s\nRole: %s\nGoal: %s\nContext: %s\nTone: %s",
		p.Name, p.Role, p.Goal, p.Context, p.Tone)
}
