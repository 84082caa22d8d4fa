// Package simulation drives simulated conversations between a synthetic
// persona and the agent under test. The persona side is played by a model;
// the agent side is an external collaborator behind the AgentResponder
// interface.
package simulation

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/probelab/agentsim/internal/llm"
	"github.com/probelab/agentsim/internal/prompts"
	"github.com/probelab/agentsim/internal/types"
)

// Simulator produces persona utterances for one conversation at a time.
type Simulator struct {
	client llm.Client
}

// NewSimulator creates a simulator backed by the given client.
func NewSimulator(client llm.Client) *Simulator {
	return &Simulator{client: client}
}

// RespondAsPersona produces the persona's next utterance given the
// externally-visible transcript so far.
//
// The persona model plays the responder in a mirrored conversation: the
// agent's prior turns are presented to it as "user" and the persona's own
// prior turns as "assistant". Callers pass the transcript in its external
// orientation; inversion happens here.
func (s *Simulator) RespondAsPersona(ctx context.Context, persona types.Persona, priorTurns []types.ConversationTurn) (string, error) {
	prompt := s.buildPersonaPrompt(persona, priorTurns)

	utterance, err := s.client.GenerateText(ctx, prompt, llm.TierLite)
	if err != nil {
		return "", &GenerationError{Message: "model call failed", Cause: err}
	}

	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return "", &GenerationError{Message: "model returned no content"}
	}
	return utterance, nil
}

func (s *Simulator) buildPersonaPrompt(persona types.Persona, priorTurns []types.ConversationTurn) string {
	var sb strings.Builder

	sb.WriteString(prompts.MustFormat("simulation.json", "persona-profile", map[string]string{
		"Name":    persona.Name,
		"Role":    persona.Role,
		"Goal":    persona.Goal,
		"Context": persona.Context,
		"Tone":    persona.Tone,
	}))
	sb.WriteString("\n\n")

	turnNumber := len(priorTurns)/2 + 1
	switch {
	case turnNumber == 1:
		sb.WriteString(prompts.MustGet("simulation.json", "opening-turn"))
	case turnNumber <= 4:
		sb.WriteString(prompts.MustFormat("simulation.json", "middle-turn", map[string]string{
			"TurnNumber": strconv.Itoa(turnNumber),
		}))
	default:
		sb.WriteString(prompts.MustFormat("simulation.json", "later-turn", map[string]string{
			"TurnNumber": strconv.Itoa(turnNumber),
		}))
	}

	if len(priorTurns) > 0 {
		sb.WriteString("\n\nConversation so far. Lines labeled \"assistant\" are YOUR previous messages; lines labeled \"user\" are the business's AI assistant talking to you:\n")
		for _, turn := range invertRoles(priorTurns) {
			sb.WriteString(fmt.Sprintf("%s: %s\n", turn.Role, turn.Content))
		}
		sb.WriteString("\nReply with your next message only.")
	}

	return sb.String()
}

// invertRoles mirrors the external transcript for the persona model's point
// of view: persona turns (externally "user") become "assistant", agent turns
// (externally "assistant") become "user".
func invertRoles(turns []types.ConversationTurn) []types.ConversationTurn {
	inverted := make([]types.ConversationTurn, len(turns))
	for i, turn := range turns {
		inverted[i] = turn
		if turn.Role == types.RoleUser {
			inverted[i].Role = types.RoleAssistant
		} else {
			inverted[i].Role = types.RoleUser
		}
	}
	return inverted
}
