package simulation

import (
	"context"
	"strings"

	"github.com/probelab/agentsim/internal/types"
)

// AgentResponder is the system under test. It receives the transcript in its
// external orientation (persona turns are "user") and returns the agent's
// next reply.
type AgentResponder interface {
	Respond(ctx context.Context, transcript []types.ConversationTurn) (string, error)
}

// AgentResponderFunc adapts a function to the AgentResponder interface.
type AgentResponderFunc func(ctx context.Context, transcript []types.ConversationTurn) (string, error)

// Respond calls the wrapped function.
func (f AgentResponderFunc) Respond(ctx context.Context, transcript []types.ConversationTurn) (string, error) {
	return f(ctx, transcript)
}

const (
	// DefaultMaxTurns is the persona/agent pair budget when the batch config
	// does not set one.
	DefaultMaxTurns = 6
	// minTurnsBeforeClose is how many persona turns must elapse before a
	// closing cue is allowed to end the conversation, so a polite opener
	// ("thanks!") does not terminate the run immediately.
	minTurnsBeforeClose = 3
)

// closingCues are scanned, case-insensitively, in the persona's latest
// utterance to detect natural satisfaction.
var closingCues = []string{
	"goodbye",
	"bye for now",
	"that's all",
	"that is all",
	"thanks for your help",
	"thank you for your help",
	"take care",
	"have a great day",
}

// LoopOptions configures one conversation loop.
type LoopOptions struct {
	// MaxTurns caps the number of persona/agent turn pairs. Zero means
	// DefaultMaxTurns.
	MaxTurns int
	// OnTurn, when set, is invoked after every appended turn. The orchestrator
	// uses it to publish partial transcripts to pollers.
	OnTurn func(types.ConversationTurn)
}

// RunConversation alternates persona and agent turns until the turn budget is
// reached or the persona signals satisfaction. The returned transcript always
// reflects everything appended so far, including when an error cuts the loop
// short; partial transcripts are preserved, never discarded.
func (s *Simulator) RunConversation(ctx context.Context, persona types.Persona, agent AgentResponder, opts LoopOptions) ([]types.ConversationTurn, error) {
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	var transcript []types.ConversationTurn
	appendTurn := func(role types.TurnRole, content string) {
		turn := types.ConversationTurn{Role: role, Content: content}
		transcript = append(transcript, turn)
		if opts.OnTurn != nil {
			opts.OnTurn(turn)
		}
	}

	for turn := 1; turn <= maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return transcript, err
		}

		utterance, err := s.RespondAsPersona(ctx, persona, transcript)
		if err != nil {
			return transcript, err
		}
		appendTurn(types.RoleUser, utterance)

		reply, err := agent.Respond(ctx, transcript)
		if err != nil {
			return transcript, &AgentError{Message: "agent under test failed", Cause: err}
		}
		reply = strings.TrimSpace(reply)
		if reply == "" {
			return transcript, &AgentError{Message: "agent under test returned no reply"}
		}
		appendTurn(types.RoleAssistant, reply)

		if turn >= minTurnsBeforeClose && isClosingCue(utterance) {
			break
		}
	}

	return transcript, nil
}

func isClosingCue(utterance string) bool {
	lower := strings.ToLower(utterance)
	for _, cue := range closingCues {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}
