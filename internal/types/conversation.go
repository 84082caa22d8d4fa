package types

import "time"

// TurnRole identifies the speaker of a conversation turn.
type TurnRole string

// Turn role constants. The externally-visible transcript always starts with
// RoleUser (the persona speaks first) and alternates.
const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
)

// ConversationTurn is one utterance in a simulated conversation.
// Transcripts are append-only while a run executes.
type ConversationTurn struct {
	Role      TurnRole       `json:"role"`
	Content   string         `json:"content"`
	TraceData map[string]any `json:"trace_data,omitempty"`
}

// RunStatus is the lifecycle state of a single simulation run.
type RunStatus string

// Run status constants.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// SimulationRun is one simulated multi-turn conversation between a persona
// and the agent under test. It is owned by the batch that created it and
// mutated only by the worker executing the run.
type SimulationRun struct {
	ID         string             `json:"id"`
	BatchID    string             `json:"batch_id"`
	PersonaID  string             `json:"persona_id"`
	Transcript []ConversationTurn `json:"transcript"`
	Status     RunStatus          `json:"status"`
	Error      string             `json:"error,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}

// Clone returns a deep copy safe to hand to polling readers while the
// owning worker keeps appending turns.
func (r *SimulationRun) Clone() SimulationRun {
	out := *r
	out.Transcript = make([]ConversationTurn, len(r.Transcript))
	copy(out.Transcript, r.Transcript)
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	return out
}
