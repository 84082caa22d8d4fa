package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func runWithStatus(s RunStatus) SimulationRun {
	return SimulationRun{ID: "run", Status: s}
}

func TestDeriveBatchStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []RunStatus
		want     BatchStatus
	}{
		{"no runs yet", nil, BatchPending},
		{"all completed", []RunStatus{RunCompleted, RunCompleted}, BatchCompleted},
		{"one still running", []RunStatus{RunRunning, RunCompleted}, BatchRunning},
		{"all failed", []RunStatus{RunFailed, RunFailed}, BatchFailed},
		{"mixed terminal", []RunStatus{RunFailed, RunCompleted}, BatchCompleted},
		{"single running", []RunStatus{RunRunning}, BatchRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var runs []SimulationRun
			for _, s := range tt.statuses {
				runs = append(runs, runWithStatus(s))
			}
			assert.Equal(t, tt.want, DeriveBatchStatus(runs))
		})
	}
}

func TestRunStatusTerminal(t *testing.T) {
	assert.False(t, RunRunning.Terminal())
	assert.True(t, RunCompleted.Terminal())
	assert.True(t, RunFailed.Terminal())
}

func TestSimulationRunClone_Independent(t *testing.T) {
	run := SimulationRun{
		ID:         "run-1",
		Transcript: []ConversationTurn{{Role: RoleUser, Content: "hi"}},
		Status:     RunRunning,
	}

	snap := run.Clone()
	run.Transcript = append(run.Transcript, ConversationTurn{Role: RoleAssistant, Content: "hello"})
	run.Transcript[0].Content = "changed"

	assert.Len(t, snap.Transcript, 1)
	assert.Equal(t, "hi", snap.Transcript[0].Content)
}
