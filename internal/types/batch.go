package types

import "time"

// BatchStatus is the derived lifecycle state of a batch of simulation runs.
type BatchStatus string

// Batch status constants.
const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// BatchConfig holds the per-batch execution settings supplied by the caller.
type BatchConfig struct {
	Name        string `json:"name"`
	MaxTurns    int    `json:"max_turns"`    // persona/agent turn pairs per run
	Parallelism int    `json:"parallelism"`  // concurrent runs; 0 uses the default
	AgentName   string `json:"agent_name"`   // label for the agent under test
	Description string `json:"description"`  // scenario description the batch was built from
}

// Batch groups the simulation runs launched together under one configuration.
// Status is a pure function of the owned runs' statuses, recomputed on read.
type Batch struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Config    BatchConfig `json:"config"`
	Status    BatchStatus `json:"status"`
	RunIDs    []string    `json:"run_ids"`
	CreatedAt time.Time   `json:"created_at"`
}

// DeriveBatchStatus computes a batch's status from its runs: running while at
// least one run is running, completed when every run is terminal and at least
// one succeeded, failed when every run failed, pending with no runs.
func DeriveBatchStatus(runs []SimulationRun) BatchStatus {
	if len(runs) == 0 {
		return BatchPending
	}
	completed := 0
	for _, r := range runs {
		switch r.Status {
		case RunRunning:
			return BatchRunning
		case RunCompleted:
			completed++
		}
	}
	if completed > 0 {
		return BatchCompleted
	}
	return BatchFailed
}
