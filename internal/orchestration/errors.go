package orchestration

import (
	"errors"
	"fmt"
)

// ErrBatchNotFound is returned by polling and delete operations when the
// batch id is unknown (or already deleted).
var ErrBatchNotFound = errors.New("batch not found")

// RunCancelledError is recorded as a run's failure reason when its batch is
// deleted while the run is still in flight.
type RunCancelledError struct {
	RunID   string
	BatchID string
}

func (e *RunCancelledError) Error() string {
	return fmt.Sprintf("run %s cancelled: batch %s deleted", e.RunID, e.BatchID)
}
