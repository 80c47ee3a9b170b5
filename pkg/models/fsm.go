package models

import "fmt"

// JobStatus represents the status of a job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"    // Waiting for the printer
	JobStatusPrinting  JobStatus = "printing"  // Running on the printer
	JobStatusCompleted JobStatus = "completed" // Finished successfully
	JobStatusFailed    JobStatus = "failed"    // Failed; a replacement job is queued
)

// validTransitions maps from-state to allowed to-states. Completed and
// failed are terminal; there are no backward transitions.
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusQueued: {
		JobStatusPrinting: true,
	},
	JobStatusPrinting: {
		JobStatusCompleted: true,
		JobStatusFailed:    true,
	},
	JobStatusCompleted: {},
	JobStatusFailed:    {},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to JobStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminalState returns true if the state is terminal (no further transitions)
func IsTerminalState(state JobStatus) bool {
	return state == JobStatusCompleted || state == JobStatusFailed
}
