package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    JobStatus
		to      JobStatus
		wantErr bool
	}{
		{"queued to printing", JobStatusQueued, JobStatusPrinting, false},
		{"printing to completed", JobStatusPrinting, JobStatusCompleted, false},
		{"printing to failed", JobStatusPrinting, JobStatusFailed, false},
		{"queued to completed skips printing", JobStatusQueued, JobStatusCompleted, true},
		{"completed is terminal", JobStatusCompleted, JobStatusQueued, true},
		{"failed is terminal", JobStatusFailed, JobStatusPrinting, true},
		{"no backward transition", JobStatusPrinting, JobStatusQueued, true},
		{"unknown state", JobStatus("paused"), JobStatusQueued, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsTerminalState(t *testing.T) {
	assert.False(t, IsTerminalState(JobStatusQueued))
	assert.False(t, IsTerminalState(JobStatusPrinting))
	assert.True(t, IsTerminalState(JobStatusCompleted))
	assert.True(t, IsTerminalState(JobStatusFailed))
}
