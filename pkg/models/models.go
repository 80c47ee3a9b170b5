package models

import (
	"time"

	"github.com/google/uuid"
)

// Project groups plates that belong to one physical build.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Notes     string    `json:"notes,omitempty"`
}

// NewProject creates a project with a fresh identity.
func NewProject(name, notes string) *Project {
	return &Project{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
		Notes:     notes,
	}
}

// Plate is one printable unit extracted from an uploaded file.
type Plate struct {
	ID                       string `json:"id"`
	ProjectID                string `json:"project_id"`
	SourceFilename           string `json:"source_filename"`
	PlateNumber              int    `json:"plate_number"`
	Name                     string `json:"name"`
	GcodePath                string `json:"gcode_path"`
	EstimatedDurationSeconds int    `json:"estimated_duration_seconds"`
	ThumbnailPath            string `json:"thumbnail_path,omitempty"`
	QuantityNeeded           int    `json:"quantity_needed"`
	Priority                 int    `json:"priority"`
}

// NewPlate creates a plate with a fresh identity and quantity 1.
func NewPlate(projectID, sourceFilename string, plateNumber int, name, gcodePath string, estimatedSeconds int) *Plate {
	return &Plate{
		ID:                       uuid.New().String(),
		ProjectID:                projectID,
		SourceFilename:           sourceFilename,
		PlateNumber:              plateNumber,
		Name:                     name,
		GcodePath:                gcodePath,
		EstimatedDurationSeconds: estimatedSeconds,
		QuantityNeeded:           1,
	}
}

// Duration returns the plate's estimated print time.
func (p *Plate) Duration() time.Duration {
	return time.Duration(p.EstimatedDurationSeconds) * time.Second
}

// Job is one intended execution of a plate.
type Job struct {
	ID            string     `json:"id"`
	PlateID       string     `json:"plate_id"`
	Status        JobStatus  `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

// NewJob creates a queued job for a plate.
func NewJob(plateID string) *Job {
	return &Job{
		ID:        uuid.New().String(),
		PlateID:   plateID,
		Status:    JobStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
}

// UnavailabilityWindow is a user-declared interval in which the printer
// must not be running. Windows may overlap; the scheduler treats them
// as a union.
type UnavailabilityWindow struct {
	ID    string    `json:"id"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewUnavailabilityWindow creates a window with a fresh identity.
func NewUnavailabilityWindow(start, end time.Time) *UnavailabilityWindow {
	return &UnavailabilityWindow{
		ID:    uuid.New().String(),
		Start: start.UTC(),
		End:   end.UTC(),
	}
}

// ScheduledJob is a derived placement of a job on the projected
// timeline. It is never persisted.
type ScheduledJob struct {
	JobID                    string    `json:"job_id"`
	PlateID                  string    `json:"plate_id"`
	PlateName                string    `json:"plate_name"`
	PlateNumber              int       `json:"plate_number"`
	SourceFilename           string    `json:"source_filename"`
	ScheduledStart           time.Time `json:"scheduled_start"`
	ScheduledEnd             time.Time `json:"scheduled_end"`
	EstimatedDurationSeconds int       `json:"estimated_duration_seconds"`
	SpansUnavailability      bool      `json:"spans_unavailability"`
	ThumbnailPath            string    `json:"thumbnail_path,omitempty"`
}

// ScheduleResult is the scheduler's output: the ordered projected
// timeline plus the next instant at which it could legally change.
type ScheduleResult struct {
	Jobs           []ScheduledJob `json:"jobs"`
	ComputedAt     time.Time      `json:"computed_at"`
	Cursor         time.Time      `json:"cursor"`
	NextBreakpoint *time.Time     `json:"next_breakpoint,omitempty"`
}
