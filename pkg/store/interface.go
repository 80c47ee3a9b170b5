package store

import (
	"errors"
	"time"

	"github.com/printq/printq/pkg/models"
)

var (
	ErrProjectNotFound    = errors.New("project not found")
	ErrPlateNotFound      = errors.New("plate not found")
	ErrJobNotFound        = errors.New("job not found")
	ErrWindowNotFound     = errors.New("window not found")
	ErrInvalidWindow      = errors.New("window end must be after start")
	ErrUnsupportedBackend = errors.New("unsupported store backend")
	ErrNegativeQuantity   = errors.New("quantity must be non-negative")
)

// Store is the persistent entity store. Every mutating operation is
// saved before it becomes observable to readers; readers always see a
// consistent snapshot. Implementations are safe for concurrent use.
//
// Boolean results report whether the operation applied: false means the
// entity was missing or in an incompatible status, with no mutation.
type Store interface {
	// Project operations
	CreateProject(name, notes string) (*models.Project, error)
	GetProject(id string) (*models.Project, error)
	GetProjects() []*models.Project
	DeleteProject(id string) (bool, error)
	GetProjectProgress(projectID string) (completed, total int)

	// Plate operations
	AddPlates(plates []*models.Plate) error
	GetPlate(id string) (*models.Plate, error)
	GetPlates(projectID string) []*models.Plate
	DeletePlate(id string) (bool, error)
	SetPlatePriority(id string, priority int) (bool, error)
	SetPlateQuantity(id string, quantity int) (bool, error)

	// Job operations
	GetJob(id string) (*models.Job, error)
	GetJobs(plateID string, status models.JobStatus) []*models.Job
	GetQueuedJobs() []*models.Job
	GetActiveJob() *models.Job
	StartJob(id string) (bool, error)
	CompleteJob(id string) (bool, error)
	FailJob(id, reason string) (*models.Job, error)

	// Unavailability windows
	AddUnavailability(start, end time.Time) (*models.UnavailabilityWindow, error)
	RemoveUnavailability(id string) (bool, error)
	GetUnavailabilityWindows() []*models.UnavailabilityWindow

	// Lifecycle
	Close() error
	HealthCheck() error
}

// Config holds store configuration
type Config struct {
	Type string // "snapshot" or "sqlite"
	Path string // snapshot file or sqlite database path
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "sqlite":
		return NewSQLiteStore(config.Path)
	case "snapshot", "":
		return NewSnapshotStore(config.Path)
	default:
		return nil, ErrUnsupportedBackend
	}
}
