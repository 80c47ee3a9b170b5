package service

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/printq/printq/pkg/coordinator"
	"github.com/printq/printq/pkg/files"
	"github.com/printq/printq/pkg/models"
	"github.com/printq/printq/pkg/store"
)

// ErrPrinterBusy is returned by StartJob while another job is printing.
var ErrPrinterBusy = errors.New("another job is already printing")

// Service is the command façade over the store, file handler and
// coordinator. Every mutation follows the same sequence: mutate the
// store (which persists before returning), then invalidate the cached
// schedule so the next read recomputes.
type Service struct {
	store       store.Store
	files       *files.Handler
	coordinator *coordinator.Coordinator
}

// New creates the service façade.
func New(st store.Store, fh *files.Handler, c *coordinator.Coordinator) *Service {
	return &Service{store: st, files: fh, coordinator: c}
}

// ProjectStatus is a project together with its completion progress.
type ProjectStatus struct {
	models.Project
	CompletedJobs int `json:"completed_jobs"`
	TotalJobs     int `json:"total_jobs"`
}

// QueueStatus is the full read surface: entities plus the projected
// schedule.
type QueueStatus struct {
	Projects       []ProjectStatus                `json:"projects"`
	Plates         []*models.Plate                `json:"plates"`
	Jobs           []*models.Job                  `json:"jobs"`
	Schedule       []models.ScheduledJob          `json:"schedule"`
	ComputedAt     time.Time                      `json:"computed_at"`
	NextBreakpoint *time.Time                     `json:"next_breakpoint,omitempty"`
	Windows        []*models.UnavailabilityWindow `json:"unavailability_windows"`
}

func (s *Service) invalidate() {
	s.coordinator.Invalidate()
}

// CreateProject creates an empty project.
func (s *Service) CreateProject(name, notes string) (*models.Project, error) {
	project, err := s.store.CreateProject(name, notes)
	if err != nil {
		return nil, err
	}
	log.Printf("[Service] Created project: %s (%s)", project.Name, project.ID)
	s.invalidate()
	return project, nil
}

// DeleteProject removes a project with its plates and jobs.
func (s *Service) DeleteProject(id string) (bool, error) {
	plates := s.store.GetPlates(id)

	deleted, err := s.store.DeleteProject(id)
	if err != nil {
		return false, err
	}
	if deleted {
		for _, plate := range plates {
			if err := s.files.DeletePlateFiles(plate); err != nil {
				log.Printf("[Service] Failed to remove files for plate %s: %v", plate.ID, err)
			}
		}
		log.Printf("[Service] Deleted project: %s", id)
	}
	s.invalidate()
	return deleted, nil
}

// UploadFile parses an uploaded 3MF or gcode file into plates and
// queues their jobs. A file that yields no plates inserts nothing.
func (s *Service) UploadFile(projectID, filename string, content []byte) ([]*models.Plate, error) {
	if _, err := s.store.GetProject(projectID); err != nil {
		return nil, err
	}

	plates, err := s.files.Process(content, projectID, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to process %s: %w", filename, err)
	}

	if err := s.store.AddPlates(plates); err != nil {
		return nil, err
	}
	log.Printf("[Service] Uploaded %d plates from %s", len(plates), filename)
	s.invalidate()
	return plates, nil
}

// DeletePlate removes a plate, its jobs and its extracted files.
func (s *Service) DeletePlate(id string) (bool, error) {
	plate, err := s.store.GetPlate(id)
	if errors.Is(err, store.ErrPlateNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := s.files.DeletePlateFiles(plate); err != nil {
		log.Printf("[Service] Failed to remove files for plate %s: %v", id, err)
	}

	deleted, err := s.store.DeletePlate(id)
	if err != nil {
		return false, err
	}
	if deleted {
		log.Printf("[Service] Deleted plate: %s", id)
	}
	s.invalidate()
	return deleted, nil
}

// SetPlatePriority updates a plate's scheduling priority.
func (s *Service) SetPlatePriority(id string, priority int) (bool, error) {
	ok, err := s.store.SetPlatePriority(id, priority)
	if err != nil {
		return false, err
	}
	if ok {
		log.Printf("[Service] Set priority for %s to %d", id, priority)
	}
	s.invalidate()
	return ok, nil
}

// SetPlateQuantity updates quantity and reconciles queued jobs.
func (s *Service) SetPlateQuantity(id string, quantity int) (bool, error) {
	ok, err := s.store.SetPlateQuantity(id, quantity)
	if err != nil {
		return false, err
	}
	if ok {
		log.Printf("[Service] Set quantity for %s to %d", id, quantity)
	}
	s.invalidate()
	return ok, nil
}

// StartJob transitions a queued job to printing. The printer runs one
// job at a time; starting while another is printing fails without
// mutation.
func (s *Service) StartJob(id string) (bool, error) {
	if active := s.store.GetActiveJob(); active != nil {
		return false, ErrPrinterBusy
	}

	ok, err := s.store.StartJob(id)
	if err != nil {
		return false, err
	}
	if ok {
		log.Printf("[Service] Started job: %s", id)
	}
	s.invalidate()
	return ok, nil
}

// CompleteJob transitions a printing job to completed.
func (s *Service) CompleteJob(id string) (bool, error) {
	ok, err := s.store.CompleteJob(id)
	if err != nil {
		return false, err
	}
	if ok {
		log.Printf("[Service] Completed job: %s", id)
	}
	s.invalidate()
	return ok, nil
}

// FailJob marks a printing job failed and returns the queued
// replacement, nil if the job was not printing.
func (s *Service) FailJob(id, reason string) (*models.Job, error) {
	replacement, err := s.store.FailJob(id, reason)
	if err != nil {
		return nil, err
	}
	if replacement != nil {
		log.Printf("[Service] Failed job: %s (reason: %s), created replacement: %s", id, reason, replacement.ID)
	}
	s.invalidate()
	return replacement, nil
}

// AddUnavailability declares an interval the printer must sit idle.
func (s *Service) AddUnavailability(start, end time.Time) (*models.UnavailabilityWindow, error) {
	window, err := s.store.AddUnavailability(start, end)
	if err != nil {
		return nil, err
	}
	log.Printf("[Service] Added unavailability: %s to %s", window.Start.Format(time.RFC3339), window.End.Format(time.RFC3339))
	s.invalidate()
	return window, nil
}

// RemoveUnavailability deletes a window.
func (s *Service) RemoveUnavailability(id string) (bool, error) {
	ok, err := s.store.RemoveUnavailability(id)
	if err != nil {
		return false, err
	}
	if ok {
		log.Printf("[Service] Removed unavailability: %s", id)
	}
	s.invalidate()
	return ok, nil
}

// Status returns the full queue view with the current schedule.
func (s *Service) Status() *QueueStatus {
	schedule := s.coordinator.Schedule()

	projects := s.store.GetProjects()
	statuses := make([]ProjectStatus, 0, len(projects))
	for _, p := range projects {
		completed, total := s.store.GetProjectProgress(p.ID)
		statuses = append(statuses, ProjectStatus{
			Project:       *p,
			CompletedJobs: completed,
			TotalJobs:     total,
		})
	}

	return &QueueStatus{
		Projects:       statuses,
		Plates:         s.store.GetPlates(""),
		Jobs:           s.store.GetJobs("", ""),
		Schedule:       schedule.Jobs,
		ComputedAt:     schedule.ComputedAt,
		NextBreakpoint: schedule.NextBreakpoint,
		Windows:        s.store.GetUnavailabilityWindows(),
	}
}

// Schedule returns the current projected timeline.
func (s *Service) Schedule() *models.ScheduleResult {
	return s.coordinator.Schedule()
}

// Store exposes the underlying store for read-side consumers.
func (s *Service) Store() store.Store {
	return s.store
}

// GcodePath returns the on-disk gcode location for a plate.
func (s *Service) GcodePath(plate *models.Plate) string {
	return s.files.GcodePath(plate.GcodePath)
}
