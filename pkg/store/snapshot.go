package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/printq/printq/pkg/models"
)

const snapshotVersion = 1

// snapshotData is the persisted document: one versioned snapshot with
// four flat arrays. Timestamps serialise as RFC 3339.
type snapshotData struct {
	Version  int                           `json:"version"`
	Projects []models.Project              `json:"projects"`
	Plates   []models.Plate                `json:"plates"`
	Jobs     []models.Job                  `json:"jobs"`
	Windows  []models.UnavailabilityWindow `json:"unavailability_windows"`
}

func (d *snapshotData) clone() *snapshotData {
	c := &snapshotData{
		Version:  d.Version,
		Projects: make([]models.Project, len(d.Projects)),
		Plates:   make([]models.Plate, len(d.Plates)),
		Jobs:     make([]models.Job, len(d.Jobs)),
		Windows:  make([]models.UnavailabilityWindow, len(d.Windows)),
	}
	copy(c.Projects, d.Projects)
	copy(c.Plates, d.Plates)
	copy(c.Jobs, d.Jobs)
	copy(c.Windows, d.Windows)
	return c
}

// SnapshotStore keeps the whole state in memory and persists it as a
// single JSON document. Mutations are applied to a working copy that
// only replaces the visible state after the document has been written,
// so a persist failure leaves readers on the previous snapshot.
type SnapshotStore struct {
	path string // empty means volatile (no persistence)
	mu   sync.RWMutex
	data *snapshotData
}

// NewSnapshotStore opens (or creates) a snapshot store backed by the
// given file. An empty path yields a volatile in-memory store.
func NewSnapshotStore(path string) (*SnapshotStore, error) {
	s := &SnapshotStore{
		path: path,
		data: &snapshotData{Version: snapshotVersion},
	}
	if path == "" {
		return s, nil
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var data snapshotData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	data.Version = snapshotVersion
	normalizeTimes(&data)
	s.data = &data
	return s, nil
}

// normalizeTimes coerces all loaded instants to UTC. Naive timestamps
// written by older snapshots come back in the local zone.
func normalizeTimes(d *snapshotData) {
	for i := range d.Projects {
		d.Projects[i].CreatedAt = d.Projects[i].CreatedAt.UTC()
	}
	for i := range d.Jobs {
		j := &d.Jobs[i]
		j.CreatedAt = j.CreatedAt.UTC()
		if j.StartedAt != nil {
			t := j.StartedAt.UTC()
			j.StartedAt = &t
		}
		if j.EndedAt != nil {
			t := j.EndedAt.UTC()
			j.EndedAt = &t
		}
	}
	for i := range d.Windows {
		d.Windows[i].Start = d.Windows[i].Start.UTC()
		d.Windows[i].End = d.Windows[i].End.UTC()
	}
}

// commit persists the working copy and, only on success, makes it the
// visible state. Callers must hold the write lock.
func (s *SnapshotStore) commit(next *snapshotData) error {
	if s.path != "" {
		raw, err := json.MarshalIndent(next, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot: %w", err)
		}
		tmp := s.path + ".tmp"
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return fmt.Errorf("failed to create snapshot directory: %w", err)
		}
		if err := os.WriteFile(tmp, raw, 0o644); err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
		if err := os.Rename(tmp, s.path); err != nil {
			return fmt.Errorf("failed to replace snapshot: %w", err)
		}
	}
	s.data = next
	return nil
}

// Project operations

func (s *SnapshotStore) CreateProject(name, notes string) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	project := models.NewProject(name, notes)
	next := s.data.clone()
	next.Projects = append(next.Projects, *project)
	if err := s.commit(next); err != nil {
		return nil, err
	}
	return project, nil
}

func (s *SnapshotStore) GetProject(id string) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.data.Projects {
		if s.data.Projects[i].ID == id {
			p := s.data.Projects[i]
			return &p, nil
		}
	}
	return nil, ErrProjectNotFound
}

func (s *SnapshotStore) GetProjects() []*models.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()

	projects := make([]*models.Project, 0, len(s.data.Projects))
	for i := range s.data.Projects {
		p := s.data.Projects[i]
		projects = append(projects, &p)
	}
	return projects
}

// DeleteProject removes a project together with its plates and their
// jobs in one transaction.
func (s *SnapshotStore) DeleteProject(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.data.clone()

	plateIDs := make(map[string]bool)
	for i := range next.Plates {
		if next.Plates[i].ProjectID == id {
			plateIDs[next.Plates[i].ID] = true
		}
	}

	jobs := next.Jobs[:0:0]
	for _, j := range next.Jobs {
		if !plateIDs[j.PlateID] {
			jobs = append(jobs, j)
		}
	}
	next.Jobs = jobs

	plates := next.Plates[:0:0]
	for _, p := range next.Plates {
		if p.ProjectID != id {
			plates = append(plates, p)
		}
	}
	next.Plates = plates

	found := false
	projects := next.Projects[:0:0]
	for _, p := range next.Projects {
		if p.ID == id {
			found = true
			continue
		}
		projects = append(projects, p)
	}
	if !found {
		return false, nil
	}
	next.Projects = projects

	if err := s.commit(next); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SnapshotStore) GetProjectProgress(projectID string) (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plateIDs := make(map[string]bool)
	total := 0
	for i := range s.data.Plates {
		p := &s.data.Plates[i]
		if p.ProjectID == projectID {
			plateIDs[p.ID] = true
			total += p.QuantityNeeded
		}
	}

	completed := 0
	for i := range s.data.Jobs {
		j := &s.data.Jobs[i]
		if plateIDs[j.PlateID] && j.Status == models.JobStatusCompleted {
			completed++
		}
	}
	return completed, total
}

// Plate operations

// AddPlates inserts plates and spawns quantity_needed queued jobs for
// each one.
func (s *SnapshotStore) AddPlates(plates []*models.Plate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.data.clone()
	for _, plate := range plates {
		next.Plates = append(next.Plates, *plate)
		for i := 0; i < plate.QuantityNeeded; i++ {
			next.Jobs = append(next.Jobs, *models.NewJob(plate.ID))
		}
	}
	return s.commit(next)
}

func (s *SnapshotStore) GetPlate(id string) (*models.Plate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.data.Plates {
		if s.data.Plates[i].ID == id {
			p := s.data.Plates[i]
			return &p, nil
		}
	}
	return nil, ErrPlateNotFound
}

func (s *SnapshotStore) GetPlates(projectID string) []*models.Plate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plates := make([]*models.Plate, 0, len(s.data.Plates))
	for i := range s.data.Plates {
		if projectID != "" && s.data.Plates[i].ProjectID != projectID {
			continue
		}
		p := s.data.Plates[i]
		plates = append(plates, &p)
	}
	return plates
}

// DeletePlate removes the plate and all jobs referencing it, in any
// status.
func (s *SnapshotStore) DeletePlate(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.data.clone()

	jobs := next.Jobs[:0:0]
	for _, j := range next.Jobs {
		if j.PlateID != id {
			jobs = append(jobs, j)
		}
	}
	next.Jobs = jobs

	found := false
	plates := next.Plates[:0:0]
	for _, p := range next.Plates {
		if p.ID == id {
			found = true
			continue
		}
		plates = append(plates, p)
	}
	if !found {
		return false, nil
	}
	next.Plates = plates

	if err := s.commit(next); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SnapshotStore) SetPlatePriority(id string, priority int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.data.clone()
	for i := range next.Plates {
		if next.Plates[i].ID == id {
			next.Plates[i].Priority = priority
			if err := s.commit(next); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

// SetPlateQuantity reconciles queued jobs against the new quantity:
// needed_queued = max(0, quantity - completed). A positive delta
// appends fresh queued jobs; a negative delta removes that many from
// the end of the queued list. Non-queued jobs are untouched.
func (s *SnapshotStore) SetPlateQuantity(id string, quantity int) (bool, error) {
	if quantity < 0 {
		return false, ErrNegativeQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.data.clone()

	plateIdx := -1
	for i := range next.Plates {
		if next.Plates[i].ID == id {
			plateIdx = i
			break
		}
	}
	if plateIdx < 0 {
		return false, nil
	}

	currentQueued := 0
	completed := 0
	for i := range next.Jobs {
		j := &next.Jobs[i]
		if j.PlateID != id {
			continue
		}
		switch j.Status {
		case models.JobStatusQueued:
			currentQueued++
		case models.JobStatusCompleted:
			completed++
		}
	}

	neededQueued := quantity - completed
	if neededQueued < 0 {
		neededQueued = 0
	}
	delta := neededQueued - currentQueued

	if delta > 0 {
		for i := 0; i < delta; i++ {
			next.Jobs = append(next.Jobs, *models.NewJob(id))
		}
	} else if delta < 0 {
		toRemove := -delta
		jobs := next.Jobs[:0:0]
		// Walk backwards so the most recently queued jobs go first.
		removed := make(map[int]bool)
		for i := len(next.Jobs) - 1; i >= 0 && toRemove > 0; i-- {
			j := &next.Jobs[i]
			if j.PlateID == id && j.Status == models.JobStatusQueued {
				removed[i] = true
				toRemove--
			}
		}
		for i := range next.Jobs {
			if !removed[i] {
				jobs = append(jobs, next.Jobs[i])
			}
		}
		next.Jobs = jobs
	}

	next.Plates[plateIdx].QuantityNeeded = quantity

	if err := s.commit(next); err != nil {
		return false, err
	}
	return true, nil
}

// Job operations

func (s *SnapshotStore) GetJob(id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.data.Jobs {
		if s.data.Jobs[i].ID == id {
			j := s.data.Jobs[i]
			return &j, nil
		}
	}
	return nil, ErrJobNotFound
}

func (s *SnapshotStore) GetJobs(plateID string, status models.JobStatus) []*models.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*models.Job, 0, len(s.data.Jobs))
	for i := range s.data.Jobs {
		j := s.data.Jobs[i]
		if plateID != "" && j.PlateID != plateID {
			continue
		}
		if status != "" && j.Status != status {
			continue
		}
		jobs = append(jobs, &j)
	}
	return jobs
}

func (s *SnapshotStore) GetQueuedJobs() []*models.Job {
	return s.GetJobs("", models.JobStatusQueued)
}

func (s *SnapshotStore) GetActiveJob() *models.Job {
	jobs := s.GetJobs("", models.JobStatusPrinting)
	if len(jobs) == 0 {
		return nil
	}
	return jobs[0]
}

func (s *SnapshotStore) StartJob(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.data.clone()
	for i := range next.Jobs {
		j := &next.Jobs[i]
		if j.ID == id && models.ValidateTransition(j.Status, models.JobStatusPrinting) == nil {
			now := time.Now().UTC()
			j.Status = models.JobStatusPrinting
			j.StartedAt = &now
			if err := s.commit(next); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

func (s *SnapshotStore) CompleteJob(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.data.clone()
	for i := range next.Jobs {
		j := &next.Jobs[i]
		if j.ID == id && models.ValidateTransition(j.Status, models.JobStatusCompleted) == nil {
			now := time.Now().UTC()
			j.Status = models.JobStatusCompleted
			j.EndedAt = &now
			if err := s.commit(next); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

// FailJob marks a printing job failed and atomically inserts a fresh
// queued job for the same plate. Returns the replacement job, or nil
// if the job was not printing.
func (s *SnapshotStore) FailJob(id, reason string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.data.clone()
	for i := range next.Jobs {
		j := &next.Jobs[i]
		if j.ID == id && models.ValidateTransition(j.Status, models.JobStatusFailed) == nil {
			now := time.Now().UTC()
			j.Status = models.JobStatusFailed
			j.EndedAt = &now
			j.FailureReason = reason
			replacement := models.NewJob(j.PlateID)
			next.Jobs = append(next.Jobs, *replacement)
			if err := s.commit(next); err != nil {
				return nil, err
			}
			return replacement, nil
		}
	}
	return nil, nil
}

// Unavailability windows

func (s *SnapshotStore) AddUnavailability(start, end time.Time) (*models.UnavailabilityWindow, error) {
	if !end.After(start) {
		return nil, ErrInvalidWindow
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	window := models.NewUnavailabilityWindow(start, end)
	next := s.data.clone()
	next.Windows = append(next.Windows, *window)
	if err := s.commit(next); err != nil {
		return nil, err
	}
	return window, nil
}

func (s *SnapshotStore) RemoveUnavailability(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.data.clone()
	found := false
	windows := next.Windows[:0:0]
	for _, w := range next.Windows {
		if w.ID == id {
			found = true
			continue
		}
		windows = append(windows, w)
	}
	if !found {
		return false, nil
	}
	next.Windows = windows

	if err := s.commit(next); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SnapshotStore) GetUnavailabilityWindows() []*models.UnavailabilityWindow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	windows := make([]*models.UnavailabilityWindow, 0, len(s.data.Windows))
	for i := range s.data.Windows {
		w := s.data.Windows[i]
		windows = append(windows, &w)
	}
	return windows
}

// Lifecycle

func (s *SnapshotStore) Close() error {
	return nil
}

func (s *SnapshotStore) HealthCheck() error {
	if s.path == "" {
		return nil
	}
	dir := filepath.Dir(s.path)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("snapshot directory unavailable: %w", err)
	}
	return nil
}
