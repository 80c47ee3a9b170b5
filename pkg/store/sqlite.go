package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/printq/printq/pkg/models"
)

// SQLiteStore is a SQLite-backed implementation of the data store
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// WAL for concurrent readers, one writer connection to avoid
	// SQLITE_BUSY, a busy timeout for the rest.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		notes TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS plates (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		source_filename TEXT NOT NULL,
		plate_number INTEGER NOT NULL,
		name TEXT NOT NULL,
		gcode_path TEXT NOT NULL,
		estimated_duration_seconds INTEGER NOT NULL,
		thumbnail_path TEXT NOT NULL DEFAULT '',
		quantity_needed INTEGER NOT NULL DEFAULT 1,
		priority INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		plate_id TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		ended_at DATETIME,
		failure_reason TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS unavailability_windows (
		id TEXT PRIMARY KEY,
		start DATETIME NOT NULL,
		end DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_plates_project ON plates(project_id);
	CREATE INDEX IF NOT EXISTS idx_jobs_plate ON jobs(plate_id);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Project operations

func (s *SQLiteStore) CreateProject(name, notes string) (*models.Project, error) {
	project := models.NewProject(name, notes)
	_, err := s.db.Exec(`
		INSERT INTO projects (id, name, created_at, notes) VALUES (?, ?, ?, ?)
	`, project.ID, project.Name, project.CreatedAt, project.Notes)
	if err != nil {
		return nil, err
	}
	return project, nil
}

func (s *SQLiteStore) GetProject(id string) (*models.Project, error) {
	var p models.Project
	err := s.db.QueryRow(`
		SELECT id, name, created_at, notes FROM projects WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &p.CreatedAt, &p.Notes)
	if err == sql.ErrNoRows {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (s *SQLiteStore) GetProjects() []*models.Project {
	rows, err := s.db.Query(`SELECT id, name, created_at, notes FROM projects ORDER BY created_at`)
	if err != nil {
		return []*models.Project{}
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt, &p.Notes); err != nil {
			continue
		}
		p.CreatedAt = p.CreatedAt.UTC()
		projects = append(projects, &p)
	}
	return projects
}

func (s *SQLiteStore) DeleteProject(id string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM jobs WHERE plate_id IN (SELECT id FROM plates WHERE project_id = ?)
	`, id); err != nil {
		return false, err
	}
	if _, err := tx.Exec(`DELETE FROM plates WHERE project_id = ?`, id); err != nil {
		return false, err
	}
	result, err := tx.Exec(`DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) GetProjectProgress(projectID string) (int, int) {
	var completed, total int
	s.db.QueryRow(`
		SELECT COUNT(*) FROM jobs
		WHERE status = ? AND plate_id IN (SELECT id FROM plates WHERE project_id = ?)
	`, models.JobStatusCompleted, projectID).Scan(&completed)
	s.db.QueryRow(`
		SELECT COALESCE(SUM(quantity_needed), 0) FROM plates WHERE project_id = ?
	`, projectID).Scan(&total)
	return completed, total
}

// Plate operations

func (s *SQLiteStore) AddPlates(plates []*models.Plate) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, plate := range plates {
		if _, err := tx.Exec(`
			INSERT INTO plates
			(id, project_id, source_filename, plate_number, name, gcode_path,
			 estimated_duration_seconds, thumbnail_path, quantity_needed, priority)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, plate.ID, plate.ProjectID, plate.SourceFilename, plate.PlateNumber,
			plate.Name, plate.GcodePath, plate.EstimatedDurationSeconds,
			plate.ThumbnailPath, plate.QuantityNeeded, plate.Priority); err != nil {
			return err
		}
		for i := 0; i < plate.QuantityNeeded; i++ {
			job := models.NewJob(plate.ID)
			if err := insertJob(tx, job); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func insertJob(tx *sql.Tx, job *models.Job) error {
	_, err := tx.Exec(`
		INSERT INTO jobs (id, plate_id, status, created_at, started_at, ended_at, failure_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.PlateID, job.Status, job.CreatedAt, job.StartedAt, job.EndedAt, job.FailureReason)
	return err
}

func (s *SQLiteStore) GetPlate(id string) (*models.Plate, error) {
	var p models.Plate
	err := s.db.QueryRow(`
		SELECT id, project_id, source_filename, plate_number, name, gcode_path,
		       estimated_duration_seconds, thumbnail_path, quantity_needed, priority
		FROM plates WHERE id = ?
	`, id).Scan(&p.ID, &p.ProjectID, &p.SourceFilename, &p.PlateNumber, &p.Name,
		&p.GcodePath, &p.EstimatedDurationSeconds, &p.ThumbnailPath,
		&p.QuantityNeeded, &p.Priority)
	if err == sql.ErrNoRows {
		return nil, ErrPlateNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) GetPlates(projectID string) []*models.Plate {
	query := `
		SELECT id, project_id, source_filename, plate_number, name, gcode_path,
		       estimated_duration_seconds, thumbnail_path, quantity_needed, priority
		FROM plates`
	args := []interface{}{}
	if projectID != "" {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY source_filename, plate_number`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return []*models.Plate{}
	}
	defer rows.Close()

	var plates []*models.Plate
	for rows.Next() {
		var p models.Plate
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.SourceFilename, &p.PlateNumber,
			&p.Name, &p.GcodePath, &p.EstimatedDurationSeconds, &p.ThumbnailPath,
			&p.QuantityNeeded, &p.Priority); err != nil {
			continue
		}
		plates = append(plates, &p)
	}
	return plates
}

func (s *SQLiteStore) DeletePlate(id string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM jobs WHERE plate_id = ?`, id); err != nil {
		return false, err
	}
	result, err := tx.Exec(`DELETE FROM plates WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) SetPlatePriority(id string, priority int) (bool, error) {
	result, err := s.db.Exec(`UPDATE plates SET priority = ? WHERE id = ?`, priority, id)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *SQLiteStore) SetPlateQuantity(id string, quantity int) (bool, error) {
	if quantity < 0 {
		return false, ErrNegativeQuantity
	}

	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM plates WHERE id = ?`, id).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}

	var currentQueued, completed int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM jobs WHERE plate_id = ? AND status = ?`,
		id, models.JobStatusQueued).Scan(&currentQueued); err != nil {
		return false, err
	}
	if err := tx.QueryRow(`SELECT COUNT(*) FROM jobs WHERE plate_id = ? AND status = ?`,
		id, models.JobStatusCompleted).Scan(&completed); err != nil {
		return false, err
	}

	neededQueued := quantity - completed
	if neededQueued < 0 {
		neededQueued = 0
	}
	delta := neededQueued - currentQueued

	if delta > 0 {
		for i := 0; i < delta; i++ {
			if err := insertJob(tx, models.NewJob(id)); err != nil {
				return false, err
			}
		}
	} else if delta < 0 {
		// Trim the most recently queued jobs first.
		if _, err := tx.Exec(`
			DELETE FROM jobs WHERE id IN (
				SELECT id FROM jobs WHERE plate_id = ? AND status = ?
				ORDER BY created_at DESC, rowid DESC LIMIT ?
			)
		`, id, models.JobStatusQueued, -delta); err != nil {
			return false, err
		}
	}

	if _, err := tx.Exec(`UPDATE plates SET quantity_needed = ? WHERE id = ?`, quantity, id); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// Job operations

func scanJob(row interface{ Scan(...interface{}) error }) (*models.Job, error) {
	var j models.Job
	var started, ended sql.NullTime
	if err := row.Scan(&j.ID, &j.PlateID, &j.Status, &j.CreatedAt, &started, &ended, &j.FailureReason); err != nil {
		return nil, err
	}
	j.CreatedAt = j.CreatedAt.UTC()
	if started.Valid {
		t := started.Time.UTC()
		j.StartedAt = &t
	}
	if ended.Valid {
		t := ended.Time.UTC()
		j.EndedAt = &t
	}
	return &j, nil
}

func (s *SQLiteStore) GetJob(id string) (*models.Job, error) {
	row := s.db.QueryRow(`
		SELECT id, plate_id, status, created_at, started_at, ended_at, failure_reason
		FROM jobs WHERE id = ?
	`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *SQLiteStore) GetJobs(plateID string, status models.JobStatus) []*models.Job {
	query := `
		SELECT id, plate_id, status, created_at, started_at, ended_at, failure_reason
		FROM jobs`
	var args []interface{}
	var conds []string
	if plateID != "" {
		conds = append(conds, `plate_id = ?`)
		args = append(args, plateID)
	}
	if status != "" {
		conds = append(conds, `status = ?`)
		args = append(args, status)
	}
	for i, c := range conds {
		if i == 0 {
			query += ` WHERE ` + c
		} else {
			query += ` AND ` + c
		}
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return []*models.Job{}
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs
}

func (s *SQLiteStore) GetQueuedJobs() []*models.Job {
	return s.GetJobs("", models.JobStatusQueued)
}

func (s *SQLiteStore) GetActiveJob() *models.Job {
	jobs := s.GetJobs("", models.JobStatusPrinting)
	if len(jobs) == 0 {
		return nil
	}
	return jobs[0]
}

// transitionJob moves a job to the target status when the transition
// table allows it. The status in the UPDATE's WHERE clause guards
// against a concurrent move since the read.
func (s *SQLiteStore) transitionJob(id string, to models.JobStatus, set string, args ...interface{}) (bool, error) {
	var from models.JobStatus
	err := s.db.QueryRow(`SELECT status FROM jobs WHERE id = ?`, id).Scan(&from)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if models.ValidateTransition(from, to) != nil {
		return false, nil
	}

	args = append([]interface{}{to}, args...)
	args = append(args, id, from)
	result, err := s.db.Exec(`UPDATE jobs SET status = ?`+set+` WHERE id = ? AND status = ?`, args...)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *SQLiteStore) StartJob(id string) (bool, error) {
	return s.transitionJob(id, models.JobStatusPrinting, `, started_at = ?`, time.Now().UTC())
}

func (s *SQLiteStore) CompleteJob(id string) (bool, error) {
	return s.transitionJob(id, models.JobStatusCompleted, `, ended_at = ?`, time.Now().UTC())
}

func (s *SQLiteStore) FailJob(id, reason string) (*models.Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var from models.JobStatus
	var plateID string
	err = tx.QueryRow(`SELECT status, plate_id FROM jobs WHERE id = ?`, id).Scan(&from, &plateID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if models.ValidateTransition(from, models.JobStatusFailed) != nil {
		return nil, nil
	}

	if _, err := tx.Exec(`
		UPDATE jobs SET status = ?, ended_at = ?, failure_reason = ? WHERE id = ?
	`, models.JobStatusFailed, time.Now().UTC(), reason, id); err != nil {
		return nil, err
	}

	replacement := models.NewJob(plateID)
	if err := insertJob(tx, replacement); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return replacement, nil
}

// Unavailability windows

func (s *SQLiteStore) AddUnavailability(start, end time.Time) (*models.UnavailabilityWindow, error) {
	if !end.After(start) {
		return nil, ErrInvalidWindow
	}
	window := models.NewUnavailabilityWindow(start, end)
	_, err := s.db.Exec(`
		INSERT INTO unavailability_windows (id, start, end) VALUES (?, ?, ?)
	`, window.ID, window.Start, window.End)
	if err != nil {
		return nil, err
	}
	return window, nil
}

func (s *SQLiteStore) RemoveUnavailability(id string) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM unavailability_windows WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *SQLiteStore) GetUnavailabilityWindows() []*models.UnavailabilityWindow {
	rows, err := s.db.Query(`SELECT id, start, end FROM unavailability_windows ORDER BY start`)
	if err != nil {
		return []*models.UnavailabilityWindow{}
	}
	defer rows.Close()

	var windows []*models.UnavailabilityWindow
	for rows.Next() {
		var w models.UnavailabilityWindow
		if err := rows.Scan(&w.ID, &w.Start, &w.End); err != nil {
			continue
		}
		w.Start = w.Start.UTC()
		w.End = w.End.UTC()
		windows = append(windows, &w)
	}
	return windows
}

// Lifecycle

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) HealthCheck() error {
	return s.db.Ping()
}
