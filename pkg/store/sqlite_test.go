package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printq/printq/pkg/models"
)

func newSQLiteTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "printq.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteProjectCRUD(t *testing.T) {
	s := newSQLiteTestStore(t)

	project, err := s.CreateProject("enclosure", "rev 2")
	require.NoError(t, err)

	got, err := s.GetProject(project.ID)
	require.NoError(t, err)
	assert.Equal(t, "enclosure", got.Name)
	assert.Equal(t, "rev 2", got.Notes)
	assert.Equal(t, time.UTC, got.CreatedAt.Location())

	_, err = s.GetProject("missing")
	assert.ErrorIs(t, err, ErrProjectNotFound)

	assert.Len(t, s.GetProjects(), 1)
}

func TestSQLiteAddPlatesAndQuantity(t *testing.T) {
	s := newSQLiteTestStore(t)
	project, _ := s.CreateProject("p", "")
	plate := addTestPlate(t, s, project.ID, 2)

	assert.Len(t, s.GetJobs(plate.ID, models.JobStatusQueued), 2)

	ok, err := s.SetPlateQuantity(plate.ID, 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, s.GetJobs(plate.ID, models.JobStatusQueued), 5)

	ok, err = s.SetPlateQuantity(plate.ID, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, s.GetJobs(plate.ID, models.JobStatusQueued), 1)

	got, err := s.GetPlate(plate.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.QuantityNeeded)

	ok, err = s.SetPlateQuantity("missing", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteFailJobReplacement(t *testing.T) {
	s := newSQLiteTestStore(t)
	project, _ := s.CreateProject("p", "")
	plate := addTestPlate(t, s, project.ID, 1)

	job := s.GetJobs(plate.ID, models.JobStatusQueued)[0]
	ok, err := s.StartJob(job.ID)
	require.NoError(t, err)
	require.True(t, ok)

	replacement, err := s.FailJob(job.ID, "filament runout")
	require.NoError(t, err)
	require.NotNil(t, replacement)
	assert.Equal(t, plate.ID, replacement.PlateID)

	failed, err := s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, failed.Status)
	assert.Equal(t, "filament runout", failed.FailureReason)
	assert.Len(t, s.GetJobs(plate.ID, models.JobStatusQueued), 1)
}

func TestSQLiteTerminalJobRejectsAllTransitions(t *testing.T) {
	s := newSQLiteTestStore(t)
	project, _ := s.CreateProject("p", "")
	plate := addTestPlate(t, s, project.ID, 1)

	job := s.GetJobs(plate.ID, models.JobStatusQueued)[0]

	ok, err := s.CompleteJob(job.ID)
	require.NoError(t, err)
	assert.False(t, ok, "queued jobs cannot complete")

	_, err = s.StartJob(job.ID)
	require.NoError(t, err)
	replacement, err := s.FailJob(job.ID, "nozzle clog")
	require.NoError(t, err)
	require.NotNil(t, replacement)

	// Failed is terminal.
	ok, err = s.StartJob(job.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.CompleteJob(job.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	again, err := s.FailJob(job.ID, "again")
	require.NoError(t, err)
	assert.Nil(t, again)

	failed, err := s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, failed.Status)
	assert.Equal(t, "nozzle clog", failed.FailureReason)
}

func TestSQLiteDeleteProjectCascades(t *testing.T) {
	s := newSQLiteTestStore(t)
	project, _ := s.CreateProject("doomed", "")
	plate := addTestPlate(t, s, project.ID, 3)

	ok, err := s.DeleteProject(project.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, s.GetPlates(project.ID))
	assert.Empty(t, s.GetJobs(plate.ID, ""))

	completed, total := s.GetProjectProgress(project.ID)
	assert.Equal(t, 0, completed)
	assert.Equal(t, 0, total)
}

func TestSQLiteWindowsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "printq.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)

	start := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)
	w, err := s.AddUnavailability(start, start.Add(9*time.Hour))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	windows := reopened.GetUnavailabilityWindows()
	require.Len(t, windows, 1)
	assert.Equal(t, w.ID, windows[0].ID)
	assert.True(t, windows[0].Start.Equal(start))
	assert.Equal(t, time.UTC, windows[0].Start.Location())
}
