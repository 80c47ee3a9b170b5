package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printq/printq/pkg/models"
)

// fixture builds one plate with a queued job and registers both.
type fixture struct {
	jobs   []*models.Job
	plates map[string]*models.Plate
}

func (f *fixture) add(name string, duration time.Duration, priority int) *models.Job {
	plate := models.NewPlate("project-1", name+".3mf", 1, name, "/gcode/"+name, int(duration.Seconds()))
	plate.Priority = priority
	f.plates[plate.ID] = plate
	job := models.NewJob(plate.ID)
	f.jobs = append(f.jobs, job)
	return job
}

func newFixture() *fixture {
	return &fixture{plates: map[string]*models.Plate{}}
}

func window(start, end time.Time) *models.UnavailabilityWindow {
	return models.NewUnavailabilityWindow(start, end)
}

func at(hour, min int) time.Time {
	return time.Date(2026, 3, 2, hour, min, 0, 0, time.UTC)
}

func TestEmptyQueue(t *testing.T) {
	result := Compute(Input{Now: at(18, 0)})

	assert.Empty(t, result.Jobs)
	assert.Nil(t, result.NextBreakpoint)
	assert.Equal(t, at(18, 0), result.Cursor)
}

func TestSingleJobBeforeOvernightWindow(t *testing.T) {
	f := newFixture()
	job := f.add("bracket", time.Hour, 0)
	now := at(18, 0)

	result := Compute(Input{
		QueuedJobs: f.jobs,
		PlatesByID: f.plates,
		Windows:    []*models.UnavailabilityWindow{window(at(22, 0), at(22, 0).Add(9 * time.Hour))},
		Now:        now,
	})

	require.Len(t, result.Jobs, 1)
	assert.Equal(t, job.ID, result.Jobs[0].JobID)
	assert.Equal(t, at(18, 0), result.Jobs[0].ScheduledStart)
	assert.Equal(t, at(19, 0), result.Jobs[0].ScheduledEnd)
	assert.False(t, result.Jobs[0].SpansUnavailability)

	// Latest start that still finishes before 22:00.
	require.NotNil(t, result.NextBreakpoint)
	assert.Equal(t, at(21, 0), *result.NextBreakpoint)
}

func TestPriorityOrderBackToBack(t *testing.T) {
	f := newFixture()
	low := f.add("low", 30*time.Minute, 0)
	high := f.add("high", 30*time.Minute, 10)
	mid := f.add("mid", 30*time.Minute, 5)
	now := at(9, 0)

	result := Compute(Input{QueuedJobs: f.jobs, PlatesByID: f.plates, Now: now})

	require.Len(t, result.Jobs, 3)
	assert.Equal(t, high.ID, result.Jobs[0].JobID)
	assert.Equal(t, mid.ID, result.Jobs[1].JobID)
	assert.Equal(t, low.ID, result.Jobs[2].JobID)

	assert.Equal(t, at(9, 0), result.Jobs[0].ScheduledStart)
	assert.Equal(t, at(9, 30), result.Jobs[1].ScheduledStart)
	assert.Equal(t, at(10, 0), result.Jobs[2].ScheduledStart)
	assert.Nil(t, result.NextBreakpoint)
}

func TestShortWindowToleratesSpanningJob(t *testing.T) {
	f := newFixture()
	job := f.add("vase", 2*time.Hour, 0)
	now := at(20, 0)

	result := Compute(Input{
		QueuedJobs: f.jobs,
		PlatesByID: f.plates,
		Windows:    []*models.UnavailabilityWindow{window(at(22, 0), at(23, 30))},
		Now:        now,
	})

	require.Len(t, result.Jobs, 1)
	assert.Equal(t, job.ID, result.Jobs[0].JobID)
	assert.Equal(t, at(20, 0), result.Jobs[0].ScheduledStart)
	assert.True(t, result.Jobs[0].SpansUnavailability)
}

func TestLongWindowPicksFittingJobOverPriority(t *testing.T) {
	f := newFixture()
	big := f.add("big", 3*time.Hour, 10)
	small := f.add("small", time.Hour, 5)
	now := at(20, 0)
	windowEnd := at(22, 0).Add(9 * time.Hour)

	result := Compute(Input{
		QueuedJobs: f.jobs,
		PlatesByID: f.plates,
		Windows:    []*models.UnavailabilityWindow{window(at(22, 0), windowEnd)},
		Now:        now,
	})

	require.Len(t, result.Jobs, 2)

	// The 1h job fits before 22:00 and goes first despite lower priority.
	assert.Equal(t, small.ID, result.Jobs[0].JobID)
	assert.Equal(t, at(20, 0), result.Jobs[0].ScheduledStart)
	assert.False(t, result.Jobs[0].SpansUnavailability)

	// The 3h job waits until the window ends rather than pausing across it.
	assert.Equal(t, big.ID, result.Jobs[1].JobID)
	assert.Equal(t, windowEnd, result.Jobs[1].ScheduledStart)
	assert.False(t, result.Jobs[1].SpansUnavailability)
}

func TestShortWindowPrefersLargestFitting(t *testing.T) {
	f := newFixture()
	small := f.add("small", 30*time.Minute, 10)
	large := f.add("large", 90*time.Minute, 0)
	now := at(20, 0)

	result := Compute(Input{
		QueuedJobs: f.jobs,
		PlatesByID: f.plates,
		Windows:    []*models.UnavailabilityWindow{window(at(22, 0), at(23, 0))},
		Now:        now,
	})

	require.Len(t, result.Jobs, 2)
	assert.Equal(t, large.ID, result.Jobs[0].JobID)
	assert.Equal(t, small.ID, result.Jobs[1].JobID)
}

func TestCursorStartsAtActiveJobEnd(t *testing.T) {
	f := newFixture()
	f.add("next", time.Hour, 0)
	now := at(10, 0)
	busyUntil := at(12, 30)

	result := Compute(Input{
		QueuedJobs:   f.jobs,
		PlatesByID:   f.plates,
		Now:          now,
		ActiveJobEnd: &busyUntil,
	})

	require.Len(t, result.Jobs, 1)
	assert.Equal(t, busyUntil, result.Jobs[0].ScheduledStart)
	assert.Equal(t, busyUntil, result.Cursor)
}

func TestCursorInsideWindowAdvancesToEnd(t *testing.T) {
	f := newFixture()
	f.add("morning", time.Hour, 0)
	now := at(23, 0)
	windowEnd := at(23, 0).Add(8 * time.Hour)

	result := Compute(Input{
		QueuedJobs: f.jobs,
		PlatesByID: f.plates,
		Windows:    []*models.UnavailabilityWindow{window(at(22, 0), windowEnd)},
		Now:        now,
	})

	require.Len(t, result.Jobs, 1)
	assert.Equal(t, windowEnd, result.Jobs[0].ScheduledStart)
}

func TestPastWindowsAreIgnored(t *testing.T) {
	f := newFixture()
	f.add("job", time.Hour, 0)
	now := at(12, 0)

	result := Compute(Input{
		QueuedJobs: f.jobs,
		PlatesByID: f.plates,
		Windows:    []*models.UnavailabilityWindow{window(at(8, 0), at(10, 0))},
		Now:        now,
	})

	require.Len(t, result.Jobs, 1)
	assert.Equal(t, at(12, 0), result.Jobs[0].ScheduledStart)
	assert.Nil(t, result.NextBreakpoint)
}

func TestHorizonCutsOffDistantJobs(t *testing.T) {
	f := newFixture()
	for i := 0; i < 10; i++ {
		f.add("day-long", 24*time.Hour, 0)
	}
	now := at(0, 0)

	result := Compute(Input{QueuedJobs: f.jobs, PlatesByID: f.plates, Now: now})

	assert.Len(t, result.Jobs, 7)
	for _, j := range result.Jobs {
		assert.True(t, j.ScheduledStart.Before(now.Add(ScheduleHorizon)))
	}
}

func TestDeterminismAndMonotonicity(t *testing.T) {
	f := newFixture()
	f.add("a", 2*time.Hour, 5)
	f.add("b", time.Hour, 5)
	f.add("c", 45*time.Minute, 0)
	now := at(8, 0)
	in := Input{
		QueuedJobs: f.jobs,
		PlatesByID: f.plates,
		Windows: []*models.UnavailabilityWindow{
			window(at(11, 0), at(12, 0)),
			window(at(20, 0), at(20, 0).Add(10*time.Hour)),
		},
		Now: now,
	}

	first := Compute(in)
	second := Compute(in)
	assert.Equal(t, first, second)

	for i := 1; i < len(first.Jobs); i++ {
		assert.False(t, first.Jobs[i].ScheduledStart.Before(first.Jobs[i-1].ScheduledEnd))
	}
}

func TestEqualPriorityPrefersLongerPrint(t *testing.T) {
	f := newFixture()
	short := f.add("short", time.Hour, 5)
	long := f.add("long", 2*time.Hour, 5)

	result := Compute(Input{QueuedJobs: f.jobs, PlatesByID: f.plates, Now: at(9, 0)})

	require.Len(t, result.Jobs, 2)
	assert.Equal(t, long.ID, result.Jobs[0].JobID)
	assert.Equal(t, short.ID, result.Jobs[1].JobID)
}
