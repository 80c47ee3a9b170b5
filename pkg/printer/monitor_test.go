package printer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printq/printq/pkg/models"
	"github.com/printq/printq/pkg/store"
)

// fakeSource serves signal values from a map.
type fakeSource struct {
	values map[string]string
}

func (f *fakeSource) Signals(deviceID string) ([]string, error) {
	ids := make([]string, 0, len(f.values))
	for id := range f.values {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeSource) Read(id string) (string, error) {
	if v, ok := f.values[id]; ok {
		return v, nil
	}
	return "unavailable", nil
}

func (f *fakeSource) set(id, value string) {
	f.values[id] = value
}

type monitorFixture struct {
	source  *fakeSource
	store   store.Store
	monitor *Monitor
	changes int
}

func newMonitorFixture(t *testing.T, initialStatus string) *monitorFixture {
	t.Helper()
	s, err := store.NewSnapshotStore("")
	require.NoError(t, err)

	f := &monitorFixture{
		source: &fakeSource{values: map[string]string{
			"sensor.x1c_print_status":   initialStatus,
			"sensor.x1c_end_time":       "unknown",
			"sensor.x1c_task_name":      "unknown",
			"sensor.x1c_gcode_filename": "unknown",
		}},
		store: s,
	}
	f.monitor = NewMonitor(f.source, "x1c", s, func() { f.changes++ })
	require.NoError(t, f.monitor.Setup())
	return f
}

func (f *monitorFixture) addQueuedJob(t *testing.T, sourceFilename string) *models.Job {
	t.Helper()
	plate := models.NewPlate("project-1", sourceFilename, 1, stem(sourceFilename), "/gcode/p1", 3600)
	require.NoError(t, f.store.AddPlates([]*models.Plate{plate}))
	return f.store.GetJobs(plate.ID, models.JobStatusQueued)[0]
}

func TestSetupRequiresStatusSignal(t *testing.T) {
	s, err := store.NewSnapshotStore("")
	require.NoError(t, err)

	source := &fakeSource{values: map[string]string{"sensor.x1c_end_time": "unknown"}}
	m := NewMonitor(source, "x1c", s, func() {})
	assert.Error(t, m.Setup())
}

func TestRunningTransitionStartsMatchingJob(t *testing.T) {
	f := newMonitorFixture(t, StatusIdle)
	job := f.addQueuedJob(t, "bracket.3mf")

	f.source.set("sensor.x1c_task_name", "bracket_PLA_2h30m.gcode.3mf")
	f.source.set("sensor.x1c_print_status", StatusRunning)
	f.monitor.Poll()

	active := f.store.GetActiveJob()
	require.NotNil(t, active)
	assert.Equal(t, job.ID, active.ID)
	assert.Equal(t, 1, f.changes)
	assert.Nil(t, f.monitor.GetBlockingEndTime())
	assert.True(t, f.monitor.IsPrinting())
}

func TestRunningTransitionWithUnknownTaskBlocks(t *testing.T) {
	f := newMonitorFixture(t, StatusIdle)
	f.addQueuedJob(t, "bracket.3mf")

	f.source.set("sensor.x1c_task_name", "mystery_benchy.gcode")
	f.source.set("sensor.x1c_print_status", StatusRunning)
	f.monitor.Poll()

	assert.Nil(t, f.store.GetActiveJob())
	assert.Equal(t, "mystery_benchy.gcode", f.monitor.UnknownPrintTaskName())
	assert.Equal(t, 1, f.changes)

	// No end time reported: conservative one-hour estimate.
	blocking := f.monitor.GetBlockingEndTime()
	require.NotNil(t, blocking)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Hour), *blocking, 5*time.Second)
}

func TestBlockingEndTimePrefersReportedEndTime(t *testing.T) {
	f := newMonitorFixture(t, StatusIdle)

	f.source.set("sensor.x1c_task_name", "mystery.gcode")
	f.source.set("sensor.x1c_end_time", "2026-03-02T23:15:00Z")
	f.source.set("sensor.x1c_print_status", StatusRunning)
	f.monitor.Poll()

	blocking := f.monitor.GetBlockingEndTime()
	require.NotNil(t, blocking)
	assert.Equal(t, time.Date(2026, 3, 2, 23, 15, 0, 0, time.UTC), *blocking)
}

func TestFinishTransitionCompletesActiveJob(t *testing.T) {
	f := newMonitorFixture(t, StatusIdle)
	job := f.addQueuedJob(t, "bracket.3mf")

	f.source.set("sensor.x1c_task_name", "bracket.3mf")
	f.source.set("sensor.x1c_print_status", StatusRunning)
	f.monitor.Poll()
	require.NotNil(t, f.store.GetActiveJob())

	f.source.set("sensor.x1c_print_status", StatusFinish)
	f.monitor.Poll()

	assert.Nil(t, f.store.GetActiveJob())
	done, err := f.store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	assert.Equal(t, 2, f.changes)
}

func TestFinishTransitionClearsUnknownPrint(t *testing.T) {
	f := newMonitorFixture(t, StatusIdle)

	f.source.set("sensor.x1c_task_name", "mystery.gcode")
	f.source.set("sensor.x1c_print_status", StatusRunning)
	f.monitor.Poll()
	require.NotNil(t, f.monitor.GetBlockingEndTime())

	f.source.set("sensor.x1c_print_status", StatusIdle)
	f.monitor.Poll()

	assert.Nil(t, f.monitor.GetBlockingEndTime())
	assert.Equal(t, "", f.monitor.UnknownPrintTaskName())
	assert.Equal(t, 2, f.changes)
}

func TestRepeatedStatusIsIgnored(t *testing.T) {
	f := newMonitorFixture(t, StatusIdle)
	f.addQueuedJob(t, "bracket.3mf")

	f.source.set("sensor.x1c_task_name", "bracket.3mf")
	f.source.set("sensor.x1c_print_status", StatusRunning)
	f.monitor.Poll()
	f.monitor.Poll()

	assert.Equal(t, 1, f.changes)
}

func TestRunningWhileJobAlreadyActiveIsIgnored(t *testing.T) {
	f := newMonitorFixture(t, StatusIdle)
	job := f.addQueuedJob(t, "bracket.3mf")
	other := f.addQueuedJob(t, "lid.3mf")
	_, err := f.store.StartJob(job.ID)
	require.NoError(t, err)

	f.source.set("sensor.x1c_task_name", "lid.3mf")
	f.source.set("sensor.x1c_print_status", StatusRunning)
	f.monitor.Poll()

	// The already-active job keeps ownership; the matching queued job
	// is untouched and no callback fires.
	queued, err := f.store.GetJob(other.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, queued.Status)
	assert.Equal(t, 0, f.changes)
}

func TestSetupAutoStartsWhenAlreadyRunning(t *testing.T) {
	s, err := store.NewSnapshotStore("")
	require.NoError(t, err)
	plate := models.NewPlate("project-1", "bracket.3mf", 1, "bracket", "/gcode/p1", 3600)
	require.NoError(t, s.AddPlates([]*models.Plate{plate}))

	source := &fakeSource{values: map[string]string{
		"sensor.x1c_print_status": StatusRunning,
		"sensor.x1c_task_name":    "bracket.3mf",
	}}
	changes := 0
	m := NewMonitor(source, "x1c", s, func() { changes++ })
	require.NoError(t, m.Setup())

	assert.NotNil(t, s.GetActiveJob())
	assert.Equal(t, 1, changes)
}

func TestMatchRules(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		task     string
		expected bool
	}{
		{"exact filename in task", "bracket.3mf", "bracket.3mf", true},
		{"case insensitive", "Bracket.3mf", "BRACKET.3MF", true},
		{"slicer suffix after stem", "bracket.3mf", "bracket_PLA_2h30m.gcode.3mf", true},
		{"task stem inside source", "bracket_v2_final.3mf", "bracket_v2_final", true},
		{"unrelated task", "bracket.3mf", "benchy.gcode", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMonitorFixture(t, StatusIdle)
			f.addQueuedJob(t, tt.source)

			f.source.set("sensor.x1c_task_name", tt.task)
			f.source.set("sensor.x1c_print_status", StatusRunning)
			f.monitor.Poll()

			if tt.expected {
				assert.NotNil(t, f.store.GetActiveJob())
			} else {
				assert.Nil(t, f.store.GetActiveJob())
				assert.Equal(t, tt.task, f.monitor.UnknownPrintTaskName())
			}
		})
	}
}

func TestGetEndTimeParsing(t *testing.T) {
	f := newMonitorFixture(t, StatusIdle)

	f.source.set("sensor.x1c_end_time", "2026-03-02T21:00:00+01:00")
	end := f.monitor.GetEndTime()
	require.NotNil(t, end)
	assert.Equal(t, time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC), *end)

	// Naive timestamps are taken as UTC.
	f.source.set("sensor.x1c_end_time", "2026-03-02T21:00:00")
	end = f.monitor.GetEndTime()
	require.NotNil(t, end)
	assert.Equal(t, time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC), *end)

	f.source.set("sensor.x1c_end_time", "unavailable")
	assert.Nil(t, f.monitor.GetEndTime())

	f.source.set("sensor.x1c_end_time", "in 2 hours")
	assert.Nil(t, f.monitor.GetEndTime())
}
