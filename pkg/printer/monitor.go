package printer

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/printq/printq/pkg/models"
	"github.com/printq/printq/pkg/store"
)

const defaultPollInterval = 5 * time.Second

// unknownPrintFallback is the conservative busy estimate used when an
// externally started print reports no end time.
const unknownPrintFallback = time.Hour

// Refresher is implemented by sources that cache a device document and
// need an explicit re-fetch before reads.
type Refresher interface {
	Refresh(deviceID string) error
}

// Monitor bridges the external printer into the job queue. It watches
// the status signal for transitions, auto-starts the queued job that
// matches the reported task, auto-completes the tracked job when the
// print finishes, and tracks externally started prints it cannot match
// so the scheduler treats the printer as busy.
type Monitor struct {
	source           SignalSource
	deviceID         string
	store            store.Store
	onScheduleChange func()

	pollInterval time.Duration
	stopCh       chan struct{}
	doneCh       chan struct{}

	statusSignal   string
	endTimeSignal  string
	taskNameSignal string
	gcodeSignal    string

	mu                     sync.Mutex
	lastStatus             string
	unknownPrintDetectedAt *time.Time
	unknownPrintTaskName   string
}

// NewMonitor creates a monitor for one printer device. onScheduleChange
// is invoked after any store mutation or blocking-state change.
func NewMonitor(source SignalSource, deviceID string, st store.Store, onScheduleChange func()) *Monitor {
	return &Monitor{
		source:           source,
		deviceID:         deviceID,
		store:            st,
		onScheduleChange: onScheduleChange,
		pollInterval:     defaultPollInterval,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
}

// SetPollInterval overrides the status poll interval. Must be called
// before Start.
func (m *Monitor) SetPollInterval(d time.Duration) {
	m.pollInterval = d
}

// SetOnScheduleChange replaces the schedule-change callback. Must be
// called before Start.
func (m *Monitor) SetOnScheduleChange(fn func()) {
	m.onScheduleChange = fn
}

func (m *Monitor) notifyScheduleChange() {
	if m.onScheduleChange != nil {
		m.onScheduleChange()
	}
}

// Setup resolves the device's signals and reads the initial status.
// The status signal is mandatory; the others are best-effort.
func (m *Monitor) Setup() error {
	signals, err := m.source.Signals(m.deviceID)
	if err != nil {
		return fmt.Errorf("failed to enumerate signals for device %s: %w", m.deviceID, err)
	}

	for _, id := range signals {
		switch {
		case strings.HasSuffix(id, SuffixStatus):
			m.statusSignal = id
		case strings.HasSuffix(id, SuffixEndTime):
			m.endTimeSignal = id
		case strings.HasSuffix(id, SuffixTaskName):
			m.taskNameSignal = id
		case strings.HasSuffix(id, SuffixGcodeFilename):
			m.gcodeSignal = id
		}
	}

	if m.statusSignal == "" {
		return fmt.Errorf("no print status signal found for device %s", m.deviceID)
	}

	status, err := m.source.Read(m.statusSignal)
	if err != nil {
		return fmt.Errorf("failed to read printer status: %w", err)
	}
	m.mu.Lock()
	m.lastStatus = status
	m.mu.Unlock()

	log.Printf("[PrinterMonitor] Initialized for device %s, status: %s", m.deviceID, status)

	// The printer may already be mid-print when we come up.
	if status == StatusRunning {
		m.handlePrintStarted()
	}
	return nil
}

// Start begins polling the status signal until Stop is called.
func (m *Monitor) Start() {
	go func() {
		defer close(m.doneCh)
		ticker := time.NewTicker(m.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.Poll()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts polling and waits for the poll loop to exit.
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

// Poll reads the status signal once and reacts to a transition. Equal
// consecutive readings are ignored.
func (m *Monitor) Poll() {
	if r, ok := m.source.(Refresher); ok {
		if err := r.Refresh(m.deviceID); err != nil {
			log.Printf("[PrinterMonitor] Signal refresh failed: %v", err)
			return
		}
	}

	status, err := m.source.Read(m.statusSignal)
	if err != nil {
		log.Printf("[PrinterMonitor] Status read failed: %v", err)
		return
	}

	m.mu.Lock()
	old := m.lastStatus
	if status == old {
		m.mu.Unlock()
		return
	}
	m.lastStatus = status
	m.mu.Unlock()

	log.Printf("[PrinterMonitor] Status: %s -> %s", old, status)

	if status == StatusRunning {
		m.handlePrintStarted()
	} else if old == StatusRunning && (status == StatusFinish || status == StatusIdle) {
		m.handlePrintCompleted()
	}
}

func (m *Monitor) handlePrintStarted() {
	task := m.taskName()
	if task == "" {
		log.Printf("[PrinterMonitor] Print started but no task name available")
		return
	}

	if active := m.store.GetActiveJob(); active != nil {
		log.Printf("[PrinterMonitor] Print already tracked as active: %s", active.ID)
		return
	}

	if job := m.matchJobToTask(task); job != nil {
		if _, err := m.store.StartJob(job.ID); err != nil {
			log.Printf("[PrinterMonitor] Failed to start job %s: %v", job.ID, err)
			return
		}
		m.mu.Lock()
		m.unknownPrintDetectedAt = nil
		m.unknownPrintTaskName = ""
		m.mu.Unlock()
		log.Printf("[PrinterMonitor] Auto-started job %s for task: %s", job.ID, task)
	} else {
		now := time.Now().UTC()
		m.mu.Lock()
		m.unknownPrintDetectedAt = &now
		m.unknownPrintTaskName = task
		m.mu.Unlock()
		log.Printf("[PrinterMonitor] Unknown print detected, blocking scheduler: %s", task)
	}

	m.notifyScheduleChange()
}

func (m *Monitor) handlePrintCompleted() {
	m.mu.Lock()
	unknown := m.unknownPrintDetectedAt != nil
	task := m.unknownPrintTaskName
	if unknown {
		m.unknownPrintDetectedAt = nil
		m.unknownPrintTaskName = ""
	}
	m.mu.Unlock()

	if unknown {
		log.Printf("[PrinterMonitor] Unknown print completed: %s", task)
		m.notifyScheduleChange()
		return
	}

	active := m.store.GetActiveJob()
	if active == nil {
		log.Printf("[PrinterMonitor] Print completed but no active job tracked")
		return
	}

	if _, err := m.store.CompleteJob(active.ID); err != nil {
		log.Printf("[PrinterMonitor] Failed to complete job %s: %v", active.ID, err)
		return
	}
	log.Printf("[PrinterMonitor] Auto-completed job %s", active.ID)
	m.notifyScheduleChange()
}

// taskName returns the current print's name, preferring the explicit
// task-name signal over the gcode filename.
func (m *Monitor) taskName() string {
	for _, signal := range []string{m.taskNameSignal, m.gcodeSignal} {
		if signal == "" {
			continue
		}
		v, err := m.source.Read(signal)
		if err == nil && !isSentinel(v) {
			return v
		}
	}
	return ""
}

// stem strips the last extension, mirroring how slicers append
// suffixes to the uploaded filename.
func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// matchJobToTask finds the first queued job whose plate filename
// matches the reported task name. Matching is case-insensitive and
// tolerates slicer-appended suffixes like "_PLA_2h30m.gcode.3mf".
func (m *Monitor) matchJobToTask(task string) *models.Job {
	taskLower := strings.ToLower(task)
	taskStem := strings.ToLower(stem(task))

	for _, job := range m.store.GetQueuedJobs() {
		plate, err := m.store.GetPlate(job.PlateID)
		if err != nil {
			continue
		}

		sourceLower := strings.ToLower(plate.SourceFilename)
		if strings.Contains(taskLower, sourceLower) {
			return job
		}

		sourceStem := strings.ToLower(stem(plate.SourceFilename))
		if strings.Contains(taskLower, sourceStem) {
			return job
		}

		if strings.Contains(taskStem, sourceStem) || strings.Contains(sourceLower, taskStem) {
			return job
		}
	}
	return nil
}

// GetEndTime parses the printer's reported end time. Naive timestamps
// are taken as UTC. Returns nil on sentinels or parse failure.
func (m *Monitor) GetEndTime() *time.Time {
	if m.endTimeSignal == "" {
		return nil
	}
	v, err := m.source.Read(m.endTimeSignal)
	if err != nil || isSentinel(v) {
		return nil
	}

	if t, err := time.Parse(time.RFC3339, v); err == nil {
		t = t.UTC()
		return &t
	}
	if t, err := time.Parse("2006-01-02T15:04:05", v); err == nil {
		t = t.UTC()
		return &t
	}
	log.Printf("[PrinterMonitor] Invalid end time format: %s", v)
	return nil
}

// IsPrinting reports whether the last observed status was running.
func (m *Monitor) IsPrinting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastStatus == StatusRunning
}

// GetBlockingEndTime returns the estimated end of an unknown print, or
// nil when no unknown print is active. When the printer reports no end
// time the estimate is detection time plus one hour.
func (m *Monitor) GetBlockingEndTime() *time.Time {
	m.mu.Lock()
	detectedAt := m.unknownPrintDetectedAt
	m.mu.Unlock()

	if detectedAt == nil {
		return nil
	}
	if end := m.GetEndTime(); end != nil {
		return end
	}
	t := detectedAt.Add(unknownPrintFallback)
	return &t
}

// UnknownPrintTaskName returns the task name of the active unknown
// print, or empty.
func (m *Monitor) UnknownPrintTaskName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unknownPrintTaskName
}
