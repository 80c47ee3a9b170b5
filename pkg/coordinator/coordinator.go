package coordinator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/printq/printq/pkg/models"
	"github.com/printq/printq/pkg/scheduler"
	"github.com/printq/printq/pkg/store"
)

const defaultRefreshInterval = 30 * time.Second

// PrinterState is the slice of the printer adapter the coordinator
// needs: busy-until estimates for unknown and tracked prints.
type PrinterState interface {
	GetBlockingEndTime() *time.Time
	GetEndTime() *time.Time
}

// Coordinator owns the cached schedule. It recomputes only when the
// inputs' fingerprint changes or the cached result's breakpoint has
// passed, so callers can ask for the schedule as often as they like.
type Coordinator struct {
	store   store.Store
	printer PrinterState // may be nil when no device is configured

	refreshInterval time.Duration
	stopCh          chan struct{}
	doneCh          chan struct{}

	nowFn func() time.Time

	mu          sync.Mutex
	cached      *models.ScheduleResult
	fingerprint string
}

// New creates a coordinator over the given store and printer state.
func New(st store.Store, printer PrinterState) *Coordinator {
	return &Coordinator{
		store:           st,
		printer:         printer,
		refreshInterval: defaultRefreshInterval,
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
		nowFn:           time.Now,
	}
}

// Schedule returns the current schedule, recomputing it if the cache
// is missing, stale past its breakpoint, or built from different
// inputs.
func (c *Coordinator) Schedule() *models.ScheduleResult {
	now := c.nowFn().UTC()

	queued := c.store.GetQueuedJobs()
	plates := c.store.GetPlates("")
	windows := c.store.GetUnavailabilityWindows()
	active := c.store.GetActiveJob()

	var blocking *time.Time
	if c.printer != nil {
		blocking = c.printer.GetBlockingEndTime()
	}

	fp := fingerprint(queued, plates, windows, active, blocking)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && fp == c.fingerprint {
		if c.cached.NextBreakpoint == nil || now.Before(*c.cached.NextBreakpoint) {
			return c.cached
		}
	}

	platesByID := make(map[string]*models.Plate, len(plates))
	for _, p := range plates {
		platesByID[p.ID] = p
	}

	result := scheduler.Compute(scheduler.Input{
		QueuedJobs:   queued,
		PlatesByID:   platesByID,
		Windows:      windows,
		Now:          now,
		ActiveJobEnd: c.activeJobEnd(active, blocking),
	})

	c.cached = result
	c.fingerprint = fp
	log.Printf("[Coordinator] Schedule recomputed: %d jobs placed", len(result.Jobs))
	return result
}

// Invalidate drops the cache so the next caller (or tick) recomputes.
func (c *Coordinator) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.fingerprint = ""
	c.mu.Unlock()
}

// Start begins the periodic refresh tick until Stop is called.
func (c *Coordinator) Start() {
	go func() {
		defer close(c.doneCh)
		ticker := time.NewTicker(c.refreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.Schedule()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop halts the refresh tick and waits for it to exit.
func (c *Coordinator) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

// activeJobEnd resolves when the printer becomes free: an unknown
// print's blocking estimate wins, then the printer's reported ETA for
// the tracked job, then started_at plus the plate's estimate.
func (c *Coordinator) activeJobEnd(active *models.Job, blocking *time.Time) *time.Time {
	if blocking != nil {
		return blocking
	}
	if active == nil {
		return nil
	}
	if c.printer != nil {
		if end := c.printer.GetEndTime(); end != nil {
			return end
		}
	}
	if active.StartedAt != nil {
		plate, err := c.store.GetPlate(active.PlateID)
		if err == nil {
			end := active.StartedAt.Add(plate.Duration())
			return &end
		}
	}
	return nil
}

// fingerprint digests every input the scheduler reads, so any change
// that could alter the schedule changes the digest.
func fingerprint(queued []*models.Job, plates []*models.Plate, windows []*models.UnavailabilityWindow, active *models.Job, blocking *time.Time) string {
	h := sha256.New()

	for _, j := range queued {
		fmt.Fprintf(h, "job|%s|%s|%s\n", j.ID, j.PlateID, j.Status)
	}
	for _, p := range plates {
		fmt.Fprintf(h, "plate|%s|%d|%d\n", p.ID, p.Priority, p.EstimatedDurationSeconds)
	}
	for _, w := range windows {
		fmt.Fprintf(h, "window|%s|%s|%s\n", w.ID, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	}

	if active != nil {
		fmt.Fprintf(h, "active|%s\n", active.ID)
	} else {
		fmt.Fprintf(h, "active|-\n")
	}
	if blocking != nil {
		fmt.Fprintf(h, "blocking|%s\n", blocking.Format(time.RFC3339))
	} else {
		fmt.Fprintf(h, "blocking|-\n")
	}

	return hex.EncodeToString(h.Sum(nil))
}
