package scheduler

import (
	"sort"
	"time"

	"github.com/printq/printq/pkg/models"
)

const (
	// LongUnavailabilityThreshold separates short gaps (cram the largest
	// job that fits, tolerate crossing) from long ones like overnight
	// quiet hours (pick any fitting job, never start a print that would
	// pause across the window).
	LongUnavailabilityThreshold = 3 * time.Hour

	// ScheduleHorizon bounds the projected timeline. Jobs that would
	// start beyond it are left out of the result.
	ScheduleHorizon = 7 * 24 * time.Hour
)

// Input is everything the scheduler looks at. It never reads the store
// or the clock itself, so equal inputs always yield equal outputs.
type Input struct {
	QueuedJobs []*models.Job
	PlatesByID map[string]*models.Plate
	Windows    []*models.UnavailabilityWindow
	Now        time.Time

	// ActiveJobEnd, when set, is the instant the printer is expected to
	// become free; placement starts there instead of Now.
	ActiveJobEnd *time.Time
}

// interval is a half-open [start, end) unavailability span.
type interval struct {
	start time.Time
	end   time.Time
}

// candidate pairs a queued job with its plate for placement.
type candidate struct {
	job   *models.Job
	plate *models.Plate
}

func (c candidate) duration() time.Duration {
	return c.plate.Duration()
}

// Compute walks a time cursor forward from max(now, active_job_end),
// placing queued jobs around unavailability windows, and returns the
// ordered timeline plus the next instant at which it could change.
func Compute(in Input) *models.ScheduleResult {
	now := in.Now.UTC()

	startCursor := now
	if in.ActiveJobEnd != nil && in.ActiveJobEnd.After(now) {
		startCursor = in.ActiveJobEnd.UTC()
	}

	windows := parseWindows(in.Windows, now)
	remaining := sortCandidates(in.QueuedJobs, in.PlatesByID)

	result := &models.ScheduleResult{
		Jobs:       []models.ScheduledJob{},
		ComputedAt: now,
		Cursor:     startCursor,
	}

	cursor := startCursor
	horizon := now.Add(ScheduleHorizon)

	for len(remaining) > 0 && cursor.Before(horizon) {
		if w := windowContaining(windows, cursor); w != nil {
			cursor = w.end
			continue
		}

		next := nextWindowAfter(windows, cursor)
		if next == nil {
			// No future window: place everything back-to-back.
			for _, c := range remaining {
				if !cursor.Before(horizon) {
					break
				}
				result.Jobs = append(result.Jobs, place(c, cursor, false))
				cursor = cursor.Add(c.duration())
			}
			remaining = nil
			break
		}

		available := next.start.Sub(cursor)
		unavailDuration := next.end.Sub(next.start)

		if unavailDuration >= LongUnavailabilityThreshold {
			// Long gap ahead: prefer any job that completes before it,
			// even a low-priority one. Never start a print that would
			// pause across a long window; wait it out instead.
			if idx := firstFitting(remaining, available); idx >= 0 {
				c := remaining[idx]
				result.Jobs = append(result.Jobs, place(c, cursor, false))
				cursor = cursor.Add(c.duration())
				remaining = append(remaining[:idx], remaining[idx+1:]...)
			} else {
				cursor = next.end
			}
			continue
		}

		// Short gap ahead: cram the largest job that still completes
		// before it. If nothing fits, crossing a short pause is a
		// tolerated user policy, so take the highest-priority job.
		if idx := largestFitting(remaining, available); idx >= 0 {
			c := remaining[idx]
			result.Jobs = append(result.Jobs, place(c, cursor, false))
			cursor = cursor.Add(c.duration())
			remaining = append(remaining[:idx], remaining[idx+1:]...)
		} else {
			c := remaining[0]
			result.Jobs = append(result.Jobs, place(c, cursor, true))
			cursor = cursor.Add(c.duration())
			remaining = remaining[1:]
		}
	}

	result.NextBreakpoint = computeBreakpoint(result.Jobs, windows, startCursor, now)
	return result
}

// parseWindows clips each window to now, drops the fully past ones and
// sorts ascending by start.
func parseWindows(windows []*models.UnavailabilityWindow, now time.Time) []interval {
	parsed := make([]interval, 0, len(windows))
	for _, w := range windows {
		start := w.Start.UTC()
		end := w.End.UTC()
		if !end.After(now) {
			continue
		}
		if start.Before(now) {
			start = now
		}
		parsed = append(parsed, interval{start: start, end: end})
	}
	sort.Slice(parsed, func(i, j int) bool {
		return parsed[i].start.Before(parsed[j].start)
	})
	return parsed
}

// sortCandidates resolves jobs to plates and orders them by descending
// priority, then descending duration, then job creation time. Jobs
// whose plate is missing are dropped.
func sortCandidates(jobs []*models.Job, platesByID map[string]*models.Plate) []candidate {
	candidates := make([]candidate, 0, len(jobs))
	for _, job := range jobs {
		plate, ok := platesByID[job.PlateID]
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{job: job, plate: plate})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.plate.Priority != b.plate.Priority {
			return a.plate.Priority > b.plate.Priority
		}
		if a.plate.EstimatedDurationSeconds != b.plate.EstimatedDurationSeconds {
			return a.plate.EstimatedDurationSeconds > b.plate.EstimatedDurationSeconds
		}
		return a.job.CreatedAt.Before(b.job.CreatedAt)
	})
	return candidates
}

func windowContaining(windows []interval, t time.Time) *interval {
	for i := range windows {
		w := &windows[i]
		if !t.Before(w.start) && t.Before(w.end) {
			return w
		}
	}
	return nil
}

func nextWindowAfter(windows []interval, t time.Time) *interval {
	for i := range windows {
		if windows[i].start.After(t) {
			return &windows[i]
		}
	}
	return nil
}

// firstFitting returns the index of the first candidate, in priority
// order, that completes strictly before the gap closes.
func firstFitting(remaining []candidate, available time.Duration) int {
	for i, c := range remaining {
		if c.duration() < available {
			return i
		}
	}
	return -1
}

// largestFitting returns the index of the longest candidate that still
// completes strictly before the gap closes; priority order breaks ties.
func largestFitting(remaining []candidate, available time.Duration) int {
	best := -1
	var bestDuration time.Duration
	for i, c := range remaining {
		d := c.duration()
		if d < available && d > bestDuration {
			best = i
			bestDuration = d
		}
	}
	return best
}

func place(c candidate, start time.Time, spans bool) models.ScheduledJob {
	return models.ScheduledJob{
		JobID:                    c.job.ID,
		PlateID:                  c.plate.ID,
		PlateName:                c.plate.Name,
		PlateNumber:              c.plate.PlateNumber,
		SourceFilename:           c.plate.SourceFilename,
		ScheduledStart:           start,
		ScheduledEnd:             start.Add(c.duration()),
		EstimatedDurationSeconds: c.plate.EstimatedDurationSeconds,
		SpansUnavailability:      spans,
		ThumbnailPath:            c.plate.ThumbnailPath,
	}
}

// computeBreakpoint derives the earliest future instant at which the
// schedule could legally change even without input changes: the latest
// moment the first job can still start and finish before the next
// window, or the window start itself.
func computeBreakpoint(jobs []models.ScheduledJob, windows []interval, startCursor, now time.Time) *time.Time {
	if len(jobs) == 0 {
		return nil
	}
	next := nextWindowAfter(windows, startCursor)
	if next == nil {
		return nil
	}

	first := jobs[0]
	if first.ScheduledEnd.Before(next.start) {
		bp := next.start.Add(-time.Duration(first.EstimatedDurationSeconds) * time.Second)
		if bp.Before(now) {
			bp = next.start
		}
		return &bp
	}
	bp := next.start
	return &bp
}
