package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/printq/printq/pkg/models"
	"github.com/printq/printq/pkg/store"
)

// ScheduleProvider is the slice of the coordinator the collector reads.
type ScheduleProvider interface {
	Schedule() *models.ScheduleResult
}

// Collector derives gauges from store state at scrape time, so the
// metrics never drift from the persisted snapshot.
type Collector struct {
	store     store.Store
	schedules ScheduleProvider
	startTime time.Time

	uptimeDesc    *prometheus.Desc
	projectsDesc  *prometheus.Desc
	platesDesc    *prometheus.Desc
	jobsDesc      *prometheus.Desc
	windowsDesc   *prometheus.Desc
	scheduledDesc *prometheus.Desc
}

// NewCollector creates a collector over the store; schedules may be
// nil when no coordinator is running.
func NewCollector(s store.Store, schedules ScheduleProvider) *Collector {
	return &Collector{
		store:     s,
		schedules: schedules,
		startTime: time.Now(),
		uptimeDesc: prometheus.NewDesc(
			"printq_uptime_seconds", "Time since the daemon started", nil, nil),
		projectsDesc: prometheus.NewDesc(
			"printq_projects_total", "Number of projects", nil, nil),
		platesDesc: prometheus.NewDesc(
			"printq_plates_total", "Number of plates", nil, nil),
		jobsDesc: prometheus.NewDesc(
			"printq_jobs", "Number of jobs by status", []string{"status"}, nil),
		windowsDesc: prometheus.NewDesc(
			"printq_unavailability_windows_total", "Number of unavailability windows", nil, nil),
		scheduledDesc: prometheus.NewDesc(
			"printq_scheduled_jobs", "Jobs placed on the projected timeline", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.uptimeDesc
	ch <- c.projectsDesc
	ch <- c.platesDesc
	ch <- c.jobsDesc
	ch <- c.windowsDesc
	ch <- c.scheduledDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds())
	ch <- prometheus.MustNewConstMetric(c.projectsDesc, prometheus.GaugeValue,
		float64(len(c.store.GetProjects())))
	ch <- prometheus.MustNewConstMetric(c.platesDesc, prometheus.GaugeValue,
		float64(len(c.store.GetPlates(""))))
	ch <- prometheus.MustNewConstMetric(c.windowsDesc, prometheus.GaugeValue,
		float64(len(c.store.GetUnavailabilityWindows())))

	byStatus := map[models.JobStatus]int{
		models.JobStatusQueued:    0,
		models.JobStatusPrinting:  0,
		models.JobStatusCompleted: 0,
		models.JobStatusFailed:    0,
	}
	for _, job := range c.store.GetJobs("", "") {
		byStatus[job.Status]++
	}
	for status, count := range byStatus {
		ch <- prometheus.MustNewConstMetric(c.jobsDesc, prometheus.GaugeValue,
			float64(count), string(status))
	}

	if c.schedules != nil {
		ch <- prometheus.MustNewConstMetric(c.scheduledDesc, prometheus.GaugeValue,
			float64(len(c.schedules.Schedule().Jobs)))
	}
}

// Handler returns the /metrics endpoint backed by this collector.
func (c *Collector) Handler() http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(c)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
