package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for the automation jobs.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	quarters *prometheus.CounterVec
	emails   *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When
// the registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddQuarters increments the quarter counter for one automation action
// (transitioned, assigned, created, skipped).
func (m *Metrics) AddQuarters(action string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.quarters.WithLabelValues(action).Add(float64(count))
}

// AddEmails increments the queued-email counter for one notification type.
func (m *Metrics) AddEmails(emailType string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.emails.WithLabelValues(emailType).Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arden_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arden_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arden_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	quarters := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arden_vat_quarters_total",
		Help: "VAT quarters acted on by the automation, grouped by action.",
	}, []string{"action"})
	emails := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arden_vat_emails_queued_total",
		Help: "Notification emails queued by the automation, grouped by type.",
	}, []string{"type"})
	registerer.MustRegister(runs, failures, duration, quarters, emails)
	return &Metrics{runs: runs, failures: failures, duration: duration, quarters: quarters, emails: emails}
}
