package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	drift    prometheus.Gauge
	lowStock prometheus.Counter
	expiring prometheus.Gauge
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
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

// SetStockDrift records how many medicines the last reconcile found drifting.
func (m *Metrics) SetStockDrift(medicines int) {
	if m == nil {
		return
	}
	m.drift.Set(float64(medicines))
}

// IncLowStockAlert counts one low-stock alert.
func (m *Metrics) IncLowStockAlert() {
	if m == nil {
		return
	}
	m.lowStock.Inc()
}

// SetExpiringBatches records the batch count of the last expiry scan.
func (m *Metrics) SetExpiringBatches(n int) {
	if m == nil {
		return
	}
	m.expiring.Set(float64(n))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "medzillo_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "medzillo_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "medzillo_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	drift := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "medzillo_stock_drift_medicines",
		Help: "Medicines whose cached stock total differed from the batch sum at the last reconcile.",
	})
	lowStock := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "medzillo_stock_low_alerts_total",
		Help: "Low-stock alerts raised after committed stock changes.",
	})
	expiring := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "medzillo_stock_expiring_batches",
		Help: "Batches with stock expiring within the scan window at the last expiry scan.",
	})
	registerer.MustRegister(runs, failures, duration, drift, lowStock, expiring)
	return &Metrics{runs: runs, failures: failures, duration: duration, drift: drift, lowStock: lowStock, expiring: expiring}
}
