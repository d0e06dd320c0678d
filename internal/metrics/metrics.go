// Package metrics exposes pipeline and scheduler counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds every collector. Each Recorder owns its registry so
// several can coexist in one process (tests).
type Recorder struct {
	registry *prometheus.Registry

	providerRequests *prometheus.CounterVec
	retries          *prometheus.CounterVec
	gateWait         prometheus.Histogram
	symbols          *prometheus.CounterVec
	barsWritten      *prometheus.CounterVec
	jobRuns          *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	skippedFires     *prometheus.CounterVec
	jobRunning       *prometheus.GaugeVec
}

// New creates a recorder with its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		registry: reg,
		providerRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tickervault_provider_requests_total",
			Help: "Provider calls by operation and outcome",
		}, []string{"op", "outcome"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tickervault_provider_retries_total",
			Help: "Provider calls retried after a transient failure",
		}, []string{"op"}),
		gateWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tickervault_gate_wait_seconds",
			Help:    "Time spent queued in the request gate",
			Buckets: prometheus.DefBuckets,
		}),
		symbols: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tickervault_symbols_processed_total",
			Help: "Symbols processed by region and result",
		}, []string{"region", "result"}),
		barsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tickervault_rows_written_total",
			Help: "Rows inserted or changed by kind",
		}, []string{"kind"}),
		jobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tickervault_job_runs_total",
			Help: "Scheduler job runs by job and status",
		}, []string{"job", "status"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tickervault_job_duration_seconds",
			Help:    "Scheduler job run duration",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"job"}),
		skippedFires: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tickervault_job_skipped_fires_total",
			Help: "Timer fires ignored because the job was still running",
		}, []string{"job"}),
		jobRunning: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tickervault_job_running",
			Help: "1 while a job is executing",
		}, []string{"job"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) RecordProviderRequest(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.providerRequests.WithLabelValues(op, outcome).Inc()
}

func (r *Recorder) RecordRetry(op string) { r.retries.WithLabelValues(op).Inc() }

func (r *Recorder) RecordGateWait(d time.Duration) { r.gateWait.Observe(d.Seconds()) }

func (r *Recorder) RecordSymbol(region string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	r.symbols.WithLabelValues(region, result).Inc()
}

func (r *Recorder) RecordRowsWritten(kind string, n int) {
	r.barsWritten.WithLabelValues(kind).Add(float64(n))
}

func (r *Recorder) RecordJobRun(job, status string, d time.Duration) {
	r.jobRuns.WithLabelValues(job, status).Inc()
	r.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (r *Recorder) RecordSkippedFire(job string) { r.skippedFires.WithLabelValues(job).Inc() }

func (r *Recorder) SetJobRunning(job string, running bool) {
	v := 0.0
	if running {
		v = 1
	}
	r.jobRunning.WithLabelValues(job).Set(v)
}
