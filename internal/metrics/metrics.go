// Package metrics exports scheduler outcomes as Prometheus metrics, either
// scraped over HTTP or written to a node_exporter textfile after each run.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flemzord/cronrun/internal/cron"
	"github.com/flemzord/cronrun/internal/lock"
)

const namespace = "cronrun"

// Config configures Metrics.
type Config struct {
	// Textfile, when set, is rewritten after every recorded run.
	Textfile string

	// Locks adds lock gauges collected at scrape time.
	Locks *lock.Manager
	Clock clockwork.Clock

	// Process adds the standard Go and process collectors.
	Process bool

	Logger *slog.Logger
}

// Metrics owns a private Prometheus registry and implements cron.Recorder.
type Metrics struct {
	registry *prometheus.Registry
	textfile string
	logger   *slog.Logger

	runs        *prometheus.CounterVec
	results     *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastRun     prometheus.Gauge
	lastSuccess *prometheus.GaugeVec
}

// Compile-time interface check.
var _ cron.Recorder = (*Metrics)(nil)

// New creates the collectors and registers them.
func New(cfg Config) *Metrics {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		textfile: cfg.Textfile,
		logger:   logger.With("component", "metrics"),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Scheduler runs that held the global lock.",
		}, []string{"forced"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_results_total",
			Help:      "Job execution attempts by outcome.",
		}, []string{"job", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall-clock duration of executed jobs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"job"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last scheduler run.",
		}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful execution per job.",
		}, []string{"job"}),
	}

	m.registry.MustRegister(m.runs, m.results, m.duration, m.lastRun, m.lastSuccess)
	if cfg.Locks != nil {
		m.registry.MustRegister(NewLockCollector(cfg.Locks, cfg.Clock))
	}
	if cfg.Process {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordRun implements cron.Recorder.
func (m *Metrics) RecordRun(_ context.Context, r cron.Report) error {
	m.runs.WithLabelValues(strconv.FormatBool(r.Force)).Inc()
	m.lastRun.Set(float64(r.At.Unix()))

	for name, res := range r.Results {
		m.results.WithLabelValues(name, res.Status()).Inc()
		if res.Skipped {
			continue
		}
		m.duration.WithLabelValues(name).Observe(res.Duration().Seconds())
		if res.Success {
			m.lastSuccess.WithLabelValues(name).Set(float64(res.FinishedAt.Unix()))
		}
	}

	if m.textfile == "" {
		return nil
	}
	return m.WriteTextfile()
}

// WriteTextfile writes the registry to the configured textfile. The write
// is atomic so node_exporter never reads a partial file.
func (m *Metrics) WriteTextfile() error {
	if m.textfile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.textfile, m.registry); err != nil {
		return err
	}
	m.logger.Debug("metrics: textfile written", "path", m.textfile)
	return nil
}
