// Package metrics records run verdicts in a Prometheus registry that is
// written to a node_exporter textfile at the end of a run.
package metrics

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/virtqa/pool-create-check/pkg/errors"
)

// Recorder holds the run metrics
type Recorder struct {
	reg             *prometheus.Registry
	runs            *prometheus.CounterVec
	phaseDuration   *prometheus.HistogramVec
	cleanupWarnings prometheus.Counter
}

// NewRecorder creates a recorder with its own registry
func NewRecorder() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pool_create_check_runs_total",
				Help: "Total number of scenario runs by verdict and mutation.",
			},
			[]string{"status", "mutation"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pool_create_check_phase_duration_seconds",
				Help:    "Duration of scenario phases in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"phase"},
		),
		cleanupWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pool_create_check_cleanup_warnings_total",
			Help: "Total number of cleanup steps that failed.",
		}),
	}
	r.reg.MustRegister(r.runs, r.phaseDuration, r.cleanupWarnings)
	return r
}

// ObserveRun records one verdict with its phase timings and warning count
func (r *Recorder) ObserveRun(status, mutation string, timings map[string]time.Duration, warnings int) {
	r.runs.WithLabelValues(status, mutation).Inc()
	for phase, d := range timings {
		r.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
	}
	r.cleanupWarnings.Add(float64(warnings))
}

// WriteTextfile writes the registry to path. An empty path is a no-op.
func (r *Recorder) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		slog.Error("metrics_write_failed", "path", path, "error", err)
		return errors.Wrap(err, "failed to write metrics textfile")
	}
	slog.Info("metrics_written", "path", path)
	return nil
}
