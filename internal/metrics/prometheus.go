package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"seriesfetcher/internal/fetcher"
)

// Recorder implements collector.Metrics using Prometheus.
type Recorder struct {
	registry *prometheus.Registry

	attempts *prometheus.CounterVec
	retries  *prometheus.CounterVec
	backoff  *prometheus.CounterVec
	series   *prometheus.CounterVec
	points   *prometheus.GaugeVec
	duration *prometheus.HistogramVec
}

// New creates a recorder backed by its own registry, so repeated runs in
// one process (and tests) never collide on registration.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seriesfetcher_fetch_attempts_total",
				Help: "Total number of fetch attempts by outcome",
			},
			[]string{"series", "outcome"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seriesfetcher_retries_total",
				Help: "Total number of retries scheduled",
			},
			[]string{"series"},
		),
		backoff: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seriesfetcher_backoff_seconds_total",
				Help: "Total time spent waiting between attempts",
			},
			[]string{"series"},
		),
		series: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seriesfetcher_series_total",
				Help: "Total number of collected series by final status",
			},
			[]string{"status"},
		),
		points: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "seriesfetcher_series_points",
				Help: "Number of rows in the last successful collection of a series",
			},
			[]string{"series"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "seriesfetcher_fetch_duration_seconds",
				Help:    "Duration of single fetch attempts in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"series"},
		),
	}

	r.registry.MustRegister(r.attempts, r.retries, r.backoff, r.series, r.points, r.duration)
	return r
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveAttempt records one attempt and its latency.
func (r *Recorder) ObserveAttempt(series, outcome string, d time.Duration) {
	r.attempts.WithLabelValues(series, outcome).Inc()
	r.duration.WithLabelValues(series).Observe(d.Seconds())
}

// ObserveRetry records a scheduled retry and the delay before it.
func (r *Recorder) ObserveRetry(series string, _ int, delay time.Duration) {
	r.retries.WithLabelValues(series).Inc()
	r.backoff.WithLabelValues(series).Add(delay.Seconds())
}

// ObserveResult records the final outcome of a series.
func (r *Recorder) ObserveResult(res fetcher.Result) {
	r.series.WithLabelValues(string(res.Status)).Inc()
	if res.OK() {
		r.points.WithLabelValues(res.Name).Set(float64(len(res.Points)))
	}
}

// WriteTextfile exports all metrics in the node exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
