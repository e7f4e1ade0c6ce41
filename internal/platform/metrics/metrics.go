package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	RecordsProcessed *prometheus.CounterVec
	FieldWarnings    *prometheus.CounterVec
	Runs             *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	LastQualityScore prometheus.Gauge
	LastRunRecords   prometheus.Gauge
	FeedPublished    *prometheus.CounterVec
}

// New registers the metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the metrics with reg. Tests pass a fresh registry.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RecordsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "libsync_records_processed_total",
			Help: "Records handled by synchronization runs, by outcome",
		}, []string{"outcome"}),
		FieldWarnings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "libsync_field_warnings_total",
			Help: "Field-level normalization warnings, by field",
		}, []string{"field"}),
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "libsync_runs_total",
			Help: "Synchronization runs, by final status",
		}, []string{"status"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "libsync_run_duration_seconds",
			Help:    "Wall-clock duration of synchronization runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		LastQualityScore: factory.NewGauge(prometheus.GaugeOpts{
			Name: "libsync_last_avg_quality_score",
			Help: "Average quality score of the most recent completed run",
		}),
		LastRunRecords: factory.NewGauge(prometheus.GaugeOpts{
			Name: "libsync_last_run_records",
			Help: "Valid records in the most recent completed run",
		}),
		FeedPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "libsync_feed_messages_total",
			Help: "Change feed messages, by result",
		}, []string{"result"}),
	}
}

// IncrementRecord counts one record outcome.
func (m *Metrics) IncrementRecord(outcome string) {
	m.RecordsProcessed.WithLabelValues(outcome).Inc()
}

// IncrementWarning counts one normalization warning.
func (m *Metrics) IncrementWarning(field string) {
	m.FieldWarnings.WithLabelValues(field).Inc()
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(status string, duration time.Duration) {
	m.Runs.WithLabelValues(status).Inc()
	m.RunDuration.Observe(duration.Seconds())
}

// SetLastRun publishes the quality summary of the latest run.
func (m *Metrics) SetLastRun(records int, avgQuality float64) {
	m.LastRunRecords.Set(float64(records))
	m.LastQualityScore.Set(avgQuality)
}

// AddFeedMessages counts change feed messages by result.
func (m *Metrics) AddFeedMessages(result string, n int) {
	m.FeedPublished.WithLabelValues(result).Add(float64(n))
}
