package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "shootpoints"

// Metrics holds the Prometheus counters and histograms for instrument and
// survey activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Measurements        *prometheus.CounterVec   // labels: model, outcome={ok,timeout,protocol,cancelled,busy,error}
	MeasurementDuration *prometheus.HistogramVec // labels: model
	ShotsSaved          *prometheus.CounterVec   // labels: geometry
	SessionsStarted     *prometheus.CounterVec   // labels: mode
	BacksightVariance   prometheus.Histogram
	SessionActive       prometheus.Gauge
}

// NewMetrics creates the metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Measurements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_total",
			Help:      "Instrument measurements by model and outcome.",
		}, []string{"model", "outcome"}),
		MeasurementDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "measurement_duration_seconds",
			Help:      "Time from measure command to parsed reading.",
			Buckets:   []float64{0.5, 1, 2, 3, 5, 7.5, 10, 15},
		}, []string{"model"}),
		ShotsSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shots_saved_total",
			Help:      "Shots persisted by grouping geometry.",
		}, []string{"geometry"}),
		SessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Surveying sessions started by station setup mode.",
		}, []string{"mode"}),
		BacksightVariance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backsight_variance_cm",
			Help:      "Difference between stored and measured backsight distance.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5},
		}),
		SessionActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_active",
			Help:      "1 while a surveying session is open.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Measurements,
			m.MeasurementDuration,
			m.ShotsSaved,
			m.SessionsStarted,
			m.BacksightVariance,
			m.SessionActive,
		)
	}
	return m
}

// ObserveMeasurement records one measurement attempt.
func (m *Metrics) ObserveMeasurement(model, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Measurements.WithLabelValues(model, outcome).Inc()
	if outcome == "ok" {
		m.MeasurementDuration.WithLabelValues(model).Observe(d.Seconds())
	}
}

// ShotSaved records a persisted shot.
func (m *Metrics) ShotSaved(geometry string) {
	if m == nil {
		return
	}
	m.ShotsSaved.WithLabelValues(geometry).Inc()
}

// SessionStarted records a session start and marks a session active.
func (m *Metrics) SessionStarted(mode string, backsightVarianceCM float64) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(mode).Inc()
	if mode == "backsight" {
		m.BacksightVariance.Observe(backsightVarianceCM)
	}
	m.SessionActive.Set(1)
}

// SessionEnded clears the active session gauge.
func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.SessionActive.Set(0)
}
