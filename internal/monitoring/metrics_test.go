package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveMeasurement("demo", "ok", 2*time.Second)
	m.ObserveMeasurement("demo", "timeout", 10*time.Second)
	m.ShotSaved("open_polygon")
	m.ShotSaved("open_polygon")
	m.SessionStarted("backsight", 0.4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Measurements.WithLabelValues("demo", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Measurements.WithLabelValues("demo", "timeout")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ShotsSaved.WithLabelValues("open_polygon")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionActive))

	m.SessionEnded()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SessionActive))

	n, err := testutil.GatherAndCount(reg, "shootpoints_measurement_duration_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveMeasurement("demo", "ok", time.Second)
	m.ShotSaved("isolated_point")
	m.SessionStarted("azimuth", 0)
	m.SessionEnded()
}

func TestComponentLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) { got = format })
	Component("gts300")("sent %q", "C067")
	assert.Equal(t, "gts300: sent %q", got)
}
