package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	assert.NoError(t, m.Track("stock:reconcile").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("stock:reconcile").End(boom), boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("stock:reconcile", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("stock:reconcile", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("stock:reconcile")))
}

func TestStockGauges(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.SetStockDrift(2)
	m.IncLowStockAlert()
	m.IncLowStockAlert()
	m.SetExpiringBatches(5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.drift))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.lowStock))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.expiring))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.SetStockDrift(1)
	m.IncLowStockAlert()
	m.SetExpiringBatches(1)
	assert.NoError(t, m.Track("x").End(nil))
}
