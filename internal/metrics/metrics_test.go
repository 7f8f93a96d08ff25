package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncBooking("success")
	m.IncBooking("success")
	m.IncBooking("capacity_exhausted")
	m.IncCancellation("patient", false)
	m.IncCancellation("admission", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BookingRequests.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BookingRequests.WithLabelValues("capacity_exhausted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PenaltiesLogged))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncBooking("success")
		m.IncReprogram()
		m.ObserveOperation("book", time.Now())
	})
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
