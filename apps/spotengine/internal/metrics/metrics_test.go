package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.OrderOutcome("open", "ORDER_OPENED")
	m.OrderOutcome("open", "ORDER_OPENED")
	m.ObserveQuote("odos", "evm", 10*time.Millisecond, errors.New("boom"))
	m.ReservationDelta(43114, 2)
	m.ReservationDelta(43114, -1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OrderOutcomes.WithLabelValues("open", "ORDER_OPENED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QuoteFailures.WithLabelValues("odos", "evm")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PendingReservations.WithLabelValues("43114")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.OrderOutcome("open", "x")
		m.ClaimMiss("open")
		m.SwapResult(1, "TX_FAILED")
		m.SkipTick()
		_ = m.Handler()
	})
}
