// Package metrics provides the Prometheus instruments of the execution engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "spotengine"

// Metrics holds all instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	// Orchestrator
	OrderOutcomes *prometheus.CounterVec
	ClaimMisses   *prometheus.CounterVec

	// Routing and execution
	QuoteLatency  *prometheus.HistogramVec
	QuoteFailures *prometheus.CounterVec
	SwapResults   *prometheus.CounterVec

	// Wallet guard
	PendingReservations *prometheus.GaugeVec
	TrackedWallets      prometheus.Gauge

	// Listener
	TickDuration prometheus.Histogram
	TickSkipped  prometheus.Counter
}

// New registers every instrument on reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,

		OrderOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "outcomes_total",
			Help:      "Order executions by path and final reason code",
		}, []string{"path", "reason"}),
		ClaimMisses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "claim_misses_total",
			Help:      "Executions that found the order busy or ineligible",
		}, []string{"path"}),

		QuoteLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "routes",
			Name:      "quote_latency_seconds",
			Help:      "Aggregator quote latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"aggregator", "family"}),
		QuoteFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routes",
			Name:      "quote_failures_total",
			Help:      "Failed aggregator quotes",
		}, []string{"aggregator", "family"}),
		SwapResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "swap_results_total",
			Help:      "Swap attempts by chain and result label",
		}, []string{"chain_id", "label"}),

		PendingReservations: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "walletguard",
			Name:      "pending_reservations",
			Help:      "Reservations currently held per chain",
		}, []string{"chain_id"}),
		TrackedWallets: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "walletguard",
			Name:      "tracked_wallets",
			Help:      "Wallets held by the guard registry",
		}),

		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "tick_duration_seconds",
			Help:      "Listener tick duration in seconds",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120},
		}),
		TickSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "ticks_skipped_total",
			Help:      "Ticks skipped because the previous one was still running",
		}),
	}
}

// Handler exposes the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) OrderOutcome(path, reason string) {
	if m == nil {
		return
	}
	m.OrderOutcomes.WithLabelValues(path, reason).Inc()
}

func (m *Metrics) ClaimMiss(path string) {
	if m == nil {
		return
	}
	m.ClaimMisses.WithLabelValues(path).Inc()
}

func (m *Metrics) ObserveQuote(aggregator, family string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.QuoteLatency.WithLabelValues(aggregator, family).Observe(d.Seconds())
	if err != nil {
		m.QuoteFailures.WithLabelValues(aggregator, family).Inc()
	}
}

func (m *Metrics) SwapResult(chainID uint64, label string) {
	if m == nil {
		return
	}
	m.SwapResults.WithLabelValues(strconv.FormatUint(chainID, 10), label).Inc()
}

func (m *Metrics) ReservationDelta(chainID uint64, delta float64) {
	if m == nil {
		return
	}
	m.PendingReservations.WithLabelValues(strconv.FormatUint(chainID, 10)).Add(delta)
}

func (m *Metrics) SetTrackedWallets(n int) {
	if m == nil {
		return
	}
	m.TrackedWallets.Set(float64(n))
}

func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.TickDuration.Observe(d.Seconds())
}

func (m *Metrics) SkipTick() {
	if m == nil {
		return
	}
	m.TickSkipped.Inc()
}
