package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type LinkageMetrics struct {
	operations  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	votes       *prometheus.CounterVec
	transitions *prometheus.CounterVec
	payouts     *prometheus.CounterVec
	escrowTotal prometheus.Gauge
	linkages    prometheus.Gauge
	paused      prometheus.Gauge
}

var (
	linkageOnce     sync.Once
	linkageRegistry *LinkageMetrics
)

func Linkage() *LinkageMetrics {
	linkageOnce.Do(func() {
		linkageRegistry = &LinkageMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "linkage_operations_total",
				Help: "Count of linkage engine operations by name and result.",
			}, []string{"op", "result"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "linkage_operation_duration_seconds",
				Help:    "Latency of linkage engine operations.",
				Buckets: prometheus.DefBuckets,
			}, []string{"op"}),
			votes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "linkage_votes_total",
				Help: "Verifier votes accepted by choice.",
			}, []string{"choice"}),
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "linkage_status_transitions_total",
				Help: "Linkage status transitions by target status.",
			}, []string{"status"}),
			payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "linkage_payouts_total",
				Help: "Escrow payouts by kind (owner, share, refund).",
			}, []string{"kind"}),
			escrowTotal: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "linkage_escrow_total",
				Help: "Value currently held in escrow across all linkages.",
			}),
			linkages: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "linkage_total",
				Help: "Number of linkages ever created.",
			}),
			paused: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "linkage_paused",
				Help: "1 when the linkage module is paused.",
			}),
		}
		prometheus.MustRegister(
			linkageRegistry.operations,
			linkageRegistry.latency,
			linkageRegistry.votes,
			linkageRegistry.transitions,
			linkageRegistry.payouts,
			linkageRegistry.escrowTotal,
			linkageRegistry.linkages,
			linkageRegistry.paused,
		)
	})
	return linkageRegistry
}

func (m *LinkageMetrics) ObserveOperation(op, result string, seconds float64) {
	if m == nil {
		return
	}
	if result == "" {
		result = "ok"
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.latency.WithLabelValues(op).Observe(seconds)
}

func (m *LinkageMetrics) ObserveVote(choice string) {
	if m == nil {
		return
	}
	if choice == "" {
		choice = "unknown"
	}
	m.votes.WithLabelValues(choice).Inc()
}

func (m *LinkageMetrics) ObserveTransition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *LinkageMetrics) ObservePayout(kind string) {
	if m == nil {
		return
	}
	m.payouts.WithLabelValues(kind).Inc()
}

func (m *LinkageMetrics) SetEscrowTotal(amount float64) {
	if m == nil {
		return
	}
	m.escrowTotal.Set(amount)
}

func (m *LinkageMetrics) SetLinkages(count uint64) {
	if m == nil {
		return
	}
	m.linkages.Set(float64(count))
}

func (m *LinkageMetrics) SetPaused(paused bool) {
	if m == nil {
		return
	}
	if paused {
		m.paused.Set(1)
		return
	}
	m.paused.Set(0)
}
