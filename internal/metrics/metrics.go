// Package metrics provides Prometheus metrics for the clearing service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the clearing service's metric set, backed by its own registry so
// tests can create isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	settlements     *prometheus.CounterVec
	settleRejects   *prometheus.CounterVec
	settleDuration  prometheus.Histogram
	cancellations   prometheus.Counter
	claims          prometheus.Counter
	claimsSkipped   prometheus.Counter
	claimRejects    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	wsClients       prometheus.Gauge
}

// New creates a Metrics instance with a fresh registry.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		settlements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settlements executed, by mode (swap or mint).",
		}, []string{"mode"}),
		settleRejects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_rejects_total",
			Help:      "Settlements rejected during validation, by reason.",
		}, []string{"reason"}),
		settleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settlement_duration_seconds",
			Help:      "End-to-end settlement latency including persistence.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		cancellations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancellations_total",
			Help:      "Orders cancelled.",
		}),
		claims: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Claims paid out, counting each batch entry separately.",
		}),
		claimsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_skipped_total",
			Help:      "Batch claim entries skipped as invalid.",
		}),
		claimRejects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_rejects_total",
			Help:      "Claims rejected during validation, by reason.",
		}, []string{"reason"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and path.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		wsClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Currently connected websocket clients.",
		}),
	}
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SettlementExecuted(mode string, took time.Duration) {
	m.settlements.WithLabelValues(mode).Inc()
	m.settleDuration.Observe(took.Seconds())
}

func (m *Metrics) SettlementRejected(reason string) {
	m.settleRejects.WithLabelValues(reason).Inc()
}

func (m *Metrics) OrderCancelled() {
	m.cancellations.Inc()
}

func (m *Metrics) ClaimsPaid(n int) {
	m.claims.Add(float64(n))
}

func (m *Metrics) ClaimsSkipped(n int) {
	m.claimsSkipped.Add(float64(n))
}

func (m *Metrics) ClaimRejected(reason string) {
	m.claimRejects.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveRequest(method, path, status string, took time.Duration) {
	m.requestDuration.WithLabelValues(method, path, status).Observe(took.Seconds())
}

func (m *Metrics) WSClientConnected()    { m.wsClients.Inc() }
func (m *Metrics) WSClientDisconnected() { m.wsClients.Dec() }
