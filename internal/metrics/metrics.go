package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	authRequests  *prometheus.CounterVec
	verifications *prometheus.CounterVec
	reconciles    *prometheus.CounterVec
	tokensIssued  *prometheus.CounterVec
	mailSent      *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		authRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "identity",
			Name:      "auth_requests_total",
			Help:      "Auth flow invocations by flow and outcome.",
		}, []string{"flow", "outcome"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "identity",
			Name:      "verifier_calls_total",
			Help:      "External identity verification attempts by path and outcome.",
		}, []string{"path", "outcome"}),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "identity",
			Name:      "reconcile_total",
			Help:      "Profile reconciliation runs by outcome.",
		}, []string{"outcome"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "identity",
			Name:      "tokens_issued_total",
			Help:      "One-time tokens issued by kind.",
		}, []string{"kind"}),
		mailSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "identity",
			Name:      "mail_deliveries_total",
			Help:      "Outbound mail deliveries by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.authRequests, m.verifications, m.reconciles, m.tokensIssued, m.mailSent)
	return m
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) AuthRequest(flow string, err error) {
	if m == nil {
		return
	}
	m.authRequests.WithLabelValues(flow, outcome(err)).Inc()
}

func (m *Metrics) Verification(path string, err error) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(path, outcome(err)).Inc()
}

// Reconcile records a reconciliation result: "updated", "unchanged", "skipped" or "error".
func (m *Metrics) Reconcile(result string) {
	if m == nil {
		return
	}
	m.reconciles.WithLabelValues(result).Inc()
}

func (m *Metrics) TokenIssued(kind string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(kind).Inc()
}

func (m *Metrics) Mail(err error) {
	if m == nil {
		return
	}
	m.mailSent.WithLabelValues(outcome(err)).Inc()
}

// Handler returns an http.Handler for Prometheus scraping
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
