package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors the commerce core reports to. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	conditions *prometheus.CounterVec
	discounts  *prometheus.CounterVec
	lines      *prometheus.CounterVec
	refunds    *prometheus.CounterVec
	upstream   *prometheus.HistogramVec
	gatherer   prometheus.Gatherer
}

func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		conditions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursecart",
			Name:      "condition_evaluations_total",
			Help:      "Condition evaluations by kind and outcome.",
		}, []string{"kind", "satisfied"}),
		discounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursecart",
			Name:      "discounts_applied_total",
			Help:      "Offers applied to baskets by offer type.",
		}, []string{"offer_type"}),
		lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursecart",
			Name:      "fulfillment_lines_total",
			Help:      "Fulfilled order lines by resulting status.",
		}, []string{"status"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursecart",
			Name:      "refund_transitions_total",
			Help:      "Refund status transitions by target status.",
		}, []string{"status"}),
		upstream: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coursecart",
			Name:      "upstream_request_seconds",
			Help:      "Latency of calls to collaborating services.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "outcome"}),
		gatherer: reg,
	}
	reg.MustRegister(m.conditions, m.discounts, m.lines, m.refunds, m.upstream)
	return m
}

func (m *Metrics) ConditionEvaluated(kind string, satisfied bool) {
	if m == nil {
		return
	}
	m.conditions.WithLabelValues(kind, strconv.FormatBool(satisfied)).Inc()
}

func (m *Metrics) DiscountApplied(offerType string) {
	if m == nil {
		return
	}
	m.discounts.WithLabelValues(offerType).Inc()
}

func (m *Metrics) LineFulfilled(status string) {
	if m == nil {
		return
	}
	m.lines.WithLabelValues(status).Inc()
}

func (m *Metrics) RefundTransitioned(status string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(status).Inc()
}

func (m *Metrics) UpstreamObserved(service string, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.upstream.WithLabelValues(service, outcome).Observe(elapsed.Seconds())
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
