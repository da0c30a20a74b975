// Package metrics exports Prometheus collectors for the availability engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "availability"

// Metrics groups the engine's collectors.
type Metrics struct {
	evaluations   *prometheus.CounterVec
	holds         *prometheus.CounterVec
	confirmations *prometheus.CounterVec
	cancellations prometheus.Counter
	expiredHolds  prometheus.Counter
	batchDuration prometheus.Histogram
	batchItems    *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New registers the collectors on reg. A nil registerer yields a no-op value.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	m := &Metrics{
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Availability evaluations by resulting status.",
		}, []string{"status"}),
		holds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "holds_total",
			Help:      "Hold attempts by outcome.",
		}, []string{"outcome"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmations_total",
			Help:      "Confirmation attempts by outcome.",
		}, []string{"outcome"}),
		cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancellations_total",
			Help:      "Reservations cancelled or released.",
		}),
		expiredHolds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_holds_total",
			Help:      "Holds marked expired by the sweeper.",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of batch availability checks.",
			Buckets:   prometheus.DefBuckets,
		}),
		batchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_items_total",
			Help:      "Batch entries by resulting status.",
		}, []string{"status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		m.evaluations,
		m.holds,
		m.confirmations,
		m.cancellations,
		m.expiredHolds,
		m.batchDuration,
		m.batchItems,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// ObserveEvaluation counts one evaluation result.
func (m *Metrics) ObserveEvaluation(status string) {
	if m == nil || m.evaluations == nil {
		return
	}
	m.evaluations.WithLabelValues(normalizeLabel(status)).Inc()
}

// ObserveHold counts a hold attempt: granted, conflict, not_bookable or error.
func (m *Metrics) ObserveHold(outcome string) {
	if m == nil || m.holds == nil {
		return
	}
	m.holds.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveConfirmation counts a confirmation attempt.
func (m *Metrics) ObserveConfirmation(outcome string) {
	if m == nil || m.confirmations == nil {
		return
	}
	m.confirmations.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncCancellations counts a cancellation.
func (m *Metrics) IncCancellations() {
	if m == nil || m.cancellations == nil {
		return
	}
	m.cancellations.Inc()
}

// AddExpiredHolds counts holds expired by a sweep.
func (m *Metrics) AddExpiredHolds(n int) {
	if m == nil || m.expiredHolds == nil || n <= 0 {
		return
	}
	m.expiredHolds.Add(float64(n))
}

// ObserveBatch records the duration of a batch and the status of each entry.
func (m *Metrics) ObserveBatch(duration time.Duration, statuses map[string]int) {
	if m == nil || m.batchDuration == nil {
		return
	}
	m.batchDuration.Observe(duration.Seconds())
	for status, n := range statuses {
		if n > 0 {
			m.batchItems.WithLabelValues(normalizeLabel(status)).Add(float64(n))
		}
	}
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route, code string, duration time.Duration) {
	if m == nil || m.httpRequests == nil {
		return
	}
	route = normalizeLabel(route)
	m.httpRequests.WithLabelValues(method, route, code).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
