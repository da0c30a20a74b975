package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveEvaluation("available")
	m.ObserveEvaluation("available")
	m.ObserveEvaluation("")
	m.ObserveHold("granted")
	m.ObserveHold("conflict")
	m.ObserveConfirmation("confirmed")
	m.IncCancellations()
	m.AddExpiredHolds(3)
	m.AddExpiredHolds(0)
	m.ObserveBatch(120*time.Millisecond, map[string]int{"available": 9, "errored": 1, "conflicted": 0})
	m.ObserveHTTP("POST", "/v1/holds", "201", 5*time.Millisecond)

	if got := testutil.ToFloat64(m.evaluations.WithLabelValues("available")); got != 2 {
		t.Fatalf("expected available evaluations=2, got %f", got)
	}
	if got := testutil.ToFloat64(m.evaluations.WithLabelValues("unknown")); got != 1 {
		t.Fatalf("expected empty status to be labelled unknown, got %f", got)
	}
	if got := testutil.ToFloat64(m.holds.WithLabelValues("conflict")); got != 1 {
		t.Fatalf("expected conflict holds=1, got %f", got)
	}
	if got := testutil.ToFloat64(m.expiredHolds); got != 3 {
		t.Fatalf("expected expired holds=3, got %f", got)
	}
	if got := testutil.ToFloat64(m.batchItems.WithLabelValues("available")); got != 9 {
		t.Fatalf("expected available batch items=9, got %f", got)
	}
	if got := testutil.CollectAndCount(m.batchItems); got != 2 {
		t.Fatalf("expected zero counts to be skipped, got %d series", got)
	}
	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/v1/holds", "201")); got != 1 {
		t.Fatalf("expected one http request, got %f", got)
	}
	if got := testutil.CollectAndCount(m.batchDuration); got != 1 {
		t.Fatalf("expected batch histogram, got %d series", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveEvaluation("available")
	m.ObserveHold("granted")
	m.ObserveConfirmation("confirmed")
	m.IncCancellations()
	m.AddExpiredHolds(1)
	m.ObserveBatch(time.Second, map[string]int{"available": 1})
	m.ObserveHTTP("GET", "/healthz", "200", time.Millisecond)

	unregistered := New(nil)
	unregistered.ObserveHold("granted")
	unregistered.ObserveBatch(time.Second, nil)
}
