package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordJobAndAnalyzer(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m.RecordJob(OutcomeStarted)
	m.RecordJob(OutcomeStarted)
	m.RecordJob(OutcomeTimeout)
	if got := testutil.ToFloat64(m.jobsTotal.WithLabelValues(OutcomeStarted)); got != 2 {
		t.Fatalf("expected 2 started jobs, got %v", got)
	}

	m.JobStarted()
	m.JobStarted()
	m.JobFinished()
	if got := testutil.ToFloat64(m.jobsInFlight); got != 1 {
		t.Fatalf("expected 1 in flight, got %v", got)
	}

	m.ObserveAnalyzer("hook", 20*time.Millisecond, nil)
	m.ObserveAnalyzer("hook", 20*time.Millisecond, errors.New("boom"))
	if n := testutil.CollectAndCount(m.analyzerDuration); n != 2 {
		t.Fatalf("expected success and error series, got %d", n)
	}

	m.RecordApplied("all", 3)
	m.RecordApplied("all", 0)
	if got := testutil.ToFloat64(m.recommendationsApplied.WithLabelValues("all")); got != 3 {
		t.Fatalf("expected 3 applied, got %v", got)
	}

	m.RecordTokens("demo", 120, 30)
	m.RecordTokens("demo", 0, 5)
	if got := testutil.ToFloat64(m.llmTokens.WithLabelValues("demo", "completion")); got != 35 {
		t.Fatalf("expected 35 completion tokens, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordJob(OutcomeDone)
	m.JobStarted()
	m.ObserveAnalyzer("cta", time.Second, nil)
	m.RecordCacheLookup("cta", true)
	m.RecordVersion("revert")
	m.RecordRequest("/api/health", "2xx")
	m.RecordTokens("demo", 1, 1)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Fatalf("expected 404 from nil metrics handler, got %d", rec.Code)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.RecordVersion("initial")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `reelforge_versions_created_total{source="initial"} 1`) {
		t.Fatalf("metrics output missing counter:\n%s", rec.Body.String())
	}
}
