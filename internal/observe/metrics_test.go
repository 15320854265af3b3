package observe

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics(nil)

	m.CacheResult("hit")
	m.CacheResult("hit")
	m.CacheResult("miss")
	m.TopicOutcome("created")
	m.PipelineRun("degraded", "ok")

	if got := testutil.ToFloat64(m.CacheRequests.WithLabelValues("hit")); got != 2 {
		t.Errorf("expected 2 hits, got %v", got)
	}
	if got := testutil.ToFloat64(m.CacheRequests.WithLabelValues("miss")); got != 1 {
		t.Errorf("expected 1 miss, got %v", got)
	}
	if got := testutil.ToFloat64(m.TopicAssignments.WithLabelValues("created")); got != 1 {
		t.Errorf("expected 1 created topic, got %v", got)
	}
	if got := testutil.ToFloat64(m.PipelineRuns.WithLabelValues("degraded", "ok")); got != 1 {
		t.Errorf("expected 1 degraded run, got %v", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(nil)
	m.ObserveProvider("stub", 20*time.Millisecond, nil)
	m.ObserveProvider("stub", time.Second, errors.New("boom"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, "nova_provider_call_seconds") {
		t.Errorf("expected provider histogram in exposition, got %q", body)
	}
	if !strings.Contains(body, `status="error"`) {
		t.Errorf("expected error status label, got %q", body)
	}
}

func TestMetrics_WriteText(t *testing.T) {
	m := NewMetrics(nil)
	m.CacheResult("hit")

	var b strings.Builder
	if err := m.WriteText(&b); err != nil {
		t.Fatalf("WriteText failed: %v", err)
	}
	if !strings.Contains(b.String(), `nova_cache_requests_total{result="hit"} 1`) {
		t.Errorf("expected cache counter in dump, got %q", b.String())
	}
}
