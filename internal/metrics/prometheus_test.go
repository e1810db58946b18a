package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusHandler_RendersCounters(t *testing.T) {
	m := New()
	m.Inc(RelayTargetMissing)
	m.Inc(RelayTargetMissing)
	m.Inc(FileRejected)

	rec := httptest.NewRecorder()
	PrometheusHandler(m).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`roomcast_events_total{event="relay_target_missing"} 2`,
		`roomcast_events_total{event="file_rejected_oversize"} 1`,
		"# TYPE roomcast_events_total counter",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in output:\n%s", want, body)
		}
	}
}

func TestPrometheusHandler_NilRegistry(t *testing.T) {
	rec := httptest.NewRecorder()
	PrometheusHandler(nil).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 500 {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
