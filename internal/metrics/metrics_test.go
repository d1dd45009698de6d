package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape returned %d", rec.Code)
	}
	return rec.Body.String()
}

func TestScrapeExposesCredproxySeries(t *testing.T) {
	SetAppInfo("test-version")
	RecordRequest("success", "app1", 5*time.Millisecond)
	RecordFetch("app1", "failure")
	SetActiveServices(3)
	RecordReconcile("/credproxy/dynamic", "added")

	body := scrape(t)

	for _, want := range []string{
		`credproxy_requests_total{result="success",service_name="app1"}`,
		`credproxy_request_duration_seconds_count{result="success",service_name="app1"}`,
		`credproxy_fetch_total{result="failure",service_name="app1"}`,
		"credproxy_active_services_total 3",
		`credproxy_reconcile_total{action="added",directory="/credproxy/dynamic"}`,
		`credproxy_app_info{name="credproxy",version="test-version"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape output missing %q", want)
		}
	}
}

func TestScrapeOmitsRuntimeCollectors(t *testing.T) {
	// The isolated registry must not leak Go runtime series.
	body := scrape(t)
	if strings.Contains(body, "go_goroutines") || strings.Contains(body, "process_cpu_seconds_total") {
		t.Error("runtime collectors leaked into the scrape output")
	}
}
