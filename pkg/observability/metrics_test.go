package observability

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics_Registers(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.ResolutionsTotal.WithLabelValues("ok").Inc()
	m.CacheHitsTotal.Inc()
	m.ChecksTotal.WithLabelValues("true").Inc()

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}

	for _, name := range []string{
		"portal_permission_resolutions_total",
		"portal_resolved_set_cache_hits_total",
		"portal_permission_checks_total",
	} {
		if !found[name] {
			t.Errorf("Expected metric %s to be registered", name)
		}
	}
}

func TestMetrics_ObserveDBStats(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.ObserveDBStats(sql.DBStats{InUse: 3, Idle: 7})

	metricsReq := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metricsRec := httptest.NewRecorder()
	Handler(registry).ServeHTTP(metricsRec, metricsReq)

	body := metricsRec.Body.String()
	if !strings.Contains(body, "portal_db_connections_active 3") {
		t.Errorf("Expected active gauge 3 in metrics output:\n%s", body)
	}
	if !strings.Contains(body, "portal_db_connections_idle 7") {
		t.Errorf("Expected idle gauge 7 in metrics output:\n%s", body)
	}
}

func TestMetrics_HTTPMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	handler := m.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/roles", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", rec.Code)
	}

	metricsReq := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metricsRec := httptest.NewRecorder()
	Handler(registry).ServeHTTP(metricsRec, metricsReq)

	body := metricsRec.Body.String()
	if !strings.Contains(body, "portal_http_requests_total") {
		t.Error("Expected portal_http_requests_total in metrics output")
	}
	if !strings.Contains(body, `status="404"`) {
		t.Error("Expected 404 status label in metrics output")
	}
}
