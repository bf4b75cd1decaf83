package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewMetricsRegistersAll(t *testing.T) {
	m := NewMetrics("treadlog")
	if m == nil {
		t.Fatal("expected metrics instance")
	}

	m.RecordAdmissionDecision("allow", "", "subaccount")
	m.RecordAdmissionDecision("deny", "SUB_LIMIT", "subaccount")
	m.RecordGraceBypass("SUB_LIMIT")
	m.RecordUsageCommit("explicit")
	m.SetPoolUtilization("acc-1", 85.0)
	m.RecordStoreError("count by actor")
	m.RecordLookup("hit", "cache")
	m.RecordAlertSent("telegram", "warning")
	m.RecordError("internal", "/lookups", "POST")
	m.RecordHTTPRequest("/health", "GET", "200")
	m.RecordRequestLatency("/health", "GET", "200", 0.002)

	families, err := m.registry.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	want := []string{
		"treadlog_admission_decisions_total",
		"treadlog_grace_bypasses_total",
		"treadlog_usage_commits_total",
		"treadlog_pool_utilization_percent",
		"treadlog_store_errors_total",
		"treadlog_lookup_requests_total",
		"treadlog_alerts_sent_total",
		"treadlog_http_requests_total",
	}
	seen := make(map[string]bool)
	for _, family := range families {
		seen[family.GetName()] = true
	}
	for _, name := range want {
		if !seen[name] {
			t.Errorf("expected metric family %s to be registered", name)
		}
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	m := NewMetrics("treadlog")
	m.RecordHTTPRequest("/health", "GET", "200")

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "treadlog_http_requests_total") {
		t.Error("expected exposition output to contain request counter")
	}
}
