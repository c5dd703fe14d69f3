package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordDirectiveCountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordDirective("lock", "success", 20*time.Millisecond)
	c.RecordDirective("lock", "success", 30*time.Millisecond)
	c.RecordDirective("lock", "NOT_SUPPORTED_IN_CURRENT_MODE", time.Millisecond)

	if got := testutil.ToFloat64(c.directives.WithLabelValues("lock", "success")); got != 2 {
		t.Errorf("locksure_directives_total{success} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.directives.WithLabelValues("lock", "NOT_SUPPORTED_IN_CURRENT_MODE")); got != 1 {
		t.Errorf("locksure_directives_total{NOT_SUPPORTED_IN_CURRENT_MODE} = %v, want 1", got)
	}
	if count := testutil.CollectAndCount(c.directiveDuration, "locksure_directive_duration_seconds"); count != 1 {
		t.Errorf("expected one duration series, got %d", count)
	}
}

func TestRecordLinkingCountsByEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLinking("token", "issued")
	c.RecordLinking("token", "code_used")
	c.RecordLinking("auth", "redirect")

	if got := testutil.ToFloat64(c.linking.WithLabelValues("token", "code_used")); got != 1 {
		t.Errorf("locksure_linking_total{token,code_used} = %v, want 1", got)
	}
	if count := testutil.CollectAndCount(c.linking, "locksure_linking_total"); count != 3 {
		t.Errorf("expected 3 linking series, got %d", count)
	}
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordLinking("auth", "form")

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `locksure_linking_total{endpoint="auth",outcome="form"} 1`) {
		t.Errorf("response should contain the linking counter, got %s", body)
	}
}
