package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveCounters(t *testing.T) {
	before := testutil.ToFloat64(publishItems.WithLabelValues(OutcomeSuccess))
	ObservePublish(OutcomeSuccess)
	if got := testutil.ToFloat64(publishItems.WithLabelValues(OutcomeSuccess)); got != before+1 {
		t.Fatalf("publish counter = %v, want %v", got, before+1)
	}

	ObserveSettlement("base-sepolia", 0)
	if got := testutil.ToFloat64(settlements.WithLabelValues("base-sepolia", "error")); got < 1 {
		t.Fatalf("settlement error counter not incremented: %v", got)
	}

	ObserveHTTPRequest("/healthz", http.MethodGet, http.StatusInternalServerError, 10*time.Millisecond)
	if got := testutil.ToFloat64(httpErrors.WithLabelValues("/healthz", http.MethodGet)); got < 1 {
		t.Fatalf("http error counter not incremented: %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	ObserveJob("succeeded")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `zynd_publish_jobs_total{status="succeeded"}`) {
		t.Fatalf("job metric missing from output:\n%s", body)
	}
}
