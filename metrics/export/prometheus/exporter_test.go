package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bigtreetc/tokenauth"
)

type fakeSource struct {
	snapshot tokenauth.MetricsSnapshot
}

func (f fakeSource) MetricsSnapshot() tokenauth.MetricsSnapshot { return f.snapshot }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := New(fakeSource{snapshot: tokenauth.MetricsSnapshot{
		Counters:   map[tokenauth.MetricID]uint64{},
		Histograms: map[tokenauth.MetricID][]uint64{},
	}})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
	if got := (*Exporter)(nil).Render(); got != "" {
		t.Fatalf("expected empty output for nil exporter, got:\n%s", got)
	}
}

func TestRenderCountersAndHistogram(t *testing.T) {
	exp := New(fakeSource{snapshot: tokenauth.MetricsSnapshot{
		Counters: map[tokenauth.MetricID]uint64{
			tokenauth.MetricLoginSuccess:    7,
			tokenauth.MetricRefreshMismatch: 2,
		},
		Histograms: map[tokenauth.MetricID][]uint64{
			tokenauth.MetricVerifyLatency: {1, 2, 3, 4, 5, 6, 7, 8},
		},
	}})

	out := exp.Render()
	for _, want := range []string{
		"# TYPE tokenauth_login_success_total counter",
		"tokenauth_login_success_total 7",
		"tokenauth_refresh_mismatch_total 2",
		"tokenauth_logout_total 0",
		"# TYPE tokenauth_verify_latency_seconds histogram",
		`tokenauth_verify_latency_seconds_bucket{le="0.00005"} 1`,
		`tokenauth_verify_latency_seconds_bucket{le="0.001"} 15`,
		`tokenauth_verify_latency_seconds_bucket{le="+Inf"} 36`,
		"tokenauth_verify_latency_seconds_count 36",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestRenderOmitsHistogramWhenLatencyDisabled(t *testing.T) {
	exp := New(fakeSource{snapshot: tokenauth.MetricsSnapshot{
		Counters:   map[tokenauth.MetricID]uint64{tokenauth.MetricLogout: 1},
		Histograms: map[tokenauth.MetricID][]uint64{},
	}})

	out := exp.Render()
	if strings.Contains(out, "tokenauth_verify_latency_seconds") {
		t.Fatalf("histogram should be omitted, got:\n%s", out)
	}
	if !strings.Contains(out, "tokenauth_logout_total 1") {
		t.Fatalf("expected logout counter, got:\n%s", out)
	}
}

func TestHandlerContentType(t *testing.T) {
	exp := New(fakeSource{snapshot: tokenauth.MetricsSnapshot{
		Counters: map[tokenauth.MetricID]uint64{tokenauth.MetricLoginSuccess: 1},
	}})

	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain; version=0.0.4") {
		t.Fatalf("unexpected content type %q", ct)
	}
}
