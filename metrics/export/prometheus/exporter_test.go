package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/trustplane"
)

type fakeSource struct {
	snapshot trustplane.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() trustplane.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                        { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: trustplane.MetricsSnapshot{
			Counters:   map[trustplane.MetricID]uint64{},
			Histograms: map[trustplane.MetricID][]uint64{},
		},
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderIncludesCountersLabelsAndHistogram(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: trustplane.MetricsSnapshot{
			Counters: map[trustplane.MetricID]uint64{
				trustplane.MetricAdmissionRateLimited: 7,
			},
			Histograms: map[trustplane.MetricID][]uint64{
				trustplane.MetricAdmissionLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
			Admissions: []trustplane.AdmissionCount{
				{AdmissionLabel: trustplane.AdmissionLabel{Route: "/api/run", KeyClass: "user", Decision: "rate_limited"}, Value: 7},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	for _, want := range []string{
		"trustplane_admission_rate_limited_total 7",
		`trustplane_admissions_total{route="/api/run",key_class="user",decision="rate_limited"} 7`,
		`trustplane_admission_latency_seconds_bucket{le="0.005"} 1`,
		`trustplane_admission_latency_seconds_bucket{le="+Inf"} 36`,
		"trustplane_admission_latency_seconds_count 36",
		"trustplane_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "trustplane_validate_latency_seconds") {
		t.Fatalf("histogram absent from snapshot must not render, got:\n%s", out)
	}
}

func TestEscapeLabel(t *testing.T) {
	if got := escapeLabel(`a"b\c`); got != `a\"b\\c` {
		t.Fatalf("unexpected escape %q", got)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: trustplane.MetricsSnapshot{
			Counters:   map[trustplane.MetricID]uint64{trustplane.MetricLoginSuccess: 1},
			Histograms: map[trustplane.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: trustplane.MetricsSnapshot{
			Counters: map[trustplane.MetricID]uint64{
				trustplane.MetricAdmissionAllowed: 1000,
				trustplane.MetricLoginSuccess:     40,
				trustplane.MetricRefreshSuccess:   800,
			},
			Histograms: map[trustplane.MetricID][]uint64{
				trustplane.MetricValidateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
