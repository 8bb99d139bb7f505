package trustplane

import (
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/trustplane/ratelimit"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricLoginSuccess)
	m.recordAdmission("/api/run", ratelimit.ClassIP, DecisionAllowed)

	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if snap := m.Snapshot(); len(snap.Admissions) != 0 {
		t.Fatalf("expected no labelled series, got %+v", snap.Admissions)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricRefreshSuccess)
				m.recordAdmission("/api/run", ratelimit.ClassUser, DecisionAllowed)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricRefreshSuccess); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
	snap := m.Snapshot()
	if len(snap.Admissions) != 1 || snap.Admissions[0].Value != want {
		t.Fatalf("expected one series with %d, got %+v", want, snap.Admissions)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		700 * time.Millisecond,
	}
	for _, d := range observations {
		m.Observe(MetricAdmissionLatency, d)
	}
	m.Observe(MetricLoginSuccess, time.Millisecond)

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricAdmissionLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}
	for i, got := range buckets {
		if got != 1 {
			t.Fatalf("bucket %d: expected 1, got %d", i, got)
		}
	}
	if _, ok := snap.Histograms[MetricLoginSuccess]; ok {
		t.Fatal("counters must not carry histograms")
	}
}

func TestMetricsHistogramsDisabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Observe(MetricValidateLatency, time.Millisecond)
	if len(m.Snapshot().Histograms) != 0 {
		t.Fatal("histograms must be absent when latency is disabled")
	}
}

func TestObserveAdmissionClassifiesDecisions(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	key := ratelimit.ResolveKey("org-1", "", "")

	m.observeAdmission("/api/run", key, ratelimit.Decision{Allowed: true})
	m.observeAdmission("/api/run", key, ratelimit.Decision{Allowed: false})
	m.observeAdmission("/api/run", key, ratelimit.Decision{Allowed: true, Degraded: true})

	if m.Value(MetricAdmissionAllowed) != 2 || m.Value(MetricAdmissionRateLimited) != 1 || m.Value(MetricAdmissionFailOpen) != 1 {
		t.Fatalf("unexpected counters %+v", m.Snapshot().Counters)
	}

	snap := m.Snapshot()
	want := []string{DecisionAllowed, DecisionFailOpen, DecisionRateLimited}
	if len(snap.Admissions) != len(want) {
		t.Fatalf("expected %d series, got %+v", len(want), snap.Admissions)
	}
	for i, d := range want {
		if snap.Admissions[i].Decision != d || snap.Admissions[i].KeyClass != "organization" {
			t.Fatalf("series %d: expected %s, got %+v", i, d, snap.Admissions[i])
		}
	}
}
