package anomaly

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/trustplane/session"
)

func TestRunnerRunOnceCountsAndReports(t *testing.T) {
	src := &stubSource{
		records: map[string][]*session.Record{
			"u-1": {
				rec("s1", 3*time.Hour, "US", session.DeviceDesktop),
				rec("s2", 2*time.Hour, "DE", session.DeviceDesktop),
				rec("s3", time.Hour, "BR", session.DeviceDesktop),
			},
			"u-2":    {rec("s4", time.Hour, "US", session.DeviceDesktop)},
			"broken": {},
		},
		failFor: "broken",
	}
	d := newTestDetector(t, src)

	var (
		mu      sync.Mutex
		reports []Report
	)
	r, err := NewRunner(d, src, RunnerConfig{Concurrency: 2}, OnReport(func(rep Report) {
		mu.Lock()
		reports = append(reports, rep)
		mu.Unlock()
	}))
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	r.RunOnce(context.Background())

	stats := r.Stats()
	if stats.Runs != 1 || stats.Scanned != 2 || stats.Errors != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.Suspicious != 1 || stats.Flags != 3 {
		t.Fatalf("unexpected flag stats %+v", stats)
	}
	if len(reports) != 1 || reports[0].IdentityID != "u-1" {
		t.Fatalf("unexpected reports %+v", reports)
	}
}

func TestRunnerStopsOnCancel(t *testing.T) {
	src := &stubSource{records: map[string][]*session.Record{}}
	r, err := NewRunner(newTestDetector(t, src), src, RunnerConfig{Interval: time.Hour})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for r.Stats().Runs == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
	if r.Stats().Runs != 1 {
		t.Fatalf("expected one immediate run, got %d", r.Stats().Runs)
	}
}
