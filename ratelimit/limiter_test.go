package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, opts ...Option) (*Limiter, *miniredis.Miniredis, *fakeClock) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(rdb, Config{StoreTimeout: time.Second}, opts...), mr, clock
}

func TestAdmitBurstIsAlternativeThreshold(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)
	policy := Policy{Requests: 5, WindowSeconds: 60, Burst: 2}
	key := ResolveKey("", "", "203.0.113.9")

	var last Decision
	for i := 1; i <= 8; i++ {
		last = limiter.Admit(context.Background(), "/api/run", key, policy)
		if i <= 5 && !last.Allowed {
			t.Fatalf("call %d: expected admit, got %+v", i, last)
		}
		if i <= 5 && last.Remaining != 5-(i-1) {
			t.Fatalf("call %d: expected remaining %d, got %d", i, 5-(i-1), last.Remaining)
		}
	}

	if last.Allowed {
		t.Fatalf("expected 8th call denied, got %+v", last)
	}
	if last.Remaining != 0 {
		t.Fatalf("expected remaining 0 on 8th call, got %d", last.Remaining)
	}
	if last.Degraded {
		t.Fatal("healthy store must not report degraded")
	}
}

func TestAdmitBurstAboveSteadyRate(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)
	policy := Policy{Requests: 2, WindowSeconds: 10, Burst: 4}
	key := ResolveKey("", "u-1", "")

	for i := 1; i <= 4; i++ {
		d := limiter.Admit(context.Background(), "/api/run", key, policy)
		if !d.Allowed {
			t.Fatalf("call %d: expected burst admit, got %+v", i, d)
		}
	}
	d := limiter.Admit(context.Background(), "/api/run", key, policy)
	if d.Allowed || d.Remaining != 0 {
		t.Fatalf("expected denial once burst is spent, got %+v", d)
	}
}

func TestAdmitWindowSlides(t *testing.T) {
	limiter, _, clock := newTestLimiter(t)
	policy := Policy{Requests: 2, WindowSeconds: 60}
	key := ResolveKey("org-1", "", "")

	limiter.Admit(context.Background(), "/api/export", key, policy)
	clock.Advance(30 * time.Second)
	limiter.Admit(context.Background(), "/api/export", key, policy)

	denied := limiter.Admit(context.Background(), "/api/export", key, policy)
	if denied.Allowed {
		t.Fatalf("expected denial inside window, got %+v", denied)
	}
	wantReset := clock.Now().Add(-30 * time.Second).Add(time.Minute)
	if !denied.ResetAt.Equal(wantReset) {
		t.Fatalf("expected reset at %v, got %v", wantReset, denied.ResetAt)
	}
	if got := denied.RetryAfter(clock.Now()); got != 30 {
		t.Fatalf("expected retry after 30s, got %d", got)
	}

	clock.Advance(31 * time.Second)
	d := limiter.Admit(context.Background(), "/api/export", key, policy)
	if !d.Allowed {
		t.Fatalf("expected admit after oldest entry left the window, got %+v", d)
	}
	if d.Remaining != 1 {
		t.Fatalf("expected remaining 1, got %d", d.Remaining)
	}
}

func TestAdmitKeysAreIndependent(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)
	policy := Policy{Requests: 1, WindowSeconds: 60}

	if d := limiter.Admit(context.Background(), "/api/run", ResolveKey("", "", "10.0.0.1"), policy); !d.Allowed {
		t.Fatalf("expected first ip admitted, got %+v", d)
	}
	if d := limiter.Admit(context.Background(), "/api/run", ResolveKey("", "", "10.0.0.2"), policy); !d.Allowed {
		t.Fatalf("expected second ip admitted, got %+v", d)
	}
	if d := limiter.Admit(context.Background(), "/api/other", ResolveKey("", "", "10.0.0.1"), policy); !d.Allowed {
		t.Fatalf("expected other route admitted, got %+v", d)
	}
}

func TestAdmitFailsOpenWhenStoreDown(t *testing.T) {
	var observed []Decision
	limiter, mr, _ := newTestLimiter(t, WithObserver(func(_ string, _ Key, d Decision) {
		observed = append(observed, d)
	}))
	mr.Close()

	policy := Policy{Requests: 7, WindowSeconds: 60, Burst: 1}
	d := limiter.Admit(context.Background(), "/api/run", ResolveKey("", "", "10.0.0.1"), policy)
	if !d.Allowed || !d.Degraded {
		t.Fatalf("expected fail-open degraded admit, got %+v", d)
	}
	if d.Remaining != policy.Requests {
		t.Fatalf("expected remaining %d on fail-open, got %d", policy.Requests, d.Remaining)
	}
	if len(observed) != 1 || !observed[0].Degraded {
		t.Fatalf("expected degraded decision reported to observer, got %+v", observed)
	}
}

func TestAdmitFailsOpenOnCancelledContext(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := limiter.Admit(ctx, "/api/run", ResolveKey("", "", "10.0.0.1"), Policy{Requests: 1, WindowSeconds: 60})
	if !d.Allowed || !d.Degraded {
		t.Fatalf("expected cancellation to fail open, got %+v", d)
	}
}

func TestResetClearsLog(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)
	policy := Policy{Requests: 1, WindowSeconds: 60}
	key := ResolveKey("", "u-9", "")

	limiter.Admit(context.Background(), "/api/run", key, policy)
	if d := limiter.Admit(context.Background(), "/api/run", key, policy); d.Allowed {
		t.Fatalf("expected denial before reset, got %+v", d)
	}
	if err := limiter.Reset(context.Background(), "/api/run", key); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if d := limiter.Admit(context.Background(), "/api/run", key, policy); !d.Allowed {
		t.Fatalf("expected admit after reset, got %+v", d)
	}
}

func TestResolveKeyPrecedence(t *testing.T) {
	tests := []struct {
		name            string
		org, user, addr string
		want            string
	}{
		{name: "organization wins", org: "acme", user: "u1", addr: "1.2.3.4", want: "organization:acme"},
		{name: "user before ip", user: "u1", addr: "1.2.3.4", want: "user:u1"},
		{name: "ip fallback", addr: "1.2.3.4", want: "ip:1.2.3.4"},
		{name: "blank values ignored", org: "  ", user: "", addr: "", want: "ip:unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveKey(tt.org, tt.user, tt.addr).String(); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
