package limiters

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

type attemptState struct {
	count int
	last  time.Time
}

// MemoryRefreshAttempts is the single-process variant of [RefreshAttempts].
// It keeps counters in a TTL cache and is intended for tests and tooling
// that run without Redis; counters are not shared across instances.
type MemoryRefreshAttempts struct {
	mu     sync.Mutex
	cache  *ttlcache.Cache[string, attemptState]
	config RefreshAttemptsConfig
	now    func() time.Time
}

// NewMemoryRefreshAttempts creates an in-memory refresh attempt limiter.
// Call Close to stop the expiry loop.
func NewMemoryRefreshAttempts(cfg RefreshAttemptsConfig, now func() time.Time) *MemoryRefreshAttempts {
	if now == nil {
		now = time.Now
	}
	cache := ttlcache.New[string, attemptState](
		ttlcache.WithTTL[string, attemptState](cfg.Cooldown),
		ttlcache.WithDisableTouchOnHit[string, attemptState](),
	)
	go cache.Start()

	return &MemoryRefreshAttempts{cache: cache, config: cfg, now: now}
}

// Check mirrors [RefreshAttempts.Check].
func (l *MemoryRefreshAttempts) Check(_ context.Context, hash string) error {
	if l == nil || l.config.MaxAttempts <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	item := l.cache.Get(hash)
	if item == nil {
		return nil
	}
	state := item.Value()
	if state.count < l.config.MaxAttempts {
		return nil
	}
	if l.now().Sub(state.last) < l.config.Cooldown {
		return ErrRefreshAttemptsExceeded
	}
	l.cache.Delete(hash)
	return nil
}

// RecordFailure mirrors [RefreshAttempts.RecordFailure].
func (l *MemoryRefreshAttempts) RecordFailure(_ context.Context, hash string) (int, error) {
	if l == nil || l.config.MaxAttempts <= 0 {
		return 0, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var state attemptState
	if item := l.cache.Get(hash); item != nil {
		state = item.Value()
	}
	state.count++
	state.last = l.now()
	l.cache.Set(hash, state, ttlcache.DefaultTTL)
	return state.count, nil
}

// Reset mirrors [RefreshAttempts.Reset].
func (l *MemoryRefreshAttempts) Reset(_ context.Context, hash string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	l.cache.Delete(hash)
	l.mu.Unlock()
	return nil
}

// Close stops the cache expiry loop.
func (l *MemoryRefreshAttempts) Close() {
	if l == nil {
		return
	}
	l.cache.Stop()
}
