package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultStoreTimeout bounds a single admission round trip.
const DefaultStoreTimeout = 50 * time.Millisecond

const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local steady = tonumber(ARGV[3])
local burst = tonumber(ARGV[4])

redis.call("ZREMRANGEBYSCORE", key, "-inf", "(" .. (now - window))
local count = redis.call("ZCARD", key)

local allowed = 0
if count < burst or count < steady then
  redis.call("ZADD", key, now, ARGV[5])
  redis.call("PEXPIRE", key, window)
  allowed = 1
end

local oldest = now
local head = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
if head[2] then
  oldest = tonumber(head[2])
end

return {allowed, count, oldest}
`

var slidingWindowLua = redis.NewScript(slidingWindowScript)

// Config holds limiter tuning parameters.
type Config struct {
	Prefix       string
	StoreTimeout time.Duration
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetAt   time.Time
	// Degraded is set when the counter store could not be consulted and the
	// request was admitted by the fail-open policy.
	Degraded bool
}

// RetryAfter returns the whole seconds a denied client should wait, never
// less than one.
func (d Decision) RetryAfter(now time.Time) int {
	secs := int(math.Ceil(d.ResetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Observer is called once per admission decision.
type Observer func(route string, key Key, decision Decision)

// Option configures a [Limiter].
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger used for degraded-mode events.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithObserver registers a decision hook, typically a metrics recorder.
func WithObserver(observer Observer) Option {
	return func(l *Limiter) {
		l.observe = observer
	}
}

// Limiter enforces per-route, per-client sliding-window admission backed by
// Redis sorted sets.
type Limiter struct {
	redis   redis.UniversalClient
	config  Config
	now     func() time.Time
	logger  zerolog.Logger
	observe Observer
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config, opts ...Option) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "rl"
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}

	l := &Limiter{
		redis:  redisClient,
		config: cfg,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit decides whether one request on route for key fits policy.
//
// Admit never returns an error. When Redis is unreachable, slow, or ctx is
// cancelled the request is admitted and the decision is marked Degraded.
func (l *Limiter) Admit(ctx context.Context, route string, key Key, policy Policy) Decision {
	now := l.now()
	window := policy.Window()

	ctx, cancel := context.WithTimeout(ctx, l.config.StoreTimeout)
	defer cancel()

	res, err := slidingWindowLua.Run(
		ctx,
		l.redis,
		[]string{l.key(route, key)},
		now.UnixMilli(),
		window.Milliseconds(),
		policy.Requests,
		policy.Burst,
		uuid.NewString(),
	).Int64Slice()
	if err == nil && len(res) != 3 {
		err = fmt.Errorf("unexpected sliding window reply length %d", len(res))
	}
	if err != nil {
		decision := Decision{
			Allowed:   true,
			Remaining: policy.Requests,
			Limit:     policy.Requests,
			ResetAt:   now.Add(window),
			Degraded:  true,
		}
		l.logger.Warn().
			Err(fmt.Errorf("%w: %v", ErrRedisUnavailable, err)).
			Str("route", route).
			Str("key_class", string(key.Class)).
			Msg("rate limiter degraded, failing open")
		l.emit(route, key, decision)
		return decision
	}

	count := int(res[1])
	remaining := policy.Requests - count
	if remaining < 0 {
		remaining = 0
	}

	decision := Decision{
		Allowed:   res[0] == 1,
		Remaining: remaining,
		Limit:     policy.Requests,
		ResetAt:   time.UnixMilli(res[2]).Add(window),
	}
	l.emit(route, key, decision)
	return decision
}

// Reset drops the sliding log for one route and key.
func (l *Limiter) Reset(ctx context.Context, route string, key Key) error {
	if err := l.redis.Del(ctx, l.key(route, key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) emit(route string, key Key, decision Decision) {
	if l.observe != nil {
		l.observe(route, key, decision)
	}
}

func (l *Limiter) key(route string, key Key) string {
	return l.config.Prefix + ":" + route + ":" + key.String()
}
