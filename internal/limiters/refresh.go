package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RefreshAttemptsConfig holds the refresh-attempt throttle thresholds.
type RefreshAttemptsConfig struct {
	MaxAttempts int
	Cooldown    time.Duration
}

var (
	// ErrRefreshAttemptsExceeded indicates the refresh hash is cooling down.
	ErrRefreshAttemptsExceeded = errors.New("refresh attempts exceeded")
	// ErrRefreshAttemptsUnavailable indicates the attempt backend is unreachable.
	ErrRefreshAttemptsUnavailable = errors.New("refresh attempt backend unavailable")
)

const checkRefreshAttemptsScript = `
local count = tonumber(redis.call("HGET", KEYS[1], "count") or "0")
if count < tonumber(ARGV[1]) then
  return 0
end
local last = tonumber(redis.call("HGET", KEYS[1], "last") or "0")
if tonumber(ARGV[2]) - last < tonumber(ARGV[3]) then
  return 1
end
redis.call("DEL", KEYS[1])
return 0
`

const recordRefreshFailureScript = `
local count = redis.call("HINCRBY", KEYS[1], "count", 1)
redis.call("HSET", KEYS[1], "last", ARGV[1])
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return count
`

var (
	checkRefreshAttemptsLua = redis.NewScript(checkRefreshAttemptsScript)
	recordRefreshFailureLua = redis.NewScript(recordRefreshFailureScript)
)

// RefreshAttempts counts failed rotation attempts per refresh-token hash in
// Redis so every instance shares the same budget. Once MaxAttempts failures
// are recorded, Check rejects until Cooldown has passed since the last
// failure, then the counter starts over.
type RefreshAttempts struct {
	redis  redis.UniversalClient
	config RefreshAttemptsConfig
	now    func() time.Time
}

// NewRefreshAttempts creates a Redis-backed refresh attempt limiter.
func NewRefreshAttempts(redisClient redis.UniversalClient, cfg RefreshAttemptsConfig, now func() time.Time) *RefreshAttempts {
	if now == nil {
		now = time.Now
	}
	return &RefreshAttempts{redis: redisClient, config: cfg, now: now}
}

func (l *RefreshAttempts) key(hash string) string {
	return "rta:" + hash
}

// Check returns [ErrRefreshAttemptsExceeded] while hash is cooling down. A
// counter whose cooldown has elapsed is cleared.
func (l *RefreshAttempts) Check(ctx context.Context, hash string) error {
	if l == nil || l.config.MaxAttempts <= 0 {
		return nil
	}

	limited, err := checkRefreshAttemptsLua.Run(
		ctx,
		l.redis,
		[]string{l.key(hash)},
		l.config.MaxAttempts,
		l.now().UnixMilli(),
		l.config.Cooldown.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRefreshAttemptsUnavailable, err)
	}
	if limited == 1 {
		return ErrRefreshAttemptsExceeded
	}
	return nil
}

// RecordFailure counts one failed attempt and returns the new count.
func (l *RefreshAttempts) RecordFailure(ctx context.Context, hash string) (int, error) {
	if l == nil || l.config.MaxAttempts <= 0 {
		return 0, nil
	}

	count, err := recordRefreshFailureLua.Run(
		ctx,
		l.redis,
		[]string{l.key(hash)},
		l.now().UnixMilli(),
		l.config.Cooldown.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRefreshAttemptsUnavailable, err)
	}
	return int(count), nil
}

// Reset clears the counter for hash.
func (l *RefreshAttempts) Reset(ctx context.Context, hash string) error {
	if l == nil {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(hash)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRefreshAttemptsUnavailable, err)
	}
	return nil
}
