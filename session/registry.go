package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/trustplane/geo"
)

var (
	// ErrNotFound is returned when no record exists for a session id.
	ErrNotFound = errors.New("session not found")
	// ErrRedisUnavailable wraps every store failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrInvalidIdentity is returned when a session is created without an
	// identity id.
	ErrInvalidIdentity = errors.New("session identity required")
)

// DefaultTTL matches the refresh token lifetime.
const DefaultTTL = 7 * 24 * time.Hour

const sweepBatch = 500

const touchScript = `
if redis.call("HGET", KEYS[1], "active") ~= "1" then
  return 0
end
redis.call("HSET", KEYS[1], "last_activity_at", ARGV[1])
return 1
`

const bindRefreshScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "refresh_hash", ARGV[1])
return 1
`

// terminateScript returns -1 when the record is missing, 0 when it was
// already inactive and 1 when this call ended it.
const terminateScript = `
local active = redis.call("HGET", KEYS[1], "active")
if not active then
  return -1
end
if active ~= "1" then
  return 0
end
redis.call("HSET", KEYS[1], "active", "0", "ended_at", ARGV[2], "end_reason", ARGV[3])
redis.call("ZREM", KEYS[2], ARGV[1])
return 1
`

const terminateAllExceptScript = `
local ids = redis.call("ZRANGE", KEYS[1], 0, -1)
local ended = 0
for _, sid in ipairs(ids) do
  if sid ~= ARGV[1] then
    local key = ARGV[4] .. sid
    if redis.call("HGET", key, "active") == "1" then
      redis.call("HSET", key, "active", "0", "ended_at", ARGV[2], "end_reason", ARGV[3])
      redis.call("ZREM", KEYS[2], sid)
      ended = ended + 1
    end
  end
end
return ended
`

const sweepExpiredScript = `
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[3]))
local ended = 0
for _, sid in ipairs(ids) do
  local key = ARGV[2] .. sid
  if redis.call("HGET", key, "active") == "1" then
    redis.call("HSET", key, "active", "0", "ended_at", ARGV[1], "end_reason", "expired")
    ended = ended + 1
  end
  redis.call("ZREM", KEYS[1], sid)
end
return {#ids, ended}
`

var (
	touchLua              = redis.NewScript(touchScript)
	bindRefreshLua        = redis.NewScript(bindRefreshScript)
	terminateLua          = redis.NewScript(terminateScript)
	terminateAllExceptLua = redis.NewScript(terminateAllExceptScript)
	sweepExpiredLua       = redis.NewScript(sweepExpiredScript)
)

// Config holds registry parameters.
type Config struct {
	Prefix string
	TTL    time.Duration
	// MaxActiveSessions caps concurrent sessions per identity. When the cap is
	// reached the least recently active session is terminated. Zero disables
	// the cap.
	MaxActiveSessions int
}

// Option configures a [Registry].
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithResolver sets the resolver used to fill in session locations.
func WithResolver(resolver geo.Resolver) Option {
	return func(r *Registry) {
		r.resolver = resolver
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// Registry persists session records in Redis.
type Registry struct {
	redis    redis.UniversalClient
	config   Config
	now      func() time.Time
	resolver geo.Resolver
	logger   zerolog.Logger
}

// NewRegistry creates a [Registry] backed by the given Redis client.
func NewRegistry(redisClient redis.UniversalClient, cfg Config, opts ...Option) *Registry {
	if cfg.Prefix == "" {
		cfg.Prefix = "sr"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	r := &Registry{
		redis:  redisClient,
		config: cfg,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) recordPrefix() string {
	return r.config.Prefix + ":s:"
}

func (r *Registry) recordKey(sessionID string) string {
	return r.recordPrefix() + sessionID
}

func (r *Registry) identityKey(identityID string) string {
	return r.config.Prefix + ":i:" + identityID
}

func (r *Registry) expiryKey() string {
	return r.config.Prefix + ":exp"
}

func (r *Registry) recentKey() string {
	return r.config.Prefix + ":recent"
}

// Create starts a session for identityID and returns the stored record.
func (r *Registry) Create(ctx context.Context, identityID string, meta Metadata) (*Record, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return nil, ErrInvalidIdentity
	}

	if r.config.MaxActiveSessions > 0 {
		if err := r.enforceLimit(ctx, identityID); err != nil {
			return nil, err
		}
	}

	now := r.now()
	ttl := meta.TTL
	if ttl <= 0 {
		ttl = r.config.TTL
	}

	rec := &Record{
		SessionID:      uuid.NewString(),
		IdentityID:     identityID,
		IssuedAt:       now,
		ExpiresAt:      now.Add(ttl),
		LastActivityAt: now,
		Active:         true,
		IPAddress:      strings.TrimSpace(meta.IPAddress),
		UserAgent:      meta.UserAgent,
		DeviceType:     meta.DeviceType,
		Location:       meta.Location,
	}
	if rec.DeviceType == "" {
		rec.DeviceType = ClassifyDevice(rec.UserAgent)
	}
	if rec.Location.IsZero() && r.resolver != nil && rec.IPAddress != "" {
		loc, err := r.resolver.Lookup(rec.IPAddress)
		if err != nil {
			r.logger.Debug().Err(err).Str("session_id", rec.SessionID).Msg("session location unresolved")
		} else {
			rec.Location = loc
		}
	}

	nowMs := float64(now.UnixMilli())
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.recordKey(rec.SessionID), encodeRecord(rec))
		pipe.ZAdd(ctx, r.identityKey(identityID), redis.Z{Score: nowMs, Member: rec.SessionID})
		pipe.ZAdd(ctx, r.expiryKey(), redis.Z{Score: float64(rec.ExpiresAt.UnixMilli()), Member: rec.SessionID})
		pipe.ZAdd(ctx, r.recentKey(), redis.Z{Score: nowMs, Member: identityID})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return rec, nil
}

func (r *Registry) enforceLimit(ctx context.Context, identityID string) error {
	active, err := r.ListActive(ctx, identityID)
	if err != nil {
		return err
	}
	// ListActive is ordered most recent first.
	for i := len(active) - 1; i >= r.config.MaxActiveSessions-1 && i >= 0; i-- {
		if _, err := r.Terminate(ctx, active[i].SessionID, ReasonLimit); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

// Get returns the record for sessionID whether or not it is active.
func (r *Registry) Get(ctx context.Context, sessionID string) (*Record, error) {
	fields, err := r.redis.HGetAll(ctx, r.recordKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return decodeRecord(fields)
}

// IsActive reports whether sessionID is active and unexpired. A missing
// record returns [ErrNotFound].
func (r *Registry) IsActive(ctx context.Context, sessionID string) (bool, error) {
	vals, err := r.redis.HMGet(ctx, r.recordKey(sessionID), fieldActive, fieldExpiresAt).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	active, _ := vals[0].(string)
	if active == "" {
		return false, ErrNotFound
	}
	expiresRaw, _ := vals[1].(string)
	expires, err := decodeMillis(expiresRaw)
	if err != nil {
		return false, err
	}
	return active == "1" && expires.After(r.now()), nil
}

// BindRefresh records the hash of the refresh token issued for sessionID.
func (r *Registry) BindRefresh(ctx context.Context, sessionID, refreshHash string) error {
	ok, err := bindRefreshLua.Run(ctx, r.redis, []string{r.recordKey(sessionID)}, refreshHash).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ok == 0 {
		return ErrNotFound
	}
	return nil
}

// Touch updates lastActivityAt on an active session. Touching an inactive or
// missing session is a no-op that reports false.
func (r *Registry) Touch(ctx context.Context, sessionID string) (bool, error) {
	ok, err := touchLua.Run(ctx, r.redis, []string{r.recordKey(sessionID)}, r.now().UnixMilli()).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ok == 1, nil
}

// ListActive returns the active, unexpired sessions of identityID ordered by
// last activity, most recent first.
func (r *Registry) ListActive(ctx context.Context, identityID string) ([]*Record, error) {
	ids, err := r.redis.ZRange(ctx, r.identityKey(identityID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	records, err := r.loadMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := r.now()
	active := records[:0]
	for _, rec := range records {
		if rec.LiveAt(now) {
			active = append(active, rec)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].LastActivityAt.After(active[j].LastActivityAt)
	})
	return active, nil
}

// ListSince returns every session of identityID issued at or after since,
// active or not, ordered by issue time.
func (r *Registry) ListSince(ctx context.Context, identityID string, since time.Time) ([]*Record, error) {
	ids, err := r.redis.ZRangeByScore(ctx, r.identityKey(identityID), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return r.loadMany(ctx, ids)
}

// RecentIdentities returns identities that created a session at or after
// since.
func (r *Registry) RecentIdentities(ctx context.Context, since time.Time) ([]string, error) {
	ids, err := r.redis.ZRangeByScore(ctx, r.recentKey(), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// Terminate ends sessionID. It reports whether this call changed the record;
// terminating an already inactive session returns false and no error.
func (r *Registry) Terminate(ctx context.Context, sessionID, reason string) (bool, error) {
	if reason == "" {
		reason = ReasonTerminate
	}
	res, err := terminateLua.Run(
		ctx,
		r.redis,
		[]string{r.recordKey(sessionID), r.expiryKey()},
		sessionID,
		r.now().UnixMilli(),
		reason,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	switch res {
	case -1:
		return false, ErrNotFound
	case 1:
		return true, nil
	default:
		return false, nil
	}
}

// TerminateAllExcept ends every active session of identityID other than
// keepID and returns how many were ended.
func (r *Registry) TerminateAllExcept(ctx context.Context, identityID, keepID string) (int, error) {
	n, err := terminateAllExceptLua.Run(
		ctx,
		r.redis,
		[]string{r.identityKey(identityID), r.expiryKey()},
		keepID,
		r.now().UnixMilli(),
		ReasonOthers,
		r.recordPrefix(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(n), nil
}

// SweepExpired deactivates every active session whose expiry has passed and
// returns how many were ended.
func (r *Registry) SweepExpired(ctx context.Context) (int, error) {
	now := r.now().UnixMilli()
	total := 0
	for {
		res, err := sweepExpiredLua.Run(
			ctx,
			r.redis,
			[]string{r.expiryKey()},
			now,
			r.recordPrefix(),
			sweepBatch,
		).Int64Slice()
		if err != nil {
			return total, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if len(res) != 2 {
			return total, fmt.Errorf("%w: unexpected sweep reply", ErrRedisUnavailable)
		}
		total += int(res[1])
		if res[0] < sweepBatch {
			return total, nil
		}
	}
}

// Ping checks Redis availability and returns the round trip latency.
func (r *Registry) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func (r *Registry) loadMany(ctx context.Context, ids []string) ([]*Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := r.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, r.recordKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	records := make([]*Record, 0, len(ids))
	for i, cmd := range cmds {
		rec, err := decodeRecord(cmd.Val())
		if err != nil {
			r.logger.Warn().Err(err).Str("session_id", ids[i]).Msg("skipping unreadable session record")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
