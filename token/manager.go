package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/trustplane/internal/limiters"
	"github.com/MrEthical07/trustplane/session"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// DefaultAccessTTL is the access token lifetime.
	DefaultAccessTTL = 15 * time.Minute
	// DefaultRefreshTTL is the refresh token lifetime.
	DefaultRefreshTTL = 7 * 24 * time.Hour
	// DefaultRotationThreshold is how close to expiry an access token must be
	// before clients are told to rotate.
	DefaultRotationThreshold = 5 * time.Minute
)

const (
	consumeStatusNotFound int64 = 0
	consumeStatusConsumed int64 = 1
	consumeStatusReused   int64 = 2
	consumeStatusMismatch int64 = 3
)

const consumeRefreshScript = `
local sid = redis.call("HGET", KEYS[1], "sid")
if not sid then
  return 0
end
if sid ~= ARGV[1] or redis.call("HGET", KEYS[1], "jti") ~= ARGV[2] then
  return 3
end
if redis.call("HGET", KEYS[1], "active") ~= "1" then
  return 2
end
redis.call("HSET", KEYS[1], "active", "0", "rotated_at", ARGV[3])
return 1
`

// restoreRefreshScript reactivates a record consumed at ARGV[2] when the
// replacement pair could not be issued. A record rotated by anyone else is
// left alone.
const restoreRefreshScript = `
if redis.call("HGET", KEYS[1], "jti") ~= ARGV[1] then
  return 0
end
if redis.call("HGET", KEYS[1], "active") ~= "0" or redis.call("HGET", KEYS[1], "rotated_at") ~= ARGV[2] then
  return 0
end
redis.call("HSET", KEYS[1], "active", "1")
redis.call("HDEL", KEYS[1], "rotated_at")
return 1
`

var (
	consumeRefreshLua = redis.NewScript(consumeRefreshScript)
	restoreRefreshLua = redis.NewScript(restoreRefreshScript)
)

// SessionStore is the slice of the session registry the manager needs.
type SessionStore interface {
	BindRefresh(ctx context.Context, sessionID, refreshHash string) error
	IsActive(ctx context.Context, sessionID string) (bool, error)
	Terminate(ctx context.Context, sessionID, reason string) (bool, error)
}

// AttemptLimiter throttles failed rotations per refresh hash.
type AttemptLimiter interface {
	Check(ctx context.Context, hash string) error
	RecordFailure(ctx context.Context, hash string) (int, error)
	Reset(ctx context.Context, hash string) error
}

// Config holds token lifetimes and rotation policy.
type Config struct {
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	RotationThreshold time.Duration
	// RevokeOnReuse terminates the whole session when an already rotated
	// refresh token is presented again.
	RevokeOnReuse bool
	Prefix        string
}

// Pair is an issued access/refresh token pair.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	SessionID        string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Option configures a [Manager].
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// Manager owns the token lifecycle.
type Manager struct {
	redis    redis.UniversalClient
	signer   Signer
	sessions SessionStore
	attempts AttemptLimiter
	config   Config
	now      func() time.Time
	logger   zerolog.Logger
}

// NewManager wires a token manager. attempts may be nil to disable rotation
// throttling.
func NewManager(
	redisClient redis.UniversalClient,
	signer Signer,
	sessions SessionStore,
	attempts AttemptLimiter,
	cfg Config,
	opts ...Option,
) (*Manager, error) {
	if redisClient == nil {
		return nil, errors.New("token manager requires redis client")
	}
	if signer == nil {
		return nil, errors.New("token manager requires signer")
	}
	if sessions == nil {
		return nil, errors.New("token manager requires session store")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.RotationThreshold <= 0 {
		cfg.RotationThreshold = DefaultRotationThreshold
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "rt"
	}

	m := &Manager{
		redis:    redisClient,
		signer:   signer,
		sessions: sessions,
		attempts: attempts,
		config:   cfg,
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// HashToken returns the hex SHA-256 of a token string. Only hashes of
// refresh tokens are ever stored.
func HashToken(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:])
}

// IssuePair signs a new access/refresh pair for an existing session and
// binds the refresh hash to the session record.
func (m *Manager) IssuePair(ctx context.Context, identityID, sessionID string) (Pair, error) {
	if identityID == "" || sessionID == "" {
		return Pair{}, errors.New("identity and session id are required")
	}

	now := m.now().Truncate(time.Second)
	accessExp := now.Add(m.config.AccessTTL)
	refreshExp := now.Add(m.config.RefreshTTL)
	jti := uuid.NewString()

	access, err := m.signer.Sign(&Claims{
		SessionID: sessionID,
		Type:      TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
		},
	})
	if err != nil {
		return Pair{}, fmt.Errorf("sign access token: %w", err)
	}

	refresh, err := m.signer.Sign(&Claims{
		SessionID: sessionID,
		Type:      TypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   identityID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExp),
		},
	})
	if err != nil {
		return Pair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	hash := HashToken(refresh)
	key := m.refreshKey(hash)
	_, err = m.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"sid", sessionID,
			"sub", identityID,
			"jti", jti,
			"active", "1",
			"issued_at", now.UnixMilli(),
		)
		pipe.PExpire(ctx, key, m.config.RefreshTTL)
		return nil
	})
	if err != nil {
		return Pair{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := m.sessions.BindRefresh(ctx, sessionID, hash); err != nil {
		if delErr := m.redis.Del(context.WithoutCancel(ctx), key).Err(); delErr != nil {
			m.logger.Warn().Err(delErr).Str("session_id", sessionID).Msg("dropping unbound refresh record failed")
		}
		if errors.Is(err, session.ErrNotFound) {
			return Pair{}, err
		}
		return Pair{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		SessionID:        sessionID,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Validate verifies tok, requires it to be of the expected type and bound to
// an active session. Store errors and cancellation fail closed.
func (m *Manager) Validate(ctx context.Context, tok string, expected Type) (*Claims, error) {
	claims, err := m.verify(tok, expected)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	active, err := m.sessions.IsActive(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !active {
		return nil, session.ErrNotFound
	}
	return claims, nil
}

// Rotate exchanges a refresh token for a new pair. The presented token is
// consumed on success and stays active when the new pair cannot be issued.
// Every failure is joined with [ErrRotationDenied]; all failures except
// throttling itself count against the token's hash.
func (m *Manager) Rotate(ctx context.Context, refreshToken string) (Pair, error) {
	hash := HashToken(refreshToken)

	if err := ctx.Err(); err != nil {
		return Pair{}, errors.Join(ErrRotationDenied, fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
	}

	if m.attempts != nil {
		if err := m.attempts.Check(ctx, hash); err != nil {
			if errors.Is(err, limiters.ErrRefreshAttemptsExceeded) {
				return Pair{}, errors.Join(ErrRotationDenied, ErrRefreshRateLimited)
			}
			return Pair{}, errors.Join(ErrRotationDenied, fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
		}
	}

	claims, err := m.verify(refreshToken, TypeRefresh)
	if err != nil {
		return Pair{}, m.deny(ctx, hash, err)
	}
	if claims.ID == "" {
		return Pair{}, m.deny(ctx, hash, fmt.Errorf("%w: refresh token without id", ErrTokenInvalid))
	}

	key := m.refreshKey(hash)
	consumedAt := m.now().UnixMilli()
	status, err := consumeRefreshLua.Run(
		ctx,
		m.redis,
		[]string{key},
		claims.SessionID,
		claims.ID,
		consumedAt,
	).Int64()
	if err != nil {
		return Pair{}, m.deny(ctx, hash, fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
	}

	switch status {
	case consumeStatusConsumed:
	case consumeStatusReused:
		if m.config.RevokeOnReuse {
			if _, err := m.sessions.Terminate(ctx, claims.SessionID, session.ReasonReuse); err != nil {
				m.logger.Warn().Err(err).Str("session_id", claims.SessionID).Msg("revoke on refresh reuse failed")
			}
		}
		return Pair{}, m.deny(ctx, hash, ErrRefreshReused)
	case consumeStatusNotFound, consumeStatusMismatch:
		return Pair{}, m.deny(ctx, hash, fmt.Errorf("%w: unknown refresh record", ErrTokenInvalid))
	default:
		return Pair{}, m.deny(ctx, hash, fmt.Errorf("%w: unexpected consume status %d", ErrStoreUnavailable, status))
	}

	active, err := m.sessions.IsActive(ctx, claims.SessionID)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			err = fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		m.restore(ctx, key, claims.ID, consumedAt)
		return Pair{}, m.deny(ctx, hash, err)
	}
	if !active {
		return Pair{}, m.deny(ctx, hash, session.ErrNotFound)
	}

	pair, err := m.IssuePair(ctx, claims.Subject, claims.SessionID)
	if err != nil {
		m.restore(ctx, key, claims.ID, consumedAt)
		return Pair{}, m.deny(ctx, hash, err)
	}
	return pair, nil
}

// restore undoes a consume whose replacement pair was never handed out.
func (m *Manager) restore(ctx context.Context, key, jti string, consumedAt int64) {
	restored, err := restoreRefreshLua.Run(context.WithoutCancel(ctx), m.redis, []string{key}, jti, consumedAt).Int64()
	if err != nil {
		m.logger.Error().Err(err).Msg("restoring consumed refresh token failed")
		return
	}
	if restored == 0 {
		m.logger.Warn().Msg("consumed refresh token changed before restore")
	}
}

// Revoke deactivates the session; every token bound to it stops validating.
func (m *Manager) Revoke(ctx context.Context, sessionID string) error {
	if _, err := m.sessions.Terminate(ctx, sessionID, session.ReasonRevoked); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// ShouldRotate reports whether an access token is close enough to expiry
// that the client should rotate now.
func (m *Manager) ShouldRotate(claims *Claims) bool {
	if claims == nil || claims.ExpiresAt == nil {
		return true
	}
	return claims.ExpiresAt.Sub(m.now()) < m.config.RotationThreshold
}

// AccessTTL returns the configured access lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.config.AccessTTL }

// RefreshTTL returns the configured refresh lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.config.RefreshTTL }

func (m *Manager) verify(tok string, expected Type) (*Claims, error) {
	if tok == "" {
		return nil, ErrTokenInvalid
	}
	claims, err := m.signer.Verify(tok)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrTokenInvalid) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if claims.Type != expected {
		return nil, fmt.Errorf("%w: expected %s token", ErrTokenInvalid, expected)
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.After(m.now()) {
		return nil, ErrTokenExpired
	}
	return claims, nil
}

func (m *Manager) deny(ctx context.Context, hash string, cause error) error {
	if m.attempts != nil {
		if _, err := m.attempts.RecordFailure(context.WithoutCancel(ctx), hash); err != nil {
			m.logger.Warn().Err(err).Msg("recording refresh failure")
		}
	}
	return errors.Join(ErrRotationDenied, cause)
}

func (m *Manager) refreshKey(hash string) string {
	return m.config.Prefix + ":" + hash
}
