package trustplane

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/trustplane/anomaly"
	"github.com/MrEthical07/trustplane/launch"
	"github.com/MrEthical07/trustplane/logger"
)

// Config is the complete engine configuration. Start from [DefaultConfig]
// and override fields; the engine keeps its own copy.
type Config struct {
	Token     TokenConfig     `yaml:"token"`
	Session   SessionConfig   `yaml:"session"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Launch    LaunchConfig    `yaml:"launch"`
	Anomaly   AnomalyConfig   `yaml:"anomaly"`
	Audit     AuditConfig     `yaml:"audit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Security  SecurityConfig  `yaml:"security"`
	Cookie    CookieConfig    `yaml:"cookie"`
	Log       logger.Config   `yaml:"log"`
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls token signing and lifetimes. Key material is never
// read from YAML; load it from files and set it in code.
type TokenConfig struct {
	AccessTTL         time.Duration `yaml:"access_ttl"`
	RefreshTTL        time.Duration `yaml:"refresh_ttl"`
	RotationThreshold time.Duration `yaml:"rotation_threshold"`
	SigningMethod     string        `yaml:"signing_method"` // "ed25519" (default) or "hs256"
	PrivateKey        []byte        `yaml:"-"`
	PublicKey         []byte        `yaml:"-"`
	Issuer            string        `yaml:"issuer"`
	Audience          string        `yaml:"audience"`
	KeyID             string        `yaml:"key_id"`
	Leeway            time.Duration `yaml:"leeway"`
	RevokeOnReuse     bool          `yaml:"revoke_on_reuse"`
	RedisPrefix       string        `yaml:"redis_prefix"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the session registry.
type SessionConfig struct {
	RedisPrefix       string        `yaml:"redis_prefix"`
	TTL               time.Duration `yaml:"ttl"`
	MaxActiveSessions int           `yaml:"max_active_sessions"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	// TouchTimeout bounds the best-effort activity update after a
	// successful authentication.
	TouchTimeout time.Duration `yaml:"touch_timeout"`
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig controls admission.
type RateLimitConfig struct {
	Enabled      bool          `yaml:"enabled"`
	RedisPrefix  string        `yaml:"redis_prefix"`
	StoreTimeout time.Duration `yaml:"store_timeout"`
	// PolicyFile, when set, replaces the built-in policy table.
	PolicyFile string `yaml:"policy_file"`
}

/*
====================================
LAUNCH CONFIG
====================================
*/

// LaunchConfig sets the initial launch mode.
type LaunchConfig struct {
	Initial            launch.Mode `yaml:"initial"`
	DegradeProbability float64     `yaml:"degrade_probability"`
	// DegradedRetryAfter is the retry hint sent with shed and canary
	// excluded responses.
	DegradedRetryAfter time.Duration `yaml:"degraded_retry_after"`
	// Sync shares mode changes between instances through Redis.
	Sync bool `yaml:"sync"`
}

/*
====================================
ANOMALY CONFIG
====================================
*/

// AnomalyConfig controls the detector and its background runner. On-demand
// scans are always available; Enabled only starts the runner.
type AnomalyConfig struct {
	Enabled    bool                 `yaml:"enabled"`
	Thresholds anomaly.Thresholds   `yaml:"thresholds"`
	Runner     anomaly.RunnerConfig `yaml:"runner"`
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls asynchronous audit dispatch.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds refresh throttling and cookie policy.
type SecurityConfig struct {
	ProductionMode     bool          `yaml:"production_mode"`
	MaxRefreshAttempts int           `yaml:"max_refresh_attempts"`
	RefreshCooldown    time.Duration `yaml:"refresh_cooldown"`
	// RefreshThrottleBackend is "redis" (default) or "memory". The memory
	// backend only throttles within one process.
	RefreshThrottleBackend string `yaml:"refresh_throttle_backend"`
}

/*
====================================
COOKIE CONFIG
====================================
*/

// CookieConfig names the token cookies set by the HTTP layer. Cookies are
// always HttpOnly and SameSite=Strict, and Secure when
// Security.ProductionMode is set.
type CookieConfig struct {
	AccessName  string `yaml:"access_name"`
	RefreshName string `yaml:"refresh_name"`
	// RefreshPath scopes the refresh cookie to the refresh endpoint.
	RefreshPath string `yaml:"refresh_path"`
	Domain      string `yaml:"domain"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:         15 * time.Minute,
			RefreshTTL:        7 * 24 * time.Hour,
			RotationThreshold: 5 * time.Minute,
			SigningMethod:     "ed25519",
			RedisPrefix:       "rt",
		},
		Session: SessionConfig{
			RedisPrefix:   "sr",
			TTL:           7 * 24 * time.Hour,
			SweepInterval: time.Hour,
			TouchTimeout:  250 * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			Enabled:      true,
			RedisPrefix:  "rl",
			StoreTimeout: 50 * time.Millisecond,
		},
		Launch: LaunchConfig{
			Initial:            launch.Mode{TrafficPercentage: 100},
			DegradeProbability: launch.DefaultDegradeProbability,
			DegradedRetryAfter: 30 * time.Second,
		},
		Anomaly: AnomalyConfig{
			Enabled:    true,
			Thresholds: anomaly.DefaultThresholds(),
			Runner:     anomaly.DefaultRunnerConfig(),
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Security: SecurityConfig{
			ProductionMode:         false,
			MaxRefreshAttempts:     3,
			RefreshCooldown:        time.Minute,
			RefreshThrottleBackend: "redis",
		},
		Cookie: CookieConfig{
			AccessName:  "access_token",
			RefreshName: "refresh_token",
			RefreshPath: "/api/auth/refresh",
		},
		Log: logger.DefaultConfig(),
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	if cfg.Log.File != nil {
		file := *cfg.Log.File
		out.Log.File = &file
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	return c.validate(true)
}

// validate skips key material checks when the caller supplies its own
// signer.
func (c *Config) validate(requireKeys bool) error {
	// Token
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return errors.New("Token RefreshTTL must be greater than AccessTTL")
	}
	if c.Token.RotationThreshold < 0 || c.Token.RotationThreshold >= c.Token.AccessTTL {
		return errors.New("Token RotationThreshold must be within AccessTTL")
	}
	switch c.Token.SigningMethod {
	case "ed25519":
		if requireKeys && len(c.Token.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if requireKeys && len(c.Token.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	case "hs256":
		if requireKeys && len(c.Token.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported token signing method")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("Token Leeway must be between 0 and 2m")
	}

	// Session
	if c.Session.TTL < c.Token.RefreshTTL {
		return errors.New("Session TTL must cover Token RefreshTTL")
	}
	if c.Session.MaxActiveSessions < 0 {
		return errors.New("Session MaxActiveSessions must be >= 0")
	}
	if c.Session.SweepInterval < 0 {
		return errors.New("Session SweepInterval must be >= 0")
	}
	if c.Session.TouchTimeout <= 0 {
		return errors.New("Session TouchTimeout must be > 0")
	}

	// Rate limit
	if c.RateLimit.Enabled && (c.RateLimit.StoreTimeout <= 0 || c.RateLimit.StoreTimeout > time.Second) {
		return errors.New("RateLimit StoreTimeout must be in (0, 1s]")
	}

	// Launch
	if p := c.Launch.Initial.TrafficPercentage; p < 0 || p > 100 {
		return errors.New("Launch TrafficPercentage must be between 0 and 100")
	}
	if c.Launch.DegradeProbability < 0 || c.Launch.DegradeProbability > 1 {
		return errors.New("Launch DegradeProbability must be between 0 and 1")
	}
	if c.Launch.DegradedRetryAfter < time.Second {
		return errors.New("Launch DegradedRetryAfter must be >= 1s")
	}

	// Anomaly
	if err := c.Anomaly.Thresholds.Validate(); err != nil {
		return err
	}
	if c.Anomaly.Enabled && (c.Anomaly.Runner.WindowDays < 0 || c.Anomaly.Runner.Concurrency < 0) {
		return errors.New("Anomaly Runner settings must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	// Security
	if c.Security.MaxRefreshAttempts <= 0 {
		return errors.New("Security MaxRefreshAttempts must be > 0")
	}
	if c.Security.RefreshCooldown <= 0 {
		return errors.New("Security RefreshCooldown must be > 0")
	}
	switch c.Security.RefreshThrottleBackend {
	case "redis", "memory":
	default:
		return errors.New("Security RefreshThrottleBackend must be 'redis' or 'memory'")
	}

	// Cookie
	if c.Cookie.AccessName == "" || c.Cookie.RefreshName == "" {
		return errors.New("Cookie names must be non-empty")
	}
	if c.Cookie.AccessName == c.Cookie.RefreshName {
		return errors.New("Cookie AccessName and RefreshName must differ")
	}
	if !strings.HasPrefix(c.Cookie.RefreshPath, "/") {
		return errors.New("Cookie RefreshPath must start with /")
	}

	// Log
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}

	return nil
}
