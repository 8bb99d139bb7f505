package trustplane

import (
	"errors"
	"time"

	"github.com/MrEthical07/trustplane/anomaly"
	"github.com/MrEthical07/trustplane/geo"
	internalaudit "github.com/MrEthical07/trustplane/internal/audit"
	"github.com/MrEthical07/trustplane/internal/flows"
	"github.com/MrEthical07/trustplane/internal/limiters"
	"github.com/MrEthical07/trustplane/launch"
	"github.com/MrEthical07/trustplane/ratelimit"
	"github.com/MrEthical07/trustplane/session"
	"github.com/MrEthical07/trustplane/token"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Builder assembles an [Engine].
//
// Builder instances are configured during initialization and used exactly
// once; a second Build call fails.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	logger zerolog.Logger

	signer    token.Signer
	policies  *ratelimit.PolicyTable
	resolver  geo.Resolver
	auditSink AuditSink
	now       func() time.Time
	rand      func() float64

	built bool
}

// New returns a builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
		logger: zerolog.Nop(),
	}
}

// WithConfig replaces the whole configuration. The builder keeps a copy.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the shared counter and session store. It is required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLogger sets the root logger. Each component logs through a child
// logger tagged with its name.
func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithSigner replaces the JWT signer built from Token config. Key material
// in the config is then ignored.
func (b *Builder) WithSigner(signer token.Signer) *Builder {
	b.signer = signer
	return b
}

// WithSigningKeys sets token key material. Ed25519 keys may be raw or PEM;
// for hs256 only private is used.
func (b *Builder) WithSigningKeys(private, public []byte) *Builder {
	b.config.Token.PrivateKey = cloneBytes(private)
	b.config.Token.PublicKey = cloneBytes(public)
	return b
}

// WithPolicies replaces the route policy table.
func (b *Builder) WithPolicies(table *ratelimit.PolicyTable) *Builder {
	b.policies = table
	return b
}

// WithGeoResolver sets the resolver used to locate new sessions.
func (b *Builder) WithGeoResolver(resolver geo.Resolver) *Builder {
	b.resolver = resolver
	return b
}

// WithAuditSink sets the audit destination. Audit must also be enabled in
// config; without a sink, events go to the logger.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides the time source of every component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithRand overrides the uniform [0,1) source of the launch gates.
func (b *Builder) WithRand(fn func() float64) *Builder {
	b.rand = fn
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles admission and validation histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component. It performs
// no I/O except reading the policy file named in config.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.validate(b.signer == nil); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger

	policies := b.policies
	if policies == nil {
		if cfg.RateLimit.PolicyFile != "" {
			table, err := ratelimit.LoadPolicyFile(cfg.RateLimit.PolicyFile)
			if err != nil {
				return nil, err
			}
			policies = table
		} else {
			policies = ratelimit.DefaultPolicyTable()
		}
	}

	engine := &Engine{
		config:   cfg,
		redis:    b.redis,
		logger:   logger,
		now:      now,
		policies: policies,
		metrics:  NewMetrics(cfg.Metrics),
	}

	// -------- AUDIT --------
	sink := b.auditSink
	if sink == nil {
		sink = NewLoggerSink(logger)
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Critical:   criticalAuditEvents,
		Logger:     component(logger, "audit"),
	}, sink)

	// -------- RATE LIMITER --------
	if cfg.RateLimit.Enabled {
		engine.limiter = ratelimit.New(b.redis, ratelimit.Config{
			Prefix:       cfg.RateLimit.RedisPrefix,
			StoreTimeout: cfg.RateLimit.StoreTimeout,
		},
			ratelimit.WithClock(now),
			ratelimit.WithLogger(component(logger, "ratelimit")),
			ratelimit.WithObserver(engine.metrics.observeAdmission),
		)
	}

	// -------- LAUNCH --------
	launchOpts := []launch.Option{
		launch.WithDegradeProbability(cfg.Launch.DegradeProbability),
		launch.OnChange(engine.onLaunchChange),
	}
	if b.rand != nil {
		launchOpts = append(launchOpts, launch.WithRand(b.rand))
	}
	engine.launch = launch.NewController(cfg.Launch.Initial, launchOpts...)
	if cfg.Launch.Sync {
		engine.launchSync = launch.NewRedisSync(b.redis, engine.launch, component(logger, "launch"))
	}

	// -------- SESSIONS --------
	sessionOpts := []session.Option{
		session.WithClock(now),
		session.WithLogger(component(logger, "session")),
	}
	if b.resolver != nil {
		sessionOpts = append(sessionOpts, session.WithResolver(b.resolver))
	}
	engine.sessions = session.NewRegistry(b.redis, session.Config{
		Prefix:            cfg.Session.RedisPrefix,
		TTL:               cfg.Session.TTL,
		MaxActiveSessions: cfg.Session.MaxActiveSessions,
	}, sessionOpts...)

	// -------- TOKENS --------
	attemptsCfg := limiters.RefreshAttemptsConfig{
		MaxAttempts: cfg.Security.MaxRefreshAttempts,
		Cooldown:    cfg.Security.RefreshCooldown,
	}
	var attempts token.AttemptLimiter
	if cfg.Security.RefreshThrottleBackend == "memory" {
		mem := limiters.NewMemoryRefreshAttempts(attemptsCfg, now)
		engine.closers = append(engine.closers, mem.Close)
		attempts = mem
	} else {
		attempts = limiters.NewRefreshAttempts(b.redis, attemptsCfg, now)
	}

	signer := b.signer
	if signer == nil {
		jwtSigner, err := token.NewJWTSigner(token.SignerConfig{
			Method:     token.SigningMethod(cfg.Token.SigningMethod),
			PrivateKey: cloneBytes(cfg.Token.PrivateKey),
			PublicKey:  cloneBytes(cfg.Token.PublicKey),
			Issuer:     cfg.Token.Issuer,
			Audience:   cfg.Token.Audience,
			Leeway:     cfg.Token.Leeway,
			KeyID:      cfg.Token.KeyID,
			Now:        now,
		})
		if err != nil {
			engine.shutdown()
			return nil, err
		}
		signer = jwtSigner
	}

	tokens, err := token.NewManager(b.redis, signer, engine.sessions, attempts, token.Config{
		AccessTTL:         cfg.Token.AccessTTL,
		RefreshTTL:        cfg.Token.RefreshTTL,
		RotationThreshold: cfg.Token.RotationThreshold,
		RevokeOnReuse:     cfg.Token.RevokeOnReuse,
		Prefix:            cfg.Token.RedisPrefix,
	},
		token.WithClock(now),
		token.WithLogger(component(logger, "token")),
	)
	if err != nil {
		engine.shutdown()
		return nil, err
	}
	engine.tokens = tokens

	// -------- ANOMALY --------
	detector, err := anomaly.NewDetector(engine.sessions, cfg.Anomaly.Thresholds,
		anomaly.WithClock(now),
		anomaly.WithLogger(component(logger, "anomaly")),
	)
	if err != nil {
		engine.shutdown()
		return nil, err
	}
	engine.detector = detector
	if cfg.Anomaly.Enabled {
		runner, err := anomaly.NewRunner(detector, engine.sessions, cfg.Anomaly.Runner,
			anomaly.WithRunnerLogger(component(logger, "anomaly")),
			anomaly.OnReport(engine.onAnomalyReport),
		)
		if err != nil {
			engine.shutdown()
			return nil, err
		}
		engine.runner = runner
	}

	// -------- FLOWS --------
	warn := func(msg string, kv ...any) {
		logger.Warn().Fields(kv).Msg(msg)
	}
	engine.flows = flows.Deps{
		Admission: flows.AdmissionDeps{
			Launch:   engine.launch,
			Policies: policies,
		},
		Login: flows.LoginDeps{
			Sessions: engine.sessions,
			Tokens:   tokens,
			Warn:     warn,
		},
		Authenticate: flows.AuthenticateDeps{
			Tokens:       tokens,
			Sessions:     engine.sessions,
			TouchTimeout: cfg.Session.TouchTimeout,
			Warn:         warn,
		},
		Refresh: flows.RefreshDeps{
			Tokens: tokens,
		},
		Logout: flows.LogoutDeps{
			Sessions: engine.sessions,
		},
	}
	if engine.limiter != nil {
		engine.flows.Admission.Limiter = engine.limiter
	}

	b.built = true
	return engine, nil
}

func component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
