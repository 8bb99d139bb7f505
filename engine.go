package trustplane

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/trustplane/anomaly"
	internalaudit "github.com/MrEthical07/trustplane/internal/audit"
	"github.com/MrEthical07/trustplane/internal/flows"
	"github.com/MrEthical07/trustplane/launch"
	"github.com/MrEthical07/trustplane/ratelimit"
	"github.com/MrEthical07/trustplane/session"
	"github.com/MrEthical07/trustplane/token"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Engine is the trust plane: admission, token lifecycle, session registry
// and anomaly scanning behind one value. Methods are safe for concurrent
// use once [Builder.Build] returns.
type Engine struct {
	config Config
	redis  redis.UniversalClient
	logger zerolog.Logger
	now    func() time.Time

	policies   *ratelimit.PolicyTable
	limiter    *ratelimit.Limiter
	launch     *launch.Controller
	launchSync *launch.RedisSync
	sessions   *session.Registry
	tokens     *token.Manager
	detector   *anomaly.Detector
	runner     *anomaly.Runner
	audit      *internalaudit.Dispatcher
	metrics    *Metrics
	flows      flows.Deps
	closers    []func()

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	bg      *errgroup.Group
	closed  atomic.Bool
}

/*
====================================
ADMISSION
====================================
*/

// Admit runs the launch gates and the rate limiter for one request. It never
// blocks longer than the configured store timeout; counter store failures
// admit the request and set FailOpen.
func (e *Engine) Admit(ctx context.Context, req AdmissionRequest) AdmissionResult {
	if e == nil || e.closed.Load() {
		return AdmissionResult{Err: ErrEngineNotReady}
	}
	start := time.Now()
	if req.IP == "" {
		req.IP = clientIPFromContext(ctx)
	}

	res := flows.RunAdmission(ctx, flows.AdmissionInput{
		Path:           req.Path,
		OrganizationID: req.OrganizationID,
		UserID:         req.UserID,
		IP:             req.IP,
	}, e.flows.Admission)

	out := AdmissionResult{
		Route:     res.Route,
		Key:       res.Key,
		Policy:    res.Policy,
		Mode:      res.Mode,
		Limit:     res.Policy.Requests,
		Remaining: res.Decision.Remaining,
		ResetAt:   res.Decision.ResetAt,
		FailOpen:  res.Decision.Degraded,
	}

	switch res.Outcome {
	case flows.AdmissionCanaryExcluded:
		out.Err = ErrCanaryExcluded
		out.RetryAfter = e.degradedRetryAfter()
		e.metricInc(MetricAdmissionCanaryExcluded)
		e.metrics.recordAdmission(res.Route, res.Key.Class, DecisionCanaryExcluded)
	case flows.AdmissionDegraded:
		out.Err = ErrDegradedMode
		out.RetryAfter = e.degradedRetryAfter()
		e.metricInc(MetricAdmissionShed)
		e.metrics.recordAdmission(res.Route, res.Key.Class, DecisionShed)
		e.emitAdmissionAudit(ctx, auditEventAdmissionDegraded, req, out)
	case flows.AdmissionRateLimited:
		out.Err = ErrRateLimitExceeded
		out.RetryAfter = res.Decision.RetryAfter(e.now())
		e.emitAdmissionAudit(ctx, auditEventAdmissionRateLimited, req, out)
	default:
		if e.limiter == nil {
			e.metricInc(MetricAdmissionAllowed)
			e.metrics.recordAdmission(res.Route, res.Key.Class, DecisionAllowed)
		}
		if out.FailOpen {
			e.emitAdmissionAudit(ctx, auditEventAdmissionFailOpen, req, out)
		}
	}

	e.metrics.Observe(MetricAdmissionLatency, time.Since(start))
	return out
}

func (e *Engine) degradedRetryAfter() int {
	secs := int(e.config.Launch.DegradedRetryAfter / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Policies returns the route policy table in use.
func (e *Engine) Policies() *ratelimit.PolicyTable {
	return e.policies
}

/*
====================================
TOKENS
====================================
*/

// Login opens a session for an identity that has already been
// authenticated upstream and issues its first token pair. The client IP and
// user agent are read from ctx (see [WithClientIP] and [WithUserAgent]).
func (e *Engine) Login(ctx context.Context, identityID string) (*TokenPair, error) {
	if e == nil || e.closed.Load() {
		return nil, ErrEngineNotReady
	}
	ip := clientIPFromContext(ctx)
	res := flows.RunLogin(ctx, identityID, session.Metadata{
		IPAddress: ip,
		UserAgent: userAgentFromContext(ctx),
	}, e.flows.Login)

	if res.Failure != flows.LoginFailureNone {
		err := res.Err
		if res.Failure == flows.LoginFailureIssue {
			err = errors.Join(ErrStoreUnavailable, res.Err)
		}
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, identityID, "", err, nil)
		return nil, err
	}

	rec := res.Session
	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventLoginSuccess, true, identityID, rec.SessionID, nil, func() map[string]string {
		md := map[string]string{"device_type": string(rec.DeviceType)}
		if !rec.Location.IsZero() {
			md["location"] = rec.Location.String()
		}
		return md
	})

	pair := pairFromToken(res.Pair)
	return &pair, nil
}

// Authenticate validates an access token, checks its session is still
// active and records activity on the session. The activity update is best
// effort.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (*AuthResult, error) {
	if e == nil || e.closed.Load() {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	res := flows.RunAuthenticate(ctx, accessToken, e.flows.Authenticate)
	e.metrics.Observe(MetricValidateLatency, time.Since(start))

	if res.Failure != flows.AuthenticateFailureNone {
		err := e.mapAuthenticateFailure(res)
		e.metricInc(MetricAuthenticateFailure)
		if res.Failure == flows.AuthenticateFailureInvalid || res.Failure == flows.AuthenticateFailureSession {
			e.emitAudit(ctx, auditEventAuthenticateFailure, false, "", "", err, nil)
		}
		return nil, err
	}

	e.metricInc(MetricAuthenticateSuccess)
	out := &AuthResult{
		IdentityID:   res.Claims.Subject,
		SessionID:    res.Claims.SessionID,
		ShouldRotate: e.tokens.ShouldRotate(res.Claims),
	}
	if res.Claims.ExpiresAt != nil {
		out.ExpiresAt = res.Claims.ExpiresAt.Time
	}
	return out, nil
}

func (e *Engine) mapAuthenticateFailure(res flows.AuthenticateResult) error {
	switch res.Failure {
	case flows.AuthenticateFailureMissing:
		return ErrUnauthenticated
	case flows.AuthenticateFailureStore:
		return errors.Join(ErrStoreUnavailable, res.Err)
	default:
		return res.Err
	}
}

// Refresh exchanges a refresh token for a new pair. Each refresh token is
// accepted once; failed attempts per token are throttled.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || e.closed.Load() {
		return nil, ErrEngineNotReady
	}
	res := flows.RunRefresh(ctx, refreshToken, e.flows.Refresh)

	switch res.Failure {
	case flows.RefreshFailureNone:
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, auditEventRefreshSuccess, true, "", res.Pair.SessionID, nil, nil)
		pair := pairFromToken(res.Pair)
		return &pair, nil
	case flows.RefreshFailureMissing:
		e.metricInc(MetricRefreshFailure)
		return nil, ErrUnauthenticated
	case flows.RefreshFailureRateLimited:
		e.metricInc(MetricRefreshRateLimited)
		e.emitAudit(ctx, auditEventRefreshRateLimited, false, "", "", res.Err, nil)
		return nil, res.Err
	case flows.RefreshFailureReuse:
		e.metricInc(MetricRefreshFailure)
		e.metricInc(MetricRefreshReuseDetected)
		e.emitAudit(ctx, auditEventRefreshReuseDetected, false, "", "", res.Err, nil)
		return nil, res.Err
	case flows.RefreshFailureStore:
		e.metricInc(MetricRefreshFailure)
		return nil, errors.Join(ErrStoreUnavailable, res.Err)
	default:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", res.Err, nil)
		return nil, res.Err
	}
}

func pairFromToken(p token.Pair) TokenPair {
	return TokenPair{
		SessionID:        p.SessionID,
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

// AccessTTL returns the access token lifetime.
func (e *Engine) AccessTTL() time.Duration {
	return e.tokens.AccessTTL()
}

// RefreshTTL returns the refresh token lifetime.
func (e *Engine) RefreshTTL() time.Duration {
	return e.tokens.RefreshTTL()
}

/*
====================================
SESSIONS
====================================
*/

// Logout ends one session owned by identityID. Ending a session that is
// already inactive succeeds. An empty identityID skips the ownership check.
func (e *Engine) Logout(ctx context.Context, identityID, sessionID string) error {
	return e.endSession(ctx, identityID, sessionID, session.ReasonLogout)
}

// RevokeSession ends one session owned by identityID on behalf of another
// of that identity's sessions.
func (e *Engine) RevokeSession(ctx context.Context, identityID, sessionID string) error {
	return e.endSession(ctx, identityID, sessionID, session.ReasonRevoked)
}

func (e *Engine) endSession(ctx context.Context, identityID, sessionID, reason string) error {
	if e == nil || e.closed.Load() {
		return ErrEngineNotReady
	}
	res := flows.RunLogout(ctx, identityID, sessionID, reason, e.flows.Logout)
	if res.Err != nil {
		e.emitAudit(ctx, auditEventLogoutSession, false, identityID, sessionID, res.Err, nil)
		return res.Err
	}
	e.metricInc(MetricLogout)
	e.metrics.Add(MetricSessionTerminated, uint64(res.Terminated))
	e.emitAudit(ctx, auditEventLogoutSession, true, identityID, sessionID, nil, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return nil
}

// TerminateOtherSessions ends every active session of identityID except
// keepSessionID and returns how many were ended.
func (e *Engine) TerminateOtherSessions(ctx context.Context, identityID, keepSessionID string) (int, error) {
	if e == nil || e.closed.Load() {
		return 0, ErrEngineNotReady
	}
	res := flows.RunTerminateOthers(ctx, identityID, keepSessionID, e.flows.Logout)
	if res.Err != nil {
		e.emitAudit(ctx, auditEventLogoutOthers, false, identityID, keepSessionID, res.Err, nil)
		return 0, res.Err
	}
	e.metricInc(MetricLogoutOthers)
	e.metrics.Add(MetricSessionTerminated, uint64(res.Terminated))
	e.emitAudit(ctx, auditEventLogoutOthers, true, identityID, keepSessionID, nil, func() map[string]string {
		return map[string]string{"terminated": strconv.Itoa(res.Terminated)}
	})
	return res.Terminated, nil
}

// ActiveSessions lists the live sessions of identityID, most recently active
// first. currentSessionID marks the caller's own session.
func (e *Engine) ActiveSessions(ctx context.Context, identityID, currentSessionID string) ([]SessionInfo, error) {
	if e == nil || e.closed.Load() {
		return nil, ErrEngineNotReady
	}
	records, err := e.sessions.ListActive(ctx, identityID)
	if err != nil {
		return nil, err
	}
	out := make([]SessionInfo, 0, len(records))
	for _, rec := range records {
		out = append(out, sessionInfoFromRecord(rec, currentSessionID))
	}
	return out, nil
}

// SweepExpiredSessions deactivates every session past its expiry and
// returns how many were ended.
func (e *Engine) SweepExpiredSessions(ctx context.Context) (int, error) {
	if e == nil || e.closed.Load() {
		return 0, ErrEngineNotReady
	}
	n, err := e.sessions.SweepExpired(ctx)
	if n > 0 {
		e.metrics.Add(MetricSessionSwept, uint64(n))
		e.metrics.Add(MetricSessionTerminated, uint64(n))
		e.emitAudit(ctx, auditEventSessionSwept, true, "", "", nil, func() map[string]string {
			return map[string]string{"count": strconv.Itoa(n)}
		})
	}
	return n, err
}

/*
====================================
ANOMALY
====================================
*/

// ScanAnomalies evaluates the sessions identityID issued in the last
// windowDays days. The scan only reads; it never ends sessions.
func (e *Engine) ScanAnomalies(ctx context.Context, identityID string, windowDays int) (AnomalyReport, error) {
	if e == nil || e.closed.Load() {
		return AnomalyReport{}, ErrEngineNotReady
	}
	e.metricInc(MetricAnomalyScans)
	report, err := e.detector.Scan(ctx, identityID, windowDays)
	if err != nil {
		e.metricInc(MetricAnomalyErrors)
		return AnomalyReport{}, err
	}
	if report.Suspicious() {
		e.onAnomalyReport(report)
	}
	return report, nil
}

// AnomalyRunnerStats returns the background runner counters. The zero value
// is returned when the runner is disabled.
func (e *Engine) AnomalyRunnerStats() anomaly.RunnerStats {
	if e == nil || e.runner == nil {
		return anomaly.RunnerStats{}
	}
	return e.runner.Stats()
}

func (e *Engine) onAnomalyReport(report anomaly.Report) {
	e.metricInc(MetricAnomalySuspicious)
	e.metrics.Add(MetricAnomalyFlags, uint64(len(report.Flags)))

	e.logger.Warn().
		Str("identity_id", report.IdentityID).
		Int("flags", len(report.Flags)).
		Int("suspicious_sessions", report.Metrics.SuspiciousSessions).
		Msg("suspicious session activity")

	for _, flag := range report.Flags {
		e.emitAudit(context.Background(), auditEventAnomalyFlagged, false, report.IdentityID, flag.SessionID, nil, func() map[string]string {
			return map[string]string{
				"reason": string(flag.Reason),
				"detail": flag.Detail,
			}
		})
	}
}

/*
====================================
LAUNCH
====================================
*/

// LaunchMode returns the current launch mode.
func (e *Engine) LaunchMode() launch.Mode {
	return e.launch.GetMode()
}

// SetLaunchMode merges u into the launch mode. With launch sync enabled the
// change is stored and published to every instance.
func (e *Engine) SetLaunchMode(ctx context.Context, u LaunchUpdate) (launch.Mode, error) {
	if e == nil || e.closed.Load() {
		return launch.Mode{}, ErrEngineNotReady
	}
	var (
		mode launch.Mode
		err  error
	)
	if e.launchSync != nil {
		mode, err = e.launchSync.Apply(ctx, u)
	} else {
		mode, err = e.launch.SetMode(u)
	}
	if err != nil {
		e.emitAudit(ctx, auditEventLaunchModeUpdateFailure, false, "", "", err, nil)
		return mode, err
	}
	return mode, nil
}

// LoadLaunchMode replaces the local launch mode with the shared one when
// launch sync is enabled. It is a no-op otherwise and when nothing has been
// stored yet.
func (e *Engine) LoadLaunchMode(ctx context.Context) error {
	if e == nil || e.closed.Load() {
		return ErrEngineNotReady
	}
	if e.launchSync == nil {
		return nil
	}
	return e.launchSync.Load(ctx)
}

// PromoteCanary moves the canary traffic share to the next rollout step.
// Reaching 100% leaves canary mode.
func (e *Engine) PromoteCanary(ctx context.Context) (launch.Mode, error) {
	next := launch.NextStep(e.LaunchMode().TrafficPercentage)
	canary := next < 100
	return e.SetLaunchMode(ctx, LaunchUpdate{Canary: &canary, TrafficPercentage: &next})
}

func (e *Engine) onLaunchChange(previous, current launch.Mode) {
	e.metricInc(MetricLaunchModeChanged)
	e.logger.Info().
		Str("previous", previous.Label()).
		Str("current", current.Label()).
		Int("traffic_percentage", current.TrafficPercentage).
		Bool("emergency_mode", current.EmergencyMode).
		Msg("launch mode changed")
	e.emitAudit(context.Background(), auditEventLaunchModeChanged, true, "", "", nil, func() map[string]string {
		return map[string]string{
			"mode":               current.Label(),
			"traffic_percentage": strconv.Itoa(current.TrafficPercentage),
			"emergency_mode":     strconv.FormatBool(current.EmergencyMode),
		}
	})
}

/*
====================================
LIFECYCLE
====================================
*/

// Start launches the background loops: the expiry sweeper, the anomaly
// runner when enabled and the launch sync subscriber when enabled. They run
// until ctx is done or [Engine.Close] is called.
func (e *Engine) Start(ctx context.Context) error {
	if e == nil || e.closed.Load() {
		return ErrEngineNotReady
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("engine already started")
	}

	if err := e.LoadLaunchMode(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("could not load shared launch mode")
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	if interval := e.config.Session.SweepInterval; interval > 0 {
		g.Go(func() error {
			e.sweepLoop(gctx, interval)
			return nil
		})
	}
	if e.runner != nil {
		g.Go(func() error {
			return e.runner.Run(gctx)
		})
	}
	if e.launchSync != nil {
		g.Go(func() error {
			if err := e.launchSync.Run(gctx); err != nil {
				e.logger.Error().Err(err).Msg("launch sync stopped")
			}
			return nil
		})
	}

	e.started = true
	e.cancel = cancel
	e.bg = g
	return nil
}

func (e *Engine) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.SweepExpiredSessions(ctx)
			if err != nil {
				e.logger.Warn().Err(err).Int("swept", n).Msg("session sweep failed")
				continue
			}
			if n > 0 {
				e.logger.Info().Int("swept", n).Msg("expired sessions ended")
			}
		}
	}
}

// Close stops background loops and flushes pending audit events. It is safe
// to call more than once.
func (e *Engine) Close() {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return
	}
	e.mu.Lock()
	cancel, bg := e.cancel, e.bg
	e.mu.Unlock()
	if cancel != nil {
		cancel()
		_ = bg.Wait()
	}
	e.shutdown()
}

func (e *Engine) shutdown() {
	for _, fn := range e.closers {
		fn()
	}
	e.closers = nil
	e.audit.Close()
}

// Ping checks the shared store and returns the round trip latency.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if e == nil || e.closed.Load() {
		return 0, ErrEngineNotReady
	}
	return e.sessions.Ping(ctx)
}

// AuditDropped returns how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditDroppedByType breaks [Engine.AuditDropped] down by event type.
func (e *Engine) AuditDroppedByType() map[string]uint64 {
	if e == nil {
		return nil
	}
	return e.audit.DroppedByType()
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return (*Metrics)(nil).Snapshot()
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil {
		return
	}
	e.metrics.Inc(id)
}

/*
====================================
AUDIT
====================================
*/

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, identityID, sessionID string, err error, metadata func() map[string]string) {
	if e == nil || e.audit == nil {
		return
	}
	event := AuditEvent{
		Timestamp:  e.now().UTC(),
		EventType:  eventType,
		IdentityID: identityID,
		SessionID:  sessionID,
		IP:         clientIPFromContext(ctx),
		Success:    success,
	}
	if err != nil {
		event.Error = ErrorCode(err)
	}
	if metadata != nil {
		event.Metadata = metadata()
	}
	e.audit.Emit(ctx, event)
}

func (e *Engine) emitAdmissionAudit(ctx context.Context, eventType string, req AdmissionRequest, res AdmissionResult) {
	if e == nil || e.audit == nil {
		return
	}
	event := AuditEvent{
		Timestamp:      e.now().UTC(),
		EventType:      eventType,
		IdentityID:     req.UserID,
		OrganizationID: req.OrganizationID,
		Route:          res.Route,
		IP:             req.IP,
		Success:        res.Err == nil,
		Metadata: map[string]string{
			"key_class":   string(res.Key.Class),
			"retry_after": strconv.Itoa(res.RetryAfter),
		},
	}
	if res.Err != nil {
		event.Error = ErrorCode(res.Err)
	}
	e.audit.Emit(ctx, event)
}
