package trustplane

import (
	"io"

	internalaudit "github.com/MrEthical07/trustplane/internal/audit"
	"github.com/rs/zerolog"
)

// AuditEvent is one security-relevant occurrence emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = internalaudit.Sink

// NoOpSink discards every event.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink forwards events to a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON document per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// LoggerSink writes events through a zerolog logger.
type LoggerSink = internalaudit.LoggerSink

// NewChannelSink returns a sink backed by a channel of the given capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink that serializes events to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewLoggerSink returns a sink that logs events with logger.
func NewLoggerSink(logger zerolog.Logger) *LoggerSink {
	return internalaudit.NewLoggerSink(logger)
}

const (
	auditEventAdmissionRateLimited    = "admission_rate_limited"
	auditEventAdmissionDegraded       = "admission_degraded"
	auditEventAdmissionFailOpen       = "admission_fail_open"
	auditEventLoginSuccess            = "login_success"
	auditEventLoginFailure            = "login_failure"
	auditEventAuthenticateFailure     = "authenticate_failure"
	auditEventRefreshSuccess          = "refresh_success"
	auditEventRefreshInvalid          = "refresh_invalid"
	auditEventRefreshRateLimited      = "refresh_rate_limited"
	auditEventRefreshReuseDetected    = "refresh_reuse_detected"
	auditEventLogoutSession           = "logout_session"
	auditEventLogoutOthers            = "logout_others"
	auditEventSessionSwept            = "session_swept"
	auditEventAnomalyFlagged          = "anomaly_flagged"
	auditEventLaunchModeChanged       = "launch_mode_changed"
	auditEventLaunchModeUpdateFailure = "launch_mode_update_failure"
)

// criticalAuditEvents are never shed by the dispatcher, even when admission
// denials flood the routine lane.
var criticalAuditEvents = []string{
	auditEventRefreshReuseDetected,
	auditEventAnomalyFlagged,
	auditEventLaunchModeChanged,
	auditEventLaunchModeUpdateFailure,
	auditEventLogoutOthers,
}
