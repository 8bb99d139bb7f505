package trustplane

import (
	"time"

	"github.com/MrEthical07/trustplane/anomaly"
	"github.com/MrEthical07/trustplane/launch"
	"github.com/MrEthical07/trustplane/ratelimit"
	"github.com/MrEthical07/trustplane/session"
)

// AdmissionRequest identifies one inbound request for [Engine.Admit].
type AdmissionRequest struct {
	Path           string
	OrganizationID string
	UserID         string
	IP             string
}

// AdmissionResult is the admission verdict. Err is nil when the request
// may proceed and otherwise one of [ErrCanaryExcluded], [ErrDegradedMode]
// or [ErrRateLimitExceeded].
type AdmissionResult struct {
	Err    error
	Route  string
	Key    ratelimit.Key
	Policy ratelimit.Policy
	Mode   launch.Mode
	Limit  int
	// Remaining is the steady budget left before this request was counted.
	Remaining int
	ResetAt   time.Time
	// RetryAfter is the client backoff hint in whole seconds. It is set on
	// every denial.
	RetryAfter int
	// FailOpen is set when the counter store was unavailable and the request
	// was admitted anyway.
	FailOpen bool
}

// Allowed reports whether the request may proceed.
func (r AdmissionResult) Allowed() bool {
	return r.Err == nil
}

// TokenPair is the result of a login or a refresh.
type TokenPair struct {
	SessionID        string    `json:"sessionId"`
	AccessToken      string    `json:"-"`
	RefreshToken     string    `json:"-"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// AuthResult describes an authenticated request.
type AuthResult struct {
	IdentityID string
	SessionID  string
	ExpiresAt  time.Time
	// ShouldRotate is set when the access token is close enough to expiry
	// that the client should refresh.
	ShouldRotate bool
}

// SessionInfo is the public view of one session record.
type SessionInfo struct {
	SessionID      string    `json:"id"`
	IdentityID     string    `json:"identityId"`
	IssuedAt       time.Time `json:"issuedAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	Active         bool      `json:"active"`
	IPAddress      string    `json:"ipAddress,omitempty"`
	UserAgent      string    `json:"userAgent,omitempty"`
	DeviceType     string    `json:"deviceType"`
	Location       string    `json:"location,omitempty"`
	Current        bool      `json:"current"`
}

func sessionInfoFromRecord(rec *session.Record, currentID string) SessionInfo {
	info := SessionInfo{
		SessionID:      rec.SessionID,
		IdentityID:     rec.IdentityID,
		IssuedAt:       rec.IssuedAt,
		ExpiresAt:      rec.ExpiresAt,
		LastActivityAt: rec.LastActivityAt,
		Active:         rec.Active,
		IPAddress:      rec.IPAddress,
		UserAgent:      rec.UserAgent,
		DeviceType:     string(rec.DeviceType),
		Current:        rec.SessionID == currentID,
	}
	if !rec.Location.IsZero() {
		info.Location = rec.Location.String()
	}
	return info
}

// AnomalyReport is the result of one anomaly scan.
type AnomalyReport = anomaly.Report

// LaunchUpdate is a partial launch mode change.
type LaunchUpdate = launch.Update
