package session

import (
	"time"

	"github.com/MrEthical07/trustplane/geo"
)

// Termination reasons recorded on ended sessions.
const (
	ReasonLogout    = "logout"
	ReasonRevoked   = "revoked"
	ReasonExpired   = "expired"
	ReasonTerminate = "terminated"
	ReasonOthers    = "terminated_by_other_session"
	ReasonLimit     = "session_limit"
	ReasonReuse     = "refresh_reuse"
)

// Record is one session as stored in the registry.
type Record struct {
	SessionID      string       `json:"id"`
	IdentityID     string       `json:"identityId"`
	IssuedAt       time.Time    `json:"issuedAt"`
	ExpiresAt      time.Time    `json:"expiresAt"`
	LastActivityAt time.Time    `json:"lastActivityAt"`
	Active         bool         `json:"active"`
	IPAddress      string       `json:"ipAddress,omitempty"`
	UserAgent      string       `json:"userAgent,omitempty"`
	DeviceType     DeviceType   `json:"deviceType"`
	Location       geo.Location `json:"location"`
	EndedAt        time.Time    `json:"endedAt,omitzero"`
	EndReason      string       `json:"endReason,omitempty"`

	refreshHash string
}

// RefreshHash returns the hash of the refresh token currently bound to the
// session, if any.
func (r *Record) RefreshHash() string {
	return r.refreshHash
}

// LiveAt reports whether the record is active and unexpired at now.
func (r *Record) LiveAt(now time.Time) bool {
	return r.Active && r.ExpiresAt.After(now)
}

// Metadata describes the client creating a session. Empty fields are derived
// where possible: DeviceType from UserAgent and Location from IPAddress.
type Metadata struct {
	IPAddress  string
	UserAgent  string
	DeviceType DeviceType
	Location   geo.Location
	// TTL overrides the registry default lifetime when positive.
	TTL time.Duration
}
