package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/trustplane"
)

const (
	headerOrganizationID = "X-Organization-ID"
	headerUserID         = "X-User-ID"
	headerForwardedFor   = "X-Forwarded-For"
	headerRealIP         = "X-Real-IP"
)

// ClientIdentity extracts the admission identifiers from r. The engine
// picks the organization first, then the user, then the client IP.
func ClientIdentity(r *http.Request) trustplane.AdmissionRequest {
	org := strings.TrimSpace(r.Header.Get(headerOrganizationID))
	if org == "" {
		org = strings.TrimSpace(r.URL.Query().Get("org"))
	}
	return trustplane.AdmissionRequest{
		Path:           r.URL.Path,
		OrganizationID: org,
		UserID:         strings.TrimSpace(r.Header.Get(headerUserID)),
		IP:             ClientIP(r),
	}
}

// ClientIP returns the first X-Forwarded-For entry, then X-Real-IP, then
// the host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get(headerForwardedFor); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get(headerRealIP)); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// withClient attaches the client IP and user agent to the request context
// so login can record them on the session.
func withClient(r *http.Request, ip string) *http.Request {
	ctx := trustplane.WithClientIP(r.Context(), ip)
	ctx = trustplane.WithUserAgent(ctx, r.UserAgent())
	return r.WithContext(ctx)
}
