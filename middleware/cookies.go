package middleware

import (
	"net/http"
	"time"

	"github.com/MrEthical07/trustplane"
)

// SetTokenCookies writes the access and refresh cookies for pair. The
// refresh cookie is only sent to the refresh endpoint.
func SetTokenCookies(w http.ResponseWriter, cfg trustplane.Config, pair *trustplane.TokenPair) {
	if pair == nil {
		return
	}
	http.SetCookie(w, tokenCookie(cfg, cfg.Cookie.AccessName, "/", pair.AccessToken, cfg.Token.AccessTTL))
	http.SetCookie(w, tokenCookie(cfg, cfg.Cookie.RefreshName, cfg.Cookie.RefreshPath, pair.RefreshToken, cfg.Token.RefreshTTL))
}

// ClearTokenCookies expires both token cookies.
func ClearTokenCookies(w http.ResponseWriter, cfg trustplane.Config) {
	access := tokenCookie(cfg, cfg.Cookie.AccessName, "/", "", 0)
	access.MaxAge = -1
	refresh := tokenCookie(cfg, cfg.Cookie.RefreshName, cfg.Cookie.RefreshPath, "", 0)
	refresh.MaxAge = -1
	http.SetCookie(w, access)
	http.SetCookie(w, refresh)
}

// RefreshToken reads the refresh token cookie from r.
func RefreshToken(r *http.Request, cfg trustplane.Config) string {
	c, err := r.Cookie(cfg.Cookie.RefreshName)
	if err != nil {
		return ""
	}
	return c.Value
}

func tokenCookie(cfg trustplane.Config, name, path, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   cfg.Cookie.Domain,
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   cfg.Security.ProductionMode,
		SameSite: http.SameSiteStrictMode,
	}
}
