package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/trustplane"
	"github.com/MrEthical07/trustplane/launch"
)

// RateLimitBody is the 429 response body.
type RateLimitBody struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
	Remaining  int    `json:"remaining"`
}

// DegradedBody is the 503 response body for API routes.
type DegradedBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Degraded   bool   `json:"degraded"`
	RetryAfter int    `json:"retryAfter"`
}

const degradedPage = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Temporarily degraded</title></head>
<body>
<h1>We are under heavy load</h1>
<p>This page is temporarily unavailable. Please try again in a few minutes.</p>
</body>
</html>
`

// Admission admits or rejects each request before it reaches next.
// Admitted requests carry the launch headers, the X-RateLimit headers and
// the client IP and user agent in their context.
func Admission(engine *trustplane.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteError(w, trustplane.ErrEngineNotReady)
				return
			}

			req := ClientIdentity(r)
			res := engine.Admit(r.Context(), req)
			setLaunchHeaders(w, res.Mode)

			switch {
			case res.Err == nil:
				setRateLimitHeaders(w, res)
				next.ServeHTTP(w, withClient(r, req.IP))
			case errors.Is(res.Err, trustplane.ErrRateLimitExceeded):
				setRateLimitHeaders(w, res)
				w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfter))
				WriteJSON(w, http.StatusTooManyRequests, RateLimitBody{
					Error:      trustplane.ErrorCode(res.Err),
					RetryAfter: res.RetryAfter,
					Remaining:  res.Remaining,
				})
			case errors.Is(res.Err, trustplane.ErrDegradedMode), errors.Is(res.Err, trustplane.ErrCanaryExcluded):
				w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfter))
				writeDegraded(w, r, res)
			default:
				WriteError(w, res.Err)
			}
		})
	}
}

func writeDegraded(w http.ResponseWriter, r *http.Request, res trustplane.AdmissionResult) {
	if !isAPIPath(r.URL.Path) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(degradedPage))
		return
	}
	WriteJSON(w, http.StatusServiceUnavailable, DegradedBody{
		Error:      trustplane.ErrorCode(res.Err),
		Message:    res.Err.Error(),
		Degraded:   true,
		RetryAfter: res.RetryAfter,
	})
}

func setRateLimitHeaders(w http.ResponseWriter, res trustplane.AdmissionResult) {
	if res.Limit <= 0 {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(res.Remaining, 0)))
	if !res.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	}
}

func setLaunchHeaders(w http.ResponseWriter, mode launch.Mode) {
	for k, v := range launch.Headers(mode) {
		w.Header().Set(k, v)
	}
}

func isAPIPath(path string) bool {
	return path == "/api" || strings.HasPrefix(path, "/api/")
}
