package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/trustplane"
)

type authResultContextKey struct{}

// AuthResultFromContext returns the result stored by [RequireSession].
func AuthResultFromContext(ctx context.Context) (*trustplane.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*trustplane.AuthResult)
	return res, ok
}

// RequireSession rejects requests without a valid access token bound to an
// active session. The token is read from the access cookie, falling back to
// a Bearer Authorization header. Rejections clear the token cookies.
func RequireSession(engine *trustplane.Engine) func(http.Handler) http.Handler {
	var cfg trustplane.Config
	if engine != nil {
		cfg = engine.Config()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteError(w, trustplane.ErrEngineNotReady)
				return
			}

			res, err := engine.Authenticate(r.Context(), accessToken(r, cfg))
			if err != nil {
				if trustplane.HTTPStatus(err) == http.StatusUnauthorized {
					ClearTokenCookies(w, cfg)
				}
				WriteError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), authResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func accessToken(r *http.Request, cfg trustplane.Config) string {
	if c, err := r.Cookie(cfg.Cookie.AccessName); err == nil && c.Value != "" {
		return c.Value
	}
	token, _ := bearerToken(r.Header.Get("Authorization"))
	return token
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
