package httpapi

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/MrEthical07/trustplane"
	"github.com/MrEthical07/trustplane/metrics/export/prometheus"
	"github.com/MrEthical07/trustplane/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// AdminTokenHeader carries the operator token for /admin routes.
const AdminTokenHeader = "X-Admin-Token"

// Options configures [NewRouter].
type Options struct {
	Logger zerolog.Logger
	// AdminToken enables /admin routes. Empty leaves them unmounted.
	AdminToken string
	// Metrics serves GET /metrics. Nil uses the Prometheus exporter.
	Metrics http.Handler
}

// NewRouter returns the HTTP handler for engine.
func NewRouter(engine *trustplane.Engine, opts Options) http.Handler {
	h := &handlers{engine: engine, config: engine.Config(), logger: opts.Logger}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = prometheus.NewPrometheusExporter(engine).Handler()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.SecurityHeaders)

	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", metrics)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Admission(engine))
		r.Post("/auth/refresh", h.refresh)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession(engine))
			r.Post("/auth/logout", h.logout)
			r.Get("/sessions", h.listSessions)
			r.Get("/sessions/anomalies", h.anomalies)
			r.Post("/sessions/terminate-others", h.terminateOthers)
			r.Delete("/sessions/{id}", h.revokeSession)
		})
	})

	if opts.AdminToken != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAdmin(opts.AdminToken))
			r.Get("/launch", h.getLaunch)
			r.Put("/launch", h.putLaunch)
			r.Post("/launch/promote", h.promoteLaunch)
		})
	}

	return r
}

func requireAdmin(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(AdminTokenHeader))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				middleware.WriteJSON(w, http.StatusUnauthorized, middleware.ErrorBody{Error: "unauthenticated"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ev := logger.Debug()
			if status >= http.StatusInternalServerError {
				ev = logger.Warn()
			}
			ev.Str("request_id", chimw.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}
