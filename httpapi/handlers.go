package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/trustplane"
	"github.com/MrEthical07/trustplane/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type handlers struct {
	engine *trustplane.Engine
	config trustplane.Config
	logger zerolog.Logger
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// refreshResponse echoes the tokens only to clients that sent the refresh
// token in the body; cookie clients receive them as cookies.
type refreshResponse struct {
	trustplane.TokenPair
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	latency, err := h.engine.Ping(r.Context())
	if err != nil {
		middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"storeLatencyMs": latency.Milliseconds(),
		"launchMode":     h.engine.LaunchMode().Label(),
	})
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	token := middleware.RefreshToken(r, h.config)
	fromBody := false
	if token == "" && r.Body != nil {
		var req refreshRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 8<<10)).Decode(&req); err == nil {
			token = req.RefreshToken
			fromBody = true
		}
	}

	pair, err := h.engine.Refresh(r.Context(), token)
	if err != nil {
		throttled := errors.Is(err, trustplane.ErrRefreshRateLimited)
		if throttled {
			w.Header().Set("Retry-After", strconv.Itoa(int(h.config.Security.RefreshCooldown/time.Second)))
		}
		if throttled || trustplane.HTTPStatus(err) == http.StatusUnauthorized {
			middleware.ClearTokenCookies(w, h.config)
		}
		middleware.WriteError(w, err)
		return
	}

	middleware.SetTokenCookies(w, h.config, pair)
	resp := refreshResponse{TokenPair: *pair}
	if fromBody {
		resp.AccessToken = pair.AccessToken
		resp.RefreshToken = pair.RefreshToken
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthResultFromContext(r.Context())
	if err := h.engine.Logout(r.Context(), auth.IdentityID, auth.SessionID); err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.ClearTokenCookies(w, h.config)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthResultFromContext(r.Context())
	sessions, err := h.engine.ActiveSessions(r.Context(), auth.IdentityID, auth.SessionID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *handlers) revokeSession(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthResultFromContext(r.Context())
	err := h.engine.RevokeSession(r.Context(), auth.IdentityID, chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, trustplane.ErrSessionNotFound):
		// The caller is authenticated; an unknown id is not an auth failure.
		middleware.WriteJSON(w, http.StatusNotFound, middleware.ErrorBody{Error: trustplane.ErrorCode(err)})
	case err != nil:
		middleware.WriteError(w, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *handlers) terminateOthers(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthResultFromContext(r.Context())
	n, err := h.engine.TerminateOtherSessions(r.Context(), auth.IdentityID, auth.SessionID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]int{"terminated": n})
}

func (h *handlers) anomalies(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthResultFromContext(r.Context())
	days := h.config.Anomaly.Runner.WindowDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			middleware.WriteJSON(w, http.StatusBadRequest, middleware.ErrorBody{Error: "invalid_request", Message: "days must be an integer"})
			return
		}
		days = n
	}
	report, err := h.engine.ScanAnomalies(r.Context(), auth.IdentityID, days)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, report)
}

func (h *handlers) getLaunch(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, h.engine.LaunchMode())
}

func (h *handlers) putLaunch(w http.ResponseWriter, r *http.Request) {
	var update trustplane.LaunchUpdate
	if err := json.NewDecoder(io.LimitReader(r.Body, 8<<10)).Decode(&update); err != nil {
		middleware.WriteJSON(w, http.StatusBadRequest, middleware.ErrorBody{Error: "invalid_request", Message: "malformed launch update"})
		return
	}
	mode, err := h.engine.SetLaunchMode(r.Context(), update)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	h.logger.Info().Str("mode", mode.Label()).Int("traffic_percentage", mode.TrafficPercentage).Msg("launch mode updated")
	middleware.WriteJSON(w, http.StatusOK, mode)
}

func (h *handlers) promoteLaunch(w http.ResponseWriter, r *http.Request) {
	mode, err := h.engine.PromoteCanary(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, mode)
}
