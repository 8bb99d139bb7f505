package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/trustplane"
	"github.com/MrEthical07/trustplane/launch"
	"github.com/MrEthical07/trustplane/ratelimit"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testHMACKey = []byte("0123456789abcdef0123456789abcdef")

func newTestEngine(t *testing.T, mutate func(*trustplane.Config), extra ...func(*trustplane.Builder)) *trustplane.Engine {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := trustplane.DefaultConfig()
	cfg.Token.SigningMethod = "hs256"
	cfg.Token.PrivateKey = testHMACKey
	cfg.Anomaly.Enabled = false
	cfg.Session.SweepInterval = 0
	if mutate != nil {
		mutate(&cfg)
	}

	b := trustplane.New().WithConfig(cfg).WithRedis(rdb)
	for _, fn := range extra {
		fn(b)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(func() {
		engine.Close()
		rdb.Close()
		mr.Close()
	})
	return engine
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestClientIdentityPrecedence(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		headers map[string]string
		remote  string
		wantOrg string
		wantIP  string
	}{
		{
			name:    "organization header",
			target:  "/api/run",
			headers: map[string]string{"X-Organization-ID": "org-1", "X-User-ID": "u-1"},
			remote:  "192.0.2.1:4000",
			wantOrg: "org-1",
			wantIP:  "192.0.2.1",
		},
		{
			name:    "organization query",
			target:  "/api/run?org=org-2",
			remote:  "192.0.2.1:4000",
			wantOrg: "org-2",
			wantIP:  "192.0.2.1",
		},
		{
			name:    "first forwarded entry",
			target:  "/api/run",
			headers: map[string]string{"X-Forwarded-For": " 203.0.113.9, 10.0.0.1", "X-Real-IP": "198.51.100.2"},
			remote:  "192.0.2.1:4000",
			wantIP:  "203.0.113.9",
		},
		{
			name:    "real ip",
			target:  "/api/run",
			headers: map[string]string{"X-Real-IP": "198.51.100.2"},
			remote:  "192.0.2.1:4000",
			wantIP:  "198.51.100.2",
		},
		{
			name:   "remote address without port",
			target: "/api/run",
			remote: "192.0.2.5",
			wantIP: "192.0.2.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.target, nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			got := ClientIdentity(r)
			if got.OrganizationID != tt.wantOrg || got.IP != tt.wantIP || got.Path != "/api/run" {
				t.Fatalf("unexpected identity %+v", got)
			}
		})
	}
}

func TestAdmissionRateLimitContract(t *testing.T) {
	table, err := ratelimit.NewPolicyTable(
		ratelimit.Policy{Requests: 100, WindowSeconds: 60},
		map[string]ratelimit.Policy{"/api/run": {Requests: 2, WindowSeconds: 60}},
	)
	if err != nil {
		t.Fatalf("policy table: %v", err)
	}
	engine := newTestEngine(t, nil, func(b *trustplane.Builder) { b.WithPolicies(table) })
	h := Admission(engine)(okHandler())

	call := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/api/run", nil)
		r.Header.Set("X-User-ID", "u-1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec
	}

	first := call()
	if first.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", first.Code)
	}
	if first.Header().Get("X-RateLimit-Limit") != "2" || first.Header().Get("X-RateLimit-Remaining") != "2" {
		t.Fatalf("unexpected rate limit headers %v", first.Header())
	}
	if first.Header().Get("X-Launch-Mode") == "" {
		t.Fatal("expected launch headers on admitted request")
	}
	call()

	denied := call()
	if denied.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", denied.Code)
	}
	var body RateLimitBody
	if err := json.Unmarshal(denied.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "rate_limit_exceeded" || body.Remaining != 0 || body.RetryAfter <= 0 || body.RetryAfter > 60 {
		t.Fatalf("unexpected body %+v", body)
	}
	if denied.Header().Get("Retry-After") == "" || denied.Header().Get("X-RateLimit-Reset") == "" {
		t.Fatalf("expected Retry-After and X-RateLimit-Reset, got %v", denied.Header())
	}
	if denied.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("expected remaining header 0, got %q", denied.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestAdmissionDegradedContract(t *testing.T) {
	table, err := ratelimit.NewPolicyTable(
		ratelimit.Policy{Requests: 100, WindowSeconds: 60},
		map[string]ratelimit.Policy{
			"/api/run": {Requests: 100, WindowSeconds: 60, Degrade: true},
			"/reports": {Requests: 100, WindowSeconds: 60, Degrade: true},
		},
	)
	if err != nil {
		t.Fatalf("policy table: %v", err)
	}
	engine := newTestEngine(t, func(c *trustplane.Config) {
		c.Launch.Initial = launch.Mode{TrafficPercentage: 100, EmergencyMode: true}
	}, func(b *trustplane.Builder) {
		b.WithPolicies(table).WithRand(func() float64 { return 0.01 })
	})
	h := Admission(engine)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/run", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body DegradedBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body.Degraded || body.Error != "service_degraded" || body.RetryAfter != 30 {
		t.Fatalf("unexpected body %+v", body)
	}
	if rec.Header().Get("Retry-After") != "30" || rec.Header().Get("X-Emergency-Mode") != "true" {
		t.Fatalf("unexpected headers %v", rec.Header())
	}

	page := httptest.NewRecorder()
	h.ServeHTTP(page, httptest.NewRequest(http.MethodGet, "/reports/weekly", nil))
	if page.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 page, got %d", page.Code)
	}
	if !strings.HasPrefix(page.Header().Get("Content-Type"), "text/html") || !strings.Contains(page.Body.String(), "<html") {
		t.Fatalf("expected html degraded page, got %q", page.Body.String())
	}

	// Routes that are not degrade eligible pass in emergency mode.
	other := httptest.NewRecorder()
	h.ServeHTTP(other, httptest.NewRequest(http.MethodGet, "/api/export", nil))
	if other.Code != http.StatusNoContent {
		t.Fatalf("expected ineligible route to pass, got %d", other.Code)
	}
}

func TestAdmissionCanaryExcluded(t *testing.T) {
	engine := newTestEngine(t, func(c *trustplane.Config) {
		c.Launch.Initial = launch.Mode{Canary: true, TrafficPercentage: 0}
	})
	rec := httptest.NewRecorder()
	Admission(engine)(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/run", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body DegradedBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "canary_excluded" || body.RetryAfter <= 0 {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestAdmissionPassesClientToContext(t *testing.T) {
	engine := newTestEngine(t, nil)
	var gotIP string
	h := Admission(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pair, err := engine.Login(r.Context(), "user-1")
		if err != nil {
			t.Errorf("login: %v", err)
			return
		}
		sessions, err := engine.ActiveSessions(r.Context(), "user-1", pair.SessionID)
		if err != nil || len(sessions) != 1 {
			t.Errorf("active sessions: %v %d", err, len(sessions))
			return
		}
		gotIP = sessions[0].IPAddress
	}))

	r := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.40")
	h.ServeHTTP(httptest.NewRecorder(), r)
	if gotIP != "203.0.113.40" {
		t.Fatalf("expected session to record forwarded ip, got %q", gotIP)
	}
}

func TestRequireSession(t *testing.T) {
	engine := newTestEngine(t, nil)
	cfg := engine.Config()
	pair, err := engine.Login(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	var got *trustplane.AuthResult
	h := RequireSession(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = AuthResultFromContext(r.Context())
	}))

	t.Run("cookie", func(t *testing.T) {
		got = nil
		r := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
		r.AddCookie(&http.Cookie{Name: cfg.Cookie.AccessName, Value: pair.AccessToken})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		if rec.Code != http.StatusOK || got == nil || got.IdentityID != "user-1" || got.SessionID != pair.SessionID {
			t.Fatalf("expected authenticated request, code=%d result=%+v", rec.Code, got)
		}
	})

	t.Run("bearer", func(t *testing.T) {
		got = nil
		r := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
		r.Header.Set("Authorization", "Bearer "+pair.AccessToken)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		if rec.Code != http.StatusOK || got == nil {
			t.Fatalf("expected bearer auth to pass, code=%d", rec.Code)
		}
	})

	t.Run("invalid token clears cookies", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
		r.AddCookie(&http.Cookie{Name: cfg.Cookie.AccessName, Value: "garbage"})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
		var body ErrorBody
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Error != "token_invalid" {
			t.Fatalf("unexpected body %q (%v)", rec.Body.String(), err)
		}
		cleared := map[string]bool{}
		for _, c := range rec.Result().Cookies() {
			if c.MaxAge < 0 {
				cleared[c.Name] = true
			}
		}
		if !cleared[cfg.Cookie.AccessName] || !cleared[cfg.Cookie.RefreshName] {
			t.Fatalf("expected both cookies cleared, got %v", rec.Result().Cookies())
		}
	})

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("ended session", func(t *testing.T) {
		if err := engine.Logout(context.Background(), "user-1", pair.SessionID); err != nil {
			t.Fatalf("logout: %v", err)
		}
		r := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
		r.AddCookie(&http.Cookie{Name: cfg.Cookie.AccessName, Value: pair.AccessToken})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 after logout, got %d", rec.Code)
		}
	})
}

func TestSetTokenCookies(t *testing.T) {
	cfg := trustplane.DefaultConfig()
	cfg.Security.ProductionMode = true
	rec := httptest.NewRecorder()
	SetTokenCookies(rec, cfg, &trustplane.TokenPair{AccessToken: "a", RefreshToken: "r"})

	cookies := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		cookies[c.Name] = c
	}
	access, refresh := cookies["access_token"], cookies["refresh_token"]
	if access == nil || refresh == nil {
		t.Fatalf("expected both cookies, got %v", rec.Result().Cookies())
	}
	if access.Path != "/" || access.MaxAge != 900 {
		t.Fatalf("unexpected access cookie %+v", access)
	}
	if refresh.Path != "/api/auth/refresh" || refresh.MaxAge != 604800 {
		t.Fatalf("unexpected refresh cookie %+v", refresh)
	}
	for _, c := range []*http.Cookie{access, refresh} {
		if !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteStrictMode {
			t.Fatalf("cookie %s missing flags: %+v", c.Name, c)
		}
	}

	r := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	r.AddCookie(refresh)
	if RefreshToken(r, cfg) != "r" {
		t.Fatal("expected refresh token from cookie")
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Fatalf("%s: expected %q, got %q", k, v, got)
		}
	}
}
