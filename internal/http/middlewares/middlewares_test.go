package middlewares

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/geocoder89/trajethub/internal/auth"
	"github.com/geocoder89/trajethub/internal/domain/principal"
	"github.com/geocoder89/trajethub/internal/observability"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func protectedRouter(m *AuthMiddleware) *gin.Engine {
	r := gin.New()
	r.GET("/mine", m.RequireAuth(), m.RequireKind(principal.KindDriver), func(c *gin.Context) {
		id, _ := PrincipalIDFromContext(c)
		c.String(http.StatusOK, id)
	})
	return r
}

func TestRequireAuthAndKind(t *testing.T) {
	mgr := auth.NewManager("test-secret", time.Hour)
	r := protectedRouter(NewAuthMiddleware(mgr))

	driverTok, _, err := mgr.Issue("d-1", principal.KindDriver, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	riderTok, _, err := mgr.Issue("r-1", principal.KindRider, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing_header", header: "", want: http.StatusUnauthorized},
		{name: "garbage_token", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "wrong_scheme", header: "Basic " + driverTok, want: http.StatusUnauthorized},
		{name: "empty_bearer", header: "Bearer   ", want: http.StatusUnauthorized},
		{name: "rider_token", header: "Bearer " + riderTok, want: http.StatusForbidden},
		{name: "lowercase_scheme", header: "bearer " + driverTok, want: http.StatusOK},
		{name: "driver_token", header: "Bearer " + driverTok, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/mine", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d body=%s", tt.want, w.Code, w.Body.String())
			}
			if tt.want == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Fatalf("expected WWW-Authenticate challenge on 401")
			}
			if tt.want == http.StatusOK && w.Body.String() != "d-1" {
				t.Fatalf("expected principal id in context, got %q", w.Body.String())
			}
		})
	}
}

func TestRateLimiterBlocksAfterLimit(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)

	r := gin.New()
	r.POST("/signin", rl.RateLimiterMiddleware(KeyByIP), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/signin", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Fatalf("request %d: expected 204, got %d", i, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/signin", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected X-RateLimit-Remaining 0, got %q", got)
	}
}

func TestRequireJSON(t *testing.T) {
	r := gin.New()
	r.POST("/x", RequireJSON(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
}

func TestMaxBodyBytesRejectsDeclaredOversize(t *testing.T) {
	r := gin.New()
	r.POST("/x", MaxBodyBytes(8), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"pointRamasage":"Casablanca"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}

func TestRateLimiterSweepsExpiredBuckets(t *testing.T) {
	rl := NewRateLimiter(1, time.Millisecond)
	now := time.Now()

	rl.buckets["stale"] = &bucket{count: 1, windowEnd: now.Add(-time.Second)}
	rl.buckets["live"] = &bucket{count: 1, windowEnd: now.Add(time.Hour)}

	rl.sweepLocked(now)

	if _, ok := rl.buckets["stale"]; ok {
		t.Fatalf("expected stale bucket to be dropped")
	}
	if _, ok := rl.buckets["live"]; !ok {
		t.Fatalf("live bucket must survive")
	}
}

func TestRateLimiterWindowResets(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if remaining, _, ok := rl.allow("k"); !ok || remaining != 0 {
		t.Fatalf("first hit: ok=%v remaining=%d", ok, remaining)
	}
	_, retryAfter, ok := rl.allow("k")
	if ok || retryAfter != time.Minute {
		t.Fatalf("second hit: ok=%v retryAfter=%v", ok, retryAfter)
	}

	now = now.Add(time.Minute + time.Second)
	if _, _, ok := rl.allow("k"); !ok {
		t.Fatalf("expected new window to admit")
	}
}

func TestCORSMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware([]string{"https://app.example.com/"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("unexpected allow-origin %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unknown origin must not be echoed, got %q", got)
	}
}

func TestSecurityHeaders(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("unexpected X-Content-Type-Options %q", got)
	}
	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("HSTS must not be sent over plain http, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("Strict-Transport-Security"); got != hstsHeader {
		t.Fatalf("expected HSTS behind https proxy, got %q", got)
	}
}

func TestRequestIDEchoesUsableClientValue(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/x", func(c *gin.Context) {
		id, _ := observability.RequestIDFrom(c.Request.Context())
		c.String(http.StatusOK, id)
	})

	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{name: "client_value", header: "req-123", keep: true},
		{name: "missing", header: "", keep: false},
		{name: "control_chars", header: "bad\tid", keep: false},
		{name: "too_long", header: strings.Repeat("a", maxRequestIDLen+1), keep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.header != "" {
				req.Header.Set(requestIDHeader, tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			got := w.Header().Get(requestIDHeader)
			if got == "" || got != w.Body.String() {
				t.Fatalf("header %q and context id %q must match", got, w.Body.String())
			}
			if tt.keep != (got == tt.header) {
				t.Fatalf("keep=%v but got %q for %q", tt.keep, got, tt.header)
			}
		})
	}
}
