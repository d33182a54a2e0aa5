package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/haven/internal/auth"
	"github.com/mbd888/haven/internal/security"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func newLimiter(t *testing.T, rpm, burst int) (*Limiter, *fakeClock) {
	t.Helper()
	l := New(Config{RequestsPerMinute: rpm, BurstSize: burst, CleanupInterval: time.Hour})
	t.Cleanup(l.Stop)
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l.now = clk.now
	return l, clk
}

func TestLimiterAllow(t *testing.T) {
	l, clk := newLimiter(t, 60, 5)

	for i := 0; i < 5; i++ {
		if !l.Allow("k") {
			t.Fatalf("request %d within burst was rejected", i)
		}
	}
	if l.Allow("k") {
		t.Error("expected rejection once burst is exhausted")
	}

	clk.t = clk.t.Add(time.Second)
	if !l.Allow("k") {
		t.Error("expected one token refilled after a second at 60/min")
	}
	if l.Allow("k") {
		t.Error("expected only one refilled token")
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l, _ := newLimiter(t, 60, 2)

	l.Allow("a")
	l.Allow("a")
	if l.Allow("a") {
		t.Error("expected key a to be limited")
	}
	if !l.Allow("b") {
		t.Error("key b should have its own bucket")
	}
}

func TestLimiterRefillCapsAtBurst(t *testing.T) {
	l, clk := newLimiter(t, 60, 3)

	for i := 0; i < 3; i++ {
		l.Allow("k")
	}
	clk.t = clk.t.Add(time.Hour)
	allowed := 0
	for i := 0; i < 10; i++ {
		if l.Allow("k") {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("expected 3 allowed after long idle, got %d", allowed)
	}
}

func TestLimiterEvictIdle(t *testing.T) {
	l, clk := newLimiter(t, 60, 1)

	l.Allow("k")
	clk.t = clk.t.Add(10 * time.Minute)
	l.evictIdle(5 * time.Minute)

	l.mu.Lock()
	_, ok := l.clients["k"]
	l.mu.Unlock()
	if ok {
		t.Error("expected idle client to be evicted")
	}
}

func TestLimiterStopTwice(t *testing.T) {
	l := New(DefaultConfig())
	l.Stop()
	l.Stop()
}

func TestMiddleware_KeysByUserThenIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := newLimiter(t, 60, 1)

	r := gin.New()
	r.Use(auth.Middleware("X-User-ID", security.NewHasher("s")), l.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		if user != "" {
			req.Header.Set("X-User-ID", user)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	if w := do("alice"); w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w.Code)
	}
	w := do("alice")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Errorf("expected Retry-After 1, got %q", got)
	}
	if !strings.Contains(w.Body.String(), "rate_limit_exceeded") {
		t.Errorf("unexpected body: %s", w.Body.String())
	}

	// A different user from the same address has its own bucket.
	if w := do("bob"); w.Code != http.StatusOK {
		t.Errorf("bob: expected 200, got %d", w.Code)
	}

	// Demo callers share the per-IP bucket.
	if w := do(""); w.Code != http.StatusOK {
		t.Errorf("first anonymous request: expected 200, got %d", w.Code)
	}
	if w := do(""); w.Code != http.StatusTooManyRequests {
		t.Errorf("second anonymous request: expected 429, got %d", w.Code)
	}
}
