package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

// fakeClock is advanced by hand so refill math is deterministic.
type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestLimiter(cfg RateLimitConfig) (*limiter, *fakeClock, echo.HandlerFunc) {
	clock := &fakeClock{t: time.Date(2026, time.January, 5, 8, 0, 0, 0, time.UTC)}
	l := newLimiter(cfg)
	l.now = clock.now
	h := rateLimit(l, cfg)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return l, clock, h
}

func hit(h echo.HandlerFunc, ip string) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(http.MethodPost, "/api/patients", nil)
	req.RemoteAddr = ip + ":40000"
	rec := httptest.NewRecorder()
	return rec, h(echo.New().NewContext(req, rec))
}

func TestRateLimit_BurstThenRefused(t *testing.T) {
	_, _, h := newTestLimiter(RateLimitConfig{RequestsPerSecond: 2, BurstSize: 3})

	for i, want := range []string{"2", "1", "0"} {
		rec, err := hit(h, "10.0.0.1")
		if err != nil {
			t.Fatalf("request %d: unexpected error %v", i+1, err)
		}
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != want {
			t.Errorf("request %d: remaining = %q, want %q", i+1, got, want)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "2" {
			t.Errorf("request %d: limit = %q, want 2", i+1, got)
		}
	}

	rec, err := hit(h, "10.0.0.1")
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}
}

func TestRateLimit_RefillsOverTime(t *testing.T) {
	_, clock, h := newTestLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	if _, err := hit(h, "10.0.0.1"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := hit(h, "10.0.0.1"); err == nil {
		t.Fatal("expected the empty bucket to refuse")
	}

	clock.advance(time.Second)
	if _, err := hit(h, "10.0.0.1"); err != nil {
		t.Fatalf("after refill: %v", err)
	}
}

func TestRateLimit_RetryAfterReflectsRate(t *testing.T) {
	_, _, h := newTestLimiter(RateLimitConfig{RequestsPerSecond: 0.25, BurstSize: 1})

	hit(h, "10.0.0.9")
	rec, err := hit(h, "10.0.0.9")
	if err == nil {
		t.Fatal("expected refusal")
	}
	if got := rec.Header().Get("Retry-After"); got != "4" {
		t.Errorf("Retry-After = %q, want 4", got)
	}
}

func TestRateLimit_ZeroRateRetriesAfterOneSecond(t *testing.T) {
	l, _, _ := newTestLimiter(RateLimitConfig{RequestsPerSecond: 0, BurstSize: 1})

	if _, _, ok := l.take("k"); !ok {
		t.Fatal("first token should be available")
	}
	_, retry, ok := l.take("k")
	if ok || retry != 1 {
		t.Errorf("take = (%d, %v), want (1, false)", retry, ok)
	}
}

func TestRateLimit_ClientsAreIsolated(t *testing.T) {
	_, _, h := newTestLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	if _, err := hit(h, "10.0.0.1"); err != nil {
		t.Fatalf("kiosk A first request: %v", err)
	}
	if _, err := hit(h, "10.0.0.1"); err == nil {
		t.Fatal("kiosk A second request should be limited")
	}
	if _, err := hit(h, "10.0.0.2"); err != nil {
		t.Fatalf("kiosk B has its own bucket: %v", err)
	}
}

func TestRateLimit_EvictsIdleClients(t *testing.T) {
	l, clock, h := newTestLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute})

	hit(h, "10.0.0.1")
	hit(h, "10.0.0.2")
	if l.size() != 2 {
		t.Fatalf("size = %d, want 2", l.size())
	}

	clock.advance(2 * time.Minute)
	hit(h, "10.0.0.3")
	if l.size() != 1 {
		t.Errorf("size after sweep = %d, want 1", l.size())
	}
}

func TestRateLimit_DefaultConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 20 || cfg.BurstSize != 50 {
		t.Errorf("defaults = %+v, want 20 req/s burst 50", cfg)
	}
	if newLimiter(RateLimitConfig{}).idleTTL != 10*time.Minute {
		t.Error("zero IdleTTL should fall back to ten minutes")
	}
}
