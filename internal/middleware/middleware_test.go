package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/technosupport/ts-anpr/internal/middleware"
	"github.com/technosupport/ts-anpr/internal/ratelimit"
	"github.com/technosupport/ts-anpr/internal/tokens"
)

// Mock Token Validator
type MockTokenValidator struct{}

func (m MockTokenValidator) Validate(token string) (*tokens.Claims, error) {
	if token == "valid-access" {
		return &tokens.Claims{Role: "operator"}, nil
	}
	return nil, tokens.ErrInvalidToken
}

func TestJWTAuthMiddleware_Success(t *testing.T) {
	mw := middleware.NewJWTAuth(MockTokenValidator{})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer valid-access")
	w := httptest.NewRecorder()

	mw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || claims.Role != "operator" {
			t.Errorf("Claims missing or invalid")
		}
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestJWTAuthMiddleware_MissingHeader(t *testing.T) {
	mw := middleware.NewJWTAuth(MockTokenValidator{})
	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()

	mw.Middleware(nil).ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestJWTAuthMiddleware_BadToken(t *testing.T) {
	mw := middleware.NewJWTAuth(MockTokenValidator{})
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer forged")
	w := httptest.NewRecorder()

	mw.Middleware(nil).ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func newRateLimitMiddleware(t *testing.T, rate int) (*middleware.RateLimitMiddleware, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := ratelimit.NewLimiter(client, "test-salt")
	cfg := ratelimit.LimitConfig{Rate: rate, Window: time.Minute}
	return middleware.NewRateLimitMiddleware(limiter, cfg, zerolog.Nop()), mr
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimit_BlocksAfterBudget(t *testing.T) {
	mw, _ := newRateLimitMiddleware(t, 2)
	handler := mw.Limit(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/api/v1/events", nil)
		req.RemoteAddr = "10.1.2.3:4444"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d", i, w.Code)
		}
	}

	req := httptest.NewRequest("GET", "/api/v1/events", nil)
	req.RemoteAddr = "10.1.2.3:4444"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header on 429")
	}
}

func TestRateLimit_SeparateIPsSeparateBudgets(t *testing.T) {
	mw, _ := newRateLimitMiddleware(t, 1)
	handler := mw.Limit(okHandler())

	first := httptest.NewRequest("GET", "/", nil)
	first.RemoteAddr = "10.1.2.3:1111"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, first)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	second := httptest.NewRequest("GET", "/", nil)
	second.RemoteAddr = "10.9.9.9:2222"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, second)
	if w.Code != http.StatusOK {
		t.Errorf("Different IP must have its own budget, got %d", w.Code)
	}
}

func TestRateLimit_FailsOpenWhenRedisDown(t *testing.T) {
	mw, mr := newRateLimitMiddleware(t, 1)
	mr.Close()

	handler := mw.Limit(okHandler())
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.1.2.3:4444"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Redis outage must not block reads, got %d", w.Code)
	}
}
