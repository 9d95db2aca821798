package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/technosupport/ts-anpr/internal/ratelimit"
)

// RateLimitMiddleware throttles the query API per client IP. Redis
// failures fail open: a broken cache must not take the read path down
// with it.
type RateLimitMiddleware struct {
	limiter *ratelimit.Limiter
	config  ratelimit.LimitConfig
	log     zerolog.Logger
}

func NewRateLimitMiddleware(l *ratelimit.Limiter, c ratelimit.LimitConfig, log zerolog.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: l, config: c, log: log}
}

func (m *RateLimitMiddleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		key := fmt.Sprintf("rl:ip:%s", m.limiter.HashIP(ip))

		decision, err := m.limiter.CheckRateLimit(r.Context(), key, m.config)
		if err != nil {
			m.log.Warn().Err(err).Msg("rate limit check failed, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		writeRateLimitHeaders(w, decision)
		if !decision.Allowed {
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}

func writeRateLimitHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	if !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
	}
}
