package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/technosupport/ts-anpr/internal/tokens"
)

type TokenValidator interface {
	Validate(tokenString string) (*tokens.Claims, error)
}

type contextKey string

const claimsKey contextKey = "claims"

// GetClaims returns the validated claims injected by JWTAuth, if any.
func GetClaims(ctx context.Context) (*tokens.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*tokens.Claims)
	return c, ok
}

type JWTAuth struct {
	tokens TokenValidator
}

func NewJWTAuth(t TokenValidator) *JWTAuth {
	return &JWTAuth{tokens: t}
}

// Middleware verifies the bearer token and injects its claims.
func (m *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := m.tokens.Validate(parts[1])
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}
