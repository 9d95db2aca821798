package tokens_test

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/technosupport/ts-anpr/internal/tokens"
)

func TestTokenRoundTrip(t *testing.T) {
	mgr := tokens.NewManager("test-secret-key", time.Hour)

	token, err := mgr.Generate("operator-7", "operator")
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	claims, err := mgr.Validate(token)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}

	if claims.Subject != "operator-7" {
		t.Errorf("Expected subject operator-7, got %s", claims.Subject)
	}
	if claims.Role != "operator" {
		t.Errorf("Expected role operator, got %s", claims.Role)
	}
}

func TestInvalidSignature(t *testing.T) {
	mgr1 := tokens.NewManager("secret-1", time.Hour)
	mgr2 := tokens.NewManager("secret-2", time.Hour)

	token, _ := mgr1.Generate("operator-1", "operator")
	if _, err := mgr2.Validate(token); err == nil {
		t.Error("Expected validation error for wrong signature")
	}
}

func TestExpiredToken(t *testing.T) {
	mgr := tokens.NewManager("test-secret-key", -time.Minute)

	token, _ := mgr.Generate("operator-1", "operator")
	_, err := mgr.Validate(token)
	if err == nil {
		t.Fatal("Expected validation error for expired token")
	}
	if !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("Expected token expiry error, got %v", err)
	}
}
