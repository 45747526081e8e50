package middleware

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/draftforge/api/internal/config"
)

func testAuth() *AuthMiddleware {
	return NewAuthMiddleware(&config.JWTConfig{
		Secret:     "test-secret",
		Expiration: 1,
		WSTokenTTL: 60,
	})
}

func TestWSTokenRoundTrip(t *testing.T) {
	m := testAuth()

	token, err := m.MintWSToken("user-1")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	userID, err := m.VerifyWSToken(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("userID = %q", userID)
	}
}

func TestWSTokenRejectsSessionToken(t *testing.T) {
	m := testAuth()

	sessionToken, err := m.GenerateToken("user-1", "u@example.com")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := m.VerifyWSToken(sessionToken); err == nil {
		t.Fatal("session token accepted for websocket auth")
	}
}

func TestWSTokenRejectsExpired(t *testing.T) {
	m := testAuth()

	now := time.Now().Add(-5 * time.Minute)
	claims := wsClaims{
		UserID: "user-1",
		Scope:  wsScope,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.VerifyWSToken(token); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestWSTokenRejectsWrongSecret(t *testing.T) {
	m := testAuth()
	other := NewAuthMiddleware(&config.JWTConfig{Secret: "other-secret", WSTokenTTL: 60})

	token, err := other.MintWSToken("user-1")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := m.VerifyWSToken(token); err == nil {
		t.Fatal("token signed with wrong secret accepted")
	}
}
