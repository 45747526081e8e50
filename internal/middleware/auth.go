package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/draftforge/api/internal/config"
	"github.com/draftforge/api/pkg/response"
)

type AuthMiddleware struct {
	jwtSecret  string
	expiration time.Duration
	wsTokenTTL time.Duration
}

type UserClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// wsClaims back the short-lived websocket auth tokens minted by
// /api/ws-token. The scope keeps session tokens and socket tokens from being
// used interchangeably.
type wsClaims struct {
	UserID string `json:"userId"`
	Scope  string `json:"scope"`
	jwt.RegisteredClaims
}

const wsScope = "ws"

func NewAuthMiddleware(cfg *config.JWTConfig) *AuthMiddleware {
	expiration := time.Duration(cfg.Expiration) * time.Hour
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}
	wsTTL := time.Duration(cfg.WSTokenTTL) * time.Second
	if wsTTL <= 0 {
		wsTTL = 60 * time.Second
	}
	return &AuthMiddleware{
		jwtSecret:  cfg.Secret,
		expiration: expiration,
		wsTokenTTL: wsTTL,
	}
}

// Authenticate validates the JWT from the Authorization header.
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return response.Unauthorized(c, "Missing authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return response.Unauthorized(c, "Invalid authorization header format")
		}

		token, err := jwt.ParseWithClaims(parts[1], &UserClaims{}, m.keyFunc)
		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}

		claims, ok := token.Claims.(*UserClaims)
		if !ok || !token.Valid {
			return response.Unauthorized(c, "Invalid token claims")
		}

		c.Locals("userId", claims.UserID)
		c.Locals("email", claims.Email)
		return c.Next()
	}
}

func (m *AuthMiddleware) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, jwt.ErrSignatureInvalid
	}
	return []byte(m.jwtSecret), nil
}

// GetUserID extracts the authenticated user id from the request context.
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}

// GenerateToken creates a session JWT.
func (m *AuthMiddleware) GenerateToken(userID, email string) (string, error) {
	now := time.Now()
	claims := UserClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "draftforge-api",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiration)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.jwtSecret))
}

// MintWSToken creates a short-lived token for websocket authentication.
// Browsers cannot set an Authorization header on the upgrade request, so the
// client fetches one of these over HTTP and presents it in the auth frame.
func (m *AuthMiddleware) MintWSToken(userID string) (string, error) {
	now := time.Now()
	claims := wsClaims{
		UserID: userID,
		Scope:  wsScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "draftforge-api",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.wsTokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.jwtSecret))
}

// VerifyWSToken checks a websocket auth token and returns the user id. It
// satisfies websocket.TokenVerifier.
func (m *AuthMiddleware) VerifyWSToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &wsClaims{}, m.keyFunc)
	if err != nil {
		return "", fmt.Errorf("parse ws token: %w", err)
	}
	claims, ok := token.Claims.(*wsClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid ws token claims")
	}
	if claims.Scope != wsScope {
		return "", fmt.Errorf("token not scoped for websocket auth")
	}
	return claims.UserID, nil
}
