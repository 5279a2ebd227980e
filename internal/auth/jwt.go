package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const inspectorIDKey contextKey = "inspectorID"

// DevSecret signs tokens when no secret is configured
const DevSecret = "sitecheck-dev-secret-change-me"

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SecretKey string
}

// NewJWTConfig creates a new JWT config
func NewJWTConfig(secretKey string) *JWTConfig {
	if secretKey == "" {
		secretKey = DevSecret
	}
	return &JWTConfig{SecretKey: secretKey}
}

// IssueToken signs an HS256 token for the given inspector
func (c *JWTConfig) IssueToken(inspectorID string, ttl time.Duration) (string, error) {
	if inspectorID == "" {
		return "", errors.New("inspector id required")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  inspectorID,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.SecretKey))
}

// Parse verifies a token and returns its subject
func (c *JWTConfig) Parse(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(c.SecretKey), nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token claims")
	}
	return claims.Subject, nil
}

// Middleware authenticates bearer tokens. Requests without an Authorization
// header pass through anonymously.
func (c *JWTConfig) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			next.ServeHTTP(w, r)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
			return
		}

		inspectorID, err := c.Parse(parts[1])
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := r.Context()
		if inspectorID != "" {
			ctx = context.WithValue(ctx, inspectorIDKey, inspectorID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetInspectorID extracts the authenticated inspector from context
func GetInspectorID(ctx context.Context) string {
	if id, ok := ctx.Value(inspectorIDKey).(string); ok {
		return id
	}
	return ""
}
