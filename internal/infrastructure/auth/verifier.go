// Package auth verifies bearer tokens issued by the main facturio
// application. This service never issues tokens itself.
package auth

import (
	"errors"
	"time"

	"github.com/facturio/backend/internal/infrastructure/config"
	"github.com/golang-jwt/jwt/v5"
)

// Common errors
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrTokenNotYetValid = errors.New("token is not yet valid")
	ErrInvalidClaims    = errors.New("invalid token claims")
	ErrMissingUserID    = errors.New("missing user_id in claims")
	ErrWrongIssuer      = errors.New("token issued by unknown issuer")
)

// Claims represents the JWT claims this service cares about
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

// TokenVerifier validates HS256 bearer tokens
type TokenVerifier struct {
	secret []byte
	issuer string
}

// NewTokenVerifier creates a verifier from configuration
func NewTokenVerifier(cfg config.AuthConfig) *TokenVerifier {
	return &TokenVerifier{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
	}
}

// Verify parses and validates a token string and returns its claims.
// The signing method must be HMAC; asymmetric tokens are rejected.
func (v *TokenVerifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		if errors.Is(err, jwt.ErrTokenNotValidYet) {
			return nil, ErrTokenNotYetValid
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}

	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, ErrWrongIssuer
	}

	// Some token variants carry the user ID only in the subject claim
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, ErrMissingUserID
	}

	return claims, nil
}

// GetExpiresAtTime returns the token's expiration time as time.Time
func (c *Claims) GetExpiresAtTime() time.Time {
	if c.ExpiresAt != nil {
		return c.ExpiresAt.Time
	}
	return time.Time{}
}

// GetRemainingTTL returns the remaining time until the token expires
func (c *Claims) GetRemainingTTL() time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	remaining := time.Until(c.ExpiresAt.Time)
	if remaining < 0 {
		return 0
	}
	return remaining
}
