// Package auth verifies user session credentials. Herald does not issue user
// sessions itself; an upstream identity service signs JWTs with a shared
// secret and this package turns them into principals.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/herald-labs/herald/internal/shared"
)

const issuer = "herald"

// ErrInvalidToken indicates the session token failed validation.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims are the JWT claims carried by user session tokens.
type Claims struct {
	Email    string `json:"email"`
	Operator bool   `json:"operator"`
	jwt.RegisteredClaims
}

// Verifier parses and validates user session JWTs.
type Verifier struct {
	secret []byte
}

// NewVerifier constructs a Verifier with the shared HS256 secret.
func NewVerifier(secret string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: secret is not configured")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// GenerateToken signs a session JWT. Herald uses it in tests and operational
// tooling; production tokens come from the identity service.
func (v *Verifier) GenerateToken(principal shared.Principal, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", errors.New("auth: ttl must be greater than zero")
	}
	now := time.Now().UTC()
	claims := Claims{
		Email:    principal.Email,
		Operator: principal.Operator,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatInt(principal.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// ParseAndValidate verifies the token and returns the principal it names.
func (v *Verifier) ParseAndValidate(token string) (*shared.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != issuer {
		return nil, ErrInvalidToken
	}
	id, err := strconv.ParseInt(strings.TrimSpace(claims.Subject), 10, 64)
	if err != nil || id <= 0 {
		return nil, ErrInvalidToken
	}
	if claims.ExpiresAt == nil || time.Now().UTC().After(claims.ExpiresAt.Time) {
		return nil, ErrInvalidToken
	}

	return &shared.Principal{ID: id, Email: claims.Email, Operator: claims.Operator}, nil
}
