// Package token implements system access tokens: issuance, validation,
// quota accounting and the self-service request workflow.
package token

import (
	"fmt"
	"strings"
	"time"
)

// BearerPrefix distinguishes system access tokens from session credentials
// in the Authorization header.
const BearerPrefix = "sat_"

// Token is a long-lived, quota- and scope-bounded bearer credential.
type Token struct {
	ID            string     `json:"id"`
	KeyID         string     `json:"key_id"`
	SecretHash    string     `json:"-"`
	PlaintextEcho *string    `json:"plaintext_echo,omitempty"`
	Description   string     `json:"description"`
	MaxCalls      int64      `json:"max_calls"`
	Calls         int64      `json:"calls"`
	TotalCalls    int64      `json:"total_calls"`
	Scopes        []string   `json:"scopes"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	LastResetAt   time.Time  `json:"last_reset_at"`
	RequesterID   *int64     `json:"requester_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Unlimited reports whether the token has no quota cap.
func (t *Token) Unlimited() bool {
	return t.MaxCalls == 0
}

// Remaining returns the calls left in the current period. Only meaningful
// when the token is not unlimited.
func (t *Token) Remaining() int64 {
	if t.Unlimited() {
		return 0
	}
	if t.Calls >= t.MaxCalls {
		return 0
	}
	return t.MaxCalls - t.Calls
}

// HasScope reports whether the token may use the given scope. An empty scope
// set means unrestricted.
func (t *Token) HasScope(scope string) bool {
	if len(t.Scopes) == 0 {
		return true
	}
	for _, s := range t.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// FormatBearer assembles the one-time plaintext credential handed to the
// caller at issuance.
func FormatBearer(keyID, secret string) string {
	return BearerPrefix + keyID + "." + secret
}

// SplitBearer parses a bearer string into its public key id and secret.
func SplitBearer(bearer string) (keyID, secret string, err error) {
	rest, ok := strings.CutPrefix(bearer, BearerPrefix)
	if !ok {
		return "", "", fmt.Errorf("token: missing %s prefix", BearerPrefix)
	}
	keyID, secret, ok = strings.Cut(rest, ".")
	if !ok || keyID == "" || secret == "" {
		return "", "", fmt.Errorf("token: malformed bearer credential")
	}
	return keyID, secret, nil
}

// RequestStatus tracks the self-service token request lifecycle.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusDeclined RequestStatus = "declined"
)

// Terminal reports whether the status permits no further transition.
func (s RequestStatus) Terminal() bool {
	return s == StatusApproved || s == StatusDeclined
}

// Request is a self-service application for a system access token.
type Request struct {
	ID            string        `json:"id"`
	RequesterID   int64         `json:"requester_id"`
	MaxCalls      int64         `json:"max_calls"`
	Justification string        `json:"justification"`
	Status        RequestStatus `json:"status"`
	TokenID       *string       `json:"token_id,omitempty"`
	// TokenPlaintext holds the one-time credential after approval so the
	// requester can read it back once from the request view.
	TokenPlaintext *string    `json:"token_plaintext,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	DecidedAt      *time.Time `json:"decided_at,omitempty"`
	DecidedBy      *int64     `json:"decided_by,omitempty"`
}
