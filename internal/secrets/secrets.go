// Package secrets generates and verifies the opaque secrets behind system
// access tokens and invite codes.
package secrets

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

const (
	// KeyIDLength is the length of the public, non-secret token identifier
	// carried inside the bearer string.
	KeyIDLength = 10
	// SecretLength is the length of the secret half of a bearer string.
	// 24 characters over a 62-symbol alphabet is ~142 bits of entropy.
	SecretLength = 24

	secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	// inviteAlphabet drops 0/O/1/l/I so codes survive being read aloud or
	// copied by hand.
	inviteAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghjkmnpqrstuvwxyz23456789"
)

// GenerateSecret returns a new random token secret.
func GenerateSecret() (string, error) {
	return randomString(secretAlphabet, SecretLength)
}

// GenerateKeyID returns a new random public token identifier.
func GenerateKeyID() (string, error) {
	return randomString(secretAlphabet, KeyIDLength)
}

// GenerateInviteCode returns a random code of length n from an unambiguous
// character set.
func GenerateInviteCode(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("secrets: invite code length must be positive")
	}
	return randomString(inviteAlphabet, n)
}

// Hash produces a one-way bcrypt hash of the secret for storage.
func Hash(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("secrets: secret is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("secrets: hash: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether secret matches the stored hash. bcrypt performs the
// comparison in constant time.
func Verify(secret, hash string) bool {
	if secret == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// ConstantTimeEqual compares two plaintext values without leaking timing
// information. Used for secondary secrets that are stored in the clear, never
// for token secrets.
func ConstantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func randomString(alphabet string, n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("secrets: read random: %w", err)
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}
