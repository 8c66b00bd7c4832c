// Package invite implements shareable redemption codes that grant resource
// permissions on redemption.
package invite

import (
	"errors"
	"time"

	"github.com/herald-labs/herald/internal/access"
	"github.com/herald-labs/herald/internal/resource"
)

// CodeLength is the length of a generated invite code.
const CodeLength = 16

// Redemption failures are deliberately distinct. Invites are a self-service
// flow; a redeemer holding a valid code is entitled to know exactly why it
// did not work.
var (
	ErrInvalidCode      = errors.New("invite: invalid code")
	ErrExpired          = errors.New("invite: code expired")
	ErrExhausted        = errors.New("invite: code exhausted")
	ErrAlreadySatisfied = errors.New("invite: permissions already held")
)

// Invite is a redeemable code granting a fixed permission set on one resource.
type Invite struct {
	Code       string         `json:"code"`
	Resource   resource.Ref   `json:"resource"`
	Levels     []access.Level `json:"levels"`
	MaxUses    *int           `json:"max_uses,omitempty"`
	UsageCount int            `json:"usage_count"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`
	CreatedBy  int64          `json:"created_by"`
	CreatedAt  time.Time      `json:"created_at"`
}

// EffectiveLevel is the highest level in the invite's permission set. A
// redeemer already holding it has nothing to gain from the invite.
func (i *Invite) EffectiveLevel() access.Level {
	return access.MaxOf(i.Levels)
}

// Redemption reports the outcome of a successful redemption.
type Redemption struct {
	Resource resource.Ref   `json:"resource"`
	Granted  []access.Level `json:"granted"`
	// Level is the grant level after the upgrade-only merge; it can exceed
	// the invite's own levels when the redeemer already held more.
	Level access.Level `json:"level"`
}
