// Package access implements resource permission grants between principals.
package access

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/herald-labs/herald/internal/resource"
)

// Level is a permission level in the total order Read < Write < Admin.
type Level int

const (
	LevelRead  Level = 1
	LevelWrite Level = 2
	LevelAdmin Level = 3
)

// Valid reports whether the level is one of the defined levels.
func (l Level) Valid() bool {
	return l >= LevelRead && l <= LevelAdmin
}

// Covers reports whether l satisfies the required level.
func (l Level) Covers(required Level) bool {
	return l >= required
}

// Max returns the higher of two levels. Re-grants merge with Max so a grant
// can only ever upgrade through this path.
func Max(a, b Level) Level {
	if a > b {
		return a
	}
	return b
}

// String renders the wire name of the level.
func (l Level) String() string {
	switch l {
	case LevelRead:
		return "read"
	case LevelWrite:
		return "write"
	case LevelAdmin:
		return "admin"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel converts a wire name into a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "read":
		return LevelRead, nil
	case "write":
		return LevelWrite, nil
	case "admin":
		return LevelAdmin, nil
	}
	return 0, fmt.Errorf("access: unknown permission level %q", s)
}

// MarshalJSON renders levels as their wire names.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON accepts wire names.
func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Grant records a permission level held by a principal on a resource. One
// grant exists per (resource, grantee); merges happen in place.
type Grant struct {
	Resource  resource.Ref `json:"resource"`
	GranteeID int64        `json:"grantee_id"`
	Level     Level        `json:"level"`
	CreatedBy int64        `json:"created_by"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// MaxOf returns the highest level in the set, or zero for an empty set.
func MaxOf(levels []Level) Level {
	var out Level
	for _, l := range levels {
		out = Max(out, l)
	}
	return out
}
