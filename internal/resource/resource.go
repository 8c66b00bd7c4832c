// Package resource models the shareable resource kinds of the hub.
package resource

import (
	"fmt"
)

// Kind enumerates the concrete resource kinds grants and invites can target.
type Kind string

const (
	// KindTopic is a notification topic.
	KindTopic Kind = "topic"
	// KindRelayTarget is an external relay target.
	KindRelayTarget Kind = "relay_target"
)

// Valid reports whether the kind is one of the known resource kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindTopic, KindRelayTarget:
		return true
	}
	return false
}

// ParseKind converts a wire string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("resource: unknown kind %q", s)
	}
	return k, nil
}

// Ref identifies a single resource.
type Ref struct {
	Kind Kind  `json:"kind"`
	ID   int64 `json:"id"`
}

// String renders the reference for logs and audit entries.
func (r Ref) String() string {
	return fmt.Sprintf("%s/%d", r.Kind, r.ID)
}

// table maps a kind onto its backing table. The switch is exhaustive; adding
// a Kind without extending it is a compile-visible omission at review time
// and a runtime panic in tests.
func table(k Kind) string {
	switch k {
	case KindTopic:
		return "topics"
	case KindRelayTarget:
		return "relay_targets"
	}
	panic(fmt.Sprintf("resource: no table for kind %q", k))
}
