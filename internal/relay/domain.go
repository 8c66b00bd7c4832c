// Package relay implements the passthrough protocol that lets one deployment
// forward notifications through another using a system access token.
package relay

import "errors"

// Client-side error classes. Upstream error bodies are never passed through
// verbatim; callers get one of these plus a short generic detail.
var (
	ErrUnauthorized = errors.New("relay: upstream rejected credentials")
	ErrForbidden    = errors.New("relay: token not scoped for relay use")
	ErrRejected     = errors.New("relay: upstream rejected request")
	ErrUnavailable  = errors.New("relay: upstream unavailable")
)

// Notification is the payload forwarded across deployments.
type Notification struct {
	Title string            `json:"title" validate:"required,max=200"`
	Body  string            `json:"body" validate:"max=4000"`
	Topic string            `json:"topic,omitempty" validate:"max=200"`
	Data  map[string]string `json:"data,omitempty"`
}

// DeviceDescriptor identifies the target device on the receiving deployment.
type DeviceDescriptor struct {
	Platform  string `json:"platform" validate:"required,oneof=ios android web"`
	PushToken string `json:"push_token" validate:"required,max=4096"`
}

// ForwardRequest is the wire body of a relay forward.
type ForwardRequest struct {
	Notification Notification     `json:"notification"`
	Device       DeviceDescriptor `json:"device"`
}

// ForwardResult reports the outcome of a delivery attempt. Delivered false
// with a Detail still means an attempt was made and charged.
type ForwardResult struct {
	Delivered bool   `json:"delivered"`
	Detail    string `json:"detail,omitempty"`
}
