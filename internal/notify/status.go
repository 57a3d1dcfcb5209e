// Package notify models the OS notification-permission collaborator and
// the prompt-eligibility gate applied before routing continues.
package notify

import "context"

// AuthorizationStatus mirrors the OS-reported notification permission
// status. Only NotDetermined makes the prompt gate relevant; every other
// value (including ones this core has never seen) bypasses it.
type AuthorizationStatus string

const (
	StatusNotDetermined AuthorizationStatus = "notDetermined"
	StatusDenied        AuthorizationStatus = "denied"
	StatusAuthorized    AuthorizationStatus = "authorized"
	StatusProvisional   AuthorizationStatus = "provisional"
	StatusEphemeral     AuthorizationStatus = "ephemeral"
	StatusUnknown       AuthorizationStatus = "unknown"
)

// ParseStatus maps a shell-reported string onto a known status. Anything
// unrecognized comes back as StatusUnknown rather than an error: unknown
// future statuses must degrade to gate bypass, not failure.
func ParseStatus(s string) AuthorizationStatus {
	switch AuthorizationStatus(s) {
	case StatusNotDetermined, StatusDenied, StatusAuthorized,
		StatusProvisional, StatusEphemeral:
		return AuthorizationStatus(s)
	default:
		return StatusUnknown
	}
}

// StatusSource reports the current OS authorization status. The daemon
// wires an implementation fed by the app shell; tests use a fixed value.
type StatusSource interface {
	AuthorizationStatus(ctx context.Context) AuthorizationStatus
}
