// Package gatestate owns the durable launch-gate state: the conversion
// record delivered by the attribution collaborator, push/attribution
// identifiers, the cached remote config, the circuit-breaker flag, the
// last notification-denial timestamp, and the launch log.
//
// Every key is individually readable and writable; there is no cross-key
// transactionality. Readers get a defined default when a key is absent.
package gatestate

import (
	"context"
	"time"
)

// Logical keys for the gate_state table. A reader must supply the
// documented default for any missing key.
const (
	keyConversionRecord   = "conversion_record"
	keyPushToken          = "push_token"
	keyAttributionID      = "af_id"
	keyNotificationDenied = "last_notification_denied"
	keyConfigURL          = "config_url"
	keyConfigExpires      = "config_expires"
	keyConfigDisabled     = "config_requests_disabled"
)

// ConversionRecord is the opaque attribution payload, persisted verbatim.
// Once present it is never deleted by this core.
type ConversionRecord map[string]any

// IsOrganic reports whether the record marks a non-attributed install.
func (r ConversionRecord) IsOrganic() bool {
	v, ok := r["is_organic_conversion"].(bool)
	return ok && v
}

// GateConfig is the cached result of a successful remote config fetch.
// Presence does not imply validity; callers must check ValidAt before
// trusting the URL. Staleness is never proactively evicted.
type GateConfig struct {
	URL       string
	ExpiresAt time.Time
}

// ValidAt reports whether the cached config is still usable at the given
// instant.
func (g GateConfig) ValidAt(now time.Time) bool {
	return now.Before(g.ExpiresAt)
}

// Launch is one row of the launch log: the final routing outcome of a
// single app launch.
type Launch struct {
	ID          string    `json:"id"`
	Destination string    `json:"destination"`
	OverlayURL  string    `json:"overlay_url,omitempty"`
	RoutedAt    time.Time `json:"routed_at"`
}

// Store is the persisted gate state contract. All writes are per-key
// atomic with last-write-wins semantics.
type Store interface {
	// ConversionRecord returns nil when no record has been delivered yet.
	ConversionRecord(ctx context.Context) (ConversionRecord, error)
	SetConversionRecord(ctx context.Context, record ConversionRecord) error

	PushToken(ctx context.Context) (string, error)
	SetPushToken(ctx context.Context, token string) error

	AttributionID(ctx context.Context) (string, error)
	SetAttributionID(ctx context.Context, id string) error

	// LastNotificationDenial returns nil when the prompt was never denied.
	LastNotificationDenial(ctx context.Context) (*time.Time, error)
	SetLastNotificationDenial(ctx context.Context, at time.Time) error

	// GateConfig returns nil when no successful fetch has been cached.
	GateConfig(ctx context.Context) (*GateConfig, error)
	SetGateConfig(ctx context.Context, cfg GateConfig) error

	// ConfigRequestsDisabled is the circuit-breaker flag; false when absent.
	ConfigRequestsDisabled(ctx context.Context) (bool, error)
	SetConfigRequestsDisabled(ctx context.Context) error
	// ClearConfigRequestsDisabled removes the flag key entirely, the way a
	// successful fetch response re-enables requests.
	ClearConfigRequestsDisabled(ctx context.Context) error

	RecordLaunch(ctx context.Context, launch Launch) error
	ListLaunches(ctx context.Context, limit int) ([]Launch, error)

	Close() error
}
