package notify

import (
	"context"
	"time"
)

// DenialStore is the slice of gate state the permission gate needs.
type DenialStore interface {
	// LastNotificationDenial returns nil when the prompt was never denied.
	LastNotificationDenial(ctx context.Context) (*time.Time, error)
	SetLastNotificationDenial(ctx context.Context, at time.Time) error
}

// Gate decides whether the notification-permission prompt may be shown.
// The prompt is shown at most once per cooldown window, and never to a
// user whose authorization status is already determined.
type Gate struct {
	store    DenialStore
	cooldown time.Duration
	now      func() time.Time
}

// NewGate creates a permission gate with the given denial cooldown.
func NewGate(store DenialStore, cooldown time.Duration) *Gate {
	return &Gate{
		store:    store,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// ShouldPrompt reports whether the prompt should be surfaced. Only a
// NotDetermined status is eligible; for it, the prompt is allowed when no
// denial is recorded or the recorded denial is strictly older than the
// cooldown window.
func (g *Gate) ShouldPrompt(ctx context.Context, status AuthorizationStatus) (bool, error) {
	if status != StatusNotDetermined {
		return false, nil
	}

	denial, err := g.store.LastNotificationDenial(ctx)
	if err != nil {
		return false, err
	}
	if denial == nil {
		return true, nil
	}

	return denial.Before(g.now().Add(-g.cooldown)), nil
}

// RecordDenial stores the denial timestamp that starts the next cooldown
// window.
func (g *Gate) RecordDenial(ctx context.Context) error {
	return g.store.SetLastNotificationDenial(ctx, g.now())
}
