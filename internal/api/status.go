package api

import (
	"context"
	"sync"

	"github.com/keshew/launchgate/internal/notify"
)

// Compile-time interface check
var _ notify.StatusSource = (*StatusRegistry)(nil)

// StatusRegistry holds the authorization status the app shell last
// reported. It backs the routing machine's permission evaluation: the
// shell reports status changes over the API, the machine reads the
// current value when it evaluates the gate.
type StatusRegistry struct {
	mu     sync.RWMutex
	status notify.AuthorizationStatus
}

// NewStatusRegistry starts at NotDetermined, the status of a fresh
// install that has never been asked.
func NewStatusRegistry() *StatusRegistry {
	return &StatusRegistry{status: notify.StatusNotDetermined}
}

// AuthorizationStatus returns the last reported status.
func (s *StatusRegistry) AuthorizationStatus(ctx context.Context) notify.AuthorizationStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Set records a shell-reported status.
func (s *StatusRegistry) Set(status notify.AuthorizationStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}
