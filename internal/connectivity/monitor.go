// Package connectivity observes network reachability for the routing
// state machine.
package connectivity

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Monitor publishes a continuously updated disconnected signal. It emits
// a notification on every transition and does not debounce: rapid
// flapping produces rapid notifications, consumers must tolerate repeated
// identical states.
type Monitor interface {
	Disconnected() bool
	Changes() <-chan bool
}

// Compile-time interface check
var _ Monitor = (*ProbeMonitor)(nil)

// ProbeMonitor determines reachability by periodically dialing a fixed
// TCP address. It is a process-wide singleton started once at process
// start; there is no explicit stop besides context cancellation at
// shutdown.
type ProbeMonitor struct {
	addr     string
	timeout  time.Duration
	interval time.Duration

	// dial is swappable for tests.
	dial func(network, addr string, timeout time.Duration) (net.Conn, error)

	mu           sync.RWMutex
	disconnected bool

	changes chan bool
}

// NewProbeMonitor creates a monitor probing the given address. The
// monitor starts out assuming connectivity; the first probe runs as soon
// as Run is called.
func NewProbeMonitor(addr string, timeout, interval time.Duration) *ProbeMonitor {
	return &ProbeMonitor{
		addr:     addr,
		timeout:  timeout,
		interval: interval,
		dial:     net.DialTimeout,
		changes:  make(chan bool, 16),
	}
}

// Disconnected returns the most recently probed state.
func (m *ProbeMonitor) Disconnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.disconnected
}

// Changes returns the transition channel. Each value is the new
// disconnected state.
func (m *ProbeMonitor) Changes() <-chan bool {
	return m.changes
}

// Run starts the probe loop and blocks until the context is cancelled.
func (m *ProbeMonitor) Run(ctx context.Context) {
	slog.Info("connectivity monitor started",
		"component", "connectivity",
		"probe_addr", m.addr,
		"interval", m.interval.String(),
	)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Probe immediately on start
	m.probe()

	for {
		select {
		case <-ctx.Done():
			slog.Info("connectivity monitor stopped",
				"component", "connectivity",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			m.probe()
		}
	}
}

// probe dials the probe address once and records a transition if the
// reachability state changed.
func (m *ProbeMonitor) probe() {
	conn, err := m.dial("tcp", m.addr, m.timeout)
	disconnected := err != nil
	if conn != nil {
		conn.Close()
	}

	m.mu.Lock()
	changed := m.disconnected != disconnected
	m.disconnected = disconnected
	m.mu.Unlock()

	if !changed {
		return
	}

	slog.Info("connectivity changed",
		"component", "connectivity",
		"disconnected", disconnected,
	)

	select {
	case m.changes <- disconnected:
	default:
		// Consumer lagging far behind; Disconnected() stays accurate.
		slog.Warn("connectivity change dropped, consumer not keeping up",
			"component", "connectivity",
		)
	}
}
