package routing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/keshew/launchgate/internal/connectivity"
	"github.com/keshew/launchgate/internal/gatestate"
	"github.com/keshew/launchgate/internal/notify"
	"github.com/keshew/launchgate/internal/remoteconfig"
)

// RouteStore is the slice of gate state the machine reads and writes.
type RouteStore interface {
	ConversionRecord(ctx context.Context) (gatestate.ConversionRecord, error)
	RecordLaunch(ctx context.Context, launch gatestate.Launch) error
}

// PermissionGate decides prompt eligibility and records denials.
type PermissionGate interface {
	ShouldPrompt(ctx context.Context, status notify.AuthorizationStatus) (bool, error)
	RecordDenial(ctx context.Context) error
}

// event is a serialized input to the machine's single decision goroutine.
type event interface{ eventName() string }

type evConversionReady struct{}
type evPermissionResult struct{ granted bool }
type evDeepLink struct{ url string }
type evConfigOutcome struct{ outcome remoteconfig.Outcome }
type evFallbackElapsed struct{}
type evConnectivity struct{ disconnected bool }

func (evConversionReady) eventName() string  { return "conversion_ready" }
func (evPermissionResult) eventName() string { return "permission_result" }
func (evDeepLink) eventName() string         { return "deep_link" }
func (evConfigOutcome) eventName() string    { return "config_outcome" }
func (evFallbackElapsed) eventName() string  { return "fallback_elapsed" }
func (evConnectivity) eventName() string     { return "connectivity" }

// Machine is the launch routing state machine. External signals arrive
// from independent callback contexts and are serialized through one
// events channel consumed by Run; the routing decision is only ever
// mutated on that goroutine.
type Machine struct {
	store   RouteStore
	client  remoteconfig.Client
	gate    PermissionGate
	status  notify.StatusSource
	monitor connectivity.Monitor

	fallbackDelay time.Duration

	events chan event

	// afterFunc is swappable for tests.
	afterFunc func(d time.Duration, f func()) *time.Timer
	now       func() time.Time

	mu                sync.RWMutex
	state             State
	dest              Destination
	destURL           string
	overlayURL        string
	conversionHandled bool
}

// New creates a machine in AwaitingData.
func New(
	store RouteStore,
	client remoteconfig.Client,
	gate PermissionGate,
	status notify.StatusSource,
	monitor connectivity.Monitor,
	fallbackDelay time.Duration,
) *Machine {
	return &Machine{
		store:         store,
		client:        client,
		gate:          gate,
		status:        status,
		monitor:       monitor,
		fallbackDelay: fallbackDelay,
		events:        make(chan event, 32),
		afterFunc:     time.AfterFunc,
		now:           time.Now,
		state:         StateAwaitingData,
	}
}

// Decision returns a snapshot of the current routing decision.
func (m *Machine) Decision() Decision {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Decision{
		State:       m.state,
		Destination: m.dest,
		URL:         m.destURL,
		OverlayURL:  m.overlayURL,
	}
}

// ConversionDataReady signals that the attribution collaborator has
// persisted the conversion record. Fired at most once per launch by the
// collaborator; a duplicate is a no-op.
func (m *Machine) ConversionDataReady() {
	m.events <- evConversionReady{}
}

// PermissionResult delivers the outcome of the notification-permission
// prompt.
func (m *Machine) PermissionResult(granted bool) {
	m.events <- evPermissionResult{granted: granted}
}

// DeepLink delivers a notification-tap URL. It overlays the current
// routing at any time without discarding the base state.
func (m *Machine) DeepLink(url string) {
	m.events <- evDeepLink{url: url}
}

// Run consumes events until the context is cancelled. All transitions
// happen on this goroutine.
func (m *Machine) Run(ctx context.Context) {
	slog.Info("routing machine started",
		"component", "routing",
		"state", string(m.state),
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("routing machine stopped",
				"component", "routing",
				"reason", "context_cancelled",
			)
			return
		case disconnected := <-m.monitor.Changes():
			m.dispatch(ctx, evConnectivity{disconnected: disconnected})
		case ev := <-m.events:
			m.dispatch(ctx, ev)
		}
	}
}

// dispatch applies one event. The disconnect interrupt is re-checked
// before any other event commits a transition, so a disconnect always
// wins regardless of arrival order.
func (m *Machine) dispatch(ctx context.Context, ev event) {
	if c, ok := ev.(evConnectivity); ok {
		m.handleConnectivity(ctx, c.disconnected)
		return
	}

	if m.monitor.Disconnected() {
		slog.Info("event preempted by disconnect",
			"component", "routing",
			"event", ev.eventName(),
		)
		m.routeTo(ctx, DestinationOffline, "")
		return
	}

	switch e := ev.(type) {
	case evConversionReady:
		m.handleConversionReady(ctx)
	case evPermissionResult:
		m.handlePermissionResult(ctx, e.granted)
	case evDeepLink:
		m.handleDeepLink(e.url)
	case evConfigOutcome:
		m.handleConfigOutcome(ctx, e.outcome)
	case evFallbackElapsed:
		m.handleFallbackElapsed(ctx)
	}
}

// handleConnectivity applies the global disconnect interrupt. The offline
// screen is sticky for the launch: reconnecting does not resume the
// pipeline.
func (m *Machine) handleConnectivity(ctx context.Context, disconnected bool) {
	if !disconnected {
		return
	}
	m.routeTo(ctx, DestinationOffline, "")
}

// handleConversionReady starts the pipeline once. A second delivery is an
// idempotent no-op: it must not re-trigger prompts or config requests.
func (m *Machine) handleConversionReady(ctx context.Context) {
	if m.conversionHandled {
		slog.Info("duplicate conversion signal ignored", "component", "routing")
		return
	}
	m.conversionHandled = true

	if m.terminal() {
		return
	}

	record, err := m.store.ConversionRecord(ctx)
	if err != nil {
		slog.Error("conversion record read failed",
			"component", "routing", "error", err)
	}

	if record.IsOrganic() {
		slog.Info("organic install, routing to main app", "component", "routing")
		m.routeTo(ctx, DestinationMainApp, "")
		return
	}

	m.evaluatePermission(ctx)
}

// evaluatePermission queries the OS authorization status and either
// surfaces the prompt or proceeds straight to the config request.
func (m *Machine) evaluatePermission(ctx context.Context) {
	status := m.status.AuthorizationStatus(ctx)

	should, err := m.gate.ShouldPrompt(ctx, status)
	if err != nil {
		slog.Error("permission gate evaluation failed",
			"component", "routing", "error", err)
		should = false
	}

	if should {
		slog.Info("surfacing notification permission prompt",
			"component", "routing")
		m.setState(StateAwaitingPermissionDecision, DestinationPermissionPrompt, "")
		return
	}

	m.startFetch(ctx)
}

// handlePermissionResult records a denial and continues to the config
// request regardless of the outcome.
func (m *Machine) handlePermissionResult(ctx context.Context, granted bool) {
	if m.state != StateAwaitingPermissionDecision {
		slog.Info("permission result outside prompt state ignored",
			"component", "routing", "state", string(m.state))
		return
	}

	if !granted {
		if err := m.gate.RecordDenial(ctx); err != nil {
			slog.Error("denial record failed",
				"component", "routing", "error", err)
		}
	}

	m.startFetch(ctx)
}

// startFetch moves to FetchingConfig and issues the request off the
// decision goroutine; the outcome re-enters through the events channel.
func (m *Machine) startFetch(ctx context.Context) {
	m.setState(StateFetchingConfig, DestinationNone, "")

	go func() {
		outcome := m.client.RequestConfig(ctx)
		select {
		case m.events <- evConfigOutcome{outcome: outcome}:
		case <-ctx.Done():
		}
	}()
}

// handleConfigOutcome applies the config result. Granted routes to the
// web overlay unless a deep link has taken over, in which case the result
// is suppressed and the deep-link overlay stays authoritative. Declined
// and Failed arm the fallback timer instead of transitioning immediately.
func (m *Machine) handleConfigOutcome(ctx context.Context, outcome remoteconfig.Outcome) {
	if m.state != StateFetchingConfig {
		slog.Info("stale config outcome ignored",
			"component", "routing", "state", string(m.state))
		return
	}

	switch outcome.Kind {
	case remoteconfig.KindGranted:
		if m.overlayURL != "" {
			slog.Info("config grant suppressed by deep link",
				"component", "routing")
			return
		}
		m.routeTo(ctx, DestinationWebOverlay, outcome.URL)

	case remoteconfig.KindDeclined, remoteconfig.KindFailed:
		slog.Info("config unavailable, arming fallback",
			"component", "routing",
			"outcome", string(outcome.Kind),
			"delay", m.fallbackDelay.String(),
		)
		m.afterFunc(m.fallbackDelay, func() {
			m.events <- evFallbackElapsed{}
		})
	}
}

// handleFallbackElapsed routes to the main app unless the machine has
// already moved on or a deep link has taken over.
func (m *Machine) handleFallbackElapsed(ctx context.Context) {
	if m.terminal() {
		return
	}
	if m.overlayURL != "" {
		slog.Info("fallback suppressed by deep link", "component", "routing")
		return
	}
	m.routeTo(ctx, DestinationMainApp, "")
}

// handleDeepLink sets the overlay destination without touching the base
// routing; when the overlay is dismissed the base resumes unchanged.
func (m *Machine) handleDeepLink(url string) {
	m.mu.Lock()
	m.overlayURL = url
	m.mu.Unlock()

	slog.Info("deep link overlay set", "component", "routing", "url", url)
}

// terminal reports whether the base routing has committed.
func (m *Machine) terminal() bool {
	return m.state == StateRouted
}

// setState commits a non-terminal transition.
func (m *Machine) setState(state State, dest Destination, url string) {
	m.mu.Lock()
	m.state = state
	m.dest = dest
	m.destURL = url
	m.mu.Unlock()

	slog.Info("routing transition",
		"component", "routing",
		"state", string(state),
		"destination", string(dest),
	)
}

// routeTo commits a terminal Routed(*) destination and records it in the
// launch log. Entering Offline pre-empts anything, including another
// terminal state; other destinations never replace a committed one.
func (m *Machine) routeTo(ctx context.Context, dest Destination, url string) {
	m.mu.Lock()
	if m.state == StateRouted {
		if dest != DestinationOffline || m.dest == DestinationOffline {
			m.mu.Unlock()
			return
		}
	}
	m.state = StateRouted
	m.dest = dest
	m.destURL = url
	overlay := m.overlayURL
	m.mu.Unlock()

	slog.Info("routing committed",
		"component", "routing",
		"destination", string(dest),
		"url", url,
	)

	launch := gatestate.Launch{
		ID:          ulid.Make().String(),
		Destination: string(dest),
		OverlayURL:  overlay,
		RoutedAt:    m.now().UTC(),
	}
	if err := m.store.RecordLaunch(ctx, launch); err != nil {
		slog.Error("launch record failed",
			"component", "routing", "error", err)
	}
}
