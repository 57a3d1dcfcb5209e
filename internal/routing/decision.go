// Package routing owns the launch-time routing state machine: it waits
// for connectivity and conversion data, consults the notification
// permission gate, drives the remote config client, applies the fallback
// timer, and emits the single active destination for this launch.
package routing

// State is the machine's position in the launch pipeline.
type State string

const (
	StateAwaitingData               State = "awaiting_data"
	StateAwaitingPermissionDecision State = "awaiting_permission_decision"
	StateFetchingConfig             State = "fetching_config"
	StateRouted                     State = "routed"
)

// Destination is the top-level experience the shell routes the user into.
type Destination string

const (
	DestinationNone             Destination = ""
	DestinationMainApp          Destination = "main_app"
	DestinationWebOverlay       Destination = "web_overlay"
	DestinationPermissionPrompt Destination = "permission_prompt"
	DestinationOffline          Destination = "offline"
)

// Decision is a snapshot of the current routing decision. Exactly one
// base destination is active at a time; the deep-link overlay is
// independent of the base and, when set, is what the shell presents on
// top of it.
type Decision struct {
	State       State       `json:"state"`
	Destination Destination `json:"destination"`
	// URL carries the overlay URL when Destination is web_overlay.
	URL string `json:"url,omitempty"`
	// OverlayURL is the deep-link override, set independently of the base
	// routing at any time.
	OverlayURL string `json:"overlay_url,omitempty"`
}

// Terminal reports whether the base routing has reached a Routed(*) state.
func (d Decision) Terminal() bool {
	return d.State == StateRouted
}
