// Package remoteconfig performs the one-shot POST to the remote config
// endpoint and classifies the result. A single negative signal of any
// kind (transport failure, bad status, malformed body, explicit decline,
// missing conversion data) sets a persistent circuit breaker that
// disables all further requests for the lifetime of the install; only a
// successful response clears it. There is no retry schedule.
package remoteconfig

import "context"

// Kind classifies the result of a config request.
type Kind string

const (
	// KindGranted means the endpoint returned a usable overlay config.
	KindGranted Kind = "granted"
	// KindDeclined means the request was short-circuited or the endpoint
	// explicitly declined (ok false or wrong response shape).
	KindDeclined Kind = "declined"
	// KindFailed means transport error, non-2xx status, or a body that is
	// not a JSON object.
	KindFailed Kind = "failed"
)

// Outcome is the classified result of RequestConfig. URL and ExpiresAt
// are meaningful only when Kind is KindGranted.
type Outcome struct {
	Kind      Kind
	URL       string
	ExpiresAt int64 // unix seconds
}

// Client requests the remote gate config.
type Client interface {
	RequestConfig(ctx context.Context) Outcome
}
