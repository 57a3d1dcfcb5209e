package remoteconfig

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/keshew/launchgate/internal/gatestate"
)

// Compile-time interface check
var _ Client = (*HTTPClient)(nil)

// GateStore is the slice of gate state the config client reads and writes.
type GateStore interface {
	ConversionRecord(ctx context.Context) (gatestate.ConversionRecord, error)
	PushToken(ctx context.Context) (string, error)
	AttributionID(ctx context.Context) (string, error)
	SetGateConfig(ctx context.Context, cfg gatestate.GateConfig) error
	ConfigRequestsDisabled(ctx context.Context) (bool, error)
	SetConfigRequestsDisabled(ctx context.Context) error
	ClearConfigRequestsDisabled(ctx context.Context) error
}

// Identity holds the fixed and derived request fields that overwrite any
// colliding keys from the conversion record.
type Identity struct {
	BundleID          string
	OSTag             string
	StoreID           string
	Locale            string
	FirebaseProjectID string
}

// HTTPClient posts the gate config request to a single fixed HTTPS
// endpoint.
type HTTPClient struct {
	store    GateStore
	endpoint string
	identity Identity
	client   *http.Client
}

// NewHTTPClient creates a config client for the given endpoint.
func NewHTTPClient(store GateStore, endpoint string, identity Identity, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		store:    store,
		endpoint: endpoint,
		identity: identity,
		client:   &http.Client{Timeout: timeout},
	}
}

// configResponse is the raw success shape: {ok: true, url: ..., expires: ...}.
// Pointer fields distinguish absent from zero so shape validation stays
// explicit instead of hiding behind zero values.
type configResponse struct {
	OK      *bool    `json:"ok"`
	URL     *string  `json:"url"`
	Expires *float64 `json:"expires"`
}

// RequestConfig performs the one-shot config request and classifies the
// outcome. All side effects land in the gate state store; errors are
// never surfaced beyond the outcome classification.
func (c *HTTPClient) RequestConfig(ctx context.Context) Outcome {
	disabled, err := c.store.ConfigRequestsDisabled(ctx)
	if err != nil {
		slog.Error("config breaker read failed",
			"component", "remoteconfig", "error", err)
		return Outcome{Kind: KindFailed}
	}
	if disabled {
		slog.Info("config request short-circuited, breaker set",
			"component", "remoteconfig")
		return Outcome{Kind: KindDeclined}
	}

	record, err := c.store.ConversionRecord(ctx)
	if err != nil {
		slog.Error("conversion record read failed",
			"component", "remoteconfig", "error", err)
		return Outcome{Kind: KindFailed}
	}
	if record == nil {
		// No conversion data means no payload to send; the breaker makes
		// that permanent.
		c.tripBreaker(ctx)
		slog.Info("config request declined, no conversion record",
			"component", "remoteconfig")
		return Outcome{Kind: KindDeclined}
	}

	payload, err := c.buildPayload(ctx, record)
	if err != nil {
		slog.Error("config payload build failed",
			"component", "remoteconfig", "error", err)
		return Outcome{Kind: KindFailed}
	}

	body, err := c.post(ctx, payload)
	if err != nil {
		c.tripBreaker(ctx)
		slog.Warn("config request failed",
			"component", "remoteconfig", "error", err)
		return Outcome{Kind: KindFailed}
	}

	return c.classify(ctx, body)
}

// buildPayload merges the conversion record with the fixed and derived
// identity fields. Identity fields win on key collision.
func (c *HTTPClient) buildPayload(ctx context.Context, record gatestate.ConversionRecord) (map[string]any, error) {
	pushToken, err := c.store.PushToken(ctx)
	if err != nil {
		return nil, err
	}
	afID, err := c.store.AttributionID(ctx)
	if err != nil {
		return nil, err
	}

	payload := make(map[string]any, len(record)+7)
	for k, v := range record {
		payload[k] = v
	}
	payload["push_token"] = pushToken
	payload["af_id"] = afID
	payload["bundle_id"] = c.identity.BundleID
	payload["os"] = c.identity.OSTag
	payload["store_id"] = c.identity.StoreID
	payload["locale"] = c.identity.Locale
	payload["firebase_project_id"] = c.identity.FirebaseProjectID

	return payload, nil
}

// post sends the payload and returns the response body for any 2xx
// status. Transport errors, non-2xx statuses, and empty bodies are all
// returned as errors.
func (c *HTTPClient) post(ctx context.Context, payload map[string]any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, errEmptyBody
	}

	return body, nil
}

// classify interprets a 2xx response body. A body that is not a JSON
// object fails; a JSON object that is not the success shape declines; the
// success shape persists the config, clears the breaker, and grants.
func (c *HTTPClient) classify(ctx context.Context, body []byte) Outcome {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		c.tripBreaker(ctx)
		slog.Warn("config response is not a JSON object",
			"component", "remoteconfig", "error", err)
		return Outcome{Kind: KindFailed}
	}

	var resp configResponse
	// The object decoded above, so only shape mismatches can fail here;
	// those classify as a decline, not a transport failure.
	if err := json.Unmarshal(body, &resp); err != nil ||
		resp.OK == nil || !*resp.OK || resp.URL == nil || *resp.URL == "" || resp.Expires == nil {
		c.tripBreaker(ctx)
		slog.Info("config declined by endpoint",
			"component", "remoteconfig")
		return Outcome{Kind: KindDeclined}
	}

	expires := int64(*resp.Expires)

	// Persist the config before clearing the breaker: a crash in between
	// leaves the breaker set, which degrades to no further fetches rather
	// than corrupt routing.
	if err := c.store.SetGateConfig(ctx, gatestate.GateConfig{
		URL:       *resp.URL,
		ExpiresAt: time.Unix(expires, 0).UTC(),
	}); err != nil {
		slog.Error("config persist failed",
			"component", "remoteconfig", "error", err)
		return Outcome{Kind: KindFailed}
	}
	if err := c.store.ClearConfigRequestsDisabled(ctx); err != nil {
		slog.Error("config breaker clear failed",
			"component", "remoteconfig", "error", err)
	}

	slog.Info("config granted",
		"component", "remoteconfig", "expires", expires)
	return Outcome{Kind: KindGranted, URL: *resp.URL, ExpiresAt: expires}
}

// tripBreaker sets the persistent circuit breaker; failures to persist it
// are logged and otherwise ignored, the next launch simply retries the
// request once more.
func (c *HTTPClient) tripBreaker(ctx context.Context) {
	if err := c.store.SetConfigRequestsDisabled(ctx); err != nil {
		slog.Error("config breaker write failed",
			"component", "remoteconfig", "error", err)
	}
}
