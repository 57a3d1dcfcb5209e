package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/keshew/launchgate/internal/gatestate"
	"github.com/keshew/launchgate/internal/notify"
	"github.com/keshew/launchgate/internal/routing"
)

type fakeRouter struct {
	decision        routing.Decision
	conversionFired int
	permission      []bool
	deepLinks       []string
}

func (f *fakeRouter) Decision() routing.Decision { return f.decision }
func (f *fakeRouter) ConversionDataReady()       { f.conversionFired++ }
func (f *fakeRouter) PermissionResult(granted bool) {
	f.permission = append(f.permission, granted)
}
func (f *fakeRouter) DeepLink(url string) { f.deepLinks = append(f.deepLinks, url) }

type fakeHandlerStore struct {
	record    gatestate.ConversionRecord
	pushToken string
	afID      string
	disabled  bool
	launches  []gatestate.Launch
}

func (f *fakeHandlerStore) SetConversionRecord(ctx context.Context, record gatestate.ConversionRecord) error {
	f.record = record
	return nil
}
func (f *fakeHandlerStore) SetPushToken(ctx context.Context, token string) error {
	f.pushToken = token
	return nil
}
func (f *fakeHandlerStore) SetAttributionID(ctx context.Context, id string) error {
	f.afID = id
	return nil
}
func (f *fakeHandlerStore) ConfigRequestsDisabled(ctx context.Context) (bool, error) {
	return f.disabled, nil
}
func (f *fakeHandlerStore) ListLaunches(ctx context.Context, limit int) ([]gatestate.Launch, error) {
	if limit < len(f.launches) {
		return f.launches[:limit], nil
	}
	return f.launches, nil
}

func newTestHandler(apiKey string) (*Handler, *fakeRouter, *fakeHandlerStore) {
	router := &fakeRouter{decision: routing.Decision{State: routing.StateAwaitingData}}
	store := &fakeHandlerStore{}
	h := NewHandler(router, store, NewStatusRegistry(), apiKey, "test")
	return h, router, store
}

func doRequest(h *Handler, method, path, body string) *httptest.ResponseRecorder {
	r := NewRouter(h)
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	h, _, store := newTestHandler("")
	store.disabled = true

	w := doRequest(h, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("status = %v", resp["status"])
	}
	if resp["config_requests"] != "disabled" {
		t.Errorf("config_requests = %v, want disabled", resp["config_requests"])
	}
	if resp["routing_state"] != "awaiting_data" {
		t.Errorf("routing_state = %v", resp["routing_state"])
	}
}

func TestDecision(t *testing.T) {
	h, router, _ := newTestHandler("")
	router.decision = routing.Decision{
		State:       routing.StateRouted,
		Destination: routing.DestinationWebOverlay,
		URL:         "https://promo.example/x",
	}

	w := doRequest(h, http.MethodGet, "/api/v1/decision", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var d routing.Decision
	if err := json.Unmarshal(w.Body.Bytes(), &d); err != nil {
		t.Fatal(err)
	}
	if d.Destination != routing.DestinationWebOverlay || d.URL != "https://promo.example/x" {
		t.Errorf("decision = %+v", d)
	}
}

func TestConversion_PersistsThenSignals(t *testing.T) {
	h, router, store := newTestHandler("")

	w := doRequest(h, http.MethodPost, "/api/v1/events/conversion",
		`{"af_status":"Non-organic","campaign":"summer"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}

	if store.record == nil {
		t.Fatal("conversion record not persisted")
	}
	if store.record["campaign"] != "summer" {
		t.Errorf("record = %v", store.record)
	}
	if router.conversionFired != 1 {
		t.Errorf("conversion signals = %d, want 1", router.conversionFired)
	}
}

func TestConversion_Rejections(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid JSON", `{oops`, http.StatusBadRequest},
		{"JSON array", `[1,2]`, http.StatusBadRequest},
		{"JSON null", `null`, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, router, _ := newTestHandler("")
			w := doRequest(h, http.MethodPost, "/api/v1/events/conversion", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if router.conversionFired != 0 {
				t.Error("conversion signal fired on rejected payload")
			}
		})
	}
}

func TestPermissionResult(t *testing.T) {
	h, router, _ := newTestHandler("")

	w := doRequest(h, http.MethodPost, "/api/v1/events/permission", `{"granted":false}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if len(router.permission) != 1 || router.permission[0] != false {
		t.Errorf("permission results = %v", router.permission)
	}

	w = doRequest(h, http.MethodPost, "/api/v1/events/permission", `{}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422 for missing granted", w.Code)
	}
}

func TestDeepLink(t *testing.T) {
	h, router, _ := newTestHandler("")

	w := doRequest(h, http.MethodPost, "/api/v1/events/deeplink",
		`{"url":"https://deep.example/offer"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if len(router.deepLinks) != 1 || router.deepLinks[0] != "https://deep.example/offer" {
		t.Errorf("deep links = %v", router.deepLinks)
	}

	w = doRequest(h, http.MethodPost, "/api/v1/events/deeplink", `{"url":"not a url"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422 for invalid url", w.Code)
	}
}

func TestPermissionStatus_UnknownValuesAccepted(t *testing.T) {
	h, _, _ := newTestHandler("")

	w := doRequest(h, http.MethodPost, "/api/v1/permission/status", `{"status":"authorized"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if got := h.status.AuthorizationStatus(context.Background()); got != notify.StatusAuthorized {
		t.Errorf("registry = %s, want authorized", got)
	}

	// A status this core has never seen maps to unknown, not an error.
	w = doRequest(h, http.MethodPost, "/api/v1/permission/status", `{"status":"timeSensitive"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if got := h.status.AuthorizationStatus(context.Background()); got != notify.StatusUnknown {
		t.Errorf("registry = %s, want unknown", got)
	}
}

func TestIdentifiers_PartialUpdate(t *testing.T) {
	h, _, store := newTestHandler("")
	store.afID = "existing"

	w := doRequest(h, http.MethodPut, "/api/v1/identifiers", `{"push_token":"apns-1"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if store.pushToken != "apns-1" {
		t.Errorf("push token = %q", store.pushToken)
	}
	if store.afID != "existing" {
		t.Errorf("af id = %q, empty field must not overwrite", store.afID)
	}
}

func TestLaunches(t *testing.T) {
	h, _, store := newTestHandler("")
	store.launches = []gatestate.Launch{
		{ID: "01X", Destination: "main_app", RoutedAt: time.Now().UTC()},
	}

	w := doRequest(h, http.MethodGet, "/api/v1/launches", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Launches []gatestate.Launch `json:"launches"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Launches) != 1 || resp.Launches[0].Destination != "main_app" {
		t.Errorf("launches = %v", resp.Launches)
	}

	w = doRequest(h, http.MethodGet, "/api/v1/launches?limit=0", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for bad limit", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	h, _, _ := newTestHandler("secret-key")
	r := NewRouter(h)

	// Health stays public.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200 without auth", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/decision", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without token", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/decision", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with token", w.Code)
	}
}
