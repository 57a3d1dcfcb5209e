package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/keshew/launchgate/internal/gatestate"
	"github.com/keshew/launchgate/internal/notify"
	"github.com/keshew/launchgate/internal/routing"
)

// Router is the slice of the routing machine the API drives and observes.
type Router interface {
	Decision() routing.Decision
	ConversionDataReady()
	PermissionResult(granted bool)
	DeepLink(url string)
}

// HandlerStore is the slice of gate state the API reads and writes.
type HandlerStore interface {
	SetConversionRecord(ctx context.Context, record gatestate.ConversionRecord) error
	SetPushToken(ctx context.Context, token string) error
	SetAttributionID(ctx context.Context, id string) error
	ConfigRequestsDisabled(ctx context.Context) (bool, error)
	ListLaunches(ctx context.Context, limit int) ([]gatestate.Launch, error)
}

var validate = validator.New()

// Handler implements the shell API handlers.
type Handler struct {
	router  Router
	store   HandlerStore
	status  *StatusRegistry
	apiKey  string
	version string
}

// NewHandler creates a Handler over the routing machine and gate state.
func NewHandler(router Router, store HandlerStore, status *StatusRegistry, apiKey, version string) *Handler {
	return &Handler{
		router:  router,
		store:   store,
		status:  status,
		apiKey:  apiKey,
		version: version,
	}
}

type healthResponse struct {
	Status         string        `json:"status"`
	Version        string        `json:"version"`
	RoutingState   routing.State `json:"routing_state"`
	ConfigRequests string        `json:"config_requests"`
}

// Health returns daemon status: version, routing state, breaker state.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	disabled, err := h.store.ConfigRequestsDisabled(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "gate state unavailable")
		return
	}

	configRequests := "enabled"
	if disabled {
		configRequests = "disabled"
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "healthy",
		Version:        h.version,
		RoutingState:   h.router.Decision().State,
		ConfigRequests: configRequests,
	})
}

// Decision handles GET /api/v1/decision.
func (h *Handler) Decision(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.router.Decision())
}

// Conversion handles POST /api/v1/events/conversion. The body is the
// attribution blob itself; it is persisted before the ready signal fires,
// matching the collaborator contract.
func (h *Handler) Conversion(w http.ResponseWriter, r *http.Request) {
	var record gatestate.ConversionRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if record == nil {
		WriteProblem(w, r, http.StatusUnprocessableEntity, "conversion payload must be a JSON object")
		return
	}

	if err := h.store.SetConversionRecord(r.Context(), record); err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "conversion record not persisted")
		return
	}

	h.router.ConversionDataReady()
	w.WriteHeader(http.StatusAccepted)
}

type permissionResultRequest struct {
	Granted *bool `json:"granted" validate:"required"`
}

// PermissionResult handles POST /api/v1/events/permission.
func (h *Handler) PermissionResult(w http.ResponseWriter, r *http.Request) {
	var req permissionResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if err := validate.Struct(req); err != nil {
		WriteProblem(w, r, http.StatusUnprocessableEntity, "granted is required")
		return
	}

	h.router.PermissionResult(*req.Granted)
	w.WriteHeader(http.StatusAccepted)
}

type deepLinkRequest struct {
	URL string `json:"url" validate:"required,url"`
}

// DeepLink handles POST /api/v1/events/deeplink.
func (h *Handler) DeepLink(w http.ResponseWriter, r *http.Request) {
	var req deepLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if err := validate.Struct(req); err != nil {
		WriteProblem(w, r, http.StatusUnprocessableEntity, "url must be a valid URL")
		return
	}

	h.router.DeepLink(req.URL)
	w.WriteHeader(http.StatusAccepted)
}

type permissionStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// PermissionStatus handles POST /api/v1/permission/status. Unrecognized
// statuses are accepted and mapped to unknown: future OS values must
// bypass the prompt gate, not fail.
func (h *Handler) PermissionStatus(w http.ResponseWriter, r *http.Request) {
	var req permissionStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if err := validate.Struct(req); err != nil {
		WriteProblem(w, r, http.StatusUnprocessableEntity, "status is required")
		return
	}

	h.status.Set(notify.ParseStatus(req.Status))
	w.WriteHeader(http.StatusNoContent)
}

type identifiersRequest struct {
	PushToken     string `json:"push_token"`
	AttributionID string `json:"af_id"`
}

// Identifiers handles PUT /api/v1/identifiers. Empty fields leave the
// stored value untouched.
func (h *Handler) Identifiers(w http.ResponseWriter, r *http.Request) {
	var req identifiersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	if req.PushToken != "" {
		if err := h.store.SetPushToken(r.Context(), req.PushToken); err != nil {
			WriteProblem(w, r, http.StatusInternalServerError, "push token not persisted")
			return
		}
	}
	if req.AttributionID != "" {
		if err := h.store.SetAttributionID(r.Context(), req.AttributionID); err != nil {
			WriteProblem(w, r, http.StatusInternalServerError, "attribution id not persisted")
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// Launches handles GET /api/v1/launches.
func (h *Handler) Launches(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			WriteProblem(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	launches, err := h.store.ListLaunches(r.Context(), limit)
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "launch log unavailable")
		return
	}
	if launches == nil {
		launches = []gatestate.Launch{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"launches": launches})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
