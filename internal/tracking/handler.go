// Package tracking exposes the conversion-event HTTP surface: the event
// ingestion endpoint used by the browser, the client-IP echo endpoint and
// the middleware that reports server-side page views.
package tracking

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/worldbrain/capi-gateway/internal/attribution"
	"github.com/worldbrain/capi-gateway/internal/capi"
	"github.com/worldbrain/capi-gateway/internal/pkg/httputil"
)

// Forwarder delivers events to the Conversions API. *capi.Forwarder
// implements it.
type Forwarder interface {
	Send(ctx context.Context, name string, rc capi.RequestContext, userData map[string]any, eventID string) (string, error)
	Dispatch(name string, rc capi.RequestContext, userData map[string]any, eventID string)
}

type Handler struct {
	fwd    Forwarder
	params *attribution.ParamBuilder
}

func NewHandler(fwd Forwarder, params *attribution.ParamBuilder) *Handler {
	return &Handler{fwd: fwd, params: params}
}

// Routes returns the API router; mount it under /api.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/event", h.HandleEvent)
	r.Get("/ip", h.HandleIP)
	return r
}

type eventRequest struct {
	EventName string         `json:"eventName"`
	UserData  map[string]any `json:"userData"`
	EventID   string         `json:"eventId,omitempty"`
}

type eventResponse struct {
	Success         bool   `json:"success"`
	PlatformEventID string `json:"platformEventId,omitempty"`
}

// HandleEvent forwards one browser-reported event. The response reports
// success even when the platform could not be reached; delivery failures
// only show up in the logs.
func (h *Handler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	req.EventName = strings.TrimSpace(req.EventName)
	if req.EventName == "" {
		httputil.BadRequest(w, "eventName is required")
		return
	}

	res, ok := ResultFromContext(r.Context())
	if !ok {
		res = h.params.ProcessRequest(r)
	}
	rc := requestContext(r, res)
	if ref := r.Referer(); ref != "" {
		rc.SourceURL = ref
	}

	id, err := h.fwd.Send(r.Context(), req.EventName, rc, req.UserData, req.EventID)
	if err != nil {
		if errors.Is(err, capi.ErrMissingEventName) {
			httputil.BadRequest(w, "eventName is required")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, eventResponse{Success: true, PlatformEventID: id})
}

type ipResponse struct {
	IP string `json:"ip"`
}

// HandleIP echoes the caller's address as the server sees it. Browsers use
// it to learn their public, preferably IPv6, address.
func (h *Handler) HandleIP(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, ipResponse{IP: attribution.ResolveClientIP(r)})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}
