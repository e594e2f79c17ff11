package tracking

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"drone-delivery/internal/domain/delivery"
	"drone-delivery/internal/domain/identity"
	"drone-delivery/internal/general/auth"
	"drone-delivery/internal/general/logger"
	"drone-delivery/internal/ports"
)

// HTTPHandler adapts HTTP and WebSocket requests to the tracking service.
type HTTPHandler struct {
	service   ports.TrackingService
	logger    *logger.Logger
	authority *auth.Authority
	hub       *Hub
}

// NewHTTPHandler wires an HTTP handler around the tracking service.
func NewHTTPHandler(service ports.TrackingService, logger *logger.Logger, authority *auth.Authority, hub *Hub) *HTTPHandler {
	return &HTTPHandler{service: service, logger: logger, authority: authority, hub: hub}
}

// RegisterRoutes mounts tracking endpoints on the provided mux.
func (handler *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /telemetry",
		auth.AuthMiddlewareFunc(handler.authority,
			[]identity.Role{identity.RoleDroneDevice},
			[]identity.Scope{identity.ScopeTelemetryWrite},
		)(handler.handleTelemetry),
	)
	mux.HandleFunc("GET /track/{delivery_id}",
		auth.AuthMiddlewareFunc(handler.authority,
			nil,
			[]identity.Scope{identity.ScopeTrackingRead},
		)(handler.handleTrack),
	)
	mux.HandleFunc("GET /track/{delivery_id}/events",
		auth.AuthMiddlewareFunc(handler.authority,
			nil,
			[]identity.Scope{identity.ScopeTrackingRead},
		)(handler.handleTrackEvents),
	)
	mux.HandleFunc("GET /ws/track/{delivery_id}", handler.ConnectObserver)
	mux.HandleFunc("GET /health", handler.handleHealth)
}

// --- Request DTO (HTTP boundary) ---

type telemetryRequest struct {
	EventID    string  `json:"event_id"`
	DeliveryID string  `json:"delivery_id"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	Progress   float64 `json:"progress"`
	Status     string  `json:"status"`
	Timestamp  string  `json:"timestamp"`
}

// ----- Handler: POST /telemetry -----

func (handler *HTTPHandler) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		handler.httpError(ctx, w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MiB
	defer r.Body.Close()

	var req telemetryRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			handler.httpError(ctx, w, http.StatusRequestEntityTooLarge, "Request body too large", err)
			return
		}
		handler.httpError(ctx, w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	event, err := req.toEvent()
	if err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, err.Error(), err)
		return
	}
	if err := event.Validate(); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, err.Error(), err)
		return
	}

	outcome, err := handler.service.Ingest(ctx, event)
	if err != nil {
		handler.httpError(ctx, w, http.StatusInternalServerError, "Failed to ingest telemetry", err)
		return
	}

	handler.jsonResponse(ctx, w, http.StatusOK, map[string]any{
		"status":   string(outcome),
		"event_id": req.EventID,
	})
}

func (req *telemetryRequest) toEvent() (*delivery.TelemetryEvent, error) {
	status, err := delivery.ParseStatus(req.Status)
	if err != nil {
		return nil, err
	}

	ts, err := time.Parse(time.RFC3339Nano, req.Timestamp)
	if err != nil {
		return nil, errors.New("timestamp must be RFC 3339")
	}

	return &delivery.TelemetryEvent{
		EventID:    strings.TrimSpace(req.EventID),
		DeliveryID: strings.TrimSpace(req.DeliveryID),
		Latitude:   req.Lat,
		Longitude:  req.Lng,
		Progress:   req.Progress,
		Status:     status,
		Timestamp:  ts.UTC(),
	}, nil
}

// ----- Handler: GET /track/{delivery_id} -----

func (handler *HTTPHandler) handleTrack(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)
	deliveryID := r.PathValue("delivery_id")

	claims := auth.RequireClaims(r)
	if claims == nil {
		handler.httpError(ctx, w, http.StatusUnauthorized, auth.ErrInvalidToken.Error(), nil)
		return
	}
	if err := authorizeObserver(claims, deliveryID); err != nil {
		handler.httpError(ctx, w, http.StatusForbidden, "token not valid for this delivery", err)
		return
	}

	state, err := handler.service.Latest(ctx, deliveryID)
	if err != nil {
		if errors.Is(err, ErrUnknownDelivery) {
			handler.httpError(ctx, w, http.StatusNotFound, "No telemetry for this delivery yet", nil)
			return
		}
		handler.httpError(ctx, w, http.StatusInternalServerError, "Failed to load delivery state", err)
		return
	}

	handler.jsonResponse(ctx, w, http.StatusOK, stateMessage(state))
}

// ----- Handler: GET /track/{delivery_id}/events -----

func (handler *HTTPHandler) handleTrackEvents(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)
	deliveryID := r.PathValue("delivery_id")

	claims := auth.RequireClaims(r)
	if claims == nil {
		handler.httpError(ctx, w, http.StatusUnauthorized, auth.ErrInvalidToken.Error(), nil)
		return
	}
	if err := authorizeObserver(claims, deliveryID); err != nil {
		handler.httpError(ctx, w, http.StatusForbidden, "token not valid for this delivery", err)
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			handler.httpError(ctx, w, http.StatusBadRequest, "since must be RFC 3339", err)
			return
		}
		since = parsed.UTC()
	}

	events, err := handler.service.History(ctx, deliveryID, since, 100)
	if err != nil {
		handler.httpError(ctx, w, http.StatusInternalServerError, "Failed to load telemetry history", err)
		return
	}

	items := make([]map[string]any, 0, len(events))
	for _, e := range events {
		items = append(items, map[string]any{
			"event_id":  e.EventID,
			"lat":       e.Latitude,
			"lng":       e.Longitude,
			"progress":  e.Progress,
			"status":    e.Status.String(),
			"timestamp": e.Timestamp,
		})
	}

	handler.jsonResponse(ctx, w, http.StatusOK, map[string]any{
		"delivery_id": deliveryID,
		"events":      items,
	})
}

// ----- Handler: GET /health -----

func (handler *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	handler.jsonResponse(r.Context(), w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

// ----- general helpers -----

func (handler *HTTPHandler) jsonResponse(ctx context.Context, w http.ResponseWriter, status int, data any) {
	// marshal before touching the ResponseWriter so an encode failure
	// can still change the status code
	var buf []byte
	var err error

	if data != nil {
		buf, err = json.Marshal(data)
		if err != nil {
			handler.logger.Error(ctx, "response_encode_failed", "Failed to encode response", err, nil)
			http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
			return
		}
	} else {
		buf = []byte("{}")
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}

// httpError logs the failure and answers with a JSON error body.
func (handler *HTTPHandler) httpError(ctx context.Context, w http.ResponseWriter, status int, msg string, err error) {
	action := "request_failed"
	if status >= 500 {
		action = "http_internal_error"
	} else if status == http.StatusBadRequest {
		action = "validation_failed"
	}
	handler.logger.Error(ctx, action, msg, err, nil)

	type errBody struct {
		Error string `json:"error"`
	}
	handler.jsonResponse(ctx, w, status, errBody{Error: msg})
}

// withReqID honors an incoming X-Request-ID header or mints a fresh id.
func (handler *HTTPHandler) withReqID(ctx context.Context, r *http.Request) context.Context {
	reqID := r.Header.Get("X-Request-ID")
	if strings.TrimSpace(reqID) == "" {
		reqID = randID()
	}
	return handler.logger.WithRequestID(ctx, reqID)
}

// randID returns 12 random bytes hex-encoded, enough to correlate a request.
func randID() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
