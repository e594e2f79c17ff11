package simulator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"drone-delivery/internal/domain/identity"
	"drone-delivery/internal/general/auth"
	"drone-delivery/internal/general/logger"
	"drone-delivery/internal/ports"
)

// HTTPHandler adapts HTTP requests to the flight supervisor.
type HTTPHandler struct {
	svc    ports.SimulatorService
	logger *logger.Logger
	auth   *auth.Authority
}

// NewHTTPHandler wires an HTTP handler around the simulator service.
func NewHTTPHandler(svc ports.SimulatorService, logger *logger.Logger, authority *auth.Authority) *HTTPHandler {
	return &HTTPHandler{svc: svc, logger: logger, auth: authority}
}

// RegisterRoutes mounts simulator endpoints on the provided mux.
func (handler *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /start",
		auth.AuthMiddlewareFunc(handler.auth,
			[]identity.Role{identity.RoleOperator, identity.RoleAdmin},
			[]identity.Scope{identity.ScopeSimulatorStart},
		)(handler.handleStart),
	)
	mux.HandleFunc("GET /health", handler.handleHealth)
}

// --- Request DTO (HTTP boundary) ---

type startRequest struct {
	DeliveryID      string  `json:"delivery_id"`
	StartLat        float64 `json:"start_lat"`
	StartLng        float64 `json:"start_lng"`
	EndLat          float64 `json:"end_lat"`
	EndLng          float64 `json:"end_lng"`
	DurationSeconds float64 `json:"duration_sec"`
	IntervalSeconds float64 `json:"update_interval_sec"`
}

// ----- Handler: POST /start -----

func (handler *HTTPHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		handler.httpError(ctx, w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MiB
	defer r.Body.Close()

	var req startRequest
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

	if strings.TrimSpace(req.DeliveryID) == "" {
		handler.httpError(ctx, w, http.StatusBadRequest, "delivery_id is required", nil)
		return
	}

	in := ports.StartFlightInput{
		DeliveryID: req.DeliveryID,
		StartLat:   req.StartLat,
		StartLng:   req.StartLng,
		EndLat:     req.EndLat,
		EndLng:     req.EndLng,
		Duration:   time.Duration(req.DurationSeconds * float64(time.Second)),
		Tick:       time.Duration(req.IntervalSeconds * float64(time.Second)),
	}

	if err := handler.svc.StartFlight(ctx, in); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "Failed to start flight", err)
		return
	}

	handler.jsonResponse(ctx, w, http.StatusOK, map[string]any{
		"status":      "started",
		"delivery_id": req.DeliveryID,
	})
}

// ----- Handler: GET /health -----

func (handler *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	handler.jsonResponse(r.Context(), w, http.StatusOK, map[string]any{
		"status":         "ok",
		"active_flights": handler.svc.ActiveFlights(),
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
