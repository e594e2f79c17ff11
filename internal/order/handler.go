package order

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"drone-delivery/internal/domain/delivery"
	"drone-delivery/internal/domain/store"
	"drone-delivery/internal/general/auth"
	"drone-delivery/internal/general/logger"
	"drone-delivery/internal/ports"
)

// HTTPHandler adapts HTTP requests to the order service and the catalog
// and geocoding read paths.
type HTTPHandler struct {
	service  ports.OrderService
	stores   ports.StoreRepository
	geocoder ports.Geocoder
	uow      ports.UnitOfWork
	logger   *logger.Logger
}

// NewHTTPHandler wires an HTTP handler around the order service.
func NewHTTPHandler(
	service ports.OrderService,
	stores ports.StoreRepository,
	geocoder ports.Geocoder,
	uow ports.UnitOfWork,
	logger *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		service:  service,
		stores:   stores,
		geocoder: geocoder,
		uow:      uow,
		logger:   logger,
	}
}

// RegisterRoutes mounts order endpoints on the provided mux.
func (handler *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /deliveries", handler.handleCreateDelivery)
	mux.HandleFunc("POST /auth/refresh", handler.handleRefresh)
	mux.HandleFunc("POST /auth/revoke", handler.handleRevoke)
	mux.HandleFunc("GET /stores", handler.handleStores)
	mux.HandleFunc("GET /products", handler.handleProducts)
	mux.HandleFunc("GET /geocode", handler.handleGeocode)
	mux.HandleFunc("GET /reverse-geocode", handler.handleReverseGeocode)
	mux.HandleFunc("GET /health", handler.handleHealth)
}

// --- Request DTOs (HTTP boundary) ---

type createDeliveryRequest struct {
	StoreID  string  `json:"store_id"`
	StartLat float64 `json:"start_lat"`
	StartLng float64 `json:"start_lng"`
	EndLat   float64 `json:"end_lat"`
	EndLng   float64 `json:"end_lng"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// ----- Handler: POST /deliveries -----

func (handler *HTTPHandler) handleCreateDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	var req createDeliveryRequest
	if !handler.decodeBody(ctx, w, r, &req) {
		return
	}

	result, err := handler.service.CreateDelivery(ctx, ports.CreateDeliveryInput{
		StoreID:        req.StoreID,
		StartLatitude:  req.StartLat,
		StartLongitude: req.StartLng,
		EndLatitude:    req.EndLat,
		EndLongitude:   req.EndLng,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrSimulatorUnavailable):
			handler.httpError(ctx, w, http.StatusBadGateway, "Simulation could not be started", err)
		case errors.Is(err, delivery.ErrEmptyStoreID),
			errors.Is(err, delivery.ErrInvalidLatitude),
			errors.Is(err, delivery.ErrInvalidLongitude):
			handler.httpError(ctx, w, http.StatusBadRequest, err.Error(), err)
		default:
			handler.httpError(ctx, w, http.StatusInternalServerError, "Failed to create delivery", err)
		}
		return
	}

	handler.jsonResponse(ctx, w, http.StatusCreated, result)
}

// ----- Handler: POST /auth/refresh -----

func (handler *HTTPHandler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	var req refreshRequest
	if !handler.decodeBody(ctx, w, r, &req) {
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		handler.httpError(ctx, w, http.StatusBadRequest, "refresh_token is required", nil)
		return
	}

	accessToken, err := handler.service.Refresh(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			handler.httpError(ctx, w, http.StatusUnauthorized, "Invalid refresh token", err)
			return
		}
		handler.httpError(ctx, w, http.StatusInternalServerError, "Failed to refresh token", err)
		return
	}

	handler.jsonResponse(ctx, w, http.StatusOK, map[string]any{
		"access_token": accessToken,
	})
}

// ----- Handler: POST /auth/revoke -----

func (handler *HTTPHandler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	var req refreshRequest
	if !handler.decodeBody(ctx, w, r, &req) {
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		handler.httpError(ctx, w, http.StatusBadRequest, "refresh_token is required", nil)
		return
	}

	if err := handler.service.RevokeRefresh(ctx, req.RefreshToken); err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			handler.httpError(ctx, w, http.StatusUnauthorized, "Invalid refresh token", err)
			return
		}
		handler.httpError(ctx, w, http.StatusInternalServerError, "Failed to revoke token", err)
		return
	}

	handler.jsonResponse(ctx, w, http.StatusOK, map[string]any{
		"status": "revoked",
	})
}

// ----- Handlers: catalog reads -----

func (handler *HTTPHandler) handleStores(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	var stores []store.Store
	err := handler.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var txErr error
		stores, txErr = handler.stores.ListStores(txCtx)
		return txErr
	})
	if err != nil {
		handler.httpError(ctx, w, http.StatusInternalServerError, "Failed to list stores", err)
		return
	}
	if stores == nil {
		stores = []store.Store{}
	}

	handler.jsonResponse(ctx, w, http.StatusOK, stores)
}

func (handler *HTTPHandler) handleProducts(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)
	storeID := strings.TrimSpace(r.URL.Query().Get("store_id"))

	var products []store.Product
	err := handler.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var txErr error
		products, txErr = handler.stores.ListProducts(txCtx, storeID)
		return txErr
	})
	if err != nil {
		handler.httpError(ctx, w, http.StatusInternalServerError, "Failed to list products", err)
		return
	}
	if products == nil {
		products = []store.Product{}
	}

	handler.jsonResponse(ctx, w, http.StatusOK, products)
}

// ----- Handlers: geocoding proxy -----

func (handler *HTTPHandler) handleGeocode(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		handler.httpError(ctx, w, http.StatusBadRequest, "q is required", nil)
		return
	}

	payload, err := handler.geocoder.Search(ctx, query)
	if err != nil {
		handler.httpError(ctx, w, http.StatusBadGateway, "Geocoding failed", err)
		return
	}

	handler.rawJSONResponse(w, http.StatusOK, payload)
}

func (handler *HTTPHandler) handleReverseGeocode(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	lat, latErr := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, lngErr := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if latErr != nil || lngErr != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "lat and lng are required", nil)
		return
	}

	payload, err := handler.geocoder.Reverse(ctx, lat, lng)
	if err != nil {
		handler.httpError(ctx, w, http.StatusBadGateway, "Reverse geocoding failed", err)
		return
	}

	handler.rawJSONResponse(w, http.StatusOK, payload)
}

// ----- Handler: GET /health -----

func (handler *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	handler.jsonResponse(r.Context(), w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

// ----- general helpers -----

// decodeBody enforces the JSON content type and a strict decode; it
// writes the error response itself and reports whether decoding worked.
func (handler *HTTPHandler) decodeBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		handler.httpError(ctx, w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", nil)
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MiB
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			handler.httpError(ctx, w, http.StatusRequestEntityTooLarge, "Request body too large", err)
			return false
		}
		handler.httpError(ctx, w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

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

// rawJSONResponse forwards an already-encoded JSON payload unchanged.
func (handler *HTTPHandler) rawJSONResponse(w http.ResponseWriter, status int, payload json.RawMessage) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
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
