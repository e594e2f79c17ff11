package tracking

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"drone-delivery/internal/domain/identity"
	"drone-delivery/internal/general/auth"

	"github.com/gorilla/websocket"
)

// Custom close codes sent when a WS handshake carries a bad token.
const (
	CloseUnauthenticated = 4401
	CloseForbidden       = 4403
)

const (
	wsWriteTimeout = 5 * time.Second
	wsReadDeadline = 60 * time.Second
	wsPingInterval = 30 * time.Second
	ctrlTimeout    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// wsSubscriber wraps one observer connection. The mutex serializes data
// writes; the fan-out consumer and the initial snapshot writer may race
// otherwise.
type wsSubscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSubscriber) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(v)
}

func (s *wsSubscriber) Close() error {
	return s.conn.Close()
}

// ConnectObserver upgrades GET /ws/track/{delivery_id}?token=... and
// streams state updates until the client disconnects or the delivery
// reaches a terminal state. Browsers cannot set headers on a WS
// handshake, so the token rides in the query string. A bad token closes
// the socket with 4401; a verified token bound to a different delivery
// or lacking the read scope closes with 4403.
func (handler *HTTPHandler) ConnectObserver(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)
	deliveryID := r.PathValue("delivery_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		handler.logger.Error(ctx, "websocket_upgrade_failed", "Failed to upgrade to WebSocket", err, nil)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(1 << 20) // 1 MiB

	raw := strings.TrimSpace(r.URL.Query().Get("token"))
	if raw == "" {
		wsWriteClose(conn, CloseUnauthenticated, "missing token")
		return
	}

	claims, err := handler.authority.Verify(raw)
	if err != nil || claims.TokenType != auth.TokenTypeAccess {
		handler.logger.Info(ctx, "ws_auth_failed", "Rejected WS connection with invalid token",
			map[string]any{"delivery_id": deliveryID})
		wsWriteClose(conn, CloseUnauthenticated, "invalid token")
		return
	}

	if err := authorizeObserver(claims, deliveryID); err != nil {
		handler.logger.Info(ctx, "ws_auth_forbidden", "Rejected WS connection for wrong delivery",
			map[string]any{"delivery_id": deliveryID, "subject": claims.Subject})
		wsWriteClose(conn, CloseForbidden, "token not valid for this delivery")
		return
	}

	sub := &wsSubscriber{conn: conn}

	// Subscribe before reading the snapshot so an update broadcast while
	// the snapshot loads still reaches this client. The subscriber mutex
	// serializes the two writers; at worst the client sees the snapshot
	// after a fresher broadcast frame.
	handler.hub.Subscribe(deliveryID, sub)
	defer handler.hub.Unsubscribe(deliveryID, sub)

	// Push the current state so the client renders immediately instead
	// of waiting for the next telemetry tick.
	if state, err := handler.service.Latest(ctx, deliveryID); err == nil {
		if writeErr := sub.WriteJSON(stateMessage(state)); writeErr != nil {
			return
		}
		if state.Status.Terminal() {
			wsWriteClose(conn, websocket.CloseNormalClosure, "delivery completed")
			return
		}
	} else if !errors.Is(err, ErrUnknownDelivery) {
		handler.logger.Error(ctx, "ws_snapshot_failed", "Failed to load initial state", err,
			map[string]any{"delivery_id": deliveryID})
		wsWriteClose(conn, websocket.CloseInternalServerErr, "internal error")
		return
	}

	handler.logger.Info(ctx, "ws_connected", "Observer WebSocket connected",
		map[string]any{"delivery_id": deliveryID})

	_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(_ string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	})

	// Ping loop keeps NAT mappings alive; control frames may be written
	// concurrently with WriteJSON.
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	go func() {
		for range ticker.C {
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctrlTimeout)); err != nil {
				// close to unblock the reader; goroutine exits
				_ = conn.Close()
				return
			}
		}
	}()

	// Observers send nothing; the read loop only notices disconnects.
	for {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				handler.logger.Info(ctx, "ws_unexpected_close", "Observer connection closed unexpectedly",
					map[string]any{"delivery_id": deliveryID})
			} else {
				handler.logger.Info(ctx, "ws_connection_closed", "Observer connection closed",
					map[string]any{"delivery_id": deliveryID})
			}
			return
		}
	}
}

// authorizeObserver checks the read scope and delivery binding. Operator
// and admin tokens may watch any delivery; a viewer token only its own.
func authorizeObserver(claims *auth.Claims, deliveryID string) error {
	if err := auth.RequireScopes(claims, identity.ScopeTrackingRead); err != nil {
		return err
	}
	if claims.Role == identity.RoleOperator || claims.Role == identity.RoleAdmin {
		return nil
	}
	return auth.RequireSubject(claims, deliveryID)
}

// wsWriteClose sends a close frame with the given code, best effort.
func wsWriteClose(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(ctrlTimeout))
}
