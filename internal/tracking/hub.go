package tracking

import (
	"context"
	"sync"

	"drone-delivery/internal/domain/delivery"
	"drone-delivery/internal/general/logger"
)

// Subscriber is one live observer connection. WriteJSON failures count as
// a dead connection and lead to eviction.
type Subscriber interface {
	WriteJSON(v any) error
	Close() error
}

// Hub tracks observer connections per delivery and fans out state
// changes. The registry is an explicitly-owned, lock-guarded map held by
// the hub instance; mutations happen inside the lock and broadcast
// iteration works on a snapshot copy so slow sends never block
// subscribe/unsubscribe.
type Hub struct {
	logger *logger.Logger

	mu   sync.Mutex
	subs map[string]map[Subscriber]struct{}
}

// NewHub constructs an empty subscription registry.
func NewHub(logger *logger.Logger) *Hub {
	return &Hub{
		logger: logger,
		subs:   make(map[string]map[Subscriber]struct{}),
	}
}

// Subscribe registers a connection for a delivery.
func (h *Hub) Subscribe(deliveryID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[deliveryID]
	if !ok {
		set = make(map[Subscriber]struct{})
		h.subs[deliveryID] = set
	}
	set[sub] = struct{}{}
}

// Unsubscribe removes a connection; safe to call twice.
func (h *Hub) Unsubscribe(deliveryID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(deliveryID, sub)
}

func (h *Hub) removeLocked(deliveryID string, sub Subscriber) {
	if set, ok := h.subs[deliveryID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, deliveryID)
		}
	}
}

// SubscriberCount returns the number of live connections for a delivery.
func (h *Hub) SubscriberCount(deliveryID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[deliveryID])
}

// Broadcast sends the state to every registered connection for the
// delivery. Send failures are isolated per connection: the dead
// connection is closed and evicted, the rest still receive the update,
// and the caller never sees an error. After a terminal state every
// remaining subscriber is closed and dropped; the stream is over.
func (h *Hub) Broadcast(ctx context.Context, state *delivery.DeliveryState) {
	h.mu.Lock()
	set := h.subs[state.DeliveryID]
	targets := make([]Subscriber, 0, len(set))
	for sub := range set {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	var dead []Subscriber
	for _, sub := range targets {
		if err := sub.WriteJSON(stateMessage(state)); err != nil {
			dead = append(dead, sub)
		}
	}

	if len(dead) > 0 {
		h.mu.Lock()
		for _, sub := range dead {
			h.removeLocked(state.DeliveryID, sub)
		}
		h.mu.Unlock()
		for _, sub := range dead {
			_ = sub.Close()
		}
		h.logger.Info(ctx, "subscribers_evicted", "Evicted dead tracking subscribers", map[string]any{
			"delivery_id": state.DeliveryID,
			"evicted":     len(dead),
		})
	}

	if state.Status.Terminal() {
		h.closeAll(state.DeliveryID)
	}
}

// closeAll drops every subscriber for a delivery, closing their
// connections.
func (h *Hub) closeAll(deliveryID string) {
	h.mu.Lock()
	set := h.subs[deliveryID]
	delete(h.subs, deliveryID)
	h.mu.Unlock()

	for sub := range set {
		_ = sub.Close()
	}
}

// stateMessage is the JSON wire shape pushed to observers.
func stateMessage(state *delivery.DeliveryState) map[string]any {
	return map[string]any{
		"delivery_id": state.DeliveryID,
		"lat":         state.Latitude,
		"lng":         state.Longitude,
		"progress":    state.Progress,
		"status":      state.Status.String(),
		"timestamp":   state.Timestamp,
	}
}
