package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"drone-delivery/internal/domain/delivery"
	"drone-delivery/internal/general/logger"
)

type fakeSubscriber struct {
	mu     sync.Mutex
	writes []any
	failed bool
	closed bool
}

func (f *fakeSubscriber) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed {
		return errors.New("broken pipe")
	}
	f.writes = append(f.writes, v)
	return nil
}

func (f *fakeSubscriber) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSubscriber) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeSubscriber) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestState(status delivery.Status) *delivery.DeliveryState {
	return &delivery.DeliveryState{
		DeliveryID: "DLV-0123456789",
		Latitude:   43.25,
		Longitude:  76.95,
		Progress:   0.5,
		Status:     status,
		Timestamp:  time.Now().UTC(),
	}
}

func TestHubBroadcastEvictsDeadSubscribers(t *testing.T) {
	t.Parallel()

	hub := NewHub(logger.New("tracking-test"))
	live := &fakeSubscriber{}
	dead := &fakeSubscriber{failed: true}

	hub.Subscribe("DLV-0123456789", live)
	hub.Subscribe("DLV-0123456789", dead)

	hub.Broadcast(context.Background(), newTestState(delivery.StatusInFlight))

	if live.writeCount() != 1 {
		t.Fatalf("live subscriber writes = %d, want 1", live.writeCount())
	}
	if !dead.isClosed() {
		t.Fatal("dead subscriber must be closed")
	}
	if live.isClosed() {
		t.Fatal("live subscriber must stay open")
	}
	if n := hub.SubscriberCount("DLV-0123456789"); n != 1 {
		t.Fatalf("subscriber count after eviction = %d, want 1", n)
	}

	// the evicted connection no longer receives broadcasts
	hub.Broadcast(context.Background(), newTestState(delivery.StatusApproaching))
	if live.writeCount() != 2 {
		t.Fatalf("live subscriber writes = %d, want 2", live.writeCount())
	}
}

func TestHubTerminalBroadcastClosesStream(t *testing.T) {
	t.Parallel()

	hub := NewHub(logger.New("tracking-test"))
	a := &fakeSubscriber{}
	b := &fakeSubscriber{}

	hub.Subscribe("DLV-0123456789", a)
	hub.Subscribe("DLV-0123456789", b)

	hub.Broadcast(context.Background(), newTestState(delivery.StatusDelivered))

	if a.writeCount() != 1 || b.writeCount() != 1 {
		t.Fatalf("both subscribers must receive the terminal state, got %d and %d",
			a.writeCount(), b.writeCount())
	}
	if !a.isClosed() || !b.isClosed() {
		t.Fatal("subscribers must be closed after a terminal state")
	}
	if n := hub.SubscriberCount("DLV-0123456789"); n != 0 {
		t.Fatalf("subscriber count after terminal state = %d, want 0", n)
	}
}

func TestHubUnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()

	hub := NewHub(logger.New("tracking-test"))
	sub := &fakeSubscriber{}

	hub.Subscribe("DLV-0123456789", sub)
	hub.Unsubscribe("DLV-0123456789", sub)
	hub.Unsubscribe("DLV-0123456789", sub)

	hub.Broadcast(context.Background(), newTestState(delivery.StatusInFlight))
	if sub.writeCount() != 0 {
		t.Fatal("unsubscribed connection must not receive broadcasts")
	}
}

func TestHubBroadcastIsolatedPerDelivery(t *testing.T) {
	t.Parallel()

	hub := NewHub(logger.New("tracking-test"))
	mine := &fakeSubscriber{}
	other := &fakeSubscriber{}

	hub.Subscribe("DLV-0123456789", mine)
	hub.Subscribe("DLV-9999999999", other)

	hub.Broadcast(context.Background(), newTestState(delivery.StatusInFlight))

	if mine.writeCount() != 1 {
		t.Fatal("subscriber for the delivery must receive the state")
	}
	if other.writeCount() != 0 {
		t.Fatal("subscriber for another delivery must not receive the state")
	}
}
