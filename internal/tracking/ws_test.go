package tracking

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"drone-delivery/internal/domain/delivery"
	"drone-delivery/internal/domain/identity"
	"drone-delivery/internal/general/auth"
	"drone-delivery/internal/general/logger"
	"drone-delivery/internal/ports"

	"github.com/gorilla/websocket"
)

// gatedTrackingService serves a fixed state but holds every Latest call
// until released, emulating a slow projection read.
type gatedTrackingService struct {
	entered chan struct{}
	release chan struct{}
	state   *delivery.DeliveryState
}

func (s *gatedTrackingService) Ingest(context.Context, *delivery.TelemetryEvent) (ports.IngestOutcome, error) {
	return ports.IngestAccepted, nil
}

func (s *gatedTrackingService) Latest(context.Context, string) (*delivery.DeliveryState, error) {
	s.entered <- struct{}{}
	<-s.release
	return s.state, nil
}

func (s *gatedTrackingService) History(context.Context, string, time.Time, int) ([]*delivery.TelemetryEvent, error) {
	return nil, nil
}

func wsTestAuthority(t *testing.T) *auth.Authority {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	authority, err := auth.NewAuthority(key, nil, "droneapp", "droneapp-clients")
	if err != nil {
		t.Fatalf("new authority: %v", err)
	}
	return authority
}

func TestObserverReceivesBroadcastDuringSnapshotLoad(t *testing.T) {
	const deliveryID = "DLV-0123456789"

	snapshot := newTestState(delivery.StatusInFlight)
	svc := &gatedTrackingService{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
		state:   snapshot,
	}

	log := logger.New("tracking-test")
	authority := wsTestAuthority(t)
	hub := NewHub(log)
	handler := NewHTTPHandler(svc, log, authority, hub)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	token, _, err := authority.IssueAccess(deliveryID, identity.RoleCustomer,
		[]identity.Scope{identity.ScopeTrackingRead}, time.Minute)
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/ws/track/" + deliveryID + "?token=" + url.QueryEscape(token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// wait until the handler is inside the snapshot read, then broadcast;
	// the connection must already be registered and receive the update
	select {
	case <-svc.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never reached the snapshot read")
	}

	update := newTestState(delivery.StatusApproaching)
	update.Progress = 0.9
	hub.Broadcast(context.Background(), update)
	close(svc.release)

	var gotBroadcast, gotSnapshot bool
	for i := 0; i < 2; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var frame struct {
			Progress float64 `json:"progress"`
			Status   string  `json:"status"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read frame %d: %v", i, err)
		}
		switch frame.Status {
		case delivery.StatusApproaching.String():
			gotBroadcast = true
		case delivery.StatusInFlight.String():
			gotSnapshot = true
		default:
			t.Fatalf("unexpected frame status %q", frame.Status)
		}
	}
	if !gotBroadcast {
		t.Fatal("broadcast sent during the snapshot read never reached the observer")
	}
	if !gotSnapshot {
		t.Fatal("initial snapshot never reached the observer")
	}
}
