package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"drone-delivery/internal/general/contracts"
	"drone-delivery/internal/ports"
)

// TrackingClient is the typed HTTP client for the tracking service's
// telemetry ingestion endpoint.
type TrackingClient struct {
	baseURL string
	http    *http.Client
}

// NewTrackingClient builds a client for the tracking ingestion endpoint.
func NewTrackingClient(baseURL string) *TrackingClient {
	return &TrackingClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

var _ ports.TelemetrySink = (*TrackingClient)(nil)

type telemetryRequest struct {
	EventID    string  `json:"event_id"`
	DeliveryID string  `json:"delivery_id"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	Progress   float64 `json:"progress"`
	Status     string  `json:"status"`
	Timestamp  string  `json:"timestamp"`
}

// PushTelemetry delivers one telemetry record. Delivery is best effort:
// the generator logs failures and keeps ticking, so errors here carry no
// retry obligation.
func (c *TrackingClient) PushTelemetry(ctx context.Context, msg contracts.TelemetryStateMessage, bearer string) error {
	body, err := json.Marshal(telemetryRequest{
		EventID:    msg.EventID,
		DeliveryID: msg.DeliveryID,
		Lat:        msg.Lat,
		Lng:        msg.Lng,
		Progress:   msg.Progress,
		Status:     msg.Status,
		Timestamp:  msg.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/telemetry", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build telemetry request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("tracking unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("telemetry push returned %d", resp.StatusCode)
	}

	return nil
}
