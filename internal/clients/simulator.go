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

	"drone-delivery/internal/ports"
)

// SimulatorClient is the typed HTTP client for the simulator service.
type SimulatorClient struct {
	baseURL string
	http    *http.Client
}

// NewSimulatorClient builds a client for the simulator's start endpoint.
func NewSimulatorClient(baseURL string) *SimulatorClient {
	return &SimulatorClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

var _ ports.SimulatorStarter = (*SimulatorClient)(nil)

type startFlightRequest struct {
	DeliveryID      string  `json:"delivery_id"`
	StartLat        float64 `json:"start_lat"`
	StartLng        float64 `json:"start_lng"`
	EndLat          float64 `json:"end_lat"`
	EndLng          float64 `json:"end_lng"`
	DurationSeconds float64 `json:"duration_sec,omitempty"`
	IntervalSeconds float64 `json:"update_interval_sec,omitempty"`
}

// StartFlight requests the simulator to start a flight for the delivery.
// A non-2xx response is surfaced as an error so the caller can roll back
// its start guard.
func (c *SimulatorClient) StartFlight(ctx context.Context, in ports.StartFlightInput, bearer string) error {
	body, err := json.Marshal(startFlightRequest{
		DeliveryID:      in.DeliveryID,
		StartLat:        in.StartLat,
		StartLng:        in.StartLng,
		EndLat:          in.EndLat,
		EndLng:          in.EndLng,
		DurationSeconds: in.Duration.Seconds(),
		IntervalSeconds: in.Tick.Seconds(),
	})
	if err != nil {
		return fmt.Errorf("marshal start request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/start", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build start request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("simulator unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("simulator start returned %d", resp.StatusCode)
	}

	return nil
}
