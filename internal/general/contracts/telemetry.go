package contracts

import "time"

// Envelope carries producer metadata common to every broker message.
type Envelope struct {
	CorrelationID string    `json:"correlation_id,omitempty"` // Correlation for tracing across services
	Producer      string    `json:"producer,omitempty"`       // Producer service name, e.g. "tracking-service"
	SentAt        time.Time `json:"sent_at,omitempty"`        // ISO-8601 send time (UTC)
}

// TelemetryStateMessage is broadcast by the tracking service after an
// event is accepted into the log and projection.
// Exchange: ExchangeTelemetryFanout (fanout, no routing key).
type TelemetryStateMessage struct {
	EventID    string    `json:"event_id"`
	DeliveryID string    `json:"delivery_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Progress   float64   `json:"progress"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	Envelope
}
