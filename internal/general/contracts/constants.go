package contracts

// Exchanges
const (
	ExchangeTelemetryFanout = "telemetry_fanout"
)

// Queues
const (
	QueueTelemetryTracking = "telemetry_updates_tracking"
)
