package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"drone-delivery/internal/domain/delivery"
	"drone-delivery/internal/general/contracts"
	"drone-delivery/internal/general/logger"
	"drone-delivery/internal/general/rabbitmq"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Broadcaster consumes accepted-state messages from the fanout queue and
// pushes them to every locally connected observer. Running the push path
// through the broker rather than in-process keeps replicas consistent:
// each replica reads the same stream and serves its own connections.
type Broadcaster struct {
	logger   *logger.Logger
	rabbitmq *rabbitmq.Client
	hub      *Hub
}

func NewBroadcaster(logger *logger.Logger, mq *rabbitmq.Client, hub *Hub) *Broadcaster {
	return &Broadcaster{logger: logger, rabbitmq: mq, hub: hub}
}

// RunBackgroundConsumers starts the state fan-out consumer. It returns
// immediately; the consumer stops when ctx is cancelled.
func (b *Broadcaster) RunBackgroundConsumers(ctx context.Context) {
	b.startStateConsumer(ctx)
}

func (b *Broadcaster) startStateConsumer(ctx context.Context) {
	go func() {
		consumeCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		err := b.rabbitmq.Consume(
			consumeCtx,
			contracts.QueueTelemetryTracking,
			"tracking-state-fanout",
			20,
			func(ctx context.Context, d amqp.Delivery) error {
				var msg contracts.TelemetryStateMessage
				if err := json.Unmarshal(d.Body, &msg); err != nil {
					b.logger.Error(ctx, "state_decode_failed",
						"Failed to decode state message", err,
						map[string]any{"size": len(d.Body)})
					return fmt.Errorf("decode: %w", err)
				}

				if msg.DeliveryID == "" {
					return nil
				}

				status, err := delivery.ParseStatus(msg.Status)
				if err != nil {
					// unknown status, ack and ignore to avoid poison loops
					return nil
				}

				b.hub.Broadcast(ctx, &delivery.DeliveryState{
					DeliveryID: msg.DeliveryID,
					Latitude:   msg.Lat,
					Longitude:  msg.Lng,
					Progress:   msg.Progress,
					Status:     status,
					Timestamp:  msg.Timestamp,
				})
				return nil
			},
		)
		if err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Error(ctx, "state_consume_failed",
				"Failed to consume state messages", err,
				map[string]any{"queue": contracts.QueueTelemetryTracking})
		}
	}()
}
