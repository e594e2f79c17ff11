package tracking

import (
	"context"
	"encoding/json"
	"fmt"

	"drone-delivery/internal/general/contracts"
	"drone-delivery/internal/general/rabbitmq"
	"drone-delivery/internal/ports"
)

// FanoutPublisher signals every broadcaster replica through the fanout
// exchange after a telemetry event is accepted.
type FanoutPublisher struct {
	mq *rabbitmq.MQPublisher
}

func NewFanoutPublisher(mq *rabbitmq.MQPublisher) *FanoutPublisher {
	return &FanoutPublisher{mq: mq}
}

var _ ports.StatePublisher = (*FanoutPublisher)(nil)

func (p *FanoutPublisher) PublishState(ctx context.Context, msg contracts.TelemetryStateMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal state message: %w", err)
	}
	// Fanout exchanges ignore the routing key.
	if err := p.mq.Publish(contracts.ExchangeTelemetryFanout, "", body); err != nil {
		return fmt.Errorf("failed to publish state message: %w", err)
	}
	return nil
}
