package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	publishTimeout     = 5 * time.Second
	lateConfirmTimeout = 2 * time.Second
)

// MQPublisher publishes persistent JSON messages through the shared client.
type MQPublisher struct {
	Client *Client
}

func NewMQPublisher(client *Client) *MQPublisher {
	return &MQPublisher{Client: client}
}

// Publish sends body to the exchange and waits for the broker's confirm.
// A nack or a confirm timeout is surfaced to the caller; the message may
// or may not have been enqueued in the timeout case.
func (publisher *MQPublisher) Publish(exchange, routingKey string, body []byte) error {
	client := publisher.Client

	client.mu.RLock()
	conn := client.conn
	ch := client.sendCh
	client.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return errors.New("rabbitmq: connection is not open")
	}
	if ch == nil || ch.IsClosed() {
		return errors.New("rabbitmq: publish channel is not open")
	}

	// one in-flight publish at a time keeps confirms paired one to one
	// with publishes
	client.sendMu.Lock()
	defer client.sendMu.Unlock()
	confirms := client.confirms

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	err := ch.PublishWithContext(ctx, exchange, routingKey, true /* mandatory */, false, /* immediate */
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
		})
	if err != nil {
		return err
	}

	select {
	case c := <-confirms:
		if !c.Ack {
			return fmt.Errorf("rabbitmq: publish not acknowledged")
		}
		return nil
	case <-ctx.Done():
		// drain the pending confirm so the next publish does not read a
		// confirm belonging to this one
		select {
		case c := <-confirms:
			if !c.Ack {
				return fmt.Errorf("rabbitmq: publish not acknowledged after timeout")
			}
		case <-time.After(lateConfirmTimeout):
		}
		return ctx.Err()
	}
}
