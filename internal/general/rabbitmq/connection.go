package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"drone-delivery/internal/general/config"
	"drone-delivery/internal/general/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dialTimeout    = 30 * time.Second
	heartbeat      = 10 * time.Second
	maxRedialDelay = 30 * time.Second
)

// Client wraps an AMQP connection that survives broker restarts. It owns
// one confirmed publishing channel; consumers open their own channels on
// demand. Losing either the connection or the publishing channel triggers
// a redial, and the telemetry topology is re-declared on every successful
// dial so the fanout path is usable immediately after a broker restart.
type Client struct {
	url    string
	logger *logger.Logger
	logCtx context.Context // survives caller cancellation, used by background goroutines

	mu     sync.RWMutex
	conn   *amqp.Connection
	sendCh *amqp.Channel

	sendMu   sync.Mutex
	confirms chan amqp.Confirmation

	done   chan struct{}
	redial chan struct{}
}

// ConnectRabbitMQ dials the broker once and hands further recovery to a
// background redial loop.
func ConnectRabbitMQ(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Client, error) {
	client := &Client{
		url: fmt.Sprintf("amqp://%s:%s@%s:%d/",
			cfg.RabbitMQ.User, cfg.RabbitMQ.Password, cfg.RabbitMQ.Host, cfg.RabbitMQ.Port),
		logger: log,
		logCtx: context.WithoutCancel(ctx),
		done:   make(chan struct{}),
		redial: make(chan struct{}, 1),
	}

	if err := client.dial(); err != nil {
		return nil, err
	}
	go client.redialLoop()

	return client, nil
}

// Close stops the redial loop and releases the connection. Safe to call
// more than once.
func (client *Client) Close() {
	select {
	case <-client.done:
	default:
		close(client.done)
	}

	client.mu.Lock()
	if client.sendCh != nil {
		_ = client.sendCh.Close()
		client.sendCh = nil
	}
	if client.conn != nil {
		_ = client.conn.Close()
		client.conn = nil
	}
	client.mu.Unlock()

	client.sendMu.Lock()
	if client.confirms != nil {
		close(client.confirms)
		client.confirms = nil
	}
	client.sendMu.Unlock()
}

// dial performs one full connect: connection, publishing channel, topology
// declaration, publisher confirms. On success the new resources replace the
// old ones and a close-watcher is armed.
func (client *Client) dial() error {
	conn, err := amqp.DialConfig(client.url, amqp.Config{
		Heartbeat: heartbeat,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(dialTimeout),
	})
	if err != nil {
		client.logger.Error(client.logCtx, "rabbitmq_dial_failed", "Failed to dial RabbitMQ", err, nil)
		return fmt.Errorf("rabbitmq dial failed: %w", err)
	}
	defer func() {
		if err != nil && conn != nil {
			_ = conn.Close()
		}
	}()

	ch, err := conn.Channel()
	if err != nil {
		client.logger.Error(client.logCtx, "rabbitmq_open_channel_failed", "Failed to open RabbitMQ channel", err, nil)
		return fmt.Errorf("rabbitmq: failed to open channel: %w", err)
	}
	defer func() {
		if err != nil && ch != nil {
			_ = ch.Close()
		}
	}()

	if err = declareTopology(ch); err != nil {
		client.logger.Error(client.logCtx, "rabbitmq_declare_topology_failed", "Failed to declare RabbitMQ topology", err, nil)
		return fmt.Errorf("rabbitmq: failed to declare topology: %w", err)
	}

	if err = ch.Confirm(false); err != nil {
		client.logger.Error(client.logCtx, "rabbitmq_enable_confirms_failed", "Failed to enable publisher confirms", err, nil)
		return fmt.Errorf("rabbitmq: failed to enable confirms: %w", err)
	}

	client.sendMu.Lock()
	stale := client.confirms
	client.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	client.sendMu.Unlock()
	if stale != nil {
		close(stale)
	}

	// mandatory publishes that the broker cannot route come back here
	returns := ch.NotifyReturn(make(chan amqp.Return, 1))
	go func() {
		for r := range returns {
			client.logger.Error(client.logCtx, "rabbitmq_returned", "Message was returned (unroutable)",
				fmt.Errorf("code=%d text=%s", r.ReplyCode, r.ReplyText),
				map[string]any{
					"exchange":   r.Exchange,
					"routingKey": r.RoutingKey,
					"size":       len(r.Body),
				})
		}
		client.logger.Info(client.logCtx, "rabbitmq_return_stream_closed",
			"NotifyReturn channel closed, channel is being replaced", nil)
	}()

	client.mu.Lock()
	if client.sendCh != nil && !client.sendCh.IsClosed() {
		_ = client.sendCh.Close()
	}
	client.conn = conn
	client.sendCh = ch
	client.mu.Unlock()

	go client.watchClose(conn, ch)

	client.logger.Info(client.logCtx, "rabbitmq_connected", "RabbitMQ connection established", nil)
	return nil
}

// watchClose requests a redial when the connection or the publishing
// channel dies.
func (client *Client) watchClose(conn *amqp.Connection, ch *amqp.Channel) {
	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	select {
	case <-client.done:
		return
	case <-connClosed:
	case <-chClosed:
	}

	select {
	case client.redial <- struct{}{}:
	default:
		// a redial is already pending
	}
}

// redialLoop reconnects with exponential backoff until Close.
func (client *Client) redialLoop() {
	delay := time.Second
	for {
		select {
		case <-client.done:
			return
		case <-client.redial:
		}

		for {
			select {
			case <-client.done:
				return
			default:
			}

			if err := client.dial(); err == nil {
				delay = time.Second
				client.logger.Info(client.logCtx, "rabbitmq_reconnected", "Reconnected to RabbitMQ", nil)
				break
			} else {
				client.logger.Error(client.logCtx, "retry_attempted", "Failed to reconnect to RabbitMQ", err, nil)
			}

			time.Sleep(delay)
			if delay < maxRedialDelay {
				delay *= 2
				if delay > maxRedialDelay {
					delay = maxRedialDelay
				}
			}
		}
	}
}
