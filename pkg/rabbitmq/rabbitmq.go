package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

func NewConnection(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

func NewChannel(conn *amqp.Connection) (*amqp.Channel, error) {
	channel, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return channel, nil
}

// Binding описывает очередь, привязанную к direct exchange.
type Binding struct {
	Exchange   string
	Queue      string
	RoutingKey string
}

// Declare creates the exchange and, when Queue is set, a durable queue bound to it.
func Declare(channel *amqp.Channel, b Binding) error {
	err := channel.ExchangeDeclare(
		b.Exchange, // name
		"direct",   // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if b.Queue == "" {
		return nil
	}

	queue, err := channel.QueueDeclare(
		b.Queue, // name
		true,    // durable
		false,   // delete when unused
		false,   // exclusive
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := channel.QueueBind(queue.Name, b.RoutingKey, b.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// Publisher publishes JSON messages to one exchange. amqp channels are not
// safe for concurrent publishing, so calls are serialised.
type Publisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   zerolog.Logger

	mu sync.Mutex
}

// NewPublisher dials url and declares the given bindings on the publisher's channel.
func NewPublisher(url, exchange string, logger zerolog.Logger, bindings ...Binding) (*Publisher, error) {
	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	channel, err := NewChannel(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if len(bindings) == 0 {
		bindings = []Binding{{Exchange: exchange}}
	}
	for _, b := range bindings {
		if err := Declare(channel, b); err != nil {
			channel.Close()
			conn.Close()
			return nil, err
		}
	}

	logger.Info().Str("exchange", exchange).Msg("Connected to RabbitMQ")

	return &Publisher{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		logger:   logger,
	}, nil
}

func (p *Publisher) PublishJSON(ctx context.Context, routingKey string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(
		publishCtx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.logger.Error().Err(err).Msg("Failed to close RabbitMQ channel")
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			p.logger.Error().Err(err).Msg("Failed to close RabbitMQ connection")
		}
	}
	return nil
}
