package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/RubachokBoss/proctored-assessment/pkg/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// RabbitMQMessage - доставка с ручным подтверждением. Ack/Nack должны быть
// вызваны ровно один раз.
type RabbitMQMessage struct {
	Body        []byte
	MessageID   string
	RoutingKey  string
	Redelivered bool
	Timestamp   time.Time
	Ack         func(multiple bool) error
	Nack        func(multiple bool, requeue bool) error
}

type RabbitMQConsumer interface {
	Consume(ctx context.Context) (<-chan RabbitMQMessage, error)
	GetQueueLength() (int, error)
	Close() error
}

type rabbitMQConsumer struct {
	conn        *amqp.Connection
	channel     *amqp.Channel
	binding     rabbitmq.Binding
	consumerTag string
	prefetch    int
	logger      zerolog.Logger
}

// NewRabbitMQConsumer opens its own channel on conn and declares the bound
// queue. Close releases both the channel and conn.
func NewRabbitMQConsumer(conn *amqp.Connection, binding rabbitmq.Binding, consumerTag string, prefetch int, logger zerolog.Logger) (RabbitMQConsumer, error) {
	if binding.Queue == "" {
		return nil, fmt.Errorf("consumer binding requires a queue")
	}

	channel, err := rabbitmq.NewChannel(conn)
	if err != nil {
		return nil, err
	}
	if err := rabbitmq.Declare(channel, binding); err != nil {
		_ = channel.Close()
		return nil, err
	}
	if prefetch < 1 {
		prefetch = 1
	}

	return &rabbitMQConsumer{
		conn:        conn,
		channel:     channel,
		binding:     binding,
		consumerTag: consumerTag,
		prefetch:    prefetch,
		logger:      logger.With().Str("queue", binding.Queue).Logger(),
	}, nil
}

func (c *rabbitMQConsumer) Consume(ctx context.Context) (<-chan RabbitMQMessage, error) {
	if err := c.channel.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := c.channel.Consume(c.binding.Queue, c.consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	out := make(chan RabbitMQMessage)
	go c.forward(ctx, deliveries, out)

	c.logger.Info().
		Str("routing_key", c.binding.RoutingKey).
		Str("consumer_tag", c.consumerTag).
		Int("prefetch", c.prefetch).
		Msg("Integrity consumer started")

	return out, nil
}

// forward hands deliveries to out until ctx ends or the broker closes the
// channel. A delivery that cannot be handed over is returned to the queue.
func (c *rabbitMQConsumer) forward(ctx context.Context, deliveries <-chan amqp.Delivery, out chan<- RabbitMQMessage) {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				c.logger.Warn().Msg("Broker closed the delivery channel")
				return
			}

			msg := RabbitMQMessage{
				Body:        d.Body,
				MessageID:   d.MessageId,
				RoutingKey:  d.RoutingKey,
				Redelivered: d.Redelivered,
				Timestamp:   d.Timestamp,
				Ack:         d.Ack,
				Nack:        d.Nack,
			}

			select {
			case out <- msg:
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return
			}
		}
	}
}

func (c *rabbitMQConsumer) GetQueueLength() (int, error) {
	q, err := c.channel.QueueDeclarePassive(c.binding.Queue, true, false, false, false, nil)
	if err != nil {
		return 0, err
	}
	return q.Messages, nil
}

func (c *rabbitMQConsumer) Close() error {
	if err := c.channel.Cancel(c.consumerTag, false); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to cancel consumer")
	}
	if err := c.channel.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to close channel")
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("failed to close rabbitmq connection: %w", err)
	}
	return nil
}
