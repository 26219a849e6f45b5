package integration

import (
	"context"
	"fmt"

	"github.com/RubachokBoss/proctored-assessment/internal/models"
	"github.com/RubachokBoss/proctored-assessment/pkg/rabbitmq"
	"github.com/rs/zerolog"
)

// EventPublisher сообщает внешним сервисам о завершённых попытках.
type EventPublisher interface {
	PublishAssessmentSubmitted(ctx context.Context, event *models.AssessmentSubmittedEvent) error
	Close() error
}

type rabbitMQClient struct {
	publisher  *rabbitmq.Publisher
	routingKey string
	logger     zerolog.Logger
}

func NewRabbitMQClient(url, exchange, routingKey string, logger zerolog.Logger) (EventPublisher, error) {
	publisher, err := rabbitmq.NewPublisher(url, exchange, logger)
	if err != nil {
		return nil, err
	}

	return &rabbitMQClient{
		publisher:  publisher,
		routingKey: routingKey,
		logger:     logger,
	}, nil
}

func (c *rabbitMQClient) PublishAssessmentSubmitted(ctx context.Context, event *models.AssessmentSubmittedEvent) error {
	if err := c.publisher.PublishJSON(ctx, c.routingKey, event); err != nil {
		return fmt.Errorf("failed to publish assessment submitted event: %w", err)
	}

	c.logger.Info().
		Str("attempt_id", event.AttemptID).
		Str("decision", event.Decision).
		Msg("Assessment submitted event published")

	return nil
}

func (c *rabbitMQClient) Close() error {
	return c.publisher.Close()
}

type noopPublisher struct{}

// NewNoopPublisher используется, когда RabbitMQ выключен в конфиге.
func NewNoopPublisher() EventPublisher { return noopPublisher{} }

func (noopPublisher) PublishAssessmentSubmitted(context.Context, *models.AssessmentSubmittedEvent) error {
	return nil
}

func (noopPublisher) Close() error { return nil }
