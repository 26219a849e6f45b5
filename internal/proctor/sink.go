package proctor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/RubachokBoss/proctored-assessment/internal/models"
	"github.com/RubachokBoss/proctored-assessment/pkg/rabbitmq"
	"github.com/rs/zerolog"
)

// Violation is one emitted integrity event as seen by the candidate side.
type Violation struct {
	// ID is sent with every delivery attempt so the server can drop retries.
	ID         string
	Kind       models.ViolationKind
	Details    string
	DetectedAt time.Time
	// Warnings is the local counter value after this violation.
	Warnings int
}

// Sink delivers violations to the remote integrity log.
type Sink interface {
	Deliver(ctx context.Context, attemptID string, v Violation) error
}

// HTTPSink posts to /log-integrity and retries transport and 5xx failures.
// Retries carry the violation ID, so a delivery whose response was lost is
// not logged twice.
type HTTPSink struct {
	client     *Client
	retryCount int
	retryDelay time.Duration
	logger     zerolog.Logger
}

func NewHTTPSink(client *Client, retryCount int, retryDelay time.Duration, logger zerolog.Logger) *HTTPSink {
	return &HTTPSink{
		client:     client,
		retryCount: retryCount,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

func (s *HTTPSink) Deliver(ctx context.Context, attemptID string, v Violation) error {
	req := &models.LogIntegrityRequest{
		AttemptID: attemptID,
		EventType: v.Kind.String(),
		Details:   v.Details,
		EventID:   v.ID,
	}

	var lastErr error
	for i := 0; i <= s.retryCount; i++ {
		if i > 0 {
			s.logger.Warn().Int("attempt", i).Str("event_type", req.EventType).Msg("Retrying integrity log delivery")
			if err := sleepCtx(ctx, s.retryDelay*time.Duration(i)); err != nil {
				return err
			}
		}

		err := s.client.LogIntegrity(ctx, req)
		if err == nil {
			return nil
		}
		if isClientError(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("failed to deliver integrity event after %d attempts: %w", s.retryCount+1, lastErr)
}

func isClientError(err error) bool {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict} {
		if HasStatus(err, status) {
			return true
		}
	}
	return false
}

// AMQPSink publishes violations for the server's ingest worker.
type AMQPSink struct {
	publisher  *rabbitmq.Publisher
	routingKey string
}

func NewAMQPSink(publisher *rabbitmq.Publisher, routingKey string) *AMQPSink {
	return &AMQPSink{publisher: publisher, routingKey: routingKey}
}

func (s *AMQPSink) Deliver(ctx context.Context, attemptID string, v Violation) error {
	return s.publisher.PublishJSON(ctx, s.routingKey, models.IntegrityViolationMessage{
		AttemptID:  attemptID,
		EventType:  v.Kind.String(),
		Details:    v.Details,
		EventID:    v.ID,
		DetectedAt: v.DetectedAt.UnixMilli(),
	})
}
