package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RubachokBoss/proctored-assessment/internal/models"
	"github.com/RubachokBoss/proctored-assessment/internal/service"
	"github.com/RubachokBoss/proctored-assessment/internal/worker/queue"
	"github.com/rs/zerolog"
)

// IntegrityWorker переносит нарушения из очереди в журнал попытки.
type IntegrityWorker interface {
	Start(ctx context.Context) error
	Stop() error
	GetStats() WorkerStats
}

type WorkerStats struct {
	TotalProcessed int `json:"total_processed"`
	Dropped        int `json:"dropped"`
	Requeued       int `json:"requeued"`
	QueueLength    int `json:"queue_length"`

	Pool PoolStats `json:"pool"`
}

type integrityWorker struct {
	workerPool        *WorkerPool
	queueConsumer     queue.RabbitMQConsumer
	assessmentService service.AssessmentService
	logger            zerolog.Logger

	stats      WorkerStats
	statsMutex sync.Mutex
	done       chan struct{}
}

func NewIntegrityWorker(
	workerPool *WorkerPool,
	queueConsumer queue.RabbitMQConsumer,
	assessmentService service.AssessmentService,
	logger zerolog.Logger,
) IntegrityWorker {
	return &integrityWorker{
		workerPool:        workerPool,
		queueConsumer:     queueConsumer,
		assessmentService: assessmentService,
		logger:            logger,
		done:              make(chan struct{}),
	}
}

func (w *integrityWorker) Start(ctx context.Context) error {
	if err := w.workerPool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	msgs, err := w.queueConsumer.Consume(ctx)
	if err != nil {
		w.workerPool.Stop()
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}

	go w.processMessages(ctx, msgs)

	w.logger.Info().Msg("Integrity ingest worker started")
	return nil
}

// Stop cancels consumption, then drains the tasks already handed to the pool.
func (w *integrityWorker) Stop() error {
	if err := w.queueConsumer.Close(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to close queue consumer")
	}

	select {
	case <-w.done:
	case <-time.After(5 * time.Second):
		w.logger.Warn().Msg("Message loop did not finish in time")
	}

	if err := w.workerPool.Stop(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to stop worker pool")
	}

	stats := w.GetStats()
	w.logger.Info().
		Int("total_processed", stats.TotalProcessed).
		Int("dropped", stats.Dropped).
		Int("requeued", stats.Requeued).
		Msg("Integrity ingest worker stopped")

	return nil
}

func (w *integrityWorker) processMessages(ctx context.Context, msgs <-chan queue.RabbitMQMessage) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}

			accepted := w.workerPool.Submit(func() {
				w.handle(ctx, msg)
			})
			if !accepted {
				w.requeue(msg)
			}
		}
	}
}

func (w *integrityWorker) handle(ctx context.Context, msg queue.RabbitMQMessage) {
	err := w.processMessage(ctx, msg)
	if err == nil {
		if ackErr := msg.Ack(false); ackErr != nil {
			w.logger.Error().Err(ackErr).Msg("Failed to ack message")
		}
		w.bump(func(s *WorkerStats) { s.TotalProcessed++ })
		return
	}

	if isPermanentError(err) {
		w.logger.Warn().Err(err).Msg("Dropping integrity message")
		if ackErr := msg.Ack(false); ackErr != nil {
			w.logger.Error().Err(ackErr).Msg("Failed to ack message")
		}
		w.bump(func(s *WorkerStats) { s.Dropped++ })
		return
	}

	w.logger.Error().
		Err(err).
		Str("message_id", msg.MessageID).
		Bool("redelivered", msg.Redelivered).
		Msg("Failed to process integrity message")
	w.requeue(msg)
}

func (w *integrityWorker) requeue(msg queue.RabbitMQMessage) {
	if err := msg.Nack(false, true); err != nil {
		w.logger.Error().Err(err).Msg("Failed to nack message")
	}
	w.bump(func(s *WorkerStats) { s.Requeued++ })
}

func (w *integrityWorker) processMessage(ctx context.Context, msg queue.RabbitMQMessage) error {
	event, err := queue.DecodeIntegrityViolation(msg.Body)
	if err != nil {
		return permanent(err)
	}

	_, err = w.assessmentService.LogIntegrity(ctx, "", &models.LogIntegrityRequest{
		AttemptID: event.AttemptID,
		EventType: event.EventType,
		Details:   event.Details,
		EventID:   event.EventID,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrAttemptNotFound),
		errors.Is(err, service.ErrAlreadySubmitted),
		errors.Is(err, service.ErrInvalidEventType),
		errors.Is(err, service.ErrValidation):
		return permanent(err)
	default:
		return err
	}
}

func (w *integrityWorker) bump(fn func(*WorkerStats)) {
	w.statsMutex.Lock()
	fn(&w.stats)
	w.statsMutex.Unlock()
}

func (w *integrityWorker) GetStats() WorkerStats {
	w.statsMutex.Lock()
	stats := w.stats
	w.statsMutex.Unlock()

	if n, err := w.queueConsumer.GetQueueLength(); err == nil {
		stats.QueueLength = n
	}
	stats.Pool = w.workerPool.Stats()
	return stats
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return permanentError{err: err}
}

func isPermanentError(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
