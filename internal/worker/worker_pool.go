package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type Task func()

// WorkerPool runs tasks on a fixed set of goroutines. With one worker tasks run
// strictly in submission order.
type WorkerPool struct {
	tasks         chan Task
	wg            sync.WaitGroup
	busyWorkers   atomic.Int64
	maxWorkers    int
	submitTimeout time.Duration
	logger        zerolog.Logger

	// mu guards stopped and closing tasks.
	mu       sync.RWMutex
	stopOnce sync.Once
	stopped  bool
}

// NewWorkerPool creates a pool with a queue of queueSize tasks. queueSize <= 0
// falls back to maxWorkers*10.
func NewWorkerPool(maxWorkers, queueSize int, logger zerolog.Logger) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = maxWorkers * 10
	}
	return &WorkerPool{
		tasks:         make(chan Task, queueSize),
		maxWorkers:    maxWorkers,
		submitTimeout: time.Second,
		logger:        logger,
	}
}

func (wp *WorkerPool) Start(ctx context.Context) error {
	for i := 0; i < wp.maxWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}

	wp.logger.Debug().Int("workers", wp.maxWorkers).Int("queue_capacity", cap(wp.tasks)).Msg("Worker pool started")
	return nil
}

// Stop closes the queue and waits for queued tasks to finish. Safe to call twice.
func (wp *WorkerPool) Stop() error {
	wp.stopOnce.Do(func() {
		wp.mu.Lock()
		wp.stopped = true
		close(wp.tasks)
		wp.mu.Unlock()

		wp.wg.Wait()
		wp.logger.Debug().Msg("Worker pool stopped")
	})
	return nil
}

// Submit waits up to a second for queue space and reports whether the task was accepted.
func (wp *WorkerPool) Submit(task Task) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return false
	}

	select {
	case wp.tasks <- task:
		return true
	default:
	}

	wp.logger.Warn().Msg("Worker pool task queue is full")
	timer := time.NewTimer(wp.submitTimeout)
	defer timer.Stop()

	select {
	case wp.tasks <- task:
		return true
	case <-timer.C:
		wp.logger.Error().Msg("Failed to submit task to worker pool (timeout)")
		return false
	}
}

// TrySubmit never blocks: a full or stopped pool drops the task.
func (wp *WorkerPool) TrySubmit(task Task) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return false
	}

	select {
	case wp.tasks <- task:
		return true
	default:
		return false
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for task := range wp.tasks {
		wp.busyWorkers.Add(1)
		func() {
			defer func() {
				if r := recover(); r != nil {
					wp.logger.Error().
						Int("worker_id", id).
						Interface("panic", r).
						Msg("Worker recovered from panic")
				}
				wp.busyWorkers.Add(-1)
			}()

			task()
		}()
	}
}

type PoolStats struct {
	BusyWorkers int `json:"busy_workers"`
	MaxWorkers  int `json:"max_workers"`
	Pending     int `json:"pending"`
	Capacity    int `json:"capacity"`
}

func (wp *WorkerPool) Stats() PoolStats {
	return PoolStats{
		BusyWorkers: int(wp.busyWorkers.Load()),
		MaxWorkers:  wp.maxWorkers,
		Pending:     len(wp.tasks),
		Capacity:    cap(wp.tasks),
	}
}
