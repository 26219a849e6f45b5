package proctor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RubachokBoss/proctored-assessment/internal/models"
	"github.com/RubachokBoss/proctored-assessment/internal/worker"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrMonitorStarted = errors.New("monitor already started")

// Observer receives monitor output. Calls arrive serialised and in emission
// order; implementations must not call back into the Monitor.
type Observer interface {
	OnViolation(v Violation)
	OnFaces(count int)
}

type nopObserver struct{}

func (nopObserver) OnViolation(Violation) {}
func (nopObserver) OnFaces(int) {}

type MonitorConfig struct {
	AttemptID       string
	SampleInterval  time.Duration
	FaceThrottle    time.Duration
	QueueSize       int
	DeliveryTimeout time.Duration

	Camera     Camera
	Classifier Loader
	Sink       Sink
	Visibility *VisibilityAdapter
	Focus      *FocusAdapter

	NewTicker TickerFactory
	Now       func() time.Time
	Observer  Observer
	Logger    zerolog.Logger
}

// Monitor turns visibility, focus and camera signals into violations. It never
// returns detection or delivery failures to its caller; they are logged.
type Monitor struct {
	cfg      MonitorConfig
	throttle *Throttle
	sampler  *Sampler
	delivery *worker.WorkerPool
	logger   zerolog.Logger

	mu          sync.Mutex
	started     bool
	stopped     bool
	warnings    int
	stream      FrameStream
	classifier  FrameClassifier
	unsubscribe []func()

	stopOnce sync.Once
}

func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 3 * time.Second
	}
	if cfg.FaceThrottle <= 0 {
		cfg.FaceThrottle = 10 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}

	logger := cfg.Logger.With().Str("attempt_id", cfg.AttemptID).Logger()

	return &Monitor{
		cfg:      cfg,
		throttle: NewThrottle(cfg.FaceThrottle),
		sampler:  NewSampler(cfg.SampleInterval, cfg.NewTicker),
		// Один воркер: события уходят на сервер в порядке обнаружения.
		delivery: worker.NewWorkerPool(1, cfg.QueueSize, logger),
		logger:   logger,
	}
}

// Start subscribes to the signal adapters and tries to bring up face detection.
// Camera or classifier failures leave the monitor running without sampling.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started || m.stopped {
		m.mu.Unlock()
		return ErrMonitorStarted
	}
	m.started = true

	if err := m.delivery.Start(ctx); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to start delivery: %w", err)
	}

	if m.cfg.Visibility != nil {
		m.unsubscribe = append(m.unsubscribe, m.cfg.Visibility.OnHidden(func(time.Time) {
			m.Report(models.ViolationTabSwitch, "Candidate switched tabs")
		}))
	}
	if m.cfg.Focus != nil {
		m.unsubscribe = append(m.unsubscribe, m.cfg.Focus.OnBlur(func(time.Time) {
			m.Report(models.ViolationWindowBlur, "Candidate left the window")
		}))
	}
	m.mu.Unlock()

	m.startDetection(ctx)
	return nil
}

func (m *Monitor) startDetection(ctx context.Context) {
	if m.cfg.Camera == nil || m.cfg.Classifier == nil {
		m.logger.Info().Msg("Face detection disabled")
		return
	}

	stream, err := m.cfg.Camera.Open(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Camera unavailable, continuing without face detection")
		return
	}

	classifier, err := m.cfg.Classifier.Load(ctx)
	if err != nil {
		m.closeStream(stream)
		m.logger.Warn().Err(err).Msg("Face model load failed, continuing without face detection")
		return
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		m.closeStream(stream)
		return
	}
	m.stream = stream
	m.classifier = classifier
	m.sampler.Start(ctx, m.sample)
	m.mu.Unlock()

	m.logger.Info().Dur("interval", m.cfg.SampleInterval).Msg("Face detection started")
}

// sample runs one detection tick. The throttle is keyed on the tick time.
func (m *Monitor) sample(ctx context.Context, at time.Time) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn().Interface("panic", r).Msg("Face detection tick panicked")
		}
	}()

	m.mu.Lock()
	stream, classifier := m.stream, m.classifier
	m.mu.Unlock()
	if stream == nil || classifier == nil {
		return
	}

	frame, err := stream.Frame(ctx)
	if err != nil {
		m.logger.Debug().Err(err).Msg("Frame not ready")
		return
	}

	count, err := classifier.CountFaces(ctx, frame)
	if err != nil {
		m.logger.Debug().Err(err).Msg("Face detection failed")
		return
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.cfg.Observer.OnFaces(count)
	m.mu.Unlock()

	if count > 1 && m.throttle.Allow(models.ViolationMultipleFaces, at) {
		m.Report(models.ViolationMultipleFaces, fmt.Sprintf("Detected %d faces on camera", count))
	}
}

// Report records a violation and queues it for delivery. It never blocks on
// the sink: a full queue drops the delivery, the local counter still moves.
func (m *Monitor) Report(kind models.ViolationKind, details string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}

	m.warnings++
	v := Violation{
		ID:         uuid.NewString(),
		Kind:       kind,
		Details:    details,
		DetectedAt: m.cfg.Now(),
		Warnings:   m.warnings,
	}

	m.logger.Warn().
		Str("event_type", kind.String()).
		Int("warnings", v.Warnings).
		Msg("Integrity violation")

	m.cfg.Observer.OnViolation(v)

	if m.cfg.Sink == nil {
		return
	}
	if !m.delivery.TrySubmit(func() { m.deliver(v) }) {
		m.logger.Warn().Str("event_type", kind.String()).Msg("Delivery queue full, integrity event dropped")
	}
}

func (m *Monitor) deliver(v Violation) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DeliveryTimeout)
	defer cancel()

	if err := m.cfg.Sink.Deliver(ctx, m.cfg.AttemptID, v); err != nil {
		m.logger.Warn().Err(err).Str("event_type", v.Kind.String()).Msg("Failed to deliver integrity event")
	}
}

func (m *Monitor) Warnings() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.warnings
}

// Detecting reports whether face sampling is running.
func (m *Monitor) Detecting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream != nil && !m.stopped
}

// Stop removes listeners, stops sampling, releases the camera and waits for
// queued deliveries. Calling it more than once is safe.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopped = true
		unsubscribe := m.unsubscribe
		m.unsubscribe = nil
		stream := m.stream
		started := m.started
		m.mu.Unlock()

		for _, fn := range unsubscribe {
			fn()
		}
		m.sampler.Stop()
		if stream != nil {
			m.closeStream(stream)
		}
		if started {
			if pending := m.delivery.Stats().Pending; pending > 0 {
				m.logger.Debug().Int("pending", pending).Msg("Draining integrity deliveries")
			}
			m.delivery.Stop()
		}

		m.logger.Info().Int("warnings", m.Warnings()).Msg("Integrity monitor stopped")
	})
}

func (m *Monitor) closeStream(stream FrameStream) {
	if err := stream.Close(); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to release camera")
	}
}
