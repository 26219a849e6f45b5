package proctor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/RubachokBoss/proctored-assessment/internal/models"
	"github.com/rs/zerolog"
)

var (
	ErrNotOpen        = errors.New("session is not open")
	ErrNotOnReview    = errors.New("submit is only allowed on the review step")
	ErrSubmitInFlight = errors.New("submit already in progress")
)

// API is the part of Client the runner depends on.
type API interface {
	Start(ctx context.Context, jobID string) (*models.AssessmentAttempt, error)
	Submit(ctx context.Context, attemptID string, answers json.RawMessage) (*models.AssessmentAttempt, error)
	Execute(ctx context.Context, code, language string) (*models.ExecuteCodeResponse, error)
}

// Runner drives one candidate session: it owns the SessionState, feeds monitor
// output into it and tears the monitor down on every exit path.
type Runner struct {
	api     API
	monitor MonitorConfig
	logger  zerolog.Logger

	mu         sync.Mutex
	jobID      string
	state      SessionState
	open       bool
	submitting bool
	mon        *Monitor
	onChange   func(SessionState)
}

// NewRunner takes a monitor template; AttemptID and Observer are filled in on Open.
func NewRunner(api API, monitor MonitorConfig, logger zerolog.Logger) *Runner {
	return &Runner{
		api:     api,
		monitor: monitor,
		logger:  logger,
		state:   NewSession(nil),
	}
}

// OnChange registers a callback invoked with every new state. It runs
// outside the runner's lock.
func (r *Runner) OnChange(fn func(SessionState)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Open starts (or resumes) the attempt for jobID. A submitted attempt opens in
// the terminal phase and no monitoring is started.
func (r *Runner) Open(ctx context.Context, jobID string) (SessionState, error) {
	attempt, err := r.api.Start(ctx, jobID)
	if err != nil {
		return SessionState{}, fmt.Errorf("failed to start assessment: %w", err)
	}

	state := NewSession(attempt)

	r.mu.Lock()
	r.jobID = jobID
	r.state = state
	r.open = true
	r.mu.Unlock()

	if state.Submitted() {
		r.logger.Info().Str("attempt_id", attempt.ID).Msg("Attempt already submitted")
		r.notify(state)
		return state, nil
	}

	cfg := r.monitor
	cfg.AttemptID = attempt.ID
	cfg.Observer = runnerObserver{r}
	cfg.Logger = r.logger
	mon := NewMonitor(cfg)

	if err := mon.Start(ctx); err != nil {
		mon.Stop()
		return state, fmt.Errorf("failed to start integrity monitor: %w", err)
	}

	r.mu.Lock()
	r.mon = mon
	r.mu.Unlock()

	r.logger.Info().Str("attempt_id", attempt.ID).Msg("Assessment session opened")
	r.notify(state)
	return state, nil
}

func (r *Runner) State() SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) Next() SessionState     { return r.dispatch(Next{}) }
func (r *Runner) Previous() SessionState { return r.dispatch(Previous{}) }

func (r *Runner) SetAnswer(key, value string) SessionState {
	return r.dispatch(SetAnswer{Key: key, Value: value})
}

// RunCode sends the "code" answer to the mock executor.
func (r *Runner) RunCode(ctx context.Context, language string) (*models.ExecuteCodeResponse, error) {
	state := r.State()
	if !r.isOpen() {
		return nil, ErrNotOpen
	}
	return r.api.Execute(ctx, state.Answers["code"], language)
}

// Submit sends the draft and moves to the terminal phase. Repeating it after
// success returns the stored attempt without another request.
func (r *Runner) Submit(ctx context.Context) (*models.AssessmentAttempt, error) {
	r.mu.Lock()
	switch {
	case !r.open:
		r.mu.Unlock()
		return nil, ErrNotOpen
	case r.state.Submitted():
		attempt := r.state.Attempt
		r.mu.Unlock()
		return attempt, nil
	case !r.state.CanSubmit():
		r.mu.Unlock()
		return nil, ErrNotOnReview
	case r.submitting:
		r.mu.Unlock()
		return nil, ErrSubmitInFlight
	}
	r.submitting = true
	jobID := r.jobID
	attemptID := r.state.Attempt.ID
	draft := r.state.Draft()
	r.mu.Unlock()

	attempt, err := r.api.Submit(ctx, attemptID, draft)

	r.mu.Lock()
	r.submitting = false
	r.mu.Unlock()

	if HasStatus(err, http.StatusConflict) {
		r.logger.Warn().Str("attempt_id", attemptID).Msg("Attempt was already submitted elsewhere")
		attempt, err = r.storedSubmission(ctx, jobID, attemptID, err)
	}
	if err != nil {
		return nil, err
	}

	r.dispatch(Submitted{Attempt: attempt})
	r.stopMonitor()

	return attempt, nil
}

// storedSubmission fetches the attempt that won a conflicting submit. Start is
// idempotent and returns the stored attempt with its scores.
func (r *Runner) storedSubmission(ctx context.Context, jobID, attemptID string, conflict error) (*models.AssessmentAttempt, error) {
	attempt, err := r.api.Start(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("%w (reload failed: %v)", conflict, err)
	}
	if attempt.ID != attemptID || !attempt.IsSubmitted() {
		return nil, conflict
	}
	return attempt, nil
}

// Close tears the session down. Safe to call on any path, more than once.
func (r *Runner) Close() {
	r.stopMonitor()

	r.mu.Lock()
	r.open = false
	r.mu.Unlock()
}

// Monitor returns the active monitor, or nil.
func (r *Runner) Monitor() *Monitor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mon
}

func (r *Runner) stopMonitor() {
	r.mu.Lock()
	mon := r.mon
	r.mon = nil
	r.mu.Unlock()

	if mon != nil {
		mon.Stop()
	}
}

func (r *Runner) isOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

func (r *Runner) dispatch(a Action) SessionState {
	r.mu.Lock()
	r.state = Reduce(r.state, a)
	state := r.state
	r.mu.Unlock()

	r.notify(state)
	return state
}

func (r *Runner) notify(state SessionState) {
	r.mu.Lock()
	fn := r.onChange
	r.mu.Unlock()

	if fn != nil {
		fn(state)
	}
}

type runnerObserver struct{ r *Runner }

func (o runnerObserver) OnViolation(v Violation) {
	o.r.dispatch(ViolationObserved{Kind: v.Kind})
}

func (o runnerObserver) OnFaces(count int) {
	o.r.dispatch(FacesObserved{Count: count})
}
