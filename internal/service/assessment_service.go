package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RubachokBoss/proctored-assessment/internal/models"
	"github.com/RubachokBoss/proctored-assessment/internal/repository"
	"github.com/RubachokBoss/proctored-assessment/internal/service/executor"
	"github.com/RubachokBoss/proctored-assessment/internal/service/integration"
	"github.com/RubachokBoss/proctored-assessment/internal/service/scoring"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	postSubmitTimeout = 5 * time.Second
	maxEventIDLength  = 128
)

type AssessmentService interface {
	StartAssessment(ctx context.Context, candidateID string, req *models.StartAssessmentRequest) (*models.AssessmentAttempt, error)
	SubmitAssessment(ctx context.Context, candidateID string, req *models.SubmitAssessmentRequest) (*models.AssessmentAttempt, error)
	ExecuteCode(ctx context.Context, req *models.ExecuteCodeRequest) (*models.ExecuteCodeResponse, error)
	// LogIntegrity appends one event to the attempt's log. An empty candidateID
	// skips the ownership check; the queue ingest path uses that.
	LogIntegrity(ctx context.Context, candidateID string, req *models.LogIntegrityRequest) (*models.LogIntegrityResponse, error)
	GetAttempt(ctx context.Context, viewer models.Identity, id string) (*models.AssessmentAttempt, error)
}

type Option func(*assessmentService)

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *assessmentService) {
		s.now = now
	}
}

type assessmentService struct {
	attemptRepo     repository.AttemptRepository
	applicationRepo repository.ApplicationRepository
	engine          *scoring.Engine
	runner          executor.Runner
	publisher       integration.EventPublisher
	archive         integration.AnswerArchive
	logger          zerolog.Logger
	now             func() time.Time
}

func NewAssessmentService(
	attemptRepo repository.AttemptRepository,
	applicationRepo repository.ApplicationRepository,
	engine *scoring.Engine,
	runner executor.Runner,
	publisher integration.EventPublisher,
	archive integration.AnswerArchive,
	logger zerolog.Logger,
	opts ...Option,
) AssessmentService {
	if publisher == nil {
		publisher = integration.NewNoopPublisher()
	}
	if archive == nil {
		archive = integration.NewNoopArchive()
	}

	s := &assessmentService{
		attemptRepo:     attemptRepo,
		applicationRepo: applicationRepo,
		engine:          engine,
		runner:          runner,
		publisher:       publisher,
		archive:         archive,
		logger:          logger,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *assessmentService) StartAssessment(ctx context.Context, candidateID string, req *models.StartAssessmentRequest) (*models.AssessmentAttempt, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return nil, fmt.Errorf("%w: jobId is required", ErrValidation)
	}

	app, err := s.applicationRepo.GetByJobAndCandidate(ctx, req.JobID, candidateID)
	if err != nil {
		return nil, fmt.Errorf("failed to find application: %w", err)
	}
	if app == nil {
		return nil, ErrNotApplied
	}

	now := s.now().UTC()
	attempt := &models.AssessmentAttempt{
		ID:            uuid.New().String(),
		ApplicationID: app.ID,
		CandidateID:   candidateID,
		JobID:         req.JobID,
		Answers:       json.RawMessage("{}"),
		StartedAt:     now,
		IntegrityLog:  make([]models.ViolationEvent, 0),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	stored, created, err := s.attemptRepo.CreateIfAbsent(ctx, attempt)
	if err != nil {
		return nil, fmt.Errorf("failed to create attempt: %w", err)
	}

	s.logger.Info().
		Str("attempt_id", stored.ID).
		Str("application_id", app.ID).
		Str("candidate_id", candidateID).
		Bool("created", created).
		Msg("Assessment started")

	return stored, nil
}

func (s *assessmentService) SubmitAssessment(ctx context.Context, candidateID string, req *models.SubmitAssessmentRequest) (*models.AssessmentAttempt, error) {
	if strings.TrimSpace(req.AttemptID) == "" {
		return nil, fmt.Errorf("%w: attemptId is required", ErrValidation)
	}

	attempt, err := s.ownedAttempt(ctx, candidateID, req.AttemptID)
	if err != nil {
		return nil, err
	}
	if attempt.IsSubmitted() {
		return nil, ErrAlreadySubmitted
	}

	answers := normalizeAnswers(req.Answers)

	eval, err := s.engine.Evaluate(ctx, answers)
	if err != nil {
		if errors.Is(err, scoring.ErrInvalidAnswers) {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return nil, fmt.Errorf("failed to score attempt: %w", err)
	}

	result := &models.Result{
		Answers:           answers,
		SubmittedAt:       s.now().UTC(),
		TechnicalScore:    eval.Technical,
		PsychometricScore: eval.Psychometric,
		TotalScore:        eval.Total,
		Decision:          eval.Decision.Tier,
		Explanation:       eval.Decision.Explanation,
	}

	// Повторная сдача между проверкой и записью отсекается репозиторием.
	stored, err := s.attemptRepo.Submit(ctx, req.AttemptID, result)
	if err != nil {
		if errors.Is(err, ErrAlreadySubmitted) || errors.Is(err, ErrAttemptNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to save submission: %w", err)
	}

	s.logger.Info().
		Str("attempt_id", stored.ID).
		Int("technical_score", eval.Technical).
		Int("psychometric_score", eval.Psychometric).
		Int("total_score", eval.Total).
		Str("decision", eval.Decision.Tier.String()).
		Int("integrity_events", len(stored.IntegrityLog)).
		Msg("Assessment submitted")

	s.afterSubmit(ctx, stored)

	return stored, nil
}

// afterSubmit publishes the event and archives answers. Failures are logged only:
// the submission is already committed.
func (s *assessmentService) afterSubmit(ctx context.Context, attempt *models.AssessmentAttempt) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postSubmitTimeout)
	defer cancel()

	event := &models.AssessmentSubmittedEvent{
		AttemptID:     attempt.ID,
		ApplicationID: attempt.ApplicationID,
		CandidateID:   attempt.CandidateID,
		Timestamp:     s.now().Unix(),
	}
	if attempt.TechnicalScore != nil {
		event.TechnicalScore = *attempt.TechnicalScore
	}
	if attempt.PsychometricScore != nil {
		event.PsychometricScore = *attempt.PsychometricScore
	}
	if attempt.TotalScore != nil {
		event.TotalScore = *attempt.TotalScore
	}
	if attempt.Decision != nil {
		event.Decision = attempt.Decision.String()
	}

	if err := s.publisher.PublishAssessmentSubmitted(ctx, event); err != nil {
		s.logger.Error().Err(err).Str("attempt_id", attempt.ID).Msg("Failed to publish assessment submitted event")
	}

	if err := s.archive.StoreAnswers(ctx, attempt.ID, attempt.Answers); err != nil {
		s.logger.Error().Err(err).Str("attempt_id", attempt.ID).Msg("Failed to archive answers")
	}
}

func (s *assessmentService) ExecuteCode(ctx context.Context, req *models.ExecuteCodeRequest) (*models.ExecuteCodeResponse, error) {
	res, err := s.runner.Run(ctx, req.Code, req.Language)
	if err != nil {
		return nil, fmt.Errorf("execution failed: %w", err)
	}

	s.logger.Debug().
		Str("language", req.Language).
		Bool("success", res.Success).
		Int("passed", res.Passed).
		Int("total", res.Total).
		Msg("Code executed")

	return &models.ExecuteCodeResponse{
		Output:  res.Output,
		Success: res.Success,
	}, nil
}

func (s *assessmentService) LogIntegrity(ctx context.Context, candidateID string, req *models.LogIntegrityRequest) (*models.LogIntegrityResponse, error) {
	if strings.TrimSpace(req.AttemptID) == "" {
		return nil, fmt.Errorf("%w: attemptId is required", ErrValidation)
	}
	if !models.IsValidViolationKind(req.EventType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEventType, req.EventType)
	}
	if len(req.EventID) > maxEventIDLength {
		return nil, fmt.Errorf("%w: eventId is longer than %d characters", ErrValidation, maxEventIDLength)
	}

	if candidateID != "" {
		if _, err := s.ownedAttempt(ctx, candidateID, req.AttemptID); err != nil {
			return nil, err
		}
	}

	event, err := s.attemptRepo.AppendIntegrityEvent(ctx, req.AttemptID, req.EventID, models.ViolationKind(req.EventType), req.Details, s.now())
	if err != nil {
		if errors.Is(err, ErrAttemptNotFound) || errors.Is(err, ErrAlreadySubmitted) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to log integrity event: %w", err)
	}

	s.logger.Warn().
		Str("attempt_id", req.AttemptID).
		Str("event_type", req.EventType).
		Int("sequence", event.Sequence).
		Msg("Integrity violation recorded")

	return &models.LogIntegrityResponse{Success: true}, nil
}

func (s *assessmentService) GetAttempt(ctx context.Context, viewer models.Identity, id string) (*models.AssessmentAttempt, error) {
	attempt, err := s.attemptRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	if attempt == nil {
		return nil, ErrAttemptNotFound
	}
	if !viewer.IsRecruiter() && attempt.CandidateID != viewer.UserID {
		return nil, ErrNotAttemptOwner
	}
	return attempt, nil
}

func (s *assessmentService) ownedAttempt(ctx context.Context, candidateID, id string) (*models.AssessmentAttempt, error) {
	attempt, err := s.attemptRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	if attempt == nil {
		return nil, ErrAttemptNotFound
	}
	if attempt.CandidateID != candidateID {
		return nil, ErrNotAttemptOwner
	}
	return attempt, nil
}

func normalizeAnswers(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}")
	}
	return append(json.RawMessage(nil), trimmed...)
}
