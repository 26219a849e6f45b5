package repository

import (
	"context"
	"sync"
	"time"

	"github.com/RubachokBoss/proctored-assessment/internal/models"
)

// MemoryStore keeps applications and attempts in process memory. It backs
// database.driver=memory and the service tests. One mutex guards everything,
// which gives the same serialisation as the attempt row lock in Postgres.
type MemoryStore struct {
	mu           sync.Mutex
	applications map[string]models.Application
	attempts     map[string]*models.AssessmentAttempt
	byApp        map[string]string
	now          func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		applications: make(map[string]models.Application),
		attempts:     make(map[string]*models.AssessmentAttempt),
		byApp:        make(map[string]string),
		now:          time.Now,
	}
}

// AddApplication registers an application, normally created by the jobs service.
func (s *MemoryStore) AddApplication(app models.Application) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if app.Status == "" {
		app.Status = "APPLIED"
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = s.now().UTC()
	}
	s.applications[app.ID] = app
}

func (s *MemoryStore) GetByJobAndCandidate(_ context.Context, jobID, candidateID string) (*models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *models.Application
	for _, app := range s.applications {
		if app.JobID != jobID || app.CandidateID != candidateID {
			continue
		}
		if found == nil || app.CreatedAt.Before(found.CreatedAt) {
			a := app
			found = &a
		}
	}
	return found, nil
}

func (s *MemoryStore) CreateIfAbsent(_ context.Context, attempt *models.AssessmentAttempt) (*models.AssessmentAttempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byApp[attempt.ApplicationID]; ok {
		return copyAttempt(s.attempts[id]), false, nil
	}

	stored := copyAttempt(attempt)
	if app, ok := s.applications[attempt.ApplicationID]; ok {
		stored.CandidateID = app.CandidateID
		stored.JobID = app.JobID
	}
	if len(stored.Answers) == 0 {
		stored.Answers = []byte("{}")
	}
	if stored.IntegrityLog == nil {
		stored.IntegrityLog = make([]models.ViolationEvent, 0)
	}

	s.attempts[stored.ID] = stored
	s.byApp[stored.ApplicationID] = stored.ID

	return copyAttempt(stored), true, nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*models.AssessmentAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt, ok := s.attempts[id]
	if !ok {
		return nil, nil
	}
	return copyAttempt(attempt), nil
}

func (s *MemoryStore) Submit(_ context.Context, id string, result *models.Result) (*models.AssessmentAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt, ok := s.attempts[id]
	if !ok {
		return nil, models.ErrAttemptNotFound
	}
	if attempt.IsSubmitted() {
		return nil, models.ErrAlreadySubmitted
	}

	res := *result
	res.Answers = append([]byte(nil), result.Answers...)
	if len(res.Answers) == 0 {
		res.Answers = []byte("{}")
	}
	if res.SubmittedAt.Before(attempt.StartedAt) {
		res.SubmittedAt = attempt.StartedAt
	}
	attempt.Apply(&res)

	return copyAttempt(attempt), nil
}

func (s *MemoryStore) AppendIntegrityEvent(_ context.Context, attemptID, eventID string, kind models.ViolationKind, details string, at time.Time) (*models.ViolationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt, ok := s.attempts[attemptID]
	if !ok {
		return nil, models.ErrAttemptNotFound
	}
	if attempt.IsSubmitted() {
		return nil, models.ErrAlreadySubmitted
	}
	if eventID != "" {
		for _, ev := range attempt.IntegrityLog {
			if ev.EventID == eventID {
				return &ev, nil
			}
		}
	}

	detectedAt := at.UTC()
	if n := len(attempt.IntegrityLog); n > 0 {
		if last := attempt.IntegrityLog[n-1].Timestamp; detectedAt.Before(last) {
			detectedAt = last
		}
	}

	event := models.ViolationEvent{
		Sequence:  len(attempt.IntegrityLog) + 1,
		EventID:   eventID,
		EventType: kind,
		Details:   details,
		Timestamp: detectedAt,
	}
	attempt.IntegrityLog = append(attempt.IntegrityLog, event)
	attempt.UpdatedAt = s.now().UTC()

	return &event, nil
}

func copyAttempt(a *models.AssessmentAttempt) *models.AssessmentAttempt {
	if a == nil {
		return nil
	}
	c := *a
	c.Answers = append([]byte(nil), a.Answers...)
	c.IntegrityLog = append(make([]models.ViolationEvent, 0, len(a.IntegrityLog)), a.IntegrityLog...)
	if a.SubmittedAt != nil {
		t := *a.SubmittedAt
		c.SubmittedAt = &t
	}
	c.TechnicalScore = copyInt(a.TechnicalScore)
	c.PsychometricScore = copyInt(a.PsychometricScore)
	c.TotalScore = copyInt(a.TotalScore)
	if a.Decision != nil {
		d := *a.Decision
		c.Decision = &d
	}
	if a.Explanation != nil {
		e := *a.Explanation
		c.Explanation = &e
	}
	return &c
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	i := *v
	return &i
}
