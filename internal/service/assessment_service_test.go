package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RubachokBoss/proctored-assessment/internal/models"
	"github.com/RubachokBoss/proctored-assessment/internal/repository"
	"github.com/RubachokBoss/proctored-assessment/internal/service/executor"
	"github.com/RubachokBoss/proctored-assessment/internal/service/scoring"
	"github.com/rs/zerolog"
)

const (
	testJob       = "job-1"
	testCandidate = "cand-1"
	otherUser     = "cand-2"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.AssessmentSubmittedEvent
	err    error
}

func (p *recordingPublisher) PublishAssessmentSubmitted(_ context.Context, e *models.AssessmentSubmittedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type recordingArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (a *recordingArchive) StoreAnswers(_ context.Context, attemptID string, answers []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.objects == nil {
		a.objects = make(map[string][]byte)
	}
	a.objects[attemptID] = append([]byte(nil), answers...)
	return nil
}

// stepClock advances by one second on every call, starting at base.
type stepClock struct {
	mu   sync.Mutex
	base time.Time
	n    int
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.base.Add(time.Duration(c.n) * time.Second)
}

type fixture struct {
	store     *repository.MemoryStore
	svc       AssessmentService
	publisher *recordingPublisher
	archive   *recordingArchive
}

func newFixture(t *testing.T, scorer scoring.Scorer) *fixture {
	t.Helper()

	if scorer == nil {
		scorer = scoring.NewRuleScorer(nil, executor.NewMockRunner(0))
	}
	engine, err := scoring.NewEngine(scorer, scoring.DefaultWeights)
	if err != nil {
		t.Fatal(err)
	}

	store := repository.NewMemoryStore()
	store.AddApplication(models.Application{ID: "app-1", JobID: testJob, CandidateID: testCandidate})

	clock := &stepClock{base: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	publisher := &recordingPublisher{}
	archive := &recordingArchive{}

	svc := NewAssessmentService(store, store, engine, executor.NewMockRunner(0), publisher, archive,
		zerolog.New(io.Discard), WithClock(clock.Now))

	return &fixture{store: store, svc: svc, publisher: publisher, archive: archive}
}

func (f *fixture) start(t *testing.T) *models.AssessmentAttempt {
	t.Helper()
	attempt, err := f.svc.StartAssessment(context.Background(), testCandidate, &models.StartAssessmentRequest{JobID: testJob})
	if err != nil {
		t.Fatalf("StartAssessment() error = %v", err)
	}
	return attempt
}

func TestStartAssessmentRequiresApplication(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.StartAssessment(context.Background(), otherUser, &models.StartAssessmentRequest{JobID: testJob})
	if !errors.Is(err, ErrNotApplied) {
		t.Fatalf("error = %v, want ErrNotApplied", err)
	}

	_, err = f.svc.StartAssessment(context.Background(), testCandidate, &models.StartAssessmentRequest{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestStartAssessmentIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)

	first := f.start(t)
	second := f.start(t)

	if first.ID != second.ID {
		t.Fatalf("second start returned a new attempt %s, want %s", second.ID, first.ID)
	}
	if !second.StartedAt.Equal(first.StartedAt) {
		t.Errorf("startedAt changed from %v to %v", first.StartedAt, second.StartedAt)
	}
	if first.IsSubmitted() {
		t.Error("new attempt must not be submitted")
	}
}

func TestConcurrentStartsConverge(t *testing.T) {
	f := newFixture(t, nil)

	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := f.svc.StartAssessment(context.Background(), testCandidate, &models.StartAssessmentRequest{JobID: testJob})
			if err != nil {
				t.Errorf("StartAssessment() error = %v", err)
				return
			}
			ids[i] = a.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("starts diverged: %s vs %s", ids[i], ids[0])
		}
	}
}

func TestSubmitScoresAndExplains(t *testing.T) {
	f := newFixture(t, scoring.FixedScorer{Technical: 85, Psychometric: 70})
	attempt := f.start(t)

	answers := json.RawMessage(`{"code":"function solve(){}"}`)
	got, err := f.svc.SubmitAssessment(context.Background(), testCandidate, &models.SubmitAssessmentRequest{
		AttemptID: attempt.ID,
		Answers:   answers,
	})
	if err != nil {
		t.Fatalf("SubmitAssessment() error = %v", err)
	}

	if got.SubmittedAt == nil || got.SubmittedAt.Before(got.StartedAt) {
		t.Fatalf("submittedAt = %v, startedAt = %v", got.SubmittedAt, got.StartedAt)
	}
	if *got.TechnicalScore != 85 || *got.PsychometricScore != 70 || *got.TotalScore != 81 {
		t.Errorf("scores = %d/%d/%d, want 85/70/81", *got.TechnicalScore, *got.PsychometricScore, *got.TotalScore)
	}
	if *got.Decision != models.DecisionHire {
		t.Errorf("decision = %s, want HIRE", *got.Decision)
	}
	if !strings.Contains(*got.Explanation, "85%") || !strings.Contains(*got.Explanation, "70%") {
		t.Errorf("explanation does not cite component scores: %q", *got.Explanation)
	}

	if len(f.publisher.events) != 1 || f.publisher.events[0].Decision != "HIRE" {
		t.Errorf("published events = %+v, want one HIRE event", f.publisher.events)
	}
	if string(f.archive.objects[attempt.ID]) != string(answers) {
		t.Errorf("archived answers = %s, want %s", f.archive.objects[attempt.ID], answers)
	}
}

func TestSecondSubmitIsRejected(t *testing.T) {
	f := newFixture(t, scoring.FixedScorer{Technical: 85, Psychometric: 70})
	attempt := f.start(t)
	ctx := context.Background()

	if _, err := f.svc.SubmitAssessment(ctx, testCandidate, &models.SubmitAssessmentRequest{AttemptID: attempt.ID}); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.SubmitAssessment(ctx, testCandidate, &models.SubmitAssessmentRequest{
		AttemptID: attempt.ID,
		Answers:   json.RawMessage(`{"code":"other"}`),
	})
	if !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("error = %v, want ErrAlreadySubmitted", err)
	}

	stored, _ := f.store.GetByID(ctx, attempt.ID)
	if *stored.TotalScore != 81 || string(stored.Answers) != "{}" {
		t.Errorf("stored attempt changed after rejected submit: total=%d answers=%s", *stored.TotalScore, stored.Answers)
	}
}

func TestConcurrentSubmitsOnlyOneWins(t *testing.T) {
	f := newFixture(t, scoring.FixedScorer{Technical: 50, Psychometric: 50})
	attempt := f.start(t)

	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, rejected := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SubmitAssessment(context.Background(), testCandidate, &models.SubmitAssessmentRequest{AttemptID: attempt.ID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrAlreadySubmitted):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || rejected != n-1 {
		t.Errorf("wins=%d rejected=%d, want 1 and %d", wins, rejected, n-1)
	}
}

func TestSubmitChecksOwnershipAndExistence(t *testing.T) {
	f := newFixture(t, nil)
	attempt := f.start(t)
	ctx := context.Background()

	_, err := f.svc.SubmitAssessment(ctx, otherUser, &models.SubmitAssessmentRequest{AttemptID: attempt.ID})
	if !errors.Is(err, ErrNotAttemptOwner) {
		t.Errorf("foreign submit error = %v, want ErrNotAttemptOwner", err)
	}

	_, err = f.svc.SubmitAssessment(ctx, testCandidate, &models.SubmitAssessmentRequest{AttemptID: "missing"})
	if !errors.Is(err, ErrAttemptNotFound) {
		t.Errorf("missing attempt error = %v, want ErrAttemptNotFound", err)
	}

	_, err = f.svc.SubmitAssessment(ctx, testCandidate, &models.SubmitAssessmentRequest{
		AttemptID: attempt.ID,
		Answers:   json.RawMessage(`[1,2,3]`),
	})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("malformed answers error = %v, want ErrValidation", err)
	}
}

func TestLogIntegrityAppendsInOrder(t *testing.T) {
	f := newFixture(t, nil)
	attempt := f.start(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		resp, err := f.svc.LogIntegrity(ctx, testCandidate, &models.LogIntegrityRequest{
			AttemptID: attempt.ID,
			EventType: "TAB_SWITCH",
			Details:   fmt.Sprintf("User switched tabs (%d)", i+1),
		})
		if err != nil {
			t.Fatalf("LogIntegrity() error = %v", err)
		}
		if !resp.Success {
			t.Fatal("success = false")
		}
	}

	stored, _ := f.svc.GetAttempt(ctx, models.Identity{UserID: testCandidate}, attempt.ID)
	if len(stored.IntegrityLog) != 3 {
		t.Fatalf("integrity log has %d entries, want 3", len(stored.IntegrityLog))
	}
	for i, ev := range stored.IntegrityLog {
		if ev.EventType != models.ViolationTabSwitch || ev.Sequence != i+1 {
			t.Errorf("entry %d = %+v", i, ev)
		}
		if i > 0 && ev.Timestamp.Before(stored.IntegrityLog[i-1].Timestamp) {
			t.Errorf("timestamps decrease at %d", i)
		}
	}
}

func TestLogIntegrityDeduplicatesRetries(t *testing.T) {
	f := newFixture(t, nil)
	attempt := f.start(t)
	ctx := context.Background()

	req := &models.LogIntegrityRequest{
		AttemptID: attempt.ID,
		EventType: "WINDOW_BLUR",
		Details:   "User left the assessment window",
		EventID:   "8c1f4e0a-delivery",
	}
	for i := 0; i < 3; i++ {
		if _, err := f.svc.LogIntegrity(ctx, testCandidate, req); err != nil {
			t.Fatalf("LogIntegrity() #%d error = %v", i+1, err)
		}
	}

	stored, _ := f.svc.GetAttempt(ctx, models.Identity{UserID: testCandidate}, attempt.ID)
	if len(stored.IntegrityLog) != 1 || stored.IntegrityLog[0].EventID != req.EventID {
		t.Fatalf("integrity log = %+v, want one entry", stored.IntegrityLog)
	}

	_, err := f.svc.LogIntegrity(ctx, testCandidate, &models.LogIntegrityRequest{
		AttemptID: attempt.ID,
		EventType: "WINDOW_BLUR",
		EventID:   strings.Repeat("x", 200),
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("oversized eventId err = %v", err)
	}
}

func TestLogIntegrityRejections(t *testing.T) {
	f := newFixture(t, nil)
	attempt := f.start(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		candidate string
		req       models.LogIntegrityRequest
		want      error
	}{
		{"unknown type", testCandidate, models.LogIntegrityRequest{AttemptID: attempt.ID, EventType: "COPY_PASTE"}, ErrInvalidEventType},
		{"missing attempt id", testCandidate, models.LogIntegrityRequest{EventType: "TAB_SWITCH"}, ErrValidation},
		{"unknown attempt", testCandidate, models.LogIntegrityRequest{AttemptID: "nope", EventType: "TAB_SWITCH"}, ErrAttemptNotFound},
		{"unknown attempt from queue", "", models.LogIntegrityRequest{AttemptID: "nope", EventType: "TAB_SWITCH"}, ErrAttemptNotFound},
		{"foreign attempt", otherUser, models.LogIntegrityRequest{AttemptID: attempt.ID, EventType: "WINDOW_BLUR"}, ErrNotAttemptOwner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, err := f.svc.LogIntegrity(ctx, tt.candidate, &req)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}

	stored, _ := f.store.GetByID(ctx, attempt.ID)
	if len(stored.IntegrityLog) != 0 {
		t.Errorf("rejected events were appended: %+v", stored.IntegrityLog)
	}
}

func TestLogIntegrityFrozenAfterSubmit(t *testing.T) {
	f := newFixture(t, nil)
	attempt := f.start(t)
	ctx := context.Background()

	if _, err := f.svc.LogIntegrity(ctx, testCandidate, &models.LogIntegrityRequest{AttemptID: attempt.ID, EventType: "WINDOW_BLUR"}); err != nil {
		t.Fatal(err)
	}
	submitted, err := f.svc.SubmitAssessment(ctx, testCandidate, &models.SubmitAssessmentRequest{AttemptID: attempt.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(submitted.IntegrityLog) != 1 {
		t.Fatalf("submitted attempt carries %d events, want 1", len(submitted.IntegrityLog))
	}

	_, err = f.svc.LogIntegrity(ctx, "", &models.LogIntegrityRequest{AttemptID: attempt.ID, EventType: "TAB_SWITCH"})
	if !errors.Is(err, ErrAlreadySubmitted) {
		t.Errorf("error = %v, want ErrAlreadySubmitted", err)
	}
}

func TestConcurrentLogIntegrityLosesNothing(t *testing.T) {
	f := newFixture(t, nil)
	attempt := f.start(t)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			kind := []string{"TAB_SWITCH", "WINDOW_BLUR", "MULTIPLE_FACES"}[i%3]
			if _, err := f.svc.LogIntegrity(context.Background(), testCandidate, &models.LogIntegrityRequest{
				AttemptID: attempt.ID,
				EventType: kind,
			}); err != nil {
				t.Errorf("LogIntegrity() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	stored, _ := f.store.GetByID(context.Background(), attempt.ID)
	if len(stored.IntegrityLog) != n {
		t.Fatalf("integrity log has %d entries, want %d", len(stored.IntegrityLog), n)
	}
	for i, ev := range stored.IntegrityLog {
		if ev.Sequence != i+1 {
			t.Fatalf("entry %d has sequence %d", i, ev.Sequence)
		}
	}
}

func TestExecuteCode(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := f.svc.ExecuteCode(context.Background(), &models.ExecuteCodeRequest{Code: "throw new Error()", Language: "javascript"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Success || resp.Output != "Error: Runtime Exception" {
		t.Errorf("failing code response = %+v", resp)
	}

	resp, err = f.svc.ExecuteCode(context.Background(), &models.ExecuteCodeRequest{Code: "return 1", Language: "javascript"})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Success || !strings.Contains(resp.Output, "Test Case 2: Passed") {
		t.Errorf("passing code response = %+v", resp)
	}
}

func TestGetAttemptVisibility(t *testing.T) {
	f := newFixture(t, nil)
	attempt := f.start(t)
	ctx := context.Background()

	if _, err := f.svc.GetAttempt(ctx, models.Identity{UserID: otherUser, Role: models.RoleCandidate}, attempt.ID); !errors.Is(err, ErrNotAttemptOwner) {
		t.Errorf("foreign candidate error = %v, want ErrNotAttemptOwner", err)
	}
	if _, err := f.svc.GetAttempt(ctx, models.Identity{UserID: "rec-1", Role: models.RoleRecruiter}, attempt.ID); err != nil {
		t.Errorf("recruiter error = %v", err)
	}
	if _, err := f.svc.GetAttempt(ctx, models.Identity{UserID: testCandidate}, "missing"); !errors.Is(err, ErrAttemptNotFound) {
		t.Errorf("missing attempt error = %v, want ErrAttemptNotFound", err)
	}
}

func TestPublishFailureDoesNotFailSubmit(t *testing.T) {
	f := newFixture(t, nil)
	f.publisher.err = errors.New("broker down")
	attempt := f.start(t)

	if _, err := f.svc.SubmitAssessment(context.Background(), testCandidate, &models.SubmitAssessmentRequest{AttemptID: attempt.ID}); err != nil {
		t.Fatalf("SubmitAssessment() error = %v, want nil despite publish failure", err)
	}
}
