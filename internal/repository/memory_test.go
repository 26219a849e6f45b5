package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/RubachokBoss/proctored-assessment/internal/models"
)

func seededStore(t *testing.T) (*MemoryStore, *models.AssessmentAttempt) {
	t.Helper()

	store := NewMemoryStore()
	store.AddApplication(models.Application{ID: "app-1", JobID: "job-1", CandidateID: "cand-1"})

	attempt, created, err := store.CreateIfAbsent(context.Background(), &models.AssessmentAttempt{
		ID:            "att-1",
		ApplicationID: "app-1",
		StartedAt:     time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
	})
	if err != nil || !created {
		t.Fatalf("CreateIfAbsent = %v, %v", created, err)
	}
	return store, attempt
}

func TestMemoryCreateIfAbsent(t *testing.T) {
	store, first := seededStore(t)
	if first.CandidateID != "cand-1" || first.JobID != "job-1" || string(first.Answers) != "{}" {
		t.Fatalf("attempt = %+v", first)
	}

	again, created, err := store.CreateIfAbsent(context.Background(), &models.AssessmentAttempt{ID: "att-2", ApplicationID: "app-1"})
	if err != nil {
		t.Fatal(err)
	}
	if created || again.ID != "att-1" {
		t.Fatalf("second create = %s created=%t", again.ID, created)
	}
	if missing, _ := store.GetByID(context.Background(), "att-2"); missing != nil {
		t.Fatal("losing attempt was stored")
	}
}

func TestMemorySubmitOnce(t *testing.T) {
	store, attempt := seededStore(t)
	ctx := context.Background()

	res := &models.Result{
		Answers:           []byte(`{"code":"x"}`),
		SubmittedAt:       attempt.StartedAt.Add(-time.Minute),
		TechnicalScore:    85,
		PsychometricScore: 70,
		TotalScore:        81,
		Decision:          models.DecisionHire,
		Explanation:       "ok",
	}
	submitted, err := store.Submit(ctx, attempt.ID, res)
	if err != nil {
		t.Fatal(err)
	}
	if submitted.SubmittedAt.Before(submitted.StartedAt) {
		t.Fatal("submittedAt earlier than startedAt")
	}
	if *submitted.TotalScore != 81 || *submitted.Decision != models.DecisionHire {
		t.Fatalf("attempt = %+v", submitted)
	}

	res.TotalScore = 10
	if _, err := store.Submit(ctx, attempt.ID, res); !errors.Is(err, models.ErrAlreadySubmitted) {
		t.Fatalf("second submit err = %v", err)
	}
	stored, _ := store.GetByID(ctx, attempt.ID)
	if *stored.TotalScore != 81 {
		t.Fatalf("score changed to %d", *stored.TotalScore)
	}

	if _, err := store.Submit(ctx, "nope", res); !errors.Is(err, models.ErrAttemptNotFound) {
		t.Fatalf("unknown attempt err = %v", err)
	}
}

func TestMemoryAppendIntegrityEvent(t *testing.T) {
	store, attempt := seededStore(t)
	ctx := context.Background()
	t0 := attempt.StartedAt.Add(time.Minute)

	for i, at := range []time.Time{t0, t0.Add(-time.Second), t0.Add(time.Second)} {
		ev, err := store.AppendIntegrityEvent(ctx, attempt.ID, "", models.ViolationTabSwitch, "switched", at)
		if err != nil {
			t.Fatal(err)
		}
		if ev.Sequence != i+1 {
			t.Fatalf("seq = %d, want %d", ev.Sequence, i+1)
		}
	}

	stored, _ := store.GetByID(ctx, attempt.ID)
	log := stored.IntegrityLog
	if len(log) != 3 {
		t.Fatalf("log = %+v", log)
	}
	for i := 1; i < len(log); i++ {
		if log[i].Timestamp.Before(log[i-1].Timestamp) {
			t.Fatalf("timestamps go backwards: %+v", log)
		}
	}

	// Copies handed out must not alias the stored log.
	stored.IntegrityLog[0].Details = "tampered"
	fresh, _ := store.GetByID(ctx, attempt.ID)
	if fresh.IntegrityLog[0].Details != "switched" {
		t.Fatal("stored log was mutated through a copy")
	}

	if _, err := store.Submit(ctx, attempt.ID, &models.Result{SubmittedAt: t0}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AppendIntegrityEvent(ctx, attempt.ID, "", models.ViolationWindowBlur, "", t0); !errors.Is(err, models.ErrAlreadySubmitted) {
		t.Fatalf("append after submit err = %v", err)
	}
}

func TestMemoryAppendDeduplicatesEventID(t *testing.T) {
	store, attempt := seededStore(t)
	ctx := context.Background()
	at := attempt.StartedAt.Add(time.Minute)

	first, err := store.AppendIntegrityEvent(ctx, attempt.ID, "ev-1", models.ViolationTabSwitch, "switched", at)
	if err != nil {
		t.Fatal(err)
	}
	retry, err := store.AppendIntegrityEvent(ctx, attempt.ID, "ev-1", models.ViolationTabSwitch, "switched", at.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if retry.Sequence != first.Sequence || !retry.Timestamp.Equal(first.Timestamp) {
		t.Fatalf("retry = %+v, want %+v", retry, first)
	}

	// Events without an id are never merged.
	for i := 0; i < 2; i++ {
		if _, err := store.AppendIntegrityEvent(ctx, attempt.ID, "", models.ViolationWindowBlur, "", at); err != nil {
			t.Fatal(err)
		}
	}

	stored, _ := store.GetByID(ctx, attempt.ID)
	if len(stored.IntegrityLog) != 3 || stored.IntegrityLog[0].EventID != "ev-1" {
		t.Fatalf("log = %+v", stored.IntegrityLog)
	}
}

func TestMemoryGetByJobAndCandidate(t *testing.T) {
	store := NewMemoryStore()
	store.AddApplication(models.Application{ID: "late", JobID: "job-1", CandidateID: "cand-1", CreatedAt: time.Unix(200, 0)})
	store.AddApplication(models.Application{ID: "early", JobID: "job-1", CandidateID: "cand-1", CreatedAt: time.Unix(100, 0)})

	app, err := store.GetByJobAndCandidate(context.Background(), "job-1", "cand-1")
	if err != nil || app == nil || app.ID != "early" {
		t.Fatalf("app = %+v, %v", app, err)
	}
	if none, _ := store.GetByJobAndCandidate(context.Background(), "job-2", "cand-1"); none != nil {
		t.Fatal("unexpected application")
	}
}
