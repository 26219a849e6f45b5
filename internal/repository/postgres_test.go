package repository

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/RubachokBoss/proctored-assessment/internal/config"
	"github.com/RubachokBoss/proctored-assessment/internal/database"
	"github.com/RubachokBoss/proctored-assessment/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// testDatabase подключается к Postgres из TEST_DATABASE_* и накатывает схему.
// Без TEST_DATABASE_HOST тест пропускается.
func testDatabase(t *testing.T) *sql.DB {
	t.Helper()

	host := os.Getenv("TEST_DATABASE_HOST")
	if host == "" {
		t.Skip("TEST_DATABASE_HOST is not set")
	}

	port, err := strconv.Atoi(envOr("TEST_DATABASE_PORT", "5432"))
	if err != nil {
		t.Fatalf("TEST_DATABASE_PORT: %v", err)
	}
	cfg := config.DatabaseConfig{
		Host:         host,
		Port:         port,
		User:         envOr("TEST_DATABASE_USER", "postgres"),
		Password:     envOr("TEST_DATABASE_PASSWORD", "postgres"),
		Name:         envOr("TEST_DATABASE_NAME", "assessment_test"),
		SSLMode:      envOr("TEST_DATABASE_SSLMODE", "disable"),
		MaxOpenConns: 16,
		MaxIdleConns: 4,
	}

	migrator, err := database.NewMigrator(cfg, "file://../../migrations")
	if err != nil {
		t.Fatal(err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatal(err)
	}

	db, err := database.NewPostgres(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// seedPostgresAttempt creates an application with one attempt. Cascades clean up both.
func seedPostgresAttempt(t *testing.T, db *sql.DB, repo AttemptRepository) *models.AssessmentAttempt {
	t.Helper()
	ctx := context.Background()

	appID := uuid.NewString()
	_, err := db.ExecContext(ctx,
		`INSERT INTO applications (id, job_id, candidate_id) VALUES ($1, $2, $3)`,
		appID, "job-"+appID, "cand-1",
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_, _ = db.ExecContext(context.Background(), `DELETE FROM applications WHERE id = $1`, appID)
	})

	now := time.Now().UTC().Truncate(time.Microsecond)
	attempt, created, err := repo.CreateIfAbsent(ctx, &models.AssessmentAttempt{
		ID:            uuid.NewString(),
		ApplicationID: appID,
		StartedAt:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil || !created {
		t.Fatalf("CreateIfAbsent = %v, %v", created, err)
	}
	return attempt
}

func TestPostgresCreateIfAbsentConverges(t *testing.T) {
	db := testDatabase(t)
	repo := NewAttemptRepository(db, zerolog.New(io.Discard))
	first := seedPostgresAttempt(t, db, repo)

	const n = 8
	var wg sync.WaitGroup
	ids := make([]string, n)
	created := make([]bool, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, ok, err := repo.CreateIfAbsent(context.Background(), &models.AssessmentAttempt{
				ID:            uuid.NewString(),
				ApplicationID: first.ApplicationID,
				StartedAt:     time.Now().UTC(),
				CreatedAt:     time.Now().UTC(),
				UpdatedAt:     time.Now().UTC(),
			})
			errs[i] = err
			created[i] = ok
			if a != nil {
				ids[i] = a.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("create %d: %v", i, errs[i])
		}
		if created[i] || ids[i] != first.ID {
			t.Fatalf("create %d = %s created=%t, want %s", i, ids[i], created[i], first.ID)
		}
	}
}

func TestPostgresConcurrentAppendsAndSubmit(t *testing.T) {
	db := testDatabase(t)
	repo := NewAttemptRepository(db, zerolog.New(io.Discard))
	attempt := seedPostgresAttempt(t, db, repo)
	ctx := context.Background()

	// Half of the events carry timestamps earlier than the previous ones.
	const n = 20
	base := attempt.StartedAt.Add(time.Minute)
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			at := base.Add(time.Duration(i) * time.Second)
			if i%2 == 1 {
				at = base.Add(-time.Duration(i) * time.Second)
			}
			if _, err := repo.AppendIntegrityEvent(ctx, attempt.ID, "", models.ViolationTabSwitch, "", at); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("append: %v", err)
	}

	stored, err := repo.GetByID(ctx, attempt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.IntegrityLog) != n {
		t.Fatalf("log has %d entries, want %d", len(stored.IntegrityLog), n)
	}
	for i, ev := range stored.IntegrityLog {
		if ev.Sequence != i+1 {
			t.Fatalf("entry %d has seq %d", i, ev.Sequence)
		}
		if i > 0 && ev.Timestamp.Before(stored.IntegrityLog[i-1].Timestamp) {
			t.Fatalf("timestamps go backwards at seq %d", ev.Sequence)
		}
	}

	// Submits race with appends: exactly one submit wins, and every append
	// either lands whole or is rejected as frozen.
	var submitWins, appendWins int
	var mu sync.Mutex
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := repo.Submit(ctx, attempt.ID, &models.Result{
				SubmittedAt:       time.Now().UTC(),
				TechnicalScore:    85,
				PsychometricScore: 70,
				TotalScore:        81,
				Decision:          models.DecisionHire,
				Explanation:       "ok",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				submitWins++
			case !errors.Is(err, models.ErrAlreadySubmitted):
				t.Errorf("submit: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			_, err := repo.AppendIntegrityEvent(ctx, attempt.ID, "", models.ViolationWindowBlur, "", time.Now())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				appendWins++
			case !errors.Is(err, models.ErrAlreadySubmitted):
				t.Errorf("append: %v", err)
			}
		}()
	}
	wg.Wait()
	if submitWins != 1 {
		t.Fatalf("%d submits won, want 1", submitWins)
	}

	final, err := repo.GetByID(ctx, attempt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.SubmittedAt == nil || *final.TotalScore != 81 {
		t.Fatalf("attempt = %+v", final)
	}
	if len(final.IntegrityLog) != n+appendWins {
		t.Fatalf("log has %d entries, want %d", len(final.IntegrityLog), n+appendWins)
	}

	if _, err := repo.AppendIntegrityEvent(ctx, attempt.ID, "", models.ViolationTabSwitch, "", time.Now()); !errors.Is(err, models.ErrAlreadySubmitted) {
		t.Fatalf("append after submit err = %v", err)
	}
	if _, err := repo.AppendIntegrityEvent(ctx, uuid.NewString(), "", models.ViolationTabSwitch, "", time.Now()); !errors.Is(err, models.ErrAttemptNotFound) {
		t.Fatalf("append to unknown attempt err = %v", err)
	}
}

func TestPostgresAppendDeduplicatesEventID(t *testing.T) {
	db := testDatabase(t)
	repo := NewAttemptRepository(db, zerolog.New(io.Discard))
	attempt := seedPostgresAttempt(t, db, repo)
	ctx := context.Background()
	eventID := uuid.NewString()

	var wg sync.WaitGroup
	seqs := make([]int, 5)
	for i := range seqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev, err := repo.AppendIntegrityEvent(ctx, attempt.ID, eventID, models.ViolationMultipleFaces, "2 faces", time.Now())
			if err != nil {
				t.Errorf("append: %v", err)
				return
			}
			seqs[i] = ev.Sequence
		}(i)
	}
	wg.Wait()

	for _, seq := range seqs {
		if seq != 1 {
			t.Fatalf("sequences = %v, want all 1", seqs)
		}
	}
	stored, err := repo.GetByID(ctx, attempt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.IntegrityLog) != 1 || stored.IntegrityLog[0].EventID != eventID {
		t.Fatalf("log = %+v", stored.IntegrityLog)
	}
}
