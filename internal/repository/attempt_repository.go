package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/RubachokBoss/proctored-assessment/internal/models"
	"github.com/rs/zerolog"
)

type AttemptRepository interface {
	// CreateIfAbsent stores the attempt unless its application already has one and
	// returns whichever attempt ends up owning the application.
	CreateIfAbsent(ctx context.Context, attempt *models.AssessmentAttempt) (*models.AssessmentAttempt, bool, error)
	GetByID(ctx context.Context, id string) (*models.AssessmentAttempt, error)
	// Submit persists the result once. A second call fails with models.ErrAlreadySubmitted.
	Submit(ctx context.Context, id string, result *models.Result) (*models.AssessmentAttempt, error)
	// AppendIntegrityEvent appends under the attempt row lock, so concurrent appends
	// and a concurrent submit are serialised. A repeated non-empty eventID returns
	// the stored event instead of appending a second one.
	AppendIntegrityEvent(ctx context.Context, attemptID, eventID string, kind models.ViolationKind, details string, at time.Time) (*models.ViolationEvent, error)
}

type attemptRepository struct {
	*PostgresRepository
}

func NewAttemptRepository(db *sql.DB, logger zerolog.Logger) AttemptRepository {
	return &attemptRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

const selectAttempt = `
	SELECT
		a.id, a.application_id, ap.candidate_id, ap.job_id, a.answers,
		a.started_at, a.submitted_at, a.technical_score, a.psychometric_score,
		a.total_score, a.decision, a.explanation, a.created_at, a.updated_at
	FROM assessment_attempts a
	JOIN applications ap ON ap.id = a.application_id
`

func (r *attemptRepository) CreateIfAbsent(ctx context.Context, attempt *models.AssessmentAttempt) (*models.AssessmentAttempt, bool, error) {
	query := `
		INSERT INTO assessment_attempts (id, application_id, answers, started_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (application_id) DO NOTHING
	`

	answers := []byte(attempt.Answers)
	if len(answers) == 0 {
		answers = []byte("{}")
	}

	res, err := r.db.ExecContext(ctx, query,
		attempt.ID,
		attempt.ApplicationID,
		answers,
		attempt.StartedAt,
		attempt.CreatedAt,
		attempt.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert attempt: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	stored, err := r.getByApplicationID(ctx, attempt.ApplicationID)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, fmt.Errorf("attempt for application %s disappeared after insert", attempt.ApplicationID)
	}

	return stored, inserted == 1, nil
}

func (r *attemptRepository) getByApplicationID(ctx context.Context, applicationID string) (*models.AssessmentAttempt, error) {
	attempt, err := scanAttempt(r.db.QueryRowContext(ctx, selectAttempt+` WHERE a.application_id = $1`, applicationID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	attempt.IntegrityLog, err = listIntegrityEvents(ctx, r.db, attempt.ID)
	if err != nil {
		return nil, err
	}
	return attempt, nil
}

func (r *attemptRepository) GetByID(ctx context.Context, id string) (*models.AssessmentAttempt, error) {
	attempt, err := scanAttempt(r.db.QueryRowContext(ctx, selectAttempt+` WHERE a.id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	attempt.IntegrityLog, err = listIntegrityEvents(ctx, r.db, attempt.ID)
	if err != nil {
		return nil, err
	}
	return attempt, nil
}

func (r *attemptRepository) Submit(ctx context.Context, id string, result *models.Result) (*models.AssessmentAttempt, error) {
	var attempt *models.AssessmentAttempt

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockAttempt(ctx, tx, id); err != nil {
			return err
		}

		query := `
			UPDATE assessment_attempts
			SET answers = $1, submitted_at = GREATEST($2, started_at), technical_score = $3,
				psychometric_score = $4, total_score = $5, decision = $6, explanation = $7,
				updated_at = $2
			WHERE id = $8 AND submitted_at IS NULL
		`

		answers := []byte(result.Answers)
		if len(answers) == 0 {
			answers = []byte("{}")
		}

		res, err := tx.ExecContext(ctx, query,
			answers,
			result.SubmittedAt,
			result.TechnicalScore,
			result.PsychometricScore,
			result.TotalScore,
			result.Decision.String(),
			result.Explanation,
			id,
		)
		if err != nil {
			return fmt.Errorf("failed to update attempt: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return models.ErrAlreadySubmitted
		}

		attempt, err = scanAttempt(tx.QueryRowContext(ctx, selectAttempt+` WHERE a.id = $1`, id))
		if err != nil {
			return fmt.Errorf("failed to reload attempt: %w", err)
		}

		attempt.IntegrityLog, err = listIntegrityEvents(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	return attempt, nil
}

func (r *attemptRepository) AppendIntegrityEvent(ctx context.Context, attemptID, eventID string, kind models.ViolationKind, details string, at time.Time) (*models.ViolationEvent, error) {
	var event *models.ViolationEvent

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockAttempt(ctx, tx, attemptID); err != nil {
			return err
		}

		if eventID != "" {
			existing, err := findIntegrityEvent(ctx, tx, attemptID, eventID)
			if err != nil {
				return err
			}
			if existing != nil {
				event = existing
				return nil
			}
		}

		var lastSeq int
		var lastAt sql.NullTime
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0), MAX(detected_at) FROM integrity_events WHERE attempt_id = $1`,
			attemptID,
		).Scan(&lastSeq, &lastAt)
		if err != nil {
			return fmt.Errorf("failed to read integrity log tail: %w", err)
		}

		// Время в журнале не должно идти назад даже при рассинхроне часов.
		detectedAt := at.UTC()
		if lastAt.Valid && detectedAt.Before(lastAt.Time) {
			detectedAt = lastAt.Time
		}

		event = &models.ViolationEvent{
			Sequence:  lastSeq + 1,
			EventID:   eventID,
			EventType: kind,
			Details:   details,
			Timestamp: detectedAt,
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO integrity_events (attempt_id, seq, event_id, event_type, details, detected_at)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
		`, attemptID, event.Sequence, eventID, event.EventType.String(), event.Details, event.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to append integrity event: %w", err)
		}

		_, err = tx.ExecContext(ctx, `UPDATE assessment_attempts SET updated_at = $1 WHERE id = $2`, time.Now().UTC(), attemptID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return event, nil
}

func findIntegrityEvent(ctx context.Context, q querier, attemptID, eventID string) (*models.ViolationEvent, error) {
	ev := &models.ViolationEvent{EventID: eventID}
	var kind string
	err := q.QueryRowContext(ctx, `
		SELECT seq, event_type, details, detected_at
		FROM integrity_events
		WHERE attempt_id = $1 AND event_id = $2
	`, attemptID, eventID).Scan(&ev.Sequence, &kind, &ev.Details, &ev.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up integrity event: %w", err)
	}
	ev.EventType = models.ViolationKind(kind)
	return ev, nil
}

// lockAttempt takes the row lock and rejects unknown or already submitted attempts.
func lockAttempt(ctx context.Context, tx *sql.Tx, id string) error {
	var submittedAt sql.NullTime
	err := tx.QueryRowContext(ctx,
		`SELECT submitted_at FROM assessment_attempts WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&submittedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrAttemptNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock attempt: %w", err)
	}
	if submittedAt.Valid {
		return models.ErrAlreadySubmitted
	}
	return nil
}

func scanAttempt(row scanner) (*models.AssessmentAttempt, error) {
	var (
		attempt                        models.AssessmentAttempt
		answers                        []byte
		submittedAt                    sql.NullTime
		technical, psychometric, total sql.NullInt64
		decision, explanation          sql.NullString
	)

	err := row.Scan(
		&attempt.ID,
		&attempt.ApplicationID,
		&attempt.CandidateID,
		&attempt.JobID,
		&answers,
		&attempt.StartedAt,
		&submittedAt,
		&technical,
		&psychometric,
		&total,
		&decision,
		&explanation,
		&attempt.CreatedAt,
		&attempt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	attempt.Answers = answers
	if submittedAt.Valid {
		t := submittedAt.Time
		attempt.SubmittedAt = &t
	}
	attempt.TechnicalScore = intPtr(technical)
	attempt.PsychometricScore = intPtr(psychometric)
	attempt.TotalScore = intPtr(total)
	if decision.Valid {
		tier := models.DecisionTier(decision.String)
		attempt.Decision = &tier
	}
	if explanation.Valid {
		text := explanation.String
		attempt.Explanation = &text
	}

	return &attempt, nil
}

func listIntegrityEvents(ctx context.Context, q querier, attemptID string) ([]models.ViolationEvent, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT seq, COALESCE(event_id, ''), event_type, details, detected_at
		FROM integrity_events
		WHERE attempt_id = $1
		ORDER BY seq
	`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrity events: %w", err)
	}
	defer rows.Close()

	events := make([]models.ViolationEvent, 0)
	for rows.Next() {
		var ev models.ViolationEvent
		var kind string
		if err := rows.Scan(&ev.Sequence, &ev.EventID, &kind, &ev.Details, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.EventType = models.ViolationKind(kind)
		events = append(events, ev)
	}

	return events, rows.Err()
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
