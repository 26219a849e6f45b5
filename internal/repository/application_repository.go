package repository

import (
	"context"
	"database/sql"

	"github.com/RubachokBoss/proctored-assessment/internal/models"
	"github.com/rs/zerolog"
)

// ApplicationRepository - только чтение, заявки создаёт внешний сервис.
type ApplicationRepository interface {
	GetByJobAndCandidate(ctx context.Context, jobID, candidateID string) (*models.Application, error)
}

type applicationRepository struct {
	*PostgresRepository
}

func NewApplicationRepository(db *sql.DB, logger zerolog.Logger) ApplicationRepository {
	return &applicationRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *applicationRepository) GetByJobAndCandidate(ctx context.Context, jobID, candidateID string) (*models.Application, error) {
	query := `
		SELECT id, job_id, candidate_id, status, created_at
		FROM applications
		WHERE job_id = $1 AND candidate_id = $2
		ORDER BY created_at
		LIMIT 1
	`

	app := &models.Application{}
	err := r.db.QueryRowContext(ctx, query, jobID, candidateID).Scan(
		&app.ID,
		&app.JobID,
		&app.CandidateID,
		&app.Status,
		&app.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	return app, err
}
