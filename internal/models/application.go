package models

import "time"

// Application принадлежит внешнему сервису заявок, здесь только чтение.
type Application struct {
	ID          string    `json:"id" db:"id"`
	JobID       string    `json:"jobId" db:"job_id"`
	CandidateID string    `json:"candidateId" db:"candidate_id"`
	Status      string    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}
