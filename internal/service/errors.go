package service

import (
	"errors"

	"github.com/RubachokBoss/proctored-assessment/internal/models"
)

var (
	ErrNotApplied       = errors.New("you must apply first")
	ErrNotAttemptOwner  = errors.New("attempt belongs to another candidate")
	ErrInvalidEventType = errors.New("invalid integrity event type")
	ErrValidation       = errors.New("validation failed")

	// Переэкспорт, чтобы delivery-слой не зависел от models.
	ErrAttemptNotFound  = models.ErrAttemptNotFound
	ErrAlreadySubmitted = models.ErrAlreadySubmitted
)
