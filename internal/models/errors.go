package models

import "errors"

// Ошибки, общие для репозиториев и сервисов.
var (
	ErrAttemptNotFound  = errors.New("attempt not found")
	ErrAlreadySubmitted = errors.New("attempt already submitted")
)
