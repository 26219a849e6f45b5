package models

import "encoding/json"

// Data Transfer Objects

type StartAssessmentRequest struct {
	JobID string `json:"jobId"`
}

type SubmitAssessmentRequest struct {
	AttemptID string          `json:"attemptId"`
	Answers   json.RawMessage `json:"answers"`
}

type ExecuteCodeRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

type ExecuteCodeResponse struct {
	Output  string `json:"output"`
	Success bool   `json:"success"`
}

type LogIntegrityRequest struct {
	AttemptID string `json:"attemptId"`
	EventType string `json:"eventType"`
	Details   string `json:"details"`
	// EventID makes retried deliveries idempotent. Optional.
	EventID string `json:"eventId,omitempty"`
}

type LogIntegrityResponse struct {
	Success bool `json:"success"`
}
