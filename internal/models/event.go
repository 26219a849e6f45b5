package models

type AssessmentSubmittedEvent struct {
	AttemptID         string `json:"attempt_id"`
	ApplicationID     string `json:"application_id"`
	CandidateID       string `json:"candidate_id"`
	TechnicalScore    int    `json:"technical_score"`
	PsychometricScore int    `json:"psychometric_score"`
	TotalScore        int    `json:"total_score"`
	Decision          string `json:"decision"`
	Timestamp         int64  `json:"timestamp"`
}

// IntegrityViolationMessage - нарушение, пришедшее через очередь от агента прокторинга.
type IntegrityViolationMessage struct {
	AttemptID  string `json:"attemptId"`
	EventType  string `json:"eventType"`
	Details    string `json:"details"`
	EventID    string `json:"eventId,omitempty"`
	DetectedAt int64  `json:"detectedAt,omitempty"`
}
