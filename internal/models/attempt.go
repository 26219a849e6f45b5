package models

import (
	"encoding/json"
	"time"
)

type DecisionTier string

const (
	DecisionHire     DecisionTier = "HIRE"
	DecisionConsider DecisionTier = "CONSIDER"
	DecisionNoHire   DecisionTier = "NO_HIRE"
)

func (d DecisionTier) String() string {
	return string(d)
}

// AssessmentAttempt - один проход кандидата по тесту для одной заявки.
// Scores, decision and explanation are set once on submit and never change afterwards.
type AssessmentAttempt struct {
	ID                string           `json:"id" db:"id"`
	ApplicationID     string           `json:"applicationId" db:"application_id"`
	CandidateID       string           `json:"candidateId,omitempty" db:"candidate_id"`
	JobID             string           `json:"jobId,omitempty" db:"job_id"`
	Answers           json.RawMessage  `json:"answers" db:"answers"`
	StartedAt         time.Time        `json:"startedAt" db:"started_at"`
	SubmittedAt       *time.Time       `json:"submittedAt,omitempty" db:"submitted_at"`
	TechnicalScore    *int             `json:"technicalScore,omitempty" db:"technical_score"`
	PsychometricScore *int             `json:"psychometricScore,omitempty" db:"psychometric_score"`
	TotalScore        *int             `json:"totalScore,omitempty" db:"total_score"`
	Decision          *DecisionTier    `json:"decision,omitempty" db:"decision"`
	Explanation       *string          `json:"aiDecision,omitempty" db:"explanation"`
	IntegrityLog      []ViolationEvent `json:"integrityLog"`
	CreatedAt         time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time        `json:"updatedAt" db:"updated_at"`
}

func (a *AssessmentAttempt) IsSubmitted() bool {
	return a.SubmittedAt != nil
}

// Result - итог проверки, который записывается в попытку при сдаче.
type Result struct {
	Answers           json.RawMessage
	SubmittedAt       time.Time
	TechnicalScore    int
	PsychometricScore int
	TotalScore        int
	Decision          DecisionTier
	Explanation       string
}

// Apply copies the scored result onto the attempt.
func (a *AssessmentAttempt) Apply(res *Result) {
	technical, psychometric, total := res.TechnicalScore, res.PsychometricScore, res.TotalScore
	decision, explanation := res.Decision, res.Explanation
	submittedAt := res.SubmittedAt

	a.Answers = res.Answers
	a.SubmittedAt = &submittedAt
	a.TechnicalScore = &technical
	a.PsychometricScore = &psychometric
	a.TotalScore = &total
	a.Decision = &decision
	a.Explanation = &explanation
	a.UpdatedAt = submittedAt
}
