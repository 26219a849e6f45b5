// Package proctor is the candidate-side half of an assessment: the step state
// machine, the integrity monitor that watches the candidate's environment, and
// a small HTTP client for the assessment API.
package proctor

import (
	"encoding/json"
	"maps"
	"strconv"
	"strings"

	"github.com/RubachokBoss/proctored-assessment/internal/models"
)

type Step int

const (
	StepInstructions Step = iota + 1
	StepCoding
	StepPsychometric
	StepReview
)

const (
	FirstStep = StepInstructions
	LastStep  = StepReview
)

func (s Step) String() string {
	switch s {
	case StepInstructions:
		return "INSTRUCTIONS"
	case StepCoding:
		return "CODING"
	case StepPsychometric:
		return "PSYCHOMETRIC"
	case StepReview:
		return "REVIEW"
	default:
		return "UNKNOWN"
	}
}

type Phase int

const (
	PhaseActive Phase = iota
	PhaseSubmitted
)

func (p Phase) String() string {
	if p == PhaseSubmitted {
		return "SUBMITTED"
	}
	return "ACTIVE"
}

// SessionState is a value: Reduce never mutates its input.
type SessionState struct {
	Step          Step
	Phase         Phase
	Answers       map[string]string
	Warnings      int
	FaceCount     int
	MultipleFaces bool
	Attempt       *models.AssessmentAttempt
}

// NewSession resolves the initial state from the attempt returned by start.
// A submitted attempt opens directly in the terminal phase.
func NewSession(attempt *models.AssessmentAttempt) SessionState {
	s := SessionState{
		Step:    FirstStep,
		Phase:   PhaseActive,
		Answers: map[string]string{},
		Attempt: attempt,
	}
	if attempt != nil && attempt.IsSubmitted() {
		s.Step = LastStep
		s.Phase = PhaseSubmitted
	}
	return s
}

func (s SessionState) Submitted() bool { return s.Phase == PhaseSubmitted }

// CanSubmit is true only on the review step of an active session.
func (s SessionState) CanSubmit() bool {
	return s.Phase == PhaseActive && s.Step == LastStep
}

func (s SessionState) Progress() float64 { return Progress(s.Step) }

func Progress(step Step) float64 {
	return float64(step) / float64(LastStep)
}

// numericSections lists nested answer groups the server decodes as numbers.
var numericSections = map[string]func(string) (any, bool){
	"psychometric": func(v string) (any, bool) {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	},
	"tests": func(v string) (any, bool) {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	},
}

// Draft renders the answers as the submit payload. Dotted keys ("mcq.q1",
// "tests.passed") become nested objects. Values in numeric groups are sent as
// numbers; ones that do not parse are left out so the payload stays decodable.
func (s SessionState) Draft() json.RawMessage {
	out := map[string]any{}
	for key, value := range s.Answers {
		section, item, nested := strings.Cut(key, ".")
		if !nested {
			if _, grouped := numericSections[key]; grouped || key == "mcq" {
				continue
			}
			out[key] = value
			continue
		}

		group, ok := out[section].(map[string]any)
		if !ok {
			group = map[string]any{}
			out[section] = group
		}
		if parse, numeric := numericSections[section]; numeric {
			if v, ok := parse(value); ok {
				group[item] = v
			}
			continue
		}
		group[item] = value
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return json.RawMessage("{}")
	}
	return raw
}

type Action interface {
	apply(SessionState) SessionState
}

type (
	Next     struct{}
	Previous struct{}

	SetAnswer struct {
		Key   string
		Value string
	}

	// Submitted carries the server's copy of the scored attempt.
	Submitted struct {
		Attempt *models.AssessmentAttempt
	}

	ViolationObserved struct {
		Kind models.ViolationKind
	}

	FacesObserved struct {
		Count int
	}
)

// Reduce applies one action. Actions whose preconditions fail return the state unchanged.
func Reduce(s SessionState, a Action) SessionState {
	if a == nil {
		return s
	}
	return a.apply(s)
}

func (Next) apply(s SessionState) SessionState {
	if s.Submitted() || s.Step >= LastStep {
		return s
	}
	s.Step++
	return s
}

func (Previous) apply(s SessionState) SessionState {
	if s.Submitted() || s.Step <= FirstStep {
		return s
	}
	s.Step--
	return s
}

func (a SetAnswer) apply(s SessionState) SessionState {
	if s.Submitted() || a.Key == "" {
		return s
	}
	s.Answers = maps.Clone(s.Answers)
	if s.Answers == nil {
		s.Answers = map[string]string{}
	}
	s.Answers[a.Key] = a.Value
	return s
}

func (a Submitted) apply(s SessionState) SessionState {
	if !s.CanSubmit() {
		return s
	}
	s.Phase = PhaseSubmitted
	if a.Attempt != nil {
		s.Attempt = a.Attempt
	}
	return s
}

func (ViolationObserved) apply(s SessionState) SessionState {
	s.Warnings++
	return s
}

func (a FacesObserved) apply(s SessionState) SessionState {
	if a.Count < 0 {
		return s
	}
	s.FaceCount = a.Count
	s.MultipleFaces = a.Count > 1
	return s
}
