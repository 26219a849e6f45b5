package scoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidAnswers = errors.New("invalid answers payload")

// Answers is the scoring view of the opaque answers payload submitted by the client.
type Answers struct {
	Code         string             `json:"code,omitempty"`
	Language     string             `json:"language,omitempty"`
	Tests        *TestRun           `json:"tests,omitempty"`
	MCQ          map[string]string  `json:"mcq,omitempty"`
	Psychometric map[string]float64 `json:"psychometric,omitempty"`
}

// TestRun - результат автотестов, если клиент их уже прогнал.
type TestRun struct {
	Passed int `json:"passed"`
	Total  int `json:"total"`
}

func ParseAnswers(raw json.RawMessage) (*Answers, error) {
	answers := &Answers{}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return answers, nil
	}

	if err := json.Unmarshal(trimmed, answers); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAnswers, err)
	}

	return answers, nil
}
