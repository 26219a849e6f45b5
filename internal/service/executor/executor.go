// Package executor holds the code-run boundary. Only a deterministic stub exists;
// a sandboxed runner would implement the same Runner interface.
package executor

import (
	"context"
	"strings"
	"time"
)

const (
	mockPassTranscript = "Test Case 1: Passed\nTest Case 2: Passed\nOutput: Hello World"
	mockFailTranscript = "Error: Runtime Exception"
	mockTestCount      = 2
)

type Execution struct {
	Output  string
	Success bool
	Passed  int
	Total   int
}

type Runner interface {
	Run(ctx context.Context, code, language string) (*Execution, error)
}

type MockRunner struct {
	latency time.Duration
}

func NewMockRunner(latency time.Duration) *MockRunner {
	return &MockRunner{latency: latency}
}

// Run returns a canned transcript. Language is accepted but ignored.
func (r *MockRunner) Run(ctx context.Context, code, language string) (*Execution, error) {
	if r.latency > 0 {
		timer := time.NewTimer(r.latency)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if strings.Contains(code, "throw") || strings.Contains(code, "Error") {
		return &Execution{
			Output:  mockFailTranscript,
			Success: false,
			Passed:  0,
			Total:   mockTestCount,
		}, nil
	}

	return &Execution{
		Output:  mockPassTranscript,
		Success: true,
		Passed:  mockTestCount,
		Total:   mockTestCount,
	}, nil
}
