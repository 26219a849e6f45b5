package proctor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/RubachokBoss/proctored-assessment/internal/models"
	"github.com/rs/zerolog"
)

// APIError is a non-2xx answer from the assessment API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("assessment api returned status %d: %s", e.Status, e.Message)
}

// HasStatus reports whether err is an APIError with the given status.
func HasStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Client talks to /api/assessments on behalf of one authenticated candidate.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  zerolog.Logger
}

func NewClient(baseURL, token string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/") + "/api/assessments",
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (c *Client) Start(ctx context.Context, jobID string) (*models.AssessmentAttempt, error) {
	var attempt models.AssessmentAttempt
	if err := c.post(ctx, "/start", models.StartAssessmentRequest{JobID: jobID}, &attempt); err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (c *Client) Submit(ctx context.Context, attemptID string, answers json.RawMessage) (*models.AssessmentAttempt, error) {
	var attempt models.AssessmentAttempt
	req := models.SubmitAssessmentRequest{AttemptID: attemptID, Answers: answers}
	if err := c.post(ctx, "/submit", req, &attempt); err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (c *Client) Execute(ctx context.Context, code, language string) (*models.ExecuteCodeResponse, error) {
	var resp models.ExecuteCodeResponse
	if err := c.post(ctx, "/execute", models.ExecuteCodeRequest{Code: code, Language: language}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) LogIntegrity(ctx context.Context, req *models.LogIntegrityRequest) error {
	var resp models.LogIntegrityResponse
	if err := c.post(ctx, "/log-integrity", req, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return errors.New("integrity log was not accepted")
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}

		var errBody struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &errBody) == nil && errBody.Message != "" {
			apiErr.Message = errBody.Message
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
