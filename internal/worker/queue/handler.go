package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/RubachokBoss/proctored-assessment/internal/models"
	"github.com/google/uuid"
)

var ErrMalformedMessage = errors.New("malformed message")

// DecodeIntegrityViolation parses a message published by the proctoring agent.
func DecodeIntegrityViolation(body []byte) (*models.IntegrityViolationMessage, error) {
	var msg models.IntegrityViolationMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	if strings.TrimSpace(msg.AttemptID) == "" {
		return nil, fmt.Errorf("%w: empty attemptId", ErrMalformedMessage)
	}
	if _, err := uuid.Parse(msg.AttemptID); err != nil {
		return nil, fmt.Errorf("%w: attemptId %q is not a uuid", ErrMalformedMessage, msg.AttemptID)
	}
	if strings.TrimSpace(msg.EventType) == "" {
		return nil, fmt.Errorf("%w: empty eventType", ErrMalformedMessage)
	}

	return &msg, nil
}
