package models

import "time"

type ViolationKind string

const (
	ViolationTabSwitch     ViolationKind = "TAB_SWITCH"
	ViolationWindowBlur    ViolationKind = "WINDOW_BLUR"
	ViolationMultipleFaces ViolationKind = "MULTIPLE_FACES"
)

func (k ViolationKind) String() string {
	return string(k)
}

func IsValidViolationKind(kind string) bool {
	switch ViolationKind(kind) {
	case ViolationTabSwitch, ViolationWindowBlur, ViolationMultipleFaces:
		return true
	default:
		return false
	}
}

// ViolationEvent is immutable once appended to an attempt's integrity log.
type ViolationEvent struct {
	Sequence  int           `json:"sequence" db:"seq"`
	EventID   string        `json:"eventId,omitempty" db:"event_id"`
	EventType ViolationKind `json:"eventType" db:"event_type"`
	Details   string        `json:"details" db:"details"`
	Timestamp time.Time     `json:"timestamp" db:"detected_at"`
}
