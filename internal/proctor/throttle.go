package proctor

import (
	"sync"
	"time"

	"github.com/RubachokBoss/proctored-assessment/internal/models"
)

// Throttle limits emissions per violation kind. The window is measured from
// the last allowed emission; suppressed calls do not move it.
type Throttle struct {
	window time.Duration

	mu   sync.Mutex
	last map[models.ViolationKind]time.Time
}

func NewThrottle(window time.Duration) *Throttle {
	return &Throttle{window: window, last: map[models.ViolationKind]time.Time{}}
}

func (t *Throttle) Allow(kind models.ViolationKind, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if last, ok := t.last[kind]; ok && now.Sub(last) < t.window {
		return false
	}
	t.last[kind] = now
	return true
}

func (t *Throttle) Reset() {
	t.mu.Lock()
	clear(t.last)
	t.mu.Unlock()
}
