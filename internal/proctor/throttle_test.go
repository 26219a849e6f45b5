package proctor

import (
	"testing"
	"time"

	"github.com/RubachokBoss/proctored-assessment/internal/models"
)

func TestThrottleWindow(t *testing.T) {
	th := NewThrottle(10 * time.Second)
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	kind := models.ViolationMultipleFaces

	steps := []struct {
		at   time.Duration
		want bool
	}{
		{0, true},
		{3 * time.Second, false},
		{9*time.Second + 999*time.Millisecond, false},
		{10 * time.Second, true},
		{15 * time.Second, false},
		{20 * time.Second, true},
	}

	for _, s := range steps {
		if got := th.Allow(kind, t0.Add(s.at)); got != s.want {
			t.Errorf("Allow at +%v = %t, want %t", s.at, got, s.want)
		}
	}
}

func TestThrottleSuppressedCallsDoNotMoveWindow(t *testing.T) {
	th := NewThrottle(10 * time.Second)
	t0 := time.Now()
	kind := models.ViolationMultipleFaces

	th.Allow(kind, t0)
	for i := 1; i < 10; i++ {
		if th.Allow(kind, t0.Add(time.Duration(i)*time.Second)) {
			t.Fatalf("allowed at +%ds", i)
		}
	}
	if !th.Allow(kind, t0.Add(10*time.Second)) {
		t.Fatal("window should be measured from the last allowed emission")
	}
}

func TestThrottleIsPerKind(t *testing.T) {
	th := NewThrottle(10 * time.Second)
	now := time.Now()

	if !th.Allow(models.ViolationMultipleFaces, now) || !th.Allow(models.ViolationTabSwitch, now) {
		t.Fatal("kinds must not share a window")
	}

	th.Reset()
	if !th.Allow(models.ViolationMultipleFaces, now) {
		t.Fatal("Reset should clear history")
	}
}
