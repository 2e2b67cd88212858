package clock

import (
	"testing"
	"time"
)

func TestFakeClockFiresDueTimers(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)

	early := c.NewTimer(time.Hour)
	late := c.NewTimer(3 * time.Hour)
	if got := c.Waiters(); got != 2 {
		t.Fatalf("expected 2 waiters, got %d", got)
	}

	c.Advance(2 * time.Hour)
	select {
	case fired := <-early.C():
		if !fired.Equal(start.Add(2 * time.Hour)) {
			t.Fatalf("unexpected fire time %v", fired)
		}
	default:
		t.Fatalf("expected early timer to fire")
	}
	select {
	case <-late.C():
		t.Fatalf("late timer fired too soon")
	default:
	}

	if !late.Stop() {
		t.Fatalf("expected stop to report an armed timer")
	}
	c.Advance(2 * time.Hour)
	select {
	case <-late.C():
		t.Fatalf("stopped timer fired")
	default:
	}
	if got := c.Waiters(); got != 0 {
		t.Fatalf("expected no waiters, got %d", got)
	}
}
