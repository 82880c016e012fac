package timeutil

import (
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	start := c.Now()
	select {
	case <-c.After(time.Millisecond):
	case <-time.After(time.Second):
		t.Fatal("RealClock.After did not fire")
	}
	if c.Since(start) < time.Millisecond {
		t.Error("Since reported less time than waited")
	}
	timer := c.NewTimer(time.Hour)
	if !timer.Stop() {
		t.Error("Stop on an active timer should return true")
	}
}

func TestMockClockTimerFiresOnAdvance(t *testing.T) {
	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	c := NewMockClock(start)
	ch := c.After(5 * time.Second)

	c.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("timer fired early")
	default:
	}
	if c.PendingTimers() != 1 {
		t.Fatalf("PendingTimers = %d, want 1", c.PendingTimers())
	}

	c.Advance(time.Second)
	select {
	case got := <-ch:
		if !got.Equal(start.Add(5 * time.Second)) {
			t.Errorf("fired at %v", got)
		}
	default:
		t.Fatal("timer did not fire at its deadline")
	}
	if c.PendingTimers() != 0 {
		t.Errorf("PendingTimers = %d after firing", c.PendingTimers())
	}
}

func TestMockClockStoppedTimer(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	timer := c.NewTimer(time.Second)
	if !timer.Stop() {
		t.Error("first Stop should report active")
	}
	if timer.Stop() {
		t.Error("second Stop should report inactive")
	}
	c.Advance(time.Minute)
	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestMockClockWaitForTimers(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	go func() {
		time.Sleep(10 * time.Millisecond)
		c.After(time.Second)
	}()
	if !c.WaitForTimers(1, time.Second) {
		t.Fatal("WaitForTimers timed out")
	}
	if c.WaitForTimers(2, 20*time.Millisecond) {
		t.Error("WaitForTimers reported a timer that was never created")
	}
}

func TestMockClockSetAndSince(t *testing.T) {
	c := NewMockClock(time.Unix(100, 0))
	c.Set(time.Unix(160, 0))
	if got := c.Since(time.Unix(100, 0)); got != time.Minute {
		t.Errorf("Since = %v, want 1m", got)
	}
}
