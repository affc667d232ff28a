package clock

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestManualAdvanceFiresInOrder(t *testing.T) {
	m := NewManual(time.Unix(0, 0))

	var order []string
	m.Every(time.Second, func() { order = append(order, "slow") })
	m.Every(400*time.Millisecond, func() { order = append(order, "fast") })

	m.Advance(time.Second)

	expected := []string{"fast", "fast", "slow"}
	if len(order) != len(expected) {
		t.Fatalf("Expected %d callbacks, got %d (%v)", len(expected), len(order), order)
	}
	for i := range expected {
		if order[i] != expected[i] {
			t.Errorf("Callback %d: expected %s, got %s", i, expected[i], order[i])
		}
	}
	if got := m.Now(); !got.Equal(time.Unix(1, 0)) {
		t.Errorf("Expected clock at 1s, got %v", got)
	}
}

func TestManualStopInsideCallback(t *testing.T) {
	m := NewManual(time.Unix(0, 0))

	count := 0
	var timer Timer
	timer = m.Every(time.Second, func() {
		count++
		if count == 2 {
			timer.Stop()
		}
	})

	m.Advance(5 * time.Second)

	if count != 2 {
		t.Errorf("Expected timer to fire twice before stopping, got %d", count)
	}
	if m.Active() != 0 {
		t.Errorf("Expected no active timers, got %d", m.Active())
	}
}

func TestRealTimerStops(t *testing.T) {
	var ticks atomic.Int32
	timer := New().Every(5*time.Millisecond, func() { ticks.Add(1) })

	time.Sleep(40 * time.Millisecond)
	timer.Stop()
	timer.Stop() // idempotent

	time.Sleep(20 * time.Millisecond)
	settled := ticks.Load()
	time.Sleep(30 * time.Millisecond)

	if settled == 0 {
		t.Error("Expected at least one tick before stop")
	}
	if ticks.Load() != settled {
		t.Errorf("Expected no ticks after stop, went from %d to %d", settled, ticks.Load())
	}
}
