package timing

import (
	"sync"
	"testing"
	"time"
)

func TestWheelFiresAfterDeadline(t *testing.T) {
	w := NewWheel(10*time.Millisecond, 8)
	defer w.Stop()

	var mu sync.Mutex
	fired := false
	done := make(chan struct{})
	w.Schedule(1, 20*time.Millisecond, func() {
		mu.Lock()
		fired = true
		mu.Unlock()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("deadline never fired")
	}
	mu.Lock()
	defer mu.Unlock()
	if !fired {
		t.Fatalf("expected callback to run")
	}
}

func TestWheelCancelPreventsFire(t *testing.T) {
	w := NewWheel(10*time.Millisecond, 8)
	defer w.Stop()

	fired := make(chan struct{}, 1)
	w.Schedule(2, 20*time.Millisecond, func() { fired <- struct{}{} })
	w.Cancel(2)

	select {
	case <-fired:
		t.Fatalf("cancelled deadline must not fire")
	case <-time.After(80 * time.Millisecond):
	}
}

func TestWheelRescheduleReplacesPriorDeadline(t *testing.T) {
	w := NewWheel(10*time.Millisecond, 8)
	defer w.Stop()

	var mu sync.Mutex
	count := 0
	done := make(chan struct{})
	fn := func() {
		mu.Lock()
		count++
		n := count
		mu.Unlock()
		if n == 1 {
			close(done)
		}
	}
	w.Schedule(3, 15*time.Millisecond, fn)
	w.Schedule(3, 200*time.Millisecond, fn) // reschedule, pushing the deadline out

	select {
	case <-done:
		t.Fatalf("rescheduled deadline should not fire at the original, earlier time")
	case <-time.After(60 * time.Millisecond):
	}
}
