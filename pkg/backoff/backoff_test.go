package backoff

import (
	"testing"
	"time"
)

func TestExponentialJitterBounds(t *testing.T) {
	base, max := 100*time.Millisecond, 2*time.Second
	for attempt, want := range map[int]time.Duration{
		0: 100 * time.Millisecond,
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		4: 800 * time.Millisecond,
		9: 2 * time.Second,
	} {
		for i := 0; i < 50; i++ {
			d := ExponentialJitter(base, max, attempt)
			lo, hi := want-want/5, want+want/5
			if d < lo || d > hi {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, d, lo, hi)
			}
		}
	}
}

func TestExponentialJitterZero(t *testing.T) {
	if d := ExponentialJitter(0, time.Second, 3); d != 0 {
		t.Fatalf("delay = %v, want 0", d)
	}
}

func TestRetrier(t *testing.T) {
	r := &Retrier{Base: 10 * time.Millisecond, Max: time.Second}
	r.Next()
	r.Next()
	if r.Attempt() != 2 {
		t.Fatalf("attempt = %d", r.Attempt())
	}
	r.Reset()
	if d := r.Next(); d > 12*time.Millisecond {
		t.Fatalf("delay after reset = %v", d)
	}
}
