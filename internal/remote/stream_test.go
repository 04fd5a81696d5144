// ABOUTME: Tests for subscription reconnect backoff
// ABOUTME: Verifies exponential growth, the delay ceiling, and reset after stable connections

package remote

import (
	"testing"
	"time"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	bo := &backoff{base: time.Second, max: 8 * time.Second}

	var prev time.Duration
	for i := 0; i < 6; i++ {
		d := bo.nextDelay()
		if d > 8*time.Second+500*time.Millisecond {
			t.Fatalf("delay %v exceeds cap", d)
		}
		if i > 0 && d < prev/2 {
			t.Fatalf("delay shrank unexpectedly: %v -> %v", prev, d)
		}
		prev = d
	}

	// After enough attempts the delay saturates near the cap.
	if prev < 7*time.Second {
		t.Errorf("expected saturated delay near cap, got %v", prev)
	}
}

func TestBackoffResetsAfterStableConnection(t *testing.T) {
	bo := &backoff{base: time.Second, max: 30 * time.Second}

	for i := 0; i < 5; i++ {
		bo.nextDelay()
	}

	// Simulate a connection that stayed up well past the reset window.
	bo.connectedAt = time.Now().Add(-2 * time.Minute)

	d := bo.nextDelay()
	if d > 2*time.Second {
		t.Errorf("expected reset delay near base, got %v", d)
	}
}
