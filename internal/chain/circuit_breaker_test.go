package chain

import (
	"testing"
	"time"

	"github.com/Fantasim/minerstake/internal/config"
)

func newTestBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker("test", threshold, cooldown)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)
	if cb.State() != config.CircuitClosed {
		t.Errorf("state = %s, want closed", cb.State())
	}
	if !cb.Allow() {
		t.Error("closed breaker should allow")
	}
}

func TestCircuitBreaker_TripsAtThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != config.CircuitClosed {
		t.Fatalf("state = %s after 2 failures, want closed", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != config.CircuitOpen {
		t.Fatalf("state = %s after 3 failures, want open", cb.State())
	}
	if cb.Allow() {
		t.Error("open breaker should block")
	}
	if cb.ConsecutiveFailures() != 3 {
		t.Errorf("failures = %d, want 3", cb.ConsecutiveFailures())
	}
}

func TestCircuitBreaker_HalfOpenAfterCooldown(t *testing.T) {
	cb, now := newTestBreaker(1, 10*time.Second)
	cb.RecordFailure()

	*now = now.Add(10 * time.Second)
	if !cb.Allow() {
		t.Fatal("breaker should allow a probe after cooldown")
	}
	if cb.State() != config.CircuitHalfOpen {
		t.Fatalf("state = %s, want half_open", cb.State())
	}
	if cb.Allow() {
		t.Error("only one probe should be allowed while half-open")
	}
}

func TestCircuitBreaker_ProbeOutcome(t *testing.T) {
	t.Run("success closes", func(t *testing.T) {
		cb, now := newTestBreaker(1, time.Second)
		cb.RecordFailure()
		*now = now.Add(time.Second)
		cb.Allow()

		cb.RecordSuccess()
		if cb.State() != config.CircuitClosed {
			t.Errorf("state = %s, want closed", cb.State())
		}
		if cb.ConsecutiveFailures() != 0 {
			t.Errorf("failures = %d, want 0", cb.ConsecutiveFailures())
		}
	})

	t.Run("failure reopens", func(t *testing.T) {
		cb, now := newTestBreaker(5, time.Second)
		for range 5 {
			cb.RecordFailure()
		}
		*now = now.Add(time.Second)
		cb.Allow()

		cb.RecordFailure()
		if cb.State() != config.CircuitOpen {
			t.Errorf("state = %s, want open", cb.State())
		}
		if cb.Allow() {
			t.Error("reopened breaker should block until the next cooldown")
		}
	})
}
