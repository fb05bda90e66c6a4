package llm

import (
	"testing"
	"time"
)

func TestCircuitBreakerStaysClosedBelowThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, 100*time.Millisecond)
	if cb.State() != CircuitClosed {
		t.Fatal("fresh breaker should be closed")
	}

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != CircuitClosed {
		t.Fatal("two of three failures should not trip")
	}
	if !cb.Allow() {
		t.Fatal("closed breaker should admit calls")
	}

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatal("third consecutive failure should trip")
	}
	if cb.Allow() {
		t.Fatal("open breaker should reject")
	}
}

func TestCircuitBreakerSuccessBreaksStreak(t *testing.T) {
	cb := NewCircuitBreaker(3, 100*time.Millisecond)
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != CircuitClosed {
		t.Fatal("a success in between should restart the streak")
	}
}

func TestCircuitBreakerHalfOpenProbeBudget(t *testing.T) {
	cb := NewCircuitBreaker(2, 10*time.Millisecond)
	cb.RecordFailure()
	cb.RecordFailure()

	time.Sleep(15 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("reset timeout elapsed, probe should be admitted")
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("state = %v, want half_open", cb.State())
	}
	// 预算只有一个探测，第二个调用被挡
	if cb.Allow() {
		t.Fatal("second caller should be rejected while the probe is outstanding")
	}

	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Fatal("probe success should close the circuit")
	}
	if !cb.Allow() {
		t.Fatal("closed circuit should admit again")
	}
}

func TestCircuitBreakerWiderProbeBudget(t *testing.T) {
	cb := NewCircuitBreakerWithProbes(1, 10*time.Millisecond, 2)
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	if !cb.Allow() || !cb.Allow() {
		t.Fatal("both budgeted probes should be admitted")
	}
	if cb.Allow() {
		t.Fatal("third probe exceeds the budget")
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(2, 10*time.Millisecond)
	cb.RecordFailure()
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	cb.Allow()

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatal("half-open failure should reopen")
	}
	if cb.Allow() {
		t.Fatal("reopened circuit should reject until the timer runs again")
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatal("should be open")
	}
	cb.Reset()
	if cb.State() != CircuitClosed || !cb.Allow() {
		t.Fatal("reset should close and admit")
	}
}

func TestCircuitStateString(t *testing.T) {
	cases := map[CircuitState]string{
		CircuitClosed:    "closed",
		CircuitOpen:      "open",
		CircuitHalfOpen:  "half_open",
		CircuitState(42): "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("state %d = %q, want %q", state, got, want)
		}
	}
}
