package registry

import (
	"testing"
	"time"
)

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	b := newBreaker("test", BreakerConfig{MaxFailures: 3, Cooldown: time.Hour})

	for i := range 3 {
		if !b.Allow() {
			t.Fatalf("Allow=false on call %d while closed", i)
		}
		b.RecordFailure()
	}
	if got := b.State(); got != breakerOpen {
		t.Fatalf("State=%v after 3 failures, want open", got)
	}
	if b.Allow() {
		t.Error("Allow=true while open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	b := newBreaker("test", BreakerConfig{MaxFailures: 2, Cooldown: time.Hour})

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	if got := b.State(); got != breakerClosed {
		t.Fatalf("State=%v, want closed (success reset the count)", got)
	}
}

func TestBreaker_HalfOpenProbeBudget(t *testing.T) {
	t.Parallel()

	b := newBreaker("test", BreakerConfig{MaxFailures: 1, Cooldown: time.Millisecond, ProbeMax: 2})

	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)

	if got := b.State(); got != breakerHalfOpen {
		t.Fatalf("State=%v after cooldown, want half-open", got)
	}
	if !b.Allow() || !b.Allow() {
		t.Fatal("probe budget not granted")
	}
	if b.Allow() {
		t.Error("Allow=true beyond probe budget")
	}
}

func TestBreaker_ClosesAfterSuccessfulProbes(t *testing.T) {
	t.Parallel()

	b := newBreaker("test", BreakerConfig{MaxFailures: 1, Cooldown: time.Millisecond, ProbeMax: 2})

	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)

	for range 2 {
		if !b.Allow() {
			t.Fatal("probe not allowed")
		}
		b.RecordSuccess()
	}
	if got := b.State(); got != breakerClosed {
		t.Fatalf("State=%v, want closed after successful probes", got)
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	t.Parallel()

	b := newBreaker("test", BreakerConfig{MaxFailures: 1, Cooldown: time.Millisecond, ProbeMax: 2})

	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("probe not allowed")
	}
	b.RecordFailure()
	if got := b.State(); got != breakerOpen {
		t.Fatalf("State=%v, want re-opened", got)
	}
	if b.Allow() {
		t.Error("Allow=true immediately after re-open")
	}
}
