// Package retry tests for the pure retry policy.
package retry

import (
	"testing"
	"time"

	"github.com/plateshare/synckit/internal/errors"
)

// TestShouldRetryExhausted verifies retries stop once the count reaches max.
func TestShouldRetryExhausted(t *testing.T) {
	if !ShouldRetry(2, 3, errors.ErrTimeout) {
		t.Error("expected retry with attempts remaining")
	}
	if ShouldRetry(3, 3, errors.ErrTimeout) {
		t.Error("expected no retry once count equals max")
	}
	if ShouldRetry(5, 3, errors.ErrTimeout) {
		t.Error("expected no retry past max")
	}
}

// TestShouldRetryNonRetryableShortCircuit verifies the non-retryable set wins
// regardless of remaining attempts.
func TestShouldRetryNonRetryableShortCircuit(t *testing.T) {
	codes := []errors.ErrorCode{
		errors.ErrInvalid,
		errors.ErrAuth,
		errors.ErrForbidden,
		errors.ErrNotFound,
		errors.ErrValidation,
	}

	for _, code := range codes {
		if ShouldRetry(0, 10, code) {
			t.Errorf("expected no retry for %s even with attempts remaining", code)
		}
	}
}

// TestDelayMonotonic verifies delay never decreases with attempt (mod jitter)
// and never exceeds the cap.
func TestDelayMonotonic(t *testing.T) {
	p := PresetQueue

	prevFloor := time.Duration(0)
	for attempt := 0; attempt < 20; attempt++ {
		d := Delay(attempt, p)

		if d > p.MaxDelay {
			t.Fatalf("attempt %d: delay %v exceeds cap %v", attempt, d, p.MaxDelay)
		}

		// The jitter-free floor for this attempt must not regress.
		floor := p.BaseDelay << uint(attempt)
		if floor <= 0 || floor > p.MaxDelay {
			floor = p.MaxDelay
		}
		if floor < prevFloor {
			t.Fatalf("attempt %d: floor %v regressed below %v", attempt, floor, prevFloor)
		}
		if d < floor && d != p.MaxDelay {
			t.Fatalf("attempt %d: delay %v below exponential floor %v", attempt, d, floor)
		}
		prevFloor = floor
	}
}

// TestDelayJitterBounds verifies jitter stays within 30% of the exponential.
func TestDelayJitterBounds(t *testing.T) {
	p := Preset{Name: "test", BaseDelay: time.Second, MaxDelay: time.Hour}

	for i := 0; i < 100; i++ {
		d := Delay(3, p)
		exp := 8 * time.Second
		if d < exp {
			t.Fatalf("delay %v below exponential %v", d, exp)
		}
		limit := exp + time.Duration(0.3*float64(exp)) + time.Millisecond
		if d > limit {
			t.Fatalf("delay %v above jitter limit %v", d, limit)
		}
	}
}

// TestDelayLinear verifies the linear preset grows by base per attempt.
func TestDelayLinear(t *testing.T) {
	p := Preset{Name: "linear", BaseDelay: 2 * time.Second, MaxDelay: 7 * time.Second, Linear: true}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 6 * time.Second},
		{3, 7 * time.Second}, // capped
		{10, 7 * time.Second},
	}

	for _, tc := range cases {
		if got := Delay(tc.attempt, p); got != tc.want {
			t.Errorf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}

// TestDelayLargeAttemptCapped verifies overflow-prone attempts return the cap.
func TestDelayLargeAttemptCapped(t *testing.T) {
	p := PresetConservative

	if got := Delay(100, p); got != p.MaxDelay {
		t.Errorf("expected cap %v for large attempt, got %v", p.MaxDelay, got)
	}
	if got := Delay(-1, p); got > p.MaxDelay {
		t.Errorf("expected negative attempt clamped, got %v", got)
	}
}

// TestPresetByName verifies preset resolution with the default fallback.
func TestPresetByName(t *testing.T) {
	if p := PresetByName("aggressive"); p.Name != "aggressive" {
		t.Errorf("expected aggressive preset, got %s", p.Name)
	}
	if p := PresetByName("linear"); !p.Linear {
		t.Error("expected linear preset to be linear")
	}
	if p := PresetByName("no-such-preset"); p.Name != "default" {
		t.Errorf("expected default fallback, got %s", p.Name)
	}
}
