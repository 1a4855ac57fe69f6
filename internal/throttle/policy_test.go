package throttle_test

import (
	"errors"
	"testing"
	"time"

	"papersift/internal/oracle"
	"papersift/internal/throttle"
)

func testPolicy(random float64) throttle.Policy {
	return throttle.Policy{
		BaseDelay:            100 * time.Millisecond,
		MaxDelay:             5 * time.Second,
		JitterFraction:       0.5,
		MaxAttempts:          3,
		MaxMalformedAttempts: 2,
		Rand:                 func() float64 { return random },
	}
}

func TestNextDelayGrowsExponentially(t *testing.T) {
	policy := testPolicy(0)
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}
	for i, expected := range want {
		if got := policy.NextDelay(i+1, oracle.KindTransient, 0); got != expected {
			t.Fatalf("attempt %d: got %v want %v", i+1, got, expected)
		}
	}
}

func TestNextDelayAppliesJitterAndCap(t *testing.T) {
	policy := testPolicy(0.5)
	if got := policy.NextDelay(1, oracle.KindTransient, 0); got != 125*time.Millisecond {
		t.Fatalf("expected 25%% jitter on base delay, got %v", got)
	}
	if got := policy.NextDelay(40, oracle.KindTransient, 0); got != 5*time.Second {
		t.Fatalf("expected cap, got %v", got)
	}
	if got := policy.NextDelay(2000, oracle.KindTransient, 0); got != 5*time.Second {
		t.Fatalf("expected cap for huge attempt, got %v", got)
	}
}

func TestNextDelayIsMonotonic(t *testing.T) {
	// Alternate extreme jitter draws; the delay must still never shrink.
	draws := []float64{0.999, 0, 0.999, 0, 0.999, 0, 0.999, 0, 0.999, 0, 0.999, 0}
	i := 0
	policy := testPolicy(0)
	policy.JitterFraction = 1
	policy.Rand = func() float64 {
		v := draws[i%len(draws)]
		i++
		return v
	}
	for _, kind := range []oracle.Kind{oracle.KindTransient, oracle.KindRateLimited, oracle.KindMalformed} {
		var prev time.Duration
		for attempt := 1; attempt <= 12; attempt++ {
			delay := policy.NextDelay(attempt, kind, 0)
			if delay < prev {
				t.Fatalf("%s attempt %d: delay %v below previous %v", kind, attempt, delay, prev)
			}
			if delay > policy.MaxDelay {
				t.Fatalf("%s attempt %d: delay %v above cap", kind, attempt, delay)
			}
			prev = delay
		}
	}
}

func TestNextDelayHonorsRetryAfter(t *testing.T) {
	policy := testPolicy(0)
	if got := policy.NextDelay(1, oracle.KindRateLimited, 3*time.Second); got != 3*time.Second {
		t.Fatalf("expected retry-after hint, got %v", got)
	}
	if got := policy.NextDelay(1, oracle.KindRateLimited, time.Minute); got != 5*time.Second {
		t.Fatalf("expected capped hint, got %v", got)
	}
	if got := policy.NextDelay(1, oracle.KindTransient, 3*time.Second); got != 100*time.Millisecond {
		t.Fatalf("hint only applies to rate limits, got %v", got)
	}
}

func TestDecideAppliesTaxonomy(t *testing.T) {
	policy := testPolicy(0)
	tests := []struct {
		name    string
		history throttle.History
		err     error
		retry   bool
		kind    oracle.Kind
	}{
		{"transient first", throttle.History{Attempts: 1}, oracle.NewError(oracle.KindTransient, "timeout", nil), true, oracle.KindTransient},
		{"transient last", throttle.History{Attempts: 3}, oracle.NewError(oracle.KindTransient, "timeout", nil), false, oracle.KindTransient},
		{"rate limited", throttle.History{Attempts: 2}, oracle.NewError(oracle.KindRateLimited, "429", nil), true, oracle.KindRateLimited},
		{"unknown error", throttle.History{Attempts: 1}, errors.New("connection reset"), true, oracle.KindTransient},
		{"malformed first", throttle.History{Attempts: 1, Malformed: 1}, oracle.NewError(oracle.KindMalformed, "bad json", nil), true, oracle.KindMalformed},
		{"malformed cap", throttle.History{Attempts: 2, Malformed: 2}, oracle.NewError(oracle.KindMalformed, "bad json", nil), false, oracle.KindMalformed},
		{"permanent", throttle.History{Attempts: 1}, oracle.NewError(oracle.KindPermanent, "empty", nil), false, oracle.KindPermanent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			decision := policy.Decide(tc.history, tc.err)
			if decision.Retry != tc.retry || decision.Kind != tc.kind {
				t.Fatalf("got %+v, want retry=%v kind=%s", decision, tc.retry, tc.kind)
			}
			if decision.Retry && decision.Delay <= 0 {
				t.Fatalf("expected positive delay, got %v", decision.Delay)
			}
		})
	}
}

func TestDecideBoundsAlwaysTransientRecord(t *testing.T) {
	policy := testPolicy(0)
	calls := 0
	history := throttle.History{}
	for {
		calls++
		history.Attempts++
		if !policy.Decide(history, oracle.NewError(oracle.KindTransient, "timeout", nil)).Retry {
			break
		}
		if calls > 10 {
			t.Fatal("retry loop did not terminate")
		}
	}
	if calls != policy.MaxAttempts {
		t.Fatalf("expected exactly %d calls, got %d", policy.MaxAttempts, calls)
	}
}
