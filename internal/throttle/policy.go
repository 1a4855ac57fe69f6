package throttle

import (
	"math"
	"math/rand/v2"
	"time"

	"papersift/internal/config"
	"papersift/internal/oracle"
)

// Policy computes retry delays and retry decisions.
type Policy struct {
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	JitterFraction       float64
	MaxAttempts          int
	MaxMalformedAttempts int
	// Rand returns a value in [0,1). Nil uses math/rand/v2.
	Rand func() float64
}

// PolicyFromConfig builds a Policy from the throttle and dispatch sections.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		BaseDelay:            cfg.BaseDelay(),
		MaxDelay:             cfg.MaxDelay(),
		JitterFraction:       cfg.Throttle.JitterFraction,
		MaxAttempts:          cfg.Dispatch.MaxAttempts,
		MaxMalformedAttempts: cfg.Dispatch.MaxMalformedAttempts,
	}
}

// History summarizes the attempts already made for a record, including the
// one that just failed.
type History struct {
	Attempts  int
	Malformed int
}

// Decision is the outcome of Decide.
type Decision struct {
	Retry  bool
	Kind   oracle.Kind
	Delay  time.Duration
	Reason string
}

// NextDelay returns the wait before retrying after the given 1-based attempt
// failed with kind. A positive retryAfter from the server replaces the
// computed backoff for rate-limited failures. The result never exceeds
// MaxDelay and is non-decreasing in attempt.
func (p Policy) NextDelay(attempt int, kind oracle.Kind, retryAfter time.Duration) time.Duration {
	if kind == oracle.KindRateLimited && retryAfter > 0 {
		return p.capDelay(float64(retryAfter))
	}
	if attempt < 1 {
		attempt = 1
	}
	exp := math.Pow(2, float64(attempt-1))
	jitter := 0.0
	if p.JitterFraction > 0 {
		jitter = p.random() * math.Min(p.JitterFraction, 1)
	}
	return p.capDelay(float64(p.BaseDelay) * exp * (1 + jitter))
}

func (p Policy) capDelay(delay float64) time.Duration {
	if p.MaxDelay > 0 && (delay > float64(p.MaxDelay) || math.IsInf(delay, 1)) {
		return p.MaxDelay
	}
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}

func (p Policy) random() float64 {
	if p.Rand != nil {
		return p.Rand()
	}
	return rand.Float64()
}

// Decide classifies err and reports whether the record gets another attempt.
func (p Policy) Decide(history History, err error) Decision {
	kind := oracle.KindOf(err)
	decision := Decision{Kind: kind}

	switch kind {
	case oracle.KindPermanent:
		decision.Reason = "permanent failure"
		return decision
	case oracle.KindMalformed:
		if history.Malformed >= p.MaxMalformedAttempts {
			decision.Reason = "malformed response limit reached"
			return decision
		}
	}
	if history.Attempts >= p.MaxAttempts {
		decision.Reason = "attempt limit reached"
		return decision
	}

	decision.Retry = true
	decision.Delay = p.NextDelay(history.Attempts, kind, oracle.RetryAfterOf(err))
	decision.Reason = "retry scheduled"
	return decision
}
