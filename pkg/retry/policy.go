package retry

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ErrMaxRetriesExceeded is returned once every attempt allowed by the policy has failed.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Policy describes how many times and how patiently an operation is retried.
type Policy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Jitter is the fraction (0..1) of each backoff that is randomised.
	Jitter float64
	// RetryableFunc overrides the default error classification when set.
	RetryableFunc func(error) bool
}

// DefaultPolicy suits short RPC reads.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2,
		Jitter:         0.2,
	}
}

// Validate checks the policy for values that would make the retrier misbehave.
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0, got %d", p.MaxRetries)
	}
	if p.InitialBackoff < 0 || p.MaxBackoff < 0 {
		return fmt.Errorf("backoff durations must be >= 0")
	}
	if p.MaxBackoff > 0 && p.InitialBackoff > p.MaxBackoff {
		return fmt.Errorf("initial backoff %s exceeds max backoff %s", p.InitialBackoff, p.MaxBackoff)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1, got %f", p.Multiplier)
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return fmt.Errorf("jitter must be within [0,1], got %f", p.Jitter)
	}
	return nil
}

// Backoff computes exponential delays for a policy.
type Backoff struct {
	policy Policy
}

func NewBackoff(policy Policy) *Backoff {
	return &Backoff{policy: policy}
}

// Calculate returns the delay before the given attempt (1-based).
func (b *Backoff) Calculate(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(b.policy.InitialBackoff) * math.Pow(b.policy.Multiplier, float64(attempt-1))
	if b.policy.MaxBackoff > 0 && delay > float64(b.policy.MaxBackoff) {
		delay = float64(b.policy.MaxBackoff)
	}
	if b.policy.Jitter > 0 {
		spread := delay * b.policy.Jitter
		delay = delay - spread + rand.Float64()*2*spread
	}
	return time.Duration(delay)
}
