package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// StableAfter is how long a connection must stay up before a drop is treated
// as a fresh failure rather than a continuation of the previous one.
const StableAfter = 2 * time.Second

// Policy describes a bounded exponential backoff used by the reconnect loops.
// It is immutable after construction.
type Policy struct {
	Initial time.Duration // delay before the first retry
	Max     time.Duration // cap for growth
	Factor  float64       // growth per attempt
}

// DefaultPolicy returns 1s initial, x1.5 growth, 30s cap.
func DefaultPolicy() Policy {
	return Policy{Initial: time.Second, Max: 30 * time.Second, Factor: 1.5}
}

// NewPolicy builds a policy from raw config fields; zero/invalid values fall back to defaults.
func NewPolicy(initial, maxDelay time.Duration, factor float64) Policy {
	p := DefaultPolicy()
	if initial > 0 {
		p.Initial = initial
	}
	if maxDelay > 0 {
		p.Max = maxDelay
	}
	if factor >= 1 {
		p.Factor = factor
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// Delay returns the backoff delay for the given retry attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	eb := p.exponential()
	d := eb.NextBackOff()
	for i := 1; i < attempt && d < p.Max; i++ {
		d = eb.NextBackOff()
	}
	return d
}

// exponential builds a deterministic, never-expiring backoff for p.
func (p Policy) exponential() *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Initial
	eb.MaxInterval = p.Max
	eb.Multiplier = p.Factor
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}

// Validate ensures invariants; returns error if the policy is impossible to apply.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("initial must be >0")
	}
	if p.Max <= 0 {
		return fmt.Errorf("max must be >0")
	}
	if p.Factor < 1 {
		return fmt.Errorf("factor must be >=1")
	}
	return nil
}

// Backoff tracks consecutive failures against a Policy.
type Backoff struct {
	eb      *backoff.ExponentialBackOff
	attempt int
}

// NewBackoff returns a tracker starting with no failures.
func NewBackoff(p Policy) *Backoff {
	return &Backoff{eb: p.exponential()}
}

// Next records a failure and returns how long to wait before retrying.
func (b *Backoff) Next() time.Duration {
	b.attempt++
	return b.eb.NextBackOff()
}

// Attempt returns the number of consecutive failures recorded.
func (b *Backoff) Attempt() int { return b.attempt }

// Reset clears the failure count after a successful connect.
func (b *Backoff) Reset() {
	b.attempt = 0
	b.eb.Reset()
}

// Sleep waits for d or until ctx is done. It reports false when ctx ended first.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
