package retry

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"intelliconn/domain/model"
	"intelliconn/infrastructure/clock"
	"intelliconn/infrastructure/configuration"
	"intelliconn/infrastructure/logger"
)

// Policy is the backoff value object used by publishing and syncing.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	Jitter      float64 // fraction, 0.2 means +/-20%
	// UnknownCap bounds attempts when the failure is unknown_platform_error.
	UnknownCap int
}

// FromConfig builds the policy from configuration.
func FromConfig(c configuration.Retry) Policy {
	return Policy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay,
		Multiplier:  c.Multiplier,
		MaxDelay:    c.MaxDelay,
		Jitter:      c.Jitter,
		UnknownCap:  c.UnknownCap,
	}
}

// Backoff returns the delay after the attempt-th failure (1-based). u in
// [0,1) picks the jitter; 0.5 means none. The result never exceeds MaxDelay.
func (p Policy) Backoff(attempt int, u float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	d *= 1 + p.Jitter*(2*u-1)
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// AttemptsFor is the attempt budget for a failure kind; 1 means no retry.
func (p Policy) AttemptsFor(kind model.ErrorKind) int {
	if !kind.Retryable() {
		return 1
	}
	if kind == model.KindUnknownPlatform && p.UnknownCap > 0 && p.UnknownCap < p.MaxAttempts {
		return p.UnknownCap
	}
	return p.MaxAttempts
}

// Retrier runs an operation under a Policy.
type Retrier struct {
	Policy Policy
	Clock  clock.Clock
	Rand   func() float64

	mu sync.Mutex
}

func NewRetrier(p Policy, clk clock.Clock) *Retrier {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	r := &Retrier{Policy: p, Clock: clk}
	r.Rand = func() float64 {
		r.mu.Lock()
		defer r.mu.Unlock()
		return src.Float64()
	}
	return r
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempt budget for the last error's kind runs out. Delays are
// non-decreasing within one call and honor a larger platform Retry-After,
// still capped at MaxDelay.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (attempts int, err error) {
	var prev time.Duration
	for attempt := 1; ; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		kind := model.KindOf(err)
		if attempt >= r.Policy.AttemptsFor(kind) {
			return attempt, err
		}
		delay := r.Policy.Backoff(attempt, r.Rand())
		if hint := model.RetryAfterOf(err); hint > delay {
			delay = hint
		}
		if delay > r.Policy.MaxDelay {
			delay = r.Policy.MaxDelay
		}
		if delay < prev {
			delay = prev
		}
		prev = delay
		logger.GetLogger().WithField("attempt", attempt).WithField("kind", kind).WithField("delay", delay.String()).Warn("Retrying after failure")
		if sleepErr := r.Clock.Sleep(ctx, delay); sleepErr != nil {
			return attempt, err
		}
	}
}
