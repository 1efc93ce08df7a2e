package ratelimit

import (
	"context"
	"sync"
	"time"

	"intelliconn/domain/model"
	"intelliconn/infrastructure/clock"
	"intelliconn/infrastructure/configuration"
	"intelliconn/infrastructure/logger"

	"golang.org/x/time/rate"
)

// Limit is one platform's token bucket.
type Limit struct {
	PerSecond float64
	Burst     int
}

// Registry holds one limiter per platform, shared by every publish and sync
// task for that platform. A rate_limited response puts the whole platform
// into a cooldown that all callers wait out.
type Registry struct {
	clock clock.Clock

	mu       sync.Mutex
	limiters map[model.Platform]*rate.Limiter
	cooldown map[model.Platform]time.Time
	fallback Limit
}

func NewRegistry(clk clock.Clock, limits map[model.Platform]Limit) *Registry {
	r := &Registry{
		clock:    clk,
		limiters: make(map[model.Platform]*rate.Limiter, len(limits)),
		cooldown: make(map[model.Platform]time.Time),
		fallback: Limit{PerSecond: 1, Burst: 1},
	}
	for p, l := range limits {
		r.limiters[p] = rate.NewLimiter(rate.Limit(l.PerSecond), l.Burst)
	}
	return r
}

// FromConfig builds limits for every known platform.
func FromConfig(clk clock.Clock, c configuration.Platforms) *Registry {
	limits := make(map[model.Platform]Limit, len(model.AllPlatforms))
	for _, p := range model.AllPlatforms {
		pc := c.Platform(string(p))
		limits[p] = Limit{PerSecond: pc.RatePerSec, Burst: pc.Burst}
	}
	return NewRegistry(clk, limits)
}

func (r *Registry) limiter(p model.Platform) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[p]
	if !ok {
		l = rate.NewLimiter(rate.Limit(r.fallback.PerSecond), r.fallback.Burst)
		r.limiters[p] = l
	}
	return l
}

// Wait blocks until a permit for p is available or ctx is done.
func (r *Registry) Wait(ctx context.Context, p model.Platform) error {
	if until := r.CooldownUntil(p); !until.IsZero() {
		if d := until.Sub(r.clock.Now()); d > 0 {
			if err := r.clock.Sleep(ctx, d); err != nil {
				return err
			}
		}
	}
	return r.limiter(p).Wait(ctx)
}

// Penalize extends p's shared cooldown by d from now. A shorter penalty
// never shortens an existing cooldown.
func (r *Registry) Penalize(p model.Platform, d time.Duration) {
	if d <= 0 {
		return
	}
	until := r.clock.Now().Add(d)
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.cooldown[p]; ok && cur.After(until) {
		return
	}
	r.cooldown[p] = until
	logger.GetLogger().WithField("platform", p).WithField("until", until).Warn("Platform rate limited, cooling down")
}

// CooldownUntil returns the end of p's cooldown, zero when none.
func (r *Registry) CooldownUntil(p model.Platform) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	until, ok := r.cooldown[p]
	if !ok {
		return time.Time{}
	}
	if !until.After(r.clock.Now()) {
		delete(r.cooldown, p)
		return time.Time{}
	}
	return until
}
