package ratelimit

import "context"

// RateLimiter throttles transport calls per sender address so one process
// cannot burn a sender's provider quota in a burst.
type RateLimiter interface {
	Allow(ctx context.Context, sender string) (bool, error)
	Wait(ctx context.Context, sender string) error
}

// Unlimited is the no-op limiter used when no redis backend is configured.
type Unlimited struct{}

func (Unlimited) Allow(ctx context.Context, sender string) (bool, error) { return true, nil }

func (Unlimited) Wait(ctx context.Context, sender string) error { return ctx.Err() }
