package gitlab

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter gates outbound GitLab API calls
type RateLimiter interface {
	Wait(ctx context.Context) error
	CheckLimit() (remaining int, resetTime time.Time, err error)
	UpdateLimit(remaining int, resetTime time.Time)
}

const (
	// GitLab.com allows 2000 authenticated API requests per minute.
	defaultRemaining = 2000
	lowRemaining     = 10
)

// gitlabRateLimiter implements RateLimiter for the GitLab API.
// The token bucket is shared by every goroutine using the client, so the
// aggregate request rate never exceeds one call per minInterval.
type gitlabRateLimiter struct {
	mu        sync.Mutex
	remaining int
	resetTime time.Time
	bucket    *rate.Limiter
	logger    *slog.Logger
}

// NewRateLimiter creates a new rate limiter allowing one request per minInterval.
// A non-positive interval disables spacing; remaining/reset bookkeeping still applies.
func NewRateLimiter(minInterval time.Duration) RateLimiter {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &gitlabRateLimiter{
		remaining: defaultRemaining,
		resetTime: time.Now().Add(time.Minute),
		bucket:    rate.NewLimiter(limit, 1),
		logger:    slog.Default(),
	}
}

// Wait waits until it's safe to make another API call
func (r *gitlabRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	if r.remaining <= lowRemaining {
		waitDuration := time.Until(r.resetTime)
		if waitDuration > 0 {
			r.logger.Warn("rate limit low, waiting for reset",
				"remaining", r.remaining, "wait", waitDuration.Round(time.Second))
			r.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitDuration):
			}
			r.mu.Lock()
		}
		r.remaining = defaultRemaining
		r.resetTime = time.Now().Add(time.Minute)
	}
	r.mu.Unlock()

	return r.bucket.Wait(ctx)
}

// CheckLimit returns the current rate limit status
func (r *gitlabRateLimiter) CheckLimit() (remaining int, resetTime time.Time, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remaining, r.resetTime, nil
}

// UpdateLimit updates the rate limit from API response headers
func (r *gitlabRateLimiter) UpdateLimit(remaining int, resetTime time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remaining = remaining
	r.resetTime = resetTime
}
