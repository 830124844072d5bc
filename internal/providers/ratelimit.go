package providers

import (
	"context"
	"math"
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter for remote providers.
type RateLimiter struct {
	mu sync.Mutex

	// Configuration
	rps      float64
	capacity float64

	// Token bucket state
	tokens     float64
	lastUpdate time.Time

	// Statistics
	totalConsumed int64
	totalWaited   time.Duration
	last429Time   time.Time
}

// RateLimiterStatus reports current limiter state.
type RateLimiterStatus struct {
	TokensAvailable int           `json:"tokens_available"`
	TokensLimit     int           `json:"tokens_limit"`
	Utilization     float64       `json:"utilization"`
	TimeUntilToken  time.Duration `json:"time_until_token"`
	TotalConsumed   int64         `json:"total_consumed"`
	TotalWaited     time.Duration `json:"total_waited"`
	Last429Time     time.Time     `json:"last_429_time,omitempty"`
}

// RateLimited is implemented by engines and clients that throttle themselves.
type RateLimited interface {
	RateLimiterStatus() RateLimiterStatus
}

// NewRateLimiter creates a limiter allowing rps requests per second,
// with a burst equal to one second of traffic.
func NewRateLimiter(rps float64) *RateLimiter {
	if rps <= 0 {
		rps = 10 // Default
	}
	capacity := math.Max(1, math.Ceil(rps))
	return &RateLimiter{
		rps:        rps,
		capacity:   capacity,
		tokens:     capacity,
		lastUpdate: time.Now(),
	}
}

// Wait blocks until a token is available or context is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill()

		if r.tokens >= 1.0 {
			r.tokens--
			r.totalConsumed++
			r.mu.Unlock()
			return nil
		}

		waitTime := r.timeUntilToken()
		r.mu.Unlock()

		// Wait outside lock
		timer := time.NewTimer(waitTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			r.mu.Lock()
			r.totalWaited += waitTime
			r.mu.Unlock()
		}
	}
}

// TryConsume attempts to consume a token without blocking.
func (r *RateLimiter) TryConsume() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()

	if r.tokens >= 1.0 {
		r.tokens--
		r.totalConsumed++
		return true
	}
	return false
}

// Record429 should be called when a 429 error is received.
// Drains the bucket if the provider asked us to back off.
func (r *RateLimiter) Record429(retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.last429Time = time.Now()
	if retryAfter > 0 {
		r.tokens = 0
	}
}

// Status returns current limiter status.
func (r *RateLimiter) Status() RateLimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()

	utilization := 1.0 - (r.tokens / r.capacity)
	if utilization < 0 {
		utilization = 0
	}

	var timeUntilToken time.Duration
	if r.tokens < 1.0 {
		timeUntilToken = r.timeUntilToken()
	}

	return RateLimiterStatus{
		TokensAvailable: int(r.tokens),
		TokensLimit:     int(r.capacity),
		Utilization:     utilization,
		TimeUntilToken:  timeUntilToken,
		TotalConsumed:   r.totalConsumed,
		TotalWaited:     r.totalWaited,
		Last429Time:     r.last429Time,
	}
}

// timeUntilToken must be called with lock held.
func (r *RateLimiter) timeUntilToken() time.Duration {
	tokensNeeded := 1.0 - r.tokens
	return time.Duration(tokensNeeded / r.rps * float64(time.Second))
}

// refill adds tokens based on elapsed time. Must be called with lock held.
func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastUpdate).Seconds()
	r.lastUpdate = now

	r.tokens += elapsed * r.rps
	if r.tokens > r.capacity {
		r.tokens = r.capacity
	}
}
