package providers

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket sized to one second of requests.
type RateLimiter struct {
	mu sync.Mutex

	rps   float64
	burst float64
	now   func() time.Time

	tokens     float64
	lastUpdate time.Time
	// blockedUntil is set by a 429 with Retry-After.
	blockedUntil time.Time

	totalConsumed int64
	totalWaited   time.Duration
	last429Time   time.Time
}

// RateLimiterStatus reports current limiter state.
type RateLimiterStatus struct {
	RequestsPerSecond float64       `json:"requests_per_second"`
	TokensAvailable   float64       `json:"tokens_available"`
	TotalConsumed     int64         `json:"total_consumed"`
	TotalWaited       time.Duration `json:"total_waited"`
	Last429Time       time.Time     `json:"last_429_time,omitempty"`
}

// NewRateLimiter creates a limiter allowing rps requests per second.
func NewRateLimiter(rps float64) *RateLimiter {
	return newRateLimiter(rps, time.Now)
}

func newRateLimiter(rps float64, now func() time.Time) *RateLimiter {
	if rps <= 0 {
		rps = 1
	}
	burst := max(rps, 1)
	return &RateLimiter{
		rps:        rps,
		burst:      burst,
		now:        now,
		tokens:     burst,
		lastUpdate: now(),
	}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		wait, ok := r.reserve()
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			r.mu.Lock()
			r.totalWaited += wait
			r.mu.Unlock()
		}
	}
}

// TryConsume takes a token without blocking.
func (r *RateLimiter) TryConsume() bool {
	_, ok := r.reserve()
	return ok
}

func (r *RateLimiter) reserve() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Before(r.blockedUntil) {
		return r.blockedUntil.Sub(now), false
	}
	r.refill(now)
	if r.tokens >= 1 {
		r.tokens--
		r.totalConsumed++
		return 0, true
	}
	need := (1 - r.tokens) / r.rps
	return time.Duration(need * float64(time.Second)), false
}

// Record429 drains the bucket and, when retryAfter is set, holds every
// caller until it has passed.
func (r *RateLimiter) Record429(retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.last429Time = now
	r.tokens = 0
	if retryAfter > 0 {
		r.blockedUntil = now.Add(retryAfter)
	}
}

// Status returns current limiter state.
func (r *RateLimiter) Status() RateLimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill(r.now())
	return RateLimiterStatus{
		RequestsPerSecond: r.rps,
		TokensAvailable:   r.tokens,
		TotalConsumed:     r.totalConsumed,
		TotalWaited:       r.totalWaited,
		Last429Time:       r.last429Time,
	}
}

func (r *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed <= 0 {
		return
	}
	r.lastUpdate = now
	r.tokens = min(r.burst, r.tokens+elapsed*r.rps)
}
