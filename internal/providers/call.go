package providers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
)

// Policy controls how a provider call is paced and retried.
type Policy struct {
	Limiter    *RateLimiter
	MaxRetries int
	RetryDelay time.Duration
	Logger     *slog.Logger
	Name       string
}

// Call runs fn under the policy's limiter and retries rate limits, 5xx
// answers and transport failures with exponential backoff. Other provider
// errors return immediately.
func Call[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := uint(max(p.MaxRetries, 0) + 1)
	delay := p.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}

	return retry.DoWithData(
		func() (T, error) {
			if p.Limiter != nil {
				if err := p.Limiter.Wait(ctx); err != nil {
					var zero T
					return zero, retry.Unrecoverable(err)
				}
			}
			out, err := fn(ctx)
			if rle, ok := IsRateLimitError(err); ok && p.Limiter != nil {
				p.Limiter.Record429(rle.RetryAfter)
			}
			return out, err
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(Retryable),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("retrying provider call", "provider", p.Name, "attempt", n+1, "error", err)
		}),
	)
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrInvalidRequest) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if _, ok := IsRateLimitError(err); ok {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= http.StatusInternalServerError
	}
	return true
}
