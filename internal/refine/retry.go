package refine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	DefaultAttempts   = 3
	DefaultRetryDelay = time.Second
	maxRetryDelay     = 30 * time.Second
)

type retryRefiner struct {
	next     Refiner
	attempts uint
	delay    time.Duration
	logger   *slog.Logger
}

// WithRetry retries retryable RefinementErrors with exponential backoff.
// Unrefined results are returned as-is; they are not errors.
func WithRetry(next Refiner, attempts int, delay time.Duration, logger *slog.Logger) Refiner {
	if attempts < 1 {
		attempts = DefaultAttempts
	}
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &retryRefiner{next: next, attempts: uint(attempts), delay: delay, logger: logger}
}

func (r *retryRefiner) Refine(ctx context.Context, fused string) (*Result, error) {
	var (
		result *Result
		tries  int
	)
	err := retry.Do(
		func() error {
			tries++
			res, err := r.next.Refine(ctx, fused)
			if err != nil {
				return err
			}
			result = res
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.MaxDelay(maxRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warn("retrying refinement", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	result.Attempts = tries
	return result, nil
}

func isRetryable(err error) bool {
	var refErr *RefinementError
	return errors.As(err, &refErr) && refErr.Retryable
}
