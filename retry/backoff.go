// Package retry implements the fixed per-task retry policy: a bounded
// number of retries with exponential backoff, where every failure kind is
// retried and only cancellation short-circuits.
package retry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/types"
)

// Policy controls retry behaviour for one task slot.
//
// Every failure kind is retried identically, including content-safety
// refusals. Retrying a safety block rarely succeeds, but distinguishing
// failure kinds here would change observable behaviour; revisit together
// with the dispatcher if that ever changes.
type Policy struct {
	MaxRetries int           // retries after the first attempt
	BaseDelay  time.Duration // wait before retry n is BaseDelay << (n-1)
}

// DefaultPolicy returns the fixed production policy: 3 retries
// (4 attempts total) with 1s, 2s, 4s backoff.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: time.Second}
}

// Wait returns the backoff delay before the given retry (1-based).
func (p Policy) Wait(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	return p.BaseDelay << (retry - 1)
}

// Do runs fn up to MaxRetries+1 times. Cancellation observed before an
// attempt, during a backoff wait, or surfaced by fn itself short-circuits
// immediately: Do returns ctx.Err() with no further waits or attempts.
func Do[T any](ctx context.Context, policy Policy, logger *zap.Logger, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxRetries+1; attempt++ {
		if attempt > 1 {
			delay := policy.Wait(attempt - 1)
			logger.Debug("retrying after backoff",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", policy.MaxRetries+1),
				zap.Duration("delay", delay),
				zap.String("error_code", string(types.GetErrorCode(lastErr))),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Debug("retry succeeded", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		// An in-flight attempt aborted by cancellation is not a failure
		// outcome; do not burn retries or report it.
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if types.GetErrorCode(err) == types.ErrContentFiltered {
			logger.Warn("attempt blocked by safety filter", zap.Int("attempt", attempt), zap.Error(err))
		}
		lastErr = err
	}

	logger.Warn("retries exhausted",
		zap.Int("attempts", policy.MaxRetries+1),
		zap.Error(lastErr),
	)
	return zero, lastErr
}
