package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"modelgate/internal/domain"
)

// ClassifiedRetryConfig is the spec §4.2 retry schedule:
// delay = initial * 2^(attempt-1) + U(0, 0.2*delay), clamped to max-delay,
// honoring the upstream Retry-After header when the provider sends one.
type ClassifiedRetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	LogEvents    bool
}

// ClassifiedAttempt is what a single dispatch attempt reports back to
// RetryClassified: either a usable result, or a *domain.GatewayError the
// classifier can act on.
type ClassifiedAttempt[T any] func(ctx context.Context, attempt int) (T, error)

// RetryClassified runs fn up to config.MaxRetries additional times,
// retrying only kinds in {RateLimit, Timeout, ServiceUnavailable} or an
// unclassified network fault, and reports every retried attempt to
// tracker with (keyID, providerID, kind, status, attempt) per spec §4.2.
// After the final attempt, the last classified error is returned with its
// Attempt field set.
func RetryClassified[T any](
	ctx context.Context,
	config ClassifiedRetryConfig,
	keyID, providerID int64,
	tracker ErrorTracker,
	fn ClassifiedAttempt[T],
) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= config.MaxRetries+1; attempt++ {
		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		ge, _ := domain.AsGatewayError(err)
		var kind domain.ErrorKind
		status := 0
		if ge != nil {
			kind = ge.Kind
			status = ge.Status
		}
		if kind == "" {
			kind = ClassifyNetworkError(err)
		}

		if !kind.Retryable() || attempt > config.MaxRetries {
			if ge != nil {
				ge.Attempt = attempt
			}
			return zero, lastErr
		}

		if tracker != nil {
			tracker.TrackError(domain.ErrorRecord{
				KeyID:         keyID,
				ProviderID:    providerID,
				Kind:          kind,
				HTTPStatus:    status,
				AttemptIndex:  attempt,
			})
		}

		delay := classifiedBackoff(attempt, config.InitialDelay, config.MaxDelay)
		if ge != nil && ge.RetryAfter > 0 {
			delay = ge.RetryAfter
		}

		if config.LogEvents {
			slog.Debug("retrying provider dispatch", "kind", kind, "attempt", attempt, "delay", delay)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// classifiedBackoff implements initial*2^(attempt-1) + U(0, 0.2*delay),
// clamped to max. attempt is 1-indexed (the first retry is attempt 2 in
// RetryClassified's loop, so the exponent uses attempt-1 measured from the
// first retry: exponent = attempt-1 yields 2^0 on the first retry).
func classifiedBackoff(attempt int, initial, max time.Duration) time.Duration {
	delay := time.Duration(float64(initial) * math.Pow(2, float64(attempt-1)))
	if delay > max {
		delay = max
	}
	jitter := time.Duration(rand.Float64() * 0.2 * float64(delay))
	delay += jitter
	if delay > max {
		delay = max
	}
	return delay
}
