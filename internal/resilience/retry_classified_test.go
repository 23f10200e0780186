package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"modelgate/internal/domain"
)

type recordingTracker struct {
	records []domain.ErrorRecord
}

func (t *recordingTracker) TrackError(r domain.ErrorRecord) {
	t.records = append(t.records, r)
}

func TestRetryClassified(t *testing.T) {
	t.Run("success on first attempt", func(t *testing.T) {
		config := ClassifiedRetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
		attempts := 0

		result, err := RetryClassified(context.Background(), config, 1, 2, nil,
			func(ctx context.Context, attempt int) (string, error) {
				attempts++
				return "ok", nil
			})

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if result != "ok" {
			t.Errorf("expected result %q, got %q", "ok", result)
		}
		if attempts != 1 {
			t.Errorf("expected 1 attempt, got %d", attempts)
		}
	})

	t.Run("retries rate limit then service unavailable then succeeds", func(t *testing.T) {
		config := ClassifiedRetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
		tracker := &recordingTracker{}
		statuses := []int{429, 503, 200}
		attempt := 0

		result, err := RetryClassified(context.Background(), config, 1, 2, tracker,
			func(ctx context.Context, a int) (int, error) {
				status := statuses[attempt]
				attempt++
				if status == 200 {
					return status, nil
				}
				return 0, domain.NewGatewayError(domain.ClassifyHTTPStatus(status), status, "transient", nil)
			})

		if err != nil {
			t.Fatalf("expected eventual success, got %v", err)
		}
		if result != 200 {
			t.Errorf("expected 200, got %d", result)
		}
		if attempt != 3 {
			t.Errorf("expected 3 attempts, got %d", attempt)
		}
		if len(tracker.records) != 2 {
			t.Fatalf("expected 2 tracked records, got %d", len(tracker.records))
		}
		if tracker.records[0].Kind != domain.ErrRateLimit {
			t.Errorf("expected first record kind %q, got %q", domain.ErrRateLimit, tracker.records[0].Kind)
		}
		if tracker.records[1].Kind != domain.ErrServiceUnavailable {
			t.Errorf("expected second record kind %q, got %q", domain.ErrServiceUnavailable, tracker.records[1].Kind)
		}
	})

	t.Run("non-retryable kind fails fast without retrying", func(t *testing.T) {
		config := ClassifiedRetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
		attempts := 0

		_, err := RetryClassified(context.Background(), config, 1, 2, nil,
			func(ctx context.Context, a int) (string, error) {
				attempts++
				return "", domain.NewGatewayError(domain.ErrModelNotFound, 404, "no such model", nil)
			})

		if err == nil {
			t.Fatal("expected an error")
		}
		if attempts != 1 {
			t.Errorf("expected exactly 1 attempt for a non-retryable kind, got %d", attempts)
		}
	})

	t.Run("exhausts retries and surfaces the last classified error", func(t *testing.T) {
		config := ClassifiedRetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
		attempts := 0

		_, err := RetryClassified(context.Background(), config, 1, 2, nil,
			func(ctx context.Context, a int) (string, error) {
				attempts++
				return "", domain.NewGatewayError(domain.ErrServiceUnavailable, 503, "down", nil)
			})

		if err == nil {
			t.Fatal("expected an error")
		}
		if attempts != config.MaxRetries+1 {
			t.Errorf("expected %d attempts, got %d", config.MaxRetries+1, attempts)
		}
		var ge *domain.GatewayError
		if !errors.As(err, &ge) {
			t.Fatalf("expected a *domain.GatewayError, got %T", err)
		}
		if ge.Attempt != config.MaxRetries+1 {
			t.Errorf("expected Attempt %d, got %d", config.MaxRetries+1, ge.Attempt)
		}
	})

	t.Run("respects context cancellation during backoff", func(t *testing.T) {
		config := ClassifiedRetryConfig{MaxRetries: 5, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second}
		ctx, cancel := context.WithCancel(context.Background())

		go func() {
			time.Sleep(5 * time.Millisecond)
			cancel()
		}()

		_, err := RetryClassified(ctx, config, 1, 2, nil,
			func(ctx context.Context, a int) (string, error) {
				return "", domain.NewGatewayError(domain.ErrServiceUnavailable, 503, "down", nil)
			})

		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}
