package resilience

import (
	"strings"

	"modelgate/internal/domain"
)

// ErrorTracker is the port the retry wrapper reports classified attempt
// failures to. The concrete sink (analytics store, Sentry-shaped service,
// whatever the deployment wires up) lives outside this package — spec §1
// names error tracking as an external collaborator the core only consumes
// through its interface.
type ErrorTracker interface {
	TrackError(record domain.ErrorRecord)
}

// NoopErrorTracker discards every record; used where no tracker is wired.
type NoopErrorTracker struct{}

func (NoopErrorTracker) TrackError(domain.ErrorRecord) {}

// Classify applies domain.ClassifyHTTPStatus, the pure function required by
// spec §8.5: idempotent, and its retry set is exactly
// {RateLimit, Timeout, ServiceUnavailable, network}. "network" is not an
// HTTP status; callers classify network faults (connection refused/reset,
// broken pipe, context deadline from a dial) as ErrServiceUnavailable
// before calling Classify, the way ClassifyNetworkError below does.
func Classify(status int) domain.ErrorKind {
	return domain.ClassifyHTTPStatus(status)
}

// ClassifyNetworkError maps a transport-level failure (no HTTP status was
// ever received) onto the retry set. Anything not recognized as a
// connection-level fault is reported unclassified (kind == "") so the
// caller's retry policy treats it as non-retryable rather than masking an
// unrelated bug as a transient one.
func ClassifyNetworkError(err error) domain.ErrorKind {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "i/o timeout") {
		return domain.ErrTimeout
	}
	for _, marker := range []string{
		"connection refused", "connection reset", "broken pipe",
		"no such host", "network is unreachable",
	} {
		if strings.Contains(msg, marker) {
			return domain.ErrServiceUnavailable
		}
	}
	return ""
}
