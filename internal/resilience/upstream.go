package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// ErrRedirectLoop marks a fetch that exceeded the redirect depth limit.
// Retrying an unresolvable redirect chain just burns the backoff budget
// again, so it is always non-retryable.
var ErrRedirectLoop = errors.New("redirect depth exceeded")

// ErrNonRetryable marks an error the caller knows is permanent regardless of
// what any checker would decide.
var ErrNonRetryable = errors.New("error is not retryable")

// HTTPStatusError reports a non-2xx upstream response. Fetchers return it
// instead of a formatted string so retryability can be decided on the code.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("upstream %s returned HTTP %d", e.URL, e.StatusCode)
}

// FeedErrorChecker is the retryability rule for upstream ICS calendar feed
// fetches. Transient network conditions and server-side
// failures retry; client errors, redirect loops, and cancellation do not.
// Unrecognized errors are treated as permanent: for a feed fetch that runs
// again on the next tick anyway, a wasted backoff costs more than a skipped
// retry.
type FeedErrorChecker struct{}

// IsRetryable implements RetryableErrorChecker.
func (FeedErrorChecker) IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrNonRetryable), errors.Is(err, ErrRedirectLoop):
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		code := statusErr.StatusCode
		return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch {
		case errors.Is(opErr.Err, syscall.ECONNREFUSED),
			errors.Is(opErr.Err, syscall.ECONNRESET),
			errors.Is(opErr.Err, syscall.ENETUNREACH),
			errors.Is(opErr.Err, syscall.EHOSTUNREACH):
			return true
		}
	}

	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) {
		return timeoutErr.Timeout()
	}

	return false
}

// classifyError maps an error to the error_type label on
// calendar2image_retry_attempts_total.
func classifyError(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.Canceled):
		return "context_cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "context_deadline"
	case errors.Is(err, ErrRedirectLoop):
		return "redirect_loop"
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusTooManyRequests {
			return "rate_limit"
		}
		return "http_status"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "network"
	}

	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return "timeout"
	}

	return "unknown"
}
