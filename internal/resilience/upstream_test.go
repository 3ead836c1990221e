package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutError struct{}

func (timeoutError) Error() string { return "i/o timeout" }
func (timeoutError) Timeout() bool { return true }

func TestFeedErrorChecker_IsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil error", nil, false},
		{"redirect loop", fmt.Errorf("fetch: %w", ErrRedirectLoop), false},
		{"explicitly non-retryable", fmt.Errorf("bad feed: %w", ErrNonRetryable), false},
		{"context cancelled", context.Canceled, false},
		{"context deadline", context.DeadlineExceeded, true},
		{"http 500", &HTTPStatusError{StatusCode: 500, URL: "http://x"}, true},
		{"http 503 wrapped", fmt.Errorf("fetch: %w", &HTTPStatusError{StatusCode: 503}), true},
		{"http 429", &HTTPStatusError{StatusCode: 429}, true},
		{"http 408", &HTTPStatusError{StatusCode: 408}, true},
		{"http 404", &HTTPStatusError{StatusCode: 404}, false},
		{"http 401", &HTTPStatusError{StatusCode: 401}, false},
		{"connection refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, true},
		{"connection reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, true},
		{"host unreachable", &net.OpError{Op: "dial", Err: syscall.EHOSTUNREACH}, true},
		{"temporary dns failure", &net.DNSError{IsTemporary: true}, true},
		{"permanent dns failure", &net.DNSError{IsNotFound: true}, false},
		{"timeout interface", timeoutError{}, true},
		{"unknown error is permanent", errors.New("something odd"), false},
	}

	checker := FeedErrorChecker{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, checker.IsRetryable(tt.err))
		})
	}
}

func TestHTTPStatusError_Message(t *testing.T) {
	err := &HTTPStatusError{StatusCode: 502, URL: "https://example.com/cal.ics"}
	assert.Equal(t, "upstream https://example.com/cal.ics returned HTTP 502", err.Error())
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "none"},
		{"cancelled", context.Canceled, "context_cancelled"},
		{"deadline", context.DeadlineExceeded, "context_deadline"},
		{"redirect loop", fmt.Errorf("x: %w", ErrRedirectLoop), "redirect_loop"},
		{"rate limited", &HTTPStatusError{StatusCode: 429}, "rate_limit"},
		{"server error", &HTTPStatusError{StatusCode: 500}, "http_status"},
		{"dns", &net.DNSError{}, "dns"},
		{"network", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, "network"},
		{"timeout", timeoutError{}, "timeout"},
		{"unknown", errors.New("weird"), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyError(tt.err))
		})
	}
}
