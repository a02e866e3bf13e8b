package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestClassifyHTTPError(t *testing.T) {
	tests := []struct {
		status    int
		wantType  ErrorType
		retryable bool
		message   string
	}{
		{429, ErrorTypeRateLimit, true, "HTTP 429"},
		{408, ErrorTypeTimeout, true, "HTTP 408"},
		{500, ErrorTypeServer, true, "HTTP 500"},
		{503, ErrorTypeServer, true, "HTTP 503"},
		{404, ErrorTypeClient, false, "HTTP 404"},
		{400, ErrorTypeClient, false, "HTTP 400"},
		{302, ErrorTypeUnknown, false, "unexpected status code: 302"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			err := ClassifyHTTPError(tt.status)
			if err.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", err.Type, tt.wantType)
			}
			if err.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", err.Retryable, tt.retryable)
			}
			if err.Error() != tt.message {
				t.Errorf("Error() = %q, want %q", err.Error(), tt.message)
			}
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassifyTransportError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantType ErrorType
	}{
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), ErrorTypeTimeout},
		{"net timeout", &net.OpError{Op: "read", Err: timeoutErr{}}, ErrorTypeTimeout},
		{"connection reset", errors.New("connection reset by peer"), ErrorTypeNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fe *FetchError
			if !errors.As(ClassifyTransportError(tt.err), &fe) {
				t.Fatalf("ClassifyTransportError() did not return a FetchError")
			}
			if fe.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", fe.Type, tt.wantType)
			}
			if !fe.Retryable {
				t.Error("transport errors should be retryable")
			}
		})
	}

	if got := ClassifyTransportError(context.Canceled); !errors.Is(got, context.Canceled) {
		t.Errorf("cancellation should pass through, got %v", got)
	}
	if ClassifyTransportError(nil) != nil {
		t.Error("nil error should stay nil")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"server", NewServerError(500), true},
		{"empty payload", NewEmptyPayloadError(), false},
		{"client", NewClientError(404), false},
		{"wrapped timeout", fmt.Errorf("attempt 2: %w", NewTimeoutError(context.DeadlineExceeded)), true},
		{"plain error", errors.New("boom"), true},
		{"canceled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFetchError_Unwrap(t *testing.T) {
	err := NewTimeoutError(context.DeadlineExceeded)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("errors.Is should reach the cause")
	}
	if got, want := err.Error(), "timeout: context deadline exceeded"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
