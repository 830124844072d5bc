package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// EngineFailure records why a single engine produced no text.
// The pipeline absorbs these as long as another engine succeeds.
type EngineFailure struct {
	Engine string
	Err    error
}

func (e *EngineFailure) Error() string {
	return fmt.Sprintf("engine %s failed: %v", e.Engine, e.Err)
}

func (e *EngineFailure) Unwrap() error { return e.Err }

// RateLimitError is returned when a provider answers 429.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
	StatusCode int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// APIError is a non-success HTTP status from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s error (status %d)", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsRetryable reports whether err is worth another attempt:
// rate limits, server-side failures, and transport timeouts.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusRequestTimeout
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// parseRetryAfter parses a Retry-After header given in seconds or as an HTTP date.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// statusError converts a non-200 response into a typed error.
func statusError(provider string, resp *http.Response, message string) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{
			Message:    fmt.Sprintf("%s rate limited: %s", provider, message),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			StatusCode: resp.StatusCode,
		}
	}
	return &APIError{Provider: provider, StatusCode: resp.StatusCode, Message: message}
}
