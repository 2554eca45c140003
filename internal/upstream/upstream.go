// Package upstream classifies failures from the hosting platform and the
// analysis backends into a small set of error kinds callers branch on with
// errors.Is.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrUnavailable covers transport failures, rate limiting and 5xx
	// responses. Callers may retry.
	ErrUnavailable = errors.New("upstream unavailable")
	// ErrAuth is an expired or invalid credential. Never retried.
	ErrAuth = errors.New("authentication failed")
	// ErrConflict means a write carried a stale revision token.
	ErrConflict = errors.New("revision conflict")
	// ErrNotFound is a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrInvalidResponse is a reply that could not be understood.
	ErrInvalidResponse = errors.New("invalid upstream response")
)

// Error is a classified upstream failure.
type Error struct {
	Service string
	Status  int
	Kind    error
	Message string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Service)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Kind }

// KindForStatus maps an HTTP status to an error kind, or nil for success codes.
func KindForStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrAuth
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusConflict:
		return ErrConflict
	case status == http.StatusTooManyRequests, status >= 500:
		return ErrUnavailable
	default:
		return ErrInvalidResponse
	}
}

// FromStatus builds a classified error for a non-2xx status. It returns nil
// for 2xx.
func FromStatus(service string, status int, body []byte) error {
	kind := KindForStatus(status)
	if kind == nil {
		return nil
	}
	return &Error{Service: service, Status: status, Kind: kind, Message: truncate(strings.TrimSpace(string(body)), 300)}
}

// FromResponse classifies resp. A 403 whose rate limit is exhausted is
// reported as unavailable rather than an auth failure.
func FromResponse(service string, resp *http.Response, body []byte) error {
	if resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0" {
		return &Error{Service: service, Status: resp.StatusCode, Kind: ErrUnavailable, Message: "rate limit exceeded"}
	}
	return FromStatus(service, resp.StatusCode, body)
}

// Transport wraps a network-level failure. Context cancellation is passed
// through untouched so callers can still detect it.
func Transport(service string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &Error{Service: service, Kind: ErrUnavailable, Message: err.Error()}
}

// Invalid reports a response that could not be decoded.
func Invalid(service, format string, a ...any) error {
	return &Error{Service: service, Kind: ErrInvalidResponse, Message: fmt.Sprintf(format, a...)}
}

// Retryable reports whether err is worth retrying.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// RetryWithBackoff calls fn until it succeeds, returns a non-retryable error,
// or maxRetries retries have been spent. Backoff doubles from base.
func RetryWithBackoff(ctx context.Context, maxRetries int, base time.Duration, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil || !Retryable(lastErr) {
			return lastErr
		}
		if attempt < maxRetries {
			backoff := base * time.Duration(1<<uint(attempt))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
