package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStreamTruncated means the stream ended without a terminal chunk.
	ErrStreamTruncated = errors.New("llm: stream ended without a terminal chunk")

	// ErrIdleTimeout means the provider went silent longer than the idle limit.
	ErrIdleTimeout = errors.New("llm: no chunk within the idle timeout")

	// ErrNotConfigured is returned by a gateway built without credentials.
	ErrNotConfigured = errors.New("llm: provider not configured")
)

// ErrRateLimit indicates the provider returned a rate limit error (429).
type ErrRateLimit struct {
	RetryAfter time.Duration
	Err        error
}

func (e *ErrRateLimit) Error() string {
	return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
}

func (e *ErrRateLimit) Unwrap() error { return e.Err }

// ErrProviderUnavailable indicates the provider is down or unreachable.
type ErrProviderUnavailable struct {
	Err error
}

func (e *ErrProviderUnavailable) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("LLM provider unavailable: %v", e.Err)
	}
	return "LLM provider unavailable"
}

func (e *ErrProviderUnavailable) Unwrap() error { return e.Err }

// ErrInvalidResponse indicates the provider answered with an unusable payload
// or rejected the request as malformed.
type ErrInvalidResponse struct {
	Status int
	Err    error
}

func (e *ErrInvalidResponse) Error() string {
	return fmt.Sprintf("invalid LLM response: %v", e.Err)
}

func (e *ErrInvalidResponse) Unwrap() error { return e.Err }

// Retriable reports whether a failed unary call may be retried.
func Retriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrNotConfigured) {
		return false
	}
	var inv *ErrInvalidResponse
	if errors.As(err, &inv) {
		return false
	}
	// rate limits, provider outages, per-attempt deadlines and transport errors
	return true
}

// Unavailable reports whether err means the provider could not serve the call.
func Unavailable(err error) bool {
	var rl *ErrRateLimit
	var pu *ErrProviderUnavailable
	return errors.As(err, &rl) || errors.As(err, &pu) ||
		errors.Is(err, ErrIdleTimeout) || errors.Is(err, ErrStreamTruncated) ||
		errors.Is(err, ErrNotConfigured) || errors.Is(err, context.DeadlineExceeded)
}
