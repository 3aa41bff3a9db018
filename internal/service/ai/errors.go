package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Category classifies upstream failures.
type Category string

const (
	CategoryRateLimit Category = "rate_limit"
	CategoryQuota     Category = "quota"
	CategoryUpstream  Category = "upstream"
	CategoryNetwork   Category = "network"
)

var (
	// ErrInvalidRequest marks a request that cannot be composed.
	ErrInvalidRequest = errors.New("invalid completion request")
	// ErrNotConfigured is returned when no upstream credentials are set.
	ErrNotConfigured = errors.New("ai upstream not configured")

	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrQuotaExhausted = errors.New("ai credits exhausted")
	ErrUpstream       = errors.New("upstream request failed")
)

// User-facing failure texts.
const (
	RateLimitedMessage    = "Rate limit exceeded. Please try again later."
	QuotaExhaustedMessage = "AI credits exhausted. Please add more credits."
	UpstreamMessage       = "Failed to get AI response"
)

// TransportError is a failed upstream call. Status is zero for network
// errors; Body holds the upstream error text when one was returned.
type TransportError struct {
	Category Category
	Status   int
	Body     string
	Err      error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("ai upstream %s (status %d): %v", e.Category, e.Status, e.Err)
	}
	return fmt.Sprintf("ai upstream %s: %v", e.Category, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Message returns the user-facing text for the failure.
func (e *TransportError) Message() string {
	switch e.Category {
	case CategoryRateLimit:
		return RateLimitedMessage
	case CategoryQuota:
		return QuotaExhaustedMessage
	default:
		return UpstreamMessage
	}
}

// statusError classifies a non-2xx upstream response.
func statusError(status int, body string) *TransportError {
	switch status {
	case http.StatusTooManyRequests:
		return &TransportError{Category: CategoryRateLimit, Status: status, Body: body, Err: ErrRateLimited}
	case http.StatusPaymentRequired:
		return &TransportError{Category: CategoryQuota, Status: status, Body: body, Err: ErrQuotaExhausted}
	default:
		return &TransportError{Category: CategoryUpstream, Status: status, Body: body, Err: ErrUpstream}
	}
}

func networkError(err error) *TransportError {
	return &TransportError{Category: CategoryNetwork, Err: err}
}

// UserMessage maps any completion error onto the text shown to users.
func UserMessage(err error) string {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Message()
	}
	return UpstreamMessage
}

// WrapStreamError classifies an error raised while reading a stream body.
// Context errors and TransportErrors pass through; anything else is a
// network failure.
func WrapStreamError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return networkError(err)
}
