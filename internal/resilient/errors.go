package resilient

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rioncm/birdsong-go/internal/errors"
)

// ErrorKind classifies a provider failure for retry and caching
// decisions.
type ErrorKind string

const (
	// KindTransient covers timeouts, 429 and 5xx responses. Retried,
	// and counted toward the circuit breaker on exhaustion.
	KindTransient ErrorKind = "transient"
	// KindNotFound means the provider confirmed there is no match.
	// Cached as a negative entry, never retried.
	KindNotFound ErrorKind = "not-found"
	// KindPermanent covers malformed responses and auth failures.
	// Not retried this cycle.
	KindPermanent ErrorKind = "permanent"
	// KindCircuitOpen means the call was rejected without any network
	// attempt because the provider's circuit is open.
	KindCircuitOpen ErrorKind = "circuit-open"
)

// ProviderError is the error type returned by Caller.Call. It carries
// the provider key and failure kind so callers can decide how to
// degrade.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Err      error

	// RetryAfter is an optional provider-supplied backoff hint,
	// typically parsed from a 429 Retry-After header. When set it is
	// used in place of the computed backoff delay.
	RetryAfter time.Duration

	// Cached is true when the error was served from the negative
	// cache without a network attempt.
	Cached bool
}

// Error implements the error interface.
func (pe *ProviderError) Error() string {
	if pe.Err == nil {
		return fmt.Sprintf("%s: %s", pe.Provider, pe.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", pe.Provider, pe.Kind, pe.Err)
}

// Unwrap returns the underlying error.
func (pe *ProviderError) Unwrap() error {
	return pe.Err
}

// Retryable reports whether the failure should be retried.
func (pe *ProviderError) Retryable() bool {
	return pe.Kind == KindTransient
}

// Transient builds a retryable provider error.
func Transient(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindTransient, Err: err}
}

// NotFound builds a confirmed-no-match provider error.
func NotFound(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindNotFound, Err: err}
}

// Permanent builds a non-retryable provider error.
func Permanent(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindPermanent, Err: err}
}

// IsNotFound reports whether err is a not-found provider error.
func IsNotFound(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == KindNotFound
}

// IsCircuitOpen reports whether err is a circuit-open rejection.
func IsCircuitOpen(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == KindCircuitOpen
}

// FromHTTPStatus classifies an HTTP response status into a provider
// error. The retryAfter hint is honored for 429 responses.
func FromHTTPStatus(provider string, status int, retryAfter time.Duration) *ProviderError {
	err := errors.Newf("unexpected status %d", status).
		Component(provider).
		Category(categoryForStatus(status)).
		Context("status_code", status).
		Build()

	switch {
	case status == http.StatusNotFound:
		return NotFound(provider, err)
	case status == http.StatusTooManyRequests:
		pe := Transient(provider, err)
		pe.RetryAfter = retryAfter
		return pe
	case status >= 500:
		return Transient(provider, err)
	default:
		return Permanent(provider, err)
	}
}

// RetryAfter parses an HTTP Retry-After header value, either a delay
// in seconds or an HTTP date. Returns 0 when the value is absent or
// unparseable.
func RetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// Classify maps an arbitrary error from a request function onto a
// ProviderError. Deadline expiry counts as transient so the breaker
// sees degraded providers; caller-side cancellation does not, matching
// the breaker's accounting.
func Classify(provider string, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.Canceled) {
		return Permanent(provider, err)
	}
	return Transient(provider, err)
}

func categoryForStatus(status int) errors.ErrorCategory {
	switch {
	case status == http.StatusNotFound:
		return errors.CategoryNotFound
	case status == http.StatusTooManyRequests:
		return errors.CategoryLimit
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return errors.CategoryConfiguration
	case status >= 500:
		return errors.CategoryNetwork
	default:
		return errors.CategoryNetwork
	}
}
