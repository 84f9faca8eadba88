package apiclient

import (
	"errors"
	"fmt"
)

// ErrAuth indicates an HTTP 401; never retried.
type ErrAuth struct {
	Err error
}

func (e ErrAuth) Error() string {
	return fmt.Errorf("unauthorized: %w", e.Err).Error()
}

func (e ErrAuth) Unwrap() error {
	return e.Err
}

// ErrRateLimited indicates an HTTP 429 surfaced after the transport's retry
// budget was exhausted. RetryAfter carries the raw Retry-After header value,
// possibly empty.
type ErrRateLimited struct {
	RetryAfter string
	Err        error
}

func (e ErrRateLimited) Error() string {
	return fmt.Errorf("rate limited (Retry-After=%q): %w", e.RetryAfter, e.Err).Error()
}

func (e ErrRateLimited) Unwrap() error {
	return e.Err
}

// ErrTransport indicates any other >=400 response or a connection/DNS
// failure. Excerpt holds at most bodyExcerptLimit bytes of the body.
type ErrTransport struct {
	Status  int
	Excerpt string
	Err     error
}

func (e ErrTransport) Error() string {
	if e.Err != nil {
		return fmt.Errorf("transport: %w", e.Err).Error()
	}
	return fmt.Sprintf("api status %d: %s", e.Status, e.Excerpt)
}

func (e ErrTransport) Unwrap() error {
	return e.Err
}

// ErrMalformedResponse indicates a 2xx body that failed to parse as JSON.
type ErrMalformedResponse struct {
	Err error
}

func (e ErrMalformedResponse) Error() string {
	return fmt.Errorf("malformed response: %w", e.Err).Error()
}

func (e ErrMalformedResponse) Unwrap() error {
	return e.Err
}

// ErrConfig indicates the request could not be built; raised before any I/O.
type ErrConfig struct {
	Reason string
}

func (e ErrConfig) Error() string {
	return "api config: " + e.Reason
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var auth ErrAuth
	if errors.As(err, &auth) {
		return "auth"
	}
	var rate ErrRateLimited
	if errors.As(err, &rate) {
		return "rate_limited"
	}
	var malformed ErrMalformedResponse
	if errors.As(err, &malformed) {
		return "malformed"
	}
	var transport ErrTransport
	if errors.As(err, &transport) {
		return "transport"
	}
	var cfg ErrConfig
	if errors.As(err, &cfg) {
		return "config"
	}
	return "other"
}
