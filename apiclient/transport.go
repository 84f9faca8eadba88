package apiclient

import (
	"io"
	"net/http"
	"strconv"
	"time"
)

// retryStatuses are retried with backoff before the page loop ever sees the
// response. By the time Fetch classifies a 429 or 5xx, this budget is spent.
var retryStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

var idempotentMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
	http.MethodTrace:   true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
}

// retryTransport retries idempotent requests on 429/5xx and connection
// errors with capped exponential backoff, honoring Retry-After when the
// server's hint exceeds the computed delay.
type retryTransport struct {
	base        http.RoundTripper
	maxAttempts int
	backoff     time.Duration
	backoffMax  time.Duration
	metrics     *Metrics
}

func newRetryTransport(base http.RoundTripper, maxAttempts int, backoff, backoffMax time.Duration, metrics *Metrics) *retryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if backoff <= 0 {
		backoff = 600 * time.Millisecond
	}
	return &retryTransport{
		base:        base,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		backoffMax:  backoffMax,
		metrics:     metrics,
	}
}

func (rt *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	attempts := rt.maxAttempts
	if !idempotentMethods[req.Method] {
		attempts = 1
	}

	var resp *http.Response
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := rt.delay(attempt, resp)
			if resp != nil {
				// Discard the failed response before retrying.
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
			rt.metrics.IncRetries()
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(delay):
			}
		}

		resp, err = rt.base.RoundTrip(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, err
			}
			continue
		}
		if !retryStatuses[resp.StatusCode] {
			return resp, nil
		}
	}

	// Budget exhausted: hand the last response (or error) to the caller.
	return resp, err
}

// delay computes the capped exponential backoff for the given attempt,
// stretched to the server's Retry-After hint when that is longer.
func (rt *retryTransport) delay(attempt int, resp *http.Response) time.Duration {
	d := rt.backoff * time.Duration(1<<(attempt-1))
	if rt.backoffMax > 0 && d > rt.backoffMax {
		d = rt.backoffMax
	}
	if resp != nil {
		if hint := retryAfterDelay(resp.Header.Get("Retry-After")); hint > d {
			d = hint
			if rt.backoffMax > 0 && d > rt.backoffMax {
				d = rt.backoffMax
			}
		}
	}
	return d
}

// retryAfterDelay parses a Retry-After value as delta-seconds or HTTP-date.
func retryAfterDelay(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
