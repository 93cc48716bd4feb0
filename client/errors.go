package client

import (
	"errors"
	"fmt"
)

// Sentinel errors for the upstream client. Callers branch with errors.Is.
var (
	// ErrRateLimited signals the upstream returned a 429-class response.
	ErrRateLimited = errors.New("upstream rate limit exceeded")

	// ErrBreakerOpen signals the call was rejected without network I/O
	// because the circuit breaker is open.
	ErrBreakerOpen = errors.New("upstream circuit breaker open")

	// ErrServiceUnavailable signals the upstream is degraded and no stale
	// fallback within the staleness ceiling was available.
	ErrServiceUnavailable = errors.New("upstream unavailable and no stale data")

	// ErrCooldownActive signals a per-entity fetch was declined because the
	// entity's cooldown interval has not elapsed. A deferral, not a failure.
	ErrCooldownActive = errors.New("entity cooldown active")
)

// UpstreamError wraps a failed upstream call with its endpoint and HTTP
// status for logging and classification.
type UpstreamError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream %s returned %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s failed: %v", e.Endpoint, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
