package news

import (
	"errors"
	"fmt"
)

// ErrQuotaExceeded aborts an attempt immediately when the provider's daily
// request cap is exhausted. It is fatal for the attempt but eligible for
// retry under the job envelope's backoff schedule.
var ErrQuotaExceeded = errors.New("daily request quota exceeded")

// ErrNotFound is returned by stores when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// TransportError wraps a connection-level failure that survived the client's
// internal retries.
type TransportError struct {
	Provider ProviderType
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport error: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RateLimitedError signals an upstream HTTP 429. Unlike other application
// statuses it is surfaced to the caller so the job envelope can back off.
type RateLimitedError struct {
	Provider ProviderType
	Message  string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Message)
}
