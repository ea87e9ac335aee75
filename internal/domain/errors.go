package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by adapters, the event processor and the payout workflow.
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrProviderUnavailable  = errors.New("provider unavailable")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrNotFound             = errors.New("not found")
	ErrNotApproved          = errors.New("payout not approved")
	ErrAnomalousTransition  = errors.New("anomalous transition")
	ErrTransitionDeferred   = errors.New("transition deferred")
)

// ProviderError wraps a failed outbound provider call with the taxonomy kind.
// errors.Is(err, ErrProviderUnavailable) and friends match through Kind.
type ProviderError struct {
	Provider   Provider
	Op         string
	Kind       error
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: %v (status %d): %v", e.Provider, e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Provider, e.Op, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// OutcomeUnknown reports whether the provider may have acted even though the call failed.
// Callers must reconcile through events rather than retrying the charge.
func (e *ProviderError) OutcomeUnknown() bool {
	return errors.Is(e.Kind, ErrProviderUnavailable)
}

// ClassifyHTTPStatus maps a provider HTTP status to the taxonomy.
func ClassifyHTTPStatus(status int) error {
	switch {
	case status == 401 || status == 403:
		return ErrAuthenticationFailed
	case status == 408 || status == 429 || status >= 500:
		return ErrProviderUnavailable
	case status >= 400:
		return ErrInvalidRequest
	}
	return nil
}
