package idempotency

import (
	"errors"
	"fmt"
)

// StoreError represents a storage-specific error
type StoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	// ErrCodeBackendMisconfigured means a named namespace/backend could not
	// be resolved. Raised at startup by Validate; treat as fatal.
	ErrCodeBackendMisconfigured = "backend_misconfigured"
	// ErrCodeBackendUnavailable means a storage operation could not complete,
	// e.g. the shared cache is unreachable. Propagated, never swallowed: the
	// caller decides whether to fail the request or proceed without
	// deduplication guarantees.
	ErrCodeBackendUnavailable = "backend_unavailable"
)

// NewStoreError creates a new store error
func NewStoreError(code, message string, err error) *StoreError {
	return &StoreError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ErrMissingKey is reported when a request that requires an idempotency key
// presents none. The store is never consulted in that case.
var ErrMissingKey = errors.New("idempotency key missing")
