package idempotency

import "github.com/google/uuid"

// NewKey returns a fresh idempotency key for clients to attach to a request.
// Any sufficiently unique string works as a key; this is a convenience for
// callers that do not mint their own.
func NewKey() string {
	return uuid.NewString()
}
