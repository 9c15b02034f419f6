package idempotency

import "context"

// Storage defines the contract any persistence engine must satisfy so the
// request orchestration is decoupled from where records live.
//
// Keys are composite: namespace selects which backend instance/partition to
// use, encodedKey is an opaque fingerprint supplied by the caller. The store
// never inspects or derives either.
//
// Implementations must be safe for concurrent use; each operation is a
// single independently-visible read or write with no internal locking across
// calls. Retrieve followed by Store is therefore not atomic — see
// ConditionalStorage for the race-free reservation path.
type Storage interface {
	// Store writes a record for the key, overwriting any existing one and
	// refreshing its write timestamp. The payload may be the reservation
	// placeholder or a completed response; no uniqueness check is performed.
	Store(ctx context.Context, namespace, encodedKey string, payload Payload) error

	// Retrieve reads the record for the key. It returns found=false if no
	// record exists, or if the record is an abandoned reservation (still
	// unresolved past the configured TTL) — in that case the stale record is
	// deleted as a side effect before returning. A fresh reservation is
	// returned with found=true, signaling an in-flight request.
	Retrieve(ctx context.Context, namespace, encodedKey string) (Record, bool, error)

	// Delete removes the record for the key. Deleting a nonexistent key is
	// not an error.
	Delete(ctx context.Context, namespace, encodedKey string) error

	// Validate checks at startup that the named namespace is properly
	// configured, so misconfiguration surfaces at boot rather than on the
	// first request. A failure should abort process startup.
	Validate(ctx context.Context, namespace string) error
}

// ConditionalStorage is an optional extension for backends that can perform
// an atomic insert-if-absent. Composing Retrieve and Store leaves a window
// where two concurrent first-time requests both observe an absent record and
// both proceed; StoreIfAbsent closes it at the backend level.
type ConditionalStorage interface {
	Storage

	// StoreIfAbsent writes the record only if no live record exists for the
	// key, reporting whether the write happened. An abandoned reservation
	// counts as absent and is replaced.
	StoreIfAbsent(ctx context.Context, namespace, encodedKey string, payload Payload) (bool, error)
}
