package idempotency

import (
	"context"
	"errors"
)

// Decision is the outcome of checking an incoming request against the store.
type Decision int

const (
	// DecisionProceed means no prior record existed; a reservation now holds
	// the slot and the caller should execute the handler.
	DecisionProceed Decision = iota
	// DecisionConflict means the request duplicates one that already
	// completed; the stored response is available.
	DecisionConflict
	// DecisionInFlight means the request duplicates one that is still being
	// processed (a fresh reservation holds the slot).
	DecisionInFlight
)

func (d Decision) String() string {
	switch d {
	case DecisionProceed:
		return "proceed"
	case DecisionConflict:
		return "conflict"
	case DecisionInFlight:
		return "in-flight"
	default:
		return "unknown"
	}
}

// Coordinator realizes the duplicate-request protocol on top of a Storage:
// reserve on first sight, report conflicts for completed duplicates, report
// in-flight duplicates while a fresh reservation holds the slot, and release
// the slot on failure so a retry is not permanently blocked.
type Coordinator struct {
	storage Storage
}

// NewCoordinator creates a coordinator over the given storage backend.
func NewCoordinator(storage Storage) *Coordinator {
	return &Coordinator{storage: storage}
}

// Check classifies the request and, when it is first of its kind, claims the
// slot with a reservation.
//
// Backends implementing ConditionalStorage claim atomically. Otherwise the
// claim is a separate read then write, so two concurrent first-time requests
// with the same key can both be told to proceed; that window is inherent to
// composing Retrieve and Store and is closed only by a conditional backend.
func (c *Coordinator) Check(ctx context.Context, namespace, encodedKey string) (Decision, *Response, error) {
	if cs, ok := c.storage.(ConditionalStorage); ok {
		stored, err := cs.StoreIfAbsent(ctx, namespace, encodedKey, NewReservation())
		if err != nil {
			return DecisionProceed, nil, err
		}
		if stored {
			return DecisionProceed, nil, nil
		}
		// Lost the claim; fall through to inspect the holder.
	}

	rec, found, err := c.storage.Retrieve(ctx, namespace, encodedKey)
	if err != nil {
		return DecisionProceed, nil, err
	}
	if !found {
		// Either this is the non-atomic path, or the holder vanished between
		// the failed conditional claim and this read. Claim and proceed.
		if err := c.storage.Store(ctx, namespace, encodedKey, NewReservation()); err != nil {
			return DecisionProceed, nil, err
		}
		return DecisionProceed, nil, nil
	}
	if rec.Payload.Reserved() {
		return DecisionInFlight, nil, nil
	}
	return DecisionConflict, rec.Payload.Response, nil
}

// Complete stores the final response for the key, resolving its reservation.
func (c *Coordinator) Complete(ctx context.Context, namespace, encodedKey string, resp *Response) error {
	return c.storage.Store(ctx, namespace, encodedKey, NewCompleted(resp))
}

// Abort releases the slot after a failed or cancelled execution so a retry
// with the same key is not blocked until the reservation expires.
func (c *Coordinator) Abort(ctx context.Context, namespace, encodedKey string) error {
	return c.storage.Delete(ctx, namespace, encodedKey)
}

// Do runs fn under the protocol: on a duplicate it returns the decision
// without executing fn; otherwise it executes fn, aborting the reservation
// if fn fails and completing it with fn's response on success.
func (c *Coordinator) Do(ctx context.Context, namespace, encodedKey string, fn func(context.Context) (*Response, error)) (Decision, *Response, error) {
	decision, stored, err := c.Check(ctx, namespace, encodedKey)
	if err != nil {
		return decision, nil, err
	}
	if decision != DecisionProceed {
		return decision, stored, nil
	}

	resp, err := fn(ctx)
	if err != nil {
		if abortErr := c.Abort(ctx, namespace, encodedKey); abortErr != nil {
			return DecisionProceed, nil, errors.Join(err, abortErr)
		}
		return DecisionProceed, nil, err
	}
	if err := c.Complete(ctx, namespace, encodedKey, resp); err != nil {
		return DecisionProceed, resp, err
	}
	return DecisionProceed, resp, nil
}
