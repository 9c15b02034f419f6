package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// plainStorage hides the ConditionalStorage extension of the wrapped backend
// so the coordinator's non-atomic fallback path can be exercised.
type plainStorage struct {
	inner Storage
}

func (p plainStorage) Store(ctx context.Context, ns, key string, payload Payload) error {
	return p.inner.Store(ctx, ns, key, payload)
}

func (p plainStorage) Retrieve(ctx context.Context, ns, key string) (Record, bool, error) {
	return p.inner.Retrieve(ctx, ns, key)
}

func (p plainStorage) Delete(ctx context.Context, ns, key string) error {
	return p.inner.Delete(ctx, ns, key)
}

func (p plainStorage) Validate(ctx context.Context, ns string) error {
	return p.inner.Validate(ctx, ns)
}

func TestCoordinator_Protocol(t *testing.T) {
	storages := map[string]func() Storage{
		"conditional": func() Storage { return NewMemoryStorage(time.Minute) },
		"plain":       func() Storage { return plainStorage{inner: NewMemoryStorage(time.Minute)} },
	}

	for name, newStorage := range storages {
		t.Run(name, func(t *testing.T) {
			coord := NewCoordinator(newStorage())
			ctx := context.Background()

			// First sight: proceed, slot now reserved.
			decision, stored, err := coord.Check(ctx, "cache", "key1")
			require.NoError(t, err)
			assert.Equal(t, DecisionProceed, decision)
			assert.Nil(t, stored)

			// Same request again while in flight.
			decision, _, err = coord.Check(ctx, "cache", "key1")
			require.NoError(t, err)
			assert.Equal(t, DecisionInFlight, decision)

			// Completion turns duplicates into conflicts carrying the response.
			require.NoError(t, coord.Complete(ctx, "cache", "key1", completedResponse(201)))
			decision, stored, err = coord.Check(ctx, "cache", "key1")
			require.NoError(t, err)
			assert.Equal(t, DecisionConflict, decision)
			require.NotNil(t, stored)
			assert.Equal(t, 201, stored.StatusCode)

			// Abort frees the key for a fresh attempt.
			require.NoError(t, coord.Abort(ctx, "cache", "key1"))
			decision, _, err = coord.Check(ctx, "cache", "key1")
			require.NoError(t, err)
			assert.Equal(t, DecisionProceed, decision)
		})
	}
}

func TestCoordinator_ReservationRegressesAfterTTL(t *testing.T) {
	storage := NewMemoryStorage(5 * time.Second)
	coord := NewCoordinator(storage)
	ctx := context.Background()

	start := time.Now()
	storage.now = func() time.Time { return start }

	decision, _, err := coord.Check(ctx, "cache", "key1")
	require.NoError(t, err)
	require.Equal(t, DecisionProceed, decision)

	// The holder crashed; after the TTL a retry gets the slot.
	storage.now = func() time.Time { return start.Add(6 * time.Second) }
	decision, _, err = coord.Check(ctx, "cache", "key1")
	require.NoError(t, err)
	assert.Equal(t, DecisionProceed, decision)
}

func TestCoordinator_Do(t *testing.T) {
	coord := NewCoordinator(NewMemoryStorage(time.Minute))
	ctx := context.Background()

	calls := 0
	run := func(context.Context) (*Response, error) {
		calls++
		return completedResponse(201), nil
	}

	decision, resp, err := coord.Do(ctx, "cache", "key1", run)
	require.NoError(t, err)
	assert.Equal(t, DecisionProceed, decision)
	require.NotNil(t, resp)
	assert.Equal(t, 201, resp.StatusCode)
	assert.Equal(t, 1, calls)

	// A duplicate does not re-run the function.
	decision, resp, err = coord.Do(ctx, "cache", "key1", run)
	require.NoError(t, err)
	assert.Equal(t, DecisionConflict, decision)
	require.NotNil(t, resp)
	assert.Equal(t, 201, resp.StatusCode)
	assert.Equal(t, 1, calls)
}

func TestCoordinator_DoAbortsOnFailure(t *testing.T) {
	coord := NewCoordinator(NewMemoryStorage(time.Minute))
	ctx := context.Background()

	boom := errors.New("handler failed")
	_, _, err := coord.Do(ctx, "cache", "key1", func(context.Context) (*Response, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	// The failed attempt must not block a retry.
	decision, _, err := coord.Check(ctx, "cache", "key1")
	require.NoError(t, err)
	assert.Equal(t, DecisionProceed, decision)
}
