package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces idempotency records on co-tenanted Redis instances.
const keyPrefix = "idempotency:"

// RedisStorage implements Storage on top of externally managed, named Redis
// instances, so multiple server processes can share idempotency state.
//
// Each namespace maps to one client in the set passed at construction; the
// caller owns the client lifecycle. Resolution happens against that injected
// set, never a process-global registry, and Validate should be called for
// every configured namespace at startup so a misnamed cache fails the boot
// instead of silently double-processing requests.
//
// Reservations are written with a native Redis expiry of ttl, so abandoned
// reservations cannot accumulate server-side even if no one reads the key
// again. Completed records carry no expiry; they live until deleted or
// evicted by the instance's own policy.
type RedisStorage struct {
	clients map[string]redis.UniversalClient
	ttl     time.Duration
}

// NewRedisStorage creates a shared-cache store over the given named clients.
// ttl is the maximum age an unresolved reservation may reach before it is
// treated as abandoned.
func NewRedisStorage(clients map[string]redis.UniversalClient, ttl time.Duration) *RedisStorage {
	return &RedisStorage{clients: clients, ttl: ttl}
}

// Store writes the record, overwriting any existing one. Reservations get a
// native expiry of ttl; storing the completed response clears it.
func (s *RedisStorage) Store(ctx context.Context, namespace, encodedKey string, payload Payload) error {
	client, err := s.client(namespace)
	if err != nil {
		return err
	}
	val, err := marshalRecord(payload)
	if err != nil {
		return err
	}
	if err := client.Set(ctx, keyPrefix+encodedKey, val, reservationExpiry(payload, s.ttl)).Err(); err != nil {
		return NewStoreError(ErrCodeBackendUnavailable, "store failed", err)
	}
	return nil
}

// Retrieve reads the record. Stale reservations that outlived their native
// expiry (for example written by an older deployment without one) are
// reclaimed here; so are entries that no longer unmarshal.
func (s *RedisStorage) Retrieve(ctx context.Context, namespace, encodedKey string) (Record, bool, error) {
	client, err := s.client(namespace)
	if err != nil {
		return Record{}, false, err
	}
	val, err := client.Get(ctx, keyPrefix+encodedKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, NewStoreError(ErrCodeBackendUnavailable, "retrieve failed", err)
	}

	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		// Corrupt entry: drop it rather than wedging the key.
		if err := client.Del(ctx, keyPrefix+encodedKey).Err(); err != nil {
			return Record{}, false, NewStoreError(ErrCodeBackendUnavailable, "reclaim failed", err)
		}
		return Record{}, false, nil
	}
	if rec.stale(s.ttl, time.Now()) {
		if err := client.Del(ctx, keyPrefix+encodedKey).Err(); err != nil {
			return Record{}, false, NewStoreError(ErrCodeBackendUnavailable, "reclaim failed", err)
		}
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Delete removes the record. Deleting a nonexistent key is a no-op.
func (s *RedisStorage) Delete(ctx context.Context, namespace, encodedKey string) error {
	client, err := s.client(namespace)
	if err != nil {
		return err
	}
	if err := client.Del(ctx, keyPrefix+encodedKey).Err(); err != nil {
		return NewStoreError(ErrCodeBackendUnavailable, "delete failed", err)
	}
	return nil
}

// Validate resolves the named instance and pings it. Call this for every
// configured namespace at startup and abort on failure.
func (s *RedisStorage) Validate(ctx context.Context, namespace string) error {
	client, err := s.client(namespace)
	if err != nil {
		return err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return NewStoreError(ErrCodeBackendMisconfigured,
			fmt.Sprintf("redis instance for namespace %q is unreachable", namespace), err)
	}
	return nil
}

// StoreIfAbsent claims the key with SET NX. Because reservations expire
// natively, an abandoned reservation does not block the claim once its ttl
// has passed.
func (s *RedisStorage) StoreIfAbsent(ctx context.Context, namespace, encodedKey string, payload Payload) (bool, error) {
	client, err := s.client(namespace)
	if err != nil {
		return false, err
	}
	val, err := marshalRecord(payload)
	if err != nil {
		return false, err
	}
	stored, err := client.SetNX(ctx, keyPrefix+encodedKey, val, reservationExpiry(payload, s.ttl)).Result()
	if err != nil {
		return false, NewStoreError(ErrCodeBackendUnavailable, "conditional store failed", err)
	}
	return stored, nil
}

func (s *RedisStorage) client(namespace string) (redis.UniversalClient, error) {
	client, ok := s.clients[namespace]
	if !ok {
		return nil, NewStoreError(ErrCodeBackendMisconfigured,
			fmt.Sprintf("no redis instance configured for namespace %q", namespace), nil)
	}
	return client, nil
}

func marshalRecord(payload Payload) ([]byte, error) {
	val, err := json.Marshal(Record{Payload: payload, WrittenAt: time.Now().UTC()})
	if err != nil {
		return nil, NewStoreError(ErrCodeBackendUnavailable, "encode record failed", err)
	}
	return val, nil
}

// reservationExpiry returns the native expiry for a write: ttl for
// reservations, none for completed records.
func reservationExpiry(payload Payload, ttl time.Duration) time.Duration {
	if payload.Reserved() {
		return ttl
	}
	return 0
}

// Ensure RedisStorage implements ConditionalStorage
var _ ConditionalStorage = (*RedisStorage)(nil)
