package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStorage provides an in-process implementation of Storage backed by a
// table of namespace → (key → record).
//
// Suitable for single-process deployments and tests: state is lost on
// restart and is not visible across processes. For shared deployments use
// RedisStorage.
type MemoryStorage struct {
	mu   sync.Mutex
	data map[string]map[string]Record
	ttl  time.Duration

	// now is overridable in tests
	now func() time.Time
}

// NewMemoryStorage creates an in-process store. ttl is the maximum age an
// unresolved reservation may reach before it is reclaimed on the next read;
// it does not bound the age of completed records.
func NewMemoryStorage(ttl time.Duration) *MemoryStorage {
	return &MemoryStorage{
		data: make(map[string]map[string]Record),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Store writes the record, creating the namespace table on first use.
func (s *MemoryStorage) Store(ctx context.Context, namespace, encodedKey string, payload Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tableLocked(namespace)[encodedKey] = Record{Payload: payload, WrittenAt: s.now()}
	return nil
}

// Retrieve reads the record, reclaiming it if it is an abandoned
// reservation. A missing namespace behaves as an empty table.
func (s *MemoryStorage) Retrieve(ctx context.Context, namespace, encodedKey string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, ok := s.data[namespace]
	if !ok {
		return Record{}, false, nil
	}
	rec, ok := table[encodedKey]
	if !ok {
		return Record{}, false, nil
	}
	if rec.stale(s.ttl, s.now()) {
		// Abandoned reservation: delete it and pretend it was never here.
		delete(table, encodedKey)
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Delete removes the record. Deleting a nonexistent key is a no-op.
func (s *MemoryStorage) Delete(ctx context.Context, namespace, encodedKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if table, ok := s.data[namespace]; ok {
		delete(table, encodedKey)
	}
	return nil
}

// Validate always succeeds: namespace tables are created on demand.
func (s *MemoryStorage) Validate(ctx context.Context, namespace string) error {
	return nil
}

// StoreIfAbsent writes the record only if no live record exists for the key,
// under the same mutex as the read, making the reservation claim atomic.
func (s *MemoryStorage) StoreIfAbsent(ctx context.Context, namespace, encodedKey string, payload Payload) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table := s.tableLocked(namespace)
	if rec, ok := table[encodedKey]; ok && !rec.stale(s.ttl, s.now()) {
		return false, nil
	}
	table[encodedKey] = Record{Payload: payload, WrittenAt: s.now()}
	return true, nil
}

// tableLocked returns the namespace table, creating it on first use.
// Must be called with the lock held.
func (s *MemoryStorage) tableLocked(namespace string) map[string]Record {
	table, ok := s.data[namespace]
	if !ok {
		table = make(map[string]Record)
		s.data[namespace] = table
	}
	return table
}

// Ensure MemoryStorage implements ConditionalStorage
var _ ConditionalStorage = (*MemoryStorage)(nil)
