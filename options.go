package idempotency

import (
	"log/slog"
	"net/http"
	"time"
)

// Defaults applied by New.
const (
	// DefaultTTL bounds how long an unresolved reservation blocks retries
	// after a crash mid-request.
	DefaultTTL = 10 * time.Minute
	// DefaultHeader is the request header carrying the idempotency key.
	DefaultHeader = "Idempotency-Key"
	// DefaultNamespace is used when no namespace is configured.
	DefaultNamespace = "default"
	// DefaultConflictStatus is returned for duplicates of completed requests.
	DefaultConflictStatus = http.StatusConflict
)

// config holds the configuration for Middleware.
type config struct {
	ttl            time.Duration
	storage        Storage
	namespace      string
	header         string
	conflictStatus int
	replay         bool
	keyGenerator   KeyGenerator
	logger         *slog.Logger
}

// Option configures a Middleware.
type Option func(*config)

// WithTTL sets the reservation time-to-live.
//
// Only applies when using the default MemoryStorage. If WithStorage is also
// specified, this option is ignored (configure TTL on your storage instead).
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.ttl = ttl
	}
}

// WithStorage sets the storage backend. Use this to share idempotency state
// across processes:
//
//	storage := idempotency.NewRedisStorage(clients, 10*time.Minute)
//	mw := idempotency.New(idempotency.WithStorage(storage))
func WithStorage(storage Storage) Option {
	return func(c *config) {
		c.storage = storage
	}
}

// WithNamespace sets the namespace records are stored under, selecting the
// backend partition (and, for RedisStorage, the named instance).
func WithNamespace(namespace string) Option {
	return func(c *config) {
		c.namespace = namespace
	}
}

// WithHeader sets the request header the idempotency key is read from.
func WithHeader(name string) Option {
	return func(c *config) {
		c.header = name
	}
}

// WithConflictStatus sets the status code returned for a duplicate of a
// completed request. Default: 409 Conflict.
func WithConflictStatus(status int) Option {
	return func(c *config) {
		c.conflictStatus = status
	}
}

// WithStoredResponseReplay makes duplicates of completed requests replay the
// stored response verbatim, original status code included, instead of
// answering with the conflict status.
func WithStoredResponseReplay() Option {
	return func(c *config) {
		c.replay = true
	}
}

// WithKeyGenerator sets a custom key encoding function. The default hashes
// method, path and idempotency key with SHA256; custom generators can fold
// in headers or the request body, or shorten keys for storage.
func WithKeyGenerator(gen KeyGenerator) Option {
	return func(c *config) {
		c.keyGenerator = gen
	}
}

// WithLogger sets the logger used for storage failures observed by the
// middleware. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}
