package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// KeyGenerator derives the encoded storage key from a request and its
// idempotency key. The result is opaque to the store.
type KeyGenerator func(r *http.Request, key string) string

// DefaultKeyGenerator hashes the request method, URL path and idempotency
// key with SHA256, so the same key replayed against a different endpoint is
// a distinct logical request.
func DefaultKeyGenerator(r *http.Request, key string) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{0})
	h.Write([]byte(key))
	return hex.EncodeToString(h.Sum(nil))
}

// Middleware routes write requests through the duplicate-request protocol.
//
// Requests without an idempotency key are rejected with 400 before the store
// is consulted. Duplicates of completed requests answer with the configured
// conflict status (or replay the stored response), duplicates of in-flight
// requests answer 423 Locked. Everything else executes the wrapped handler,
// recording its response into the store on success and releasing the
// reservation on a server error so a retry is not blocked.
type Middleware struct {
	coordinator    *Coordinator
	namespace      string
	header         string
	conflictStatus int
	replay         bool
	keyGenerator   KeyGenerator
	logger         *slog.Logger
}

// New creates a Middleware.
//
// Default configuration:
//   - MemoryStorage with a 10-minute reservation TTL
//   - "Idempotency-Key" request header
//   - 409 Conflict for completed duplicates
//
// Use functional options to customize:
//
//	mw := idempotency.New(
//	    idempotency.WithStorage(idempotency.NewRedisStorage(clients, ttl)),
//	    idempotency.WithNamespace("payments"),
//	)
//	handler := mw.Handler(mux)
func New(opts ...Option) *Middleware {
	cfg := &config{
		ttl:            DefaultTTL,
		namespace:      DefaultNamespace,
		header:         DefaultHeader,
		conflictStatus: DefaultConflictStatus,
		keyGenerator:   DefaultKeyGenerator,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	storage := cfg.storage
	if storage == nil {
		storage = NewMemoryStorage(cfg.ttl)
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Middleware{
		coordinator:    NewCoordinator(storage),
		namespace:      cfg.namespace,
		header:         cfg.header,
		conflictStatus: cfg.conflictStatus,
		replay:         cfg.replay,
		keyGenerator:   cfg.keyGenerator,
		logger:         logger,
	}
}

// Coordinator returns the underlying coordinator for direct use, e.g. from
// handlers that manage completion themselves.
func (m *Middleware) Coordinator() *Coordinator {
	return m.coordinator
}

// Decide extracts and encodes the request's idempotency key and classifies
// the request, claiming the slot when it is first of its kind. It returns
// the encoded key for the follow-up Complete or Abort call. A request
// without a key yields ErrMissingKey.
//
// This is the building block the framework adapters are written against;
// most callers want Handler instead.
func (m *Middleware) Decide(r *http.Request) (Decision, *Response, string, error) {
	key := r.Header.Get(m.header)
	if key == "" {
		return DecisionProceed, nil, "", ErrMissingKey
	}
	encodedKey := m.keyGenerator(r, key)
	decision, stored, err := m.coordinator.Check(r.Context(), m.namespace, encodedKey)
	return decision, stored, encodedKey, err
}

// Complete stores the recorded response for the key.
func (m *Middleware) Complete(r *http.Request, encodedKey string, resp *Response) {
	if err := m.coordinator.Complete(r.Context(), m.namespace, encodedKey, resp); err != nil {
		m.logger.ErrorContext(r.Context(), "idempotency: storing response failed",
			"namespace", m.namespace, "error", err)
	}
}

// Abort releases the reservation for the key.
func (m *Middleware) Abort(r *http.Request, encodedKey string) {
	if err := m.coordinator.Abort(r.Context(), m.namespace, encodedKey); err != nil {
		m.logger.ErrorContext(r.Context(), "idempotency: releasing reservation failed",
			"namespace", m.namespace, "error", err)
	}
}

// WriteDecision writes the duplicate response for a conflict or in-flight
// decision.
func (m *Middleware) WriteDecision(w http.ResponseWriter, decision Decision, stored *Response) {
	switch decision {
	case DecisionConflict:
		if m.replay && stored != nil {
			writeStored(w, stored)
			return
		}
		writeError(w, m.conflictStatus, "duplicate request: original already completed")
	case DecisionInFlight:
		writeError(w, http.StatusLocked, "duplicate request: original still in progress")
	}
}

// Handler wraps next with idempotency-key handling for net/http.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision, stored, encodedKey, err := m.Decide(r)
		if errors.Is(err, ErrMissingKey) {
			writeError(w, http.StatusBadRequest, "idempotency key required")
			return
		}
		if err != nil {
			m.logger.ErrorContext(r.Context(), "idempotency: check failed",
				"namespace", m.namespace, "error", err)
			writeError(w, http.StatusInternalServerError, "idempotency check failed")
			return
		}
		if decision != DecisionProceed {
			m.WriteDecision(w, decision, stored)
			return
		}

		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		// Server errors release the slot so a retry can run; anything the
		// handler answered deliberately, client errors included, is stored.
		if rec.status >= http.StatusInternalServerError {
			m.Abort(r, encodedKey)
			return
		}
		m.Complete(r, encodedKey, rec.response())
	})
}

// responseRecorder tees the handler's response so it can be stored.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	body        bytes.Buffer
	wroteHeader bool
}

func (r *responseRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) response() *Response {
	return &Response{
		StatusCode: r.status,
		Header:     r.ResponseWriter.Header().Clone(),
		Body:       bytes.Clone(r.body.Bytes()),
	}
}

func writeStored(w http.ResponseWriter, resp *Response) {
	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
