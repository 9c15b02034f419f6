// Package idempotency lets an HTTP-serving application safely handle retried
// write requests: a client resubmitting the same logical request must not
// cause the side effect twice.
//
// # Overview
//
// The package remembers, keyed by a caller-supplied idempotency token plus a
// fingerprint of the request, whether that exact request is currently being
// processed, has already completed (and with what response), or has never
// been seen. Records move through three states:
//
//	absent → reserved (in-flight) → completed
//
// A reservation that is never resolved — typically a process crash mid
// request — is reclaimed after a configurable TTL, so a wedged key blocks
// retries for a bounded time only. Completed records live until deleted.
//
// # Usage
//
// Basic usage with the default in-memory store:
//
//	mw := idempotency.New()
//	http.ListenAndServe(":8080", mw.Handler(mux))
//
// Shared state across processes via Redis:
//
//	clients := map[string]redis.UniversalClient{
//	    "payments": redis.NewClient(&redis.Options{Addr: addr}),
//	}
//	storage := idempotency.NewRedisStorage(clients, 10*time.Minute)
//	if err := storage.Validate(ctx, "payments"); err != nil {
//	    log.Fatal(err) // misnamed cache must fail the boot, not the first request
//	}
//	mw := idempotency.New(
//	    idempotency.WithStorage(storage),
//	    idempotency.WithNamespace("payments"),
//	)
//
// Gin and Echo adapters live under pkg/gin and pkg/echo.
//
// # Implementing Custom Storage
//
// Any backend satisfying the Storage interface plugs in via WithStorage.
// Backends that can perform an atomic insert-if-absent should additionally
// implement ConditionalStorage: without it, claiming a key is a separate
// read then write, and two concurrent first-time requests with the same key
// can both proceed before either reservation is visible. Both bundled
// backends implement the conditional interface.
//
// # How It Works
//
// 1. The middleware reads the Idempotency-Key header (400 if absent) and
// derives an opaque encoded key from the request.
// 2. The store is checked; a first-time request claims the slot with a
// reservation and runs the handler.
// 3. A duplicate of a completed request answers with the conflict status
// (409 by default) or, when replay is enabled, the stored response verbatim.
// 4. A duplicate of an in-flight request answers 423 Locked.
// 5. On handler success the response is stored; on a server error the
// reservation is released so a legitimate retry can run.
package idempotency
