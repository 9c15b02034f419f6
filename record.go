package idempotency

import (
	"net/http"
	"time"
)

// State describes the lifecycle position of a stored record.
type State string

const (
	// StateReserved marks a request as in-flight: a slot has been claimed
	// but no response has been produced yet.
	StateReserved State = "reserved"
	// StateCompleted marks a request whose response has been stored.
	StateCompleted State = "completed"
)

// Response is a serializable snapshot of an HTTP response. The store never
// inspects it; it is written by the orchestrator on completion and handed
// back verbatim on a duplicate.
type Response struct {
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"body,omitempty"`
}

// Payload is the value half of a record: either a reservation placeholder
// for an in-flight request or a completed response. The state is explicit
// rather than inferred from a nil response, so a legitimately empty response
// is never mistaken for a reservation.
type Payload struct {
	State    State     `json:"state"`
	Response *Response `json:"response,omitempty"`
}

// NewReservation returns the placeholder payload that claims a slot for an
// in-flight request.
func NewReservation() Payload {
	return Payload{State: StateReserved}
}

// NewCompleted returns a payload carrying the stored response for a
// completed request.
func NewCompleted(resp *Response) Payload {
	return Payload{State: StateCompleted, Response: resp}
}

// Reserved reports whether the payload is still the reservation placeholder.
func (p Payload) Reserved() bool {
	return p.State == StateReserved
}

// Record is the unit persisted per (namespace, encodedKey): a payload plus
// the time of the most recent write. WrittenAt is refreshed on every write,
// so a reservation's age is always measured from its latest claim.
//
// Records serialize payload and timestamp together so TTL evaluation
// survives a round trip through a shared cache.
type Record struct {
	Payload   Payload   `json:"payload"`
	WrittenAt time.Time `json:"written_at"`
}

// stale reports whether the record is an abandoned reservation: still
// unresolved and older than ttl. Completed records never go stale; they live
// until deleted.
func (r Record) stale(ttl time.Duration, now time.Time) bool {
	return r.Payload.Reserved() && r.WrittenAt.Add(ttl).Before(now)
}
