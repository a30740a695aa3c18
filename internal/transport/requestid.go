package transport

import "github.com/google/uuid"

// RequestIDHeader correlates a client round with server logs.
const RequestIDHeader = "X-Request-Id"

// IDGenerator produces request ids. testutil.SequentialIDs implements it for
// tests.
type IDGenerator interface {
	Next() string
}

// UUIDv7IDs generates time-sortable UUIDv7 request ids, so ids in a log sort
// in the order the rounds were sent.
//
// Thread-safety: UUIDv7IDs is stateless and safe for concurrent use.
type UUIDv7IDs struct{}

// Next returns a new hyphenated UUIDv7. It panics if the random source fails.
func (UUIDv7IDs) Next() string {
	return uuid.Must(uuid.NewV7()).String()
}
