// Package hlc implements a hybrid logical clock and its timestamp codec.
//
// A Timestamp combines physical wall time (milliseconds), a 16-bit logical
// counter and the id of the node that produced it. Timestamps are totally
// ordered by (Millis, Counter, Node), and the canonical string form
//
//	2006-01-02T15:04:05.000Z-CCCC-NNNNNNNNNNNNNNNN
//
// sorts byte-wise in exactly the same order, so it doubles as a storage key.
//
// A Clock hands out timestamps that are strictly greater than anything it has
// generated or observed, while refusing to run more than MaxDrift ahead of
// the physical clock:
//
//	Send:     local event, advances past last and now
//	Receive:  remote event, advances past last, now and the remote timestamp
//	TickPast: same as Receive without the duplicate-node check
//
// A failed call (drift, counter overflow, duplicate node) never changes the
// clock.
package hlc
