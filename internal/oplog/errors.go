package oplog

import (
	"errors"
	"fmt"

	"github.com/roach88/hlcsync/internal/hlc"
)

// InvalidEntryError reports an entry that fails Validate
// or could not be decoded from the wire. Err is set when decoding failed,
// for example with an *hlc.FormatError.
type InvalidEntryError struct {
	HLCTime hlc.Timestamp
	Reason  string
	Err     error
}

func (e *InvalidEntryError) Error() string {
	if e.HLCTime.IsZero() {
		return fmt.Sprintf("invalid entry: %s", e.Reason)
	}
	return fmt.Sprintf("invalid entry %s: %s", e.HLCTime, e.Reason)
}

func (e *InvalidEntryError) Unwrap() error { return e.Err }

// IsInvalidEntry reports whether err wraps an *InvalidEntryError.
func IsInvalidEntry(err error) bool {
	var e *InvalidEntryError
	return errors.As(err, &e)
}

// ConflictError reports two different entries stamped with the same
// timestamp. Timestamps are unique per node, so this means two replicas
// were provisioned with one node id. The candidate is not stored.
type ConflictError struct {
	HLCTime   hlc.Timestamp
	Stored    FieldKey
	Candidate FieldKey
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("timestamp conflict at %s: stored %s, candidate %s", e.HLCTime, e.Stored, e.Candidate)
}

// IsConflict reports whether err wraps a *ConflictError.
func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}
