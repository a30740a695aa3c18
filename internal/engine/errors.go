package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/hlcsync/internal/merkle"
)

// ProtocolError reports a sync exchange that cannot make progress: the peer
// keeps disagreeing about the same bucket, the round cap was hit, or a reply
// was malformed. It is never retried automatically.
type ProtocolError struct {
	// Round is the 1-based round in which the error was detected.
	Round int

	// Bucket is the diverging bucket, when one is involved.
	Bucket *merkle.Bucket

	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Bucket != nil {
		return fmt.Sprintf("sync protocol error in round %d at bucket %d (%s): %s",
			e.Round, e.Bucket.Index, bucketTime(*e.Bucket), e.Reason)
	}
	if e.Round > 0 {
		return fmt.Sprintf("sync protocol error in round %d: %s", e.Round, e.Reason)
	}
	return fmt.Sprintf("sync protocol error: %s", e.Reason)
}

// IsProtocolError reports whether err wraps a *ProtocolError.
// Uses errors.As to handle wrapped errors.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// EntryError pairs a rejected entry with the reason it was rejected.
type EntryError struct {
	Entry string // canonical timestamp of the entry
	Err   error
}

func (e EntryError) Error() string {
	return fmt.Sprintf("entry %s: %v", e.Entry, e.Err)
}

func (e EntryError) Unwrap() error { return e.Err }
