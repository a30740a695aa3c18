package hlc

import (
	"errors"
	"fmt"
	"time"
)

// ClockDriftError reports that logical time would run more than MaxDrift
// ahead of the physical clock. The offending call is aborted; the clock is
// left unchanged.
type ClockDriftError struct {
	// Logical is the candidate logical millis (or the remote millis when the
	// remote timestamp alone is too far ahead).
	Logical uint64

	// Physical is the wall clock reading in millis.
	Physical uint64

	MaxDrift time.Duration
}

func (e *ClockDriftError) Error() string {
	return fmt.Sprintf("clock drift: logical time %d is %dms ahead of physical time %d (max %s)",
		e.Logical, e.Logical-e.Physical, e.Physical, e.MaxDrift)
}

// CounterOverflowError reports more than MaxCounter+1 ticks within one
// millisecond. Retrying on the next millisecond succeeds.
type CounterOverflowError struct {
	Millis uint64
}

func (e *CounterOverflowError) Error() string {
	return fmt.Sprintf("clock counter overflow at millis %d", e.Millis)
}

// DuplicateNodeError reports a remote timestamp claiming the local node id,
// which means two replicas were provisioned with the same id.
type DuplicateNodeError struct {
	Node NodeID
}

func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("duplicate node: remote timestamp carries local node id %s", e.Node)
}

// FormatError reports a malformed timestamp string.
type FormatError struct {
	Input  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid timestamp %q: %s", e.Input, e.Reason)
}

func formatErr(input, format string, args ...any) *FormatError {
	return &FormatError{Input: input, Reason: fmt.Sprintf(format, args...)}
}

// IsClockDrift reports whether err wraps a *ClockDriftError.
func IsClockDrift(err error) bool {
	var e *ClockDriftError
	return errors.As(err, &e)
}

// IsCounterOverflow reports whether err wraps a *CounterOverflowError.
func IsCounterOverflow(err error) bool {
	var e *CounterOverflowError
	return errors.As(err, &e)
}

// IsDuplicateNode reports whether err wraps a *DuplicateNodeError.
func IsDuplicateNode(err error) bool {
	var e *DuplicateNodeError
	return errors.As(err, &e)
}

// IsFormat reports whether err wraps a *FormatError.
func IsFormat(err error) bool {
	var e *FormatError
	return errors.As(err, &e)
}
