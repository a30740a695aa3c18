package hlc

import (
	"fmt"
	"strings"
	"time"
)

const (
	// MaxCounter is the largest logical counter a timestamp can carry.
	MaxCounter = 0xFFFF

	// MaxMillis is 9999-12-31T23:59:59.999Z, the last instant the fixed-width
	// ISO form can express.
	MaxMillis uint64 = 253402300799999

	// isoLayout renders UTC milliseconds with a literal trailing Z.
	isoLayout = "2006-01-02T15:04:05.000Z"
	isoLen    = len(isoLayout)

	// EncodedLen is the length of every canonical timestamp string.
	EncodedLen = isoLen + 1 + 4 + 1 + NodeIDLen
)

// Timestamp is an immutable hybrid logical timestamp.
//
// The zero value is the smallest timestamp. Timestamps produced by Clock or
// Parse always carry a padded node id; hand-built values should go through
// New so that struct order and string order agree.
type Timestamp struct {
	Millis  uint64
	Counter uint16
	Node    NodeID
}

// New builds a timestamp, left-padding node to NodeIDLen characters.
func New(millis uint64, counter uint16, node NodeID) Timestamp {
	if len(node) < NodeIDLen {
		node = NodeID(strings.Repeat("0", NodeIDLen-len(node))) + node
	}
	return Timestamp{Millis: millis, Counter: counter, Node: node}
}

// Since returns the smallest timestamp at the given wall time: counter zero
// and the all-zero node. Every timestamp at or after millis compares >= it.
func Since(millis uint64) Timestamp {
	return Timestamp{Millis: millis, Counter: 0, Node: ZeroNode}
}

// Compare returns -1, 0 or +1 ordering t against o by (Millis, Counter, Node).
func (t Timestamp) Compare(o Timestamp) int {
	switch {
	case t.Millis < o.Millis:
		return -1
	case t.Millis > o.Millis:
		return 1
	case t.Counter < o.Counter:
		return -1
	case t.Counter > o.Counter:
		return 1
	}
	return strings.Compare(string(t.Node), string(o.Node))
}

// Less reports whether t sorts strictly before o.
func (t Timestamp) Less(o Timestamp) bool { return t.Compare(o) < 0 }

// IsZero reports whether t is the zero value.
func (t Timestamp) IsZero() bool { return t == Timestamp{} }

// Time returns the physical component as a UTC time.
func (t Timestamp) Time() time.Time {
	return time.UnixMilli(int64(t.Millis)).UTC()
}

// Valid reports whether t can be encoded in the canonical string form.
func (t Timestamp) Valid() bool {
	return t.Millis <= MaxMillis && t.Node.Valid()
}

// String returns the canonical encoding; see Format.
func (t Timestamp) String() string { return Format(t) }

// Format encodes t as YYYY-MM-DDTHH:mm:ss.sssZ-CCCC-NNNNNNNNNNNNNNNN.
// The counter is four upper-case hex digits and the node is left-padded
// with '0'. Millis beyond MaxMillis do not fit the fixed width; callers that
// need a guarantee should check Valid first.
func Format(t Timestamp) string {
	node := string(t.Node)
	if len(node) < NodeIDLen {
		node = strings.Repeat("0", NodeIDLen-len(node)) + node
	}
	return fmt.Sprintf("%s-%04X-%s", t.Time().Format(isoLayout), t.Counter, node)
}

// Parse decodes the canonical string form. It never panics; malformed input
// yields a *FormatError.
func Parse(s string) (Timestamp, error) {
	if n := strings.Count(s, "-"); n != 4 {
		return Timestamp{}, formatErr(s, "expected 5 '-' separated segments, got %d", n+1)
	}
	if len(s) != EncodedLen {
		return Timestamp{}, formatErr(s, "expected %d characters, got %d", EncodedLen, len(s))
	}
	if s[isoLen] != '-' || s[isoLen+5] != '-' {
		return Timestamp{}, formatErr(s, "misplaced separator")
	}

	wall, err := time.Parse(isoLayout, s[:isoLen])
	if err != nil {
		return Timestamp{}, formatErr(s, "bad date segment: %v", err)
	}
	ms := wall.UnixMilli()
	if ms < 0 || uint64(ms) > MaxMillis {
		return Timestamp{}, formatErr(s, "date out of range")
	}

	counter, err := parseCounter(s[isoLen+1 : isoLen+5])
	if err != nil {
		return Timestamp{}, formatErr(s, "%v", err)
	}

	node := NodeID(s[isoLen+6:])
	if !node.Valid() {
		return Timestamp{}, formatErr(s, "bad node id %q", node)
	}

	return Timestamp{Millis: uint64(ms), Counter: counter, Node: node}, nil
}

// MustParse is Parse for tests and constants. It panics on error.
func MustParse(s string) Timestamp {
	ts, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return ts
}

// parseCounter accepts exactly four upper-case hex digits, the only spelling
// Format produces.
func parseCounter(seg string) (uint16, error) {
	if len(seg) != 4 {
		return 0, fmt.Errorf("counter %q must be 4 hex digits", seg)
	}
	var v uint32
	for i := 0; i < len(seg); i++ {
		c := seg[i]
		var d byte
		switch {
		case c >= '0' && c <= '9':
			d = c - '0'
		case c >= 'A' && c <= 'F':
			d = c - 'A' + 10
		default:
			return 0, fmt.Errorf("counter %q is not upper-case hex", seg)
		}
		v = v<<4 | uint32(d)
	}
	if v > MaxCounter {
		return 0, fmt.Errorf("counter %q out of range", seg)
	}
	return uint16(v), nil
}

// MarshalText implements encoding.TextMarshaler using the canonical form.
func (t Timestamp) MarshalText() ([]byte, error) {
	if t.Millis > MaxMillis {
		return nil, fmt.Errorf("hlc: timestamp millis %d beyond %d", t.Millis, MaxMillis)
	}
	return []byte(Format(t)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Timestamp) UnmarshalText(b []byte) error {
	ts, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = ts
	return nil
}
