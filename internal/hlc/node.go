package hlc

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NodeIDLen is the fixed width of a node id in the canonical timestamp form.
const NodeIDLen = 16

// NodeID identifies a replica. Valid ids are exactly NodeIDLen characters of
// [0-9A-Za-z]; use ParseNodeID to pad shorter ids.
type NodeID string

// ZeroNode is the node id used by lower-bound timestamps (see Since).
const ZeroNode NodeID = "0000000000000000"

// NewNodeID returns a random node id made of the last 16 hex digits of a
// random UUID.
func NewNodeID() NodeID {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return NodeID(id[len(id)-NodeIDLen:])
}

// ParseNodeID validates s and left-pads it with '0' to NodeIDLen characters.
func ParseNodeID(s string) (NodeID, error) {
	if s == "" {
		return "", fmt.Errorf("node id is empty")
	}
	if len(s) > NodeIDLen {
		return "", fmt.Errorf("node id %q longer than %d characters", s, NodeIDLen)
	}
	for i := 0; i < len(s); i++ {
		if !isNodeChar(s[i]) {
			return "", fmt.Errorf("node id %q contains invalid character %q", s, s[i])
		}
	}
	return NodeID(strings.Repeat("0", NodeIDLen-len(s)) + s), nil
}

// MustParseNodeID is ParseNodeID for constants and tests. It panics on error.
func MustParseNodeID(s string) NodeID {
	n, err := ParseNodeID(s)
	if err != nil {
		panic(err)
	}
	return n
}

// Valid reports whether n is a padded, well-formed node id.
func (n NodeID) Valid() bool {
	if len(n) != NodeIDLen {
		return false
	}
	for i := 0; i < len(n); i++ {
		if !isNodeChar(n[i]) {
			return false
		}
	}
	return true
}

func (n NodeID) String() string { return string(n) }

func isNodeChar(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
