package merkle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// MarshalJSON encodes the trie as
//
//	{"resolutionMs":60000,"root":{"hash":123,"0":{...},"2":{...}}}
//
// Absent children are omitted; an empty trie has root {"hash":0}.
func (t *Trie) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"resolutionMs":`)
	buf.WriteString(strconv.FormatUint(t.resolution, 10))
	buf.WriteString(`,"root":`)
	writeNode(&buf, t.root)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeNode(buf *bytes.Buffer, n *node) {
	buf.WriteString(`{"hash":`)
	buf.WriteString(strconv.FormatUint(n.sum(), 10))
	if n != nil {
		for i, c := range n.children {
			if c == nil {
				continue
			}
			buf.WriteString(`,"`)
			buf.WriteByte(byte('0' + i))
			buf.WriteString(`":`)
			writeNode(buf, c)
		}
	}
	buf.WriteByte('}')
}

type wireTrie struct {
	ResolutionMs uint64          `json:"resolutionMs"`
	Root         json.RawMessage `json:"root"`
}

// UnmarshalJSON decodes the form written by MarshalJSON. It rejects unknown
// keys, children below leaf depth, and interior hashes that are not the XOR
// of their children.
func (t *Trie) UnmarshalJSON(data []byte) error {
	var w wireTrie
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("decode merkle trie: %w", err)
	}
	if w.ResolutionMs == 0 {
		return fmt.Errorf("decode merkle trie: resolutionMs must be positive")
	}

	out := Trie{resolution: w.ResolutionMs, depth: depthFor(w.ResolutionMs)}
	if len(w.Root) > 0 && string(w.Root) != "null" {
		root, err := readNode(w.Root, 0, out.depth)
		if err != nil {
			return fmt.Errorf("decode merkle trie: %w", err)
		}
		out.root = root
	}
	*t = out
	return nil
}

func readNode(data json.RawMessage, level, depth int) (*node, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}

	rawHash, ok := fields["hash"]
	if !ok {
		return nil, fmt.Errorf("level %d: missing hash", level)
	}
	hash, err := strconv.ParseUint(string(rawHash), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("level %d: bad hash %s", level, rawHash)
	}

	n := &node{hash: hash}
	var xor uint64
	hasChildren := false
	for key, raw := range fields {
		if key == "hash" {
			continue
		}
		if len(key) != 1 || key[0] < '0' || key[0] > '2' {
			return nil, fmt.Errorf("level %d: unexpected key %q", level, key)
		}
		if level >= depth {
			return nil, fmt.Errorf("level %d: leaf has children", level)
		}
		c, err := readNode(raw, level+1, depth)
		if err != nil {
			return nil, err
		}
		n.children[key[0]-'0'] = c
		xor ^= c.sum()
		hasChildren = true
	}

	if level < depth && xor != hash {
		return nil, fmt.Errorf("level %d: hash %d does not match children", level, hash)
	}
	if hash == 0 && !hasChildren {
		return nil, nil
	}
	return n, nil
}
