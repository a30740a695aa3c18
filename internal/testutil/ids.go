package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates predictable request ids: "<prefix>-1", "<prefix>-2"...
//
// Transports take an id generator so that golden traces and recorded headers
// stay stable across runs.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	seq    int
}

// NewSequentialIDs creates a generator. An empty prefix becomes "req".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "req"
	}
	return &SequentialIDs{prefix: prefix}
}

// Next returns the next id.
func (g *SequentialIDs) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s-%d", g.prefix, g.seq)
}
