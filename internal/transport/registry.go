package transport

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/roach88/hlcsync/internal/merkle"
	"github.com/roach88/hlcsync/internal/syncproto"
)

// Replica is what the server needs from an engine. *engine.Engine
// implements it.
type Replica interface {
	syncproto.Handler
	Trie() *merkle.Trie
}

// Opener opens the replica serving group. It is called at most once per
// group for the lifetime of a Server.
type Opener func(ctx context.Context, group string) (Replica, error)

var groupPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

// ValidGroup reports whether name is usable as a sync group: 1 to 128
// characters of [A-Za-z0-9_.-].
func ValidGroup(name string) bool { return groupPattern.MatchString(name) }

// registry opens replicas lazily and keeps them for reuse.
type registry struct {
	mu     sync.Mutex
	open   Opener
	groups map[string]Replica
}

func newRegistry(open Opener) *registry {
	return &registry{open: open, groups: make(map[string]Replica)}
}

func (r *registry) get(ctx context.Context, group string) (Replica, error) {
	if !ValidGroup(group) {
		return nil, fmt.Errorf("invalid group %q", group)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rep, ok := r.groups[group]; ok {
		return rep, nil
	}
	rep, err := r.open(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("open group %q: %w", group, err)
	}
	r.groups[group] = rep
	return rep, nil
}

// names returns the open groups in sorted order.
func (r *registry) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.groups))
	for name := range r.groups {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
