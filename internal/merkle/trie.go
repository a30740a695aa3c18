// Package merkle implements the time-bucketed Merkle trie replicas exchange
// to find where their oplogs diverge.
//
// Timestamps are grouped into buckets of Resolution (one minute by default).
// The bucket number is written in base 3 with a fixed number of digits, and
// each digit selects one of three children. Every node stores the XOR of the
// 64-bit xxhash of the canonical strings of the timestamps below it, so a
// trie's shape and hashes depend only on the set of timestamps it holds.
//
// Tries are immutable: Insert and Remove return a new trie sharing all
// untouched nodes with the old one.
package merkle

import (
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/roach88/hlcsync/internal/hlc"
)

// DefaultResolution is the default bucket width.
const DefaultResolution = time.Minute

type node struct {
	hash     uint64
	children [3]*node
}

func (n *node) sum() uint64 {
	if n == nil {
		return 0
	}
	return n.hash
}

// Trie is an immutable Merkle trie. The zero value is not usable; call New.
type Trie struct {
	resolution uint64 // milliseconds
	depth      int
	root       *node
}

// Bucket is one leaf position of the trie.
type Bucket struct {
	// Index is the bucket number, Millis / resolution.
	Index uint64

	// Millis is the first millisecond covered by the bucket.
	Millis uint64
}

// New returns an empty trie. Resolutions below one millisecond fall back to
// DefaultResolution.
func New(resolution time.Duration) *Trie {
	ms := uint64(resolution.Milliseconds())
	if ms == 0 {
		ms = uint64(DefaultResolution.Milliseconds())
	}
	return &Trie{resolution: ms, depth: depthFor(ms)}
}

// depthFor returns how many base-3 digits the largest bucket needs.
func depthFor(resolutionMs uint64) int {
	depth := 1
	for n := hlc.MaxMillis / resolutionMs; n >= 3; n /= 3 {
		depth++
	}
	return depth
}

// Resolution returns the bucket width.
func (t *Trie) Resolution() time.Duration {
	return time.Duration(t.resolution) * time.Millisecond
}

// Depth returns the number of levels below the root.
func (t *Trie) Depth() int { return t.depth }

// Hash returns the root hash; 0 for an empty trie.
func (t *Trie) Hash() uint64 { return t.root.sum() }

// Empty reports whether the trie holds no timestamps.
func (t *Trie) Empty() bool { return t.root == nil }

// BucketOf returns the bucket ts falls into.
func (t *Trie) BucketOf(ts hlc.Timestamp) Bucket {
	idx := ts.Millis / t.resolution
	return Bucket{Index: idx, Millis: idx * t.resolution}
}

// Insert returns a trie that also contains ts.
//
// Hashes combine by XOR, so inserting a timestamp that is already present
// cancels it out. Callers keep their own membership (the engine inserts a
// timestamp only when it first becomes a field winner).
func (t *Trie) Insert(ts hlc.Timestamp) *Trie {
	return t.toggle(ts)
}

// Remove returns a trie without ts. Removing a timestamp that is not present
// has the same effect as inserting it.
func (t *Trie) Remove(ts hlc.Timestamp) *Trie {
	return t.toggle(ts)
}

func (t *Trie) toggle(ts hlc.Timestamp) *Trie {
	h := HashTimestamp(ts)
	path := t.digits(ts.Millis / t.resolution)
	return &Trie{resolution: t.resolution, depth: t.depth, root: toggle(t.root, path, h)}
}

// toggle copies the nodes along path, XORing h into each. Nodes left with a
// zero hash and no children are dropped.
func toggle(n *node, path []uint8, h uint64) *node {
	var next node
	if n != nil {
		next = *n
	}
	next.hash ^= h
	if len(path) > 0 {
		next.children[path[0]] = toggle(next.children[path[0]], path[1:], h)
	}
	if next.hash == 0 && next.children == [3]*node{} {
		return nil
	}
	return &next
}

// digits writes bucket in base 3, most significant digit first, padded to
// the trie depth.
func (t *Trie) digits(bucket uint64) []uint8 {
	path := make([]uint8, t.depth)
	for i := t.depth - 1; i >= 0; i-- {
		path[i] = uint8(bucket % 3)
		bucket /= 3
	}
	return path
}

func (t *Trie) bucketFromDigits(path []uint8) Bucket {
	var idx uint64
	for _, d := range path {
		idx = idx*3 + uint64(d)
	}
	return Bucket{Index: idx, Millis: idx * t.resolution}
}

// HashTimestamp is the 64-bit xxhash of the canonical timestamp string.
func HashTimestamp(ts hlc.Timestamp) uint64 {
	return xxhash.Sum64String(ts.String())
}

// Diff returns the earliest bucket where a and b may hold different
// timestamps, or false when their roots agree.
//
// At each level Diff follows the lowest-index child whose hashes differ. If
// the hashes differ but no child does (the tries were built with different
// depths, or a hash collision), the remaining digits are taken as 0, which
// only moves the bucket earlier. Tries with different resolutions cannot be
// compared digit by digit; any difference between them reports bucket 0.
func Diff(a, b *Trie) (Bucket, bool) {
	if a.Hash() == b.Hash() {
		return Bucket{}, false
	}
	if a.resolution != b.resolution {
		return Bucket{}, true
	}

	path := make([]uint8, 0, a.depth)
	na, nb := a.root, b.root
	for len(path) < a.depth {
		next := -1
		for i := 0; i < 3; i++ {
			if child(na, i).sum() != child(nb, i).sum() {
				next = i
				break
			}
		}
		if next < 0 {
			break
		}
		path = append(path, uint8(next))
		na, nb = child(na, next), child(nb, next)
	}
	for len(path) < a.depth {
		path = append(path, 0)
	}
	return a.bucketFromDigits(path), true
}

func child(n *node, i int) *node {
	if n == nil {
		return nil
	}
	return n.children[i]
}
