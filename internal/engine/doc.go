// Package engine is the replication engine of one replica: it stamps local
// mutations with the hybrid logical clock, merges local and remote entries
// under last-writer-wins, keeps the Merkle trie of field winners, and runs
// the sync reconciliation loop against a peer.
//
// ARCHITECTURE:
//
// One Engine owns one oplog.Store, one hlc.Clock and the current
// merkle.Trie. A single mutex serializes every merge together with the
// clock update and trie swap it causes, so a reader of the trie never sees
// a half-applied entry. Transport calls run outside the mutex.
//
// Merge Flow:
//  1. Validate the candidate entry
//  2. Advance the clock past the candidate if it is newer (Receive, or
//     TickPast for this node's own entries)
//  3. In one store transaction, compare against the field's newest entry:
//     newer candidates are stored and projected, equal ones are duplicates,
//     older ones are stale
//  4. After commit, insert the new winner into the trie and remove the
//     winner it displaced
//
// The trie therefore holds exactly one timestamp per field, the winner. Two
// replicas with the same winners have equal roots regardless of which
// superseded entries each has seen.
//
// Sync Flow (Sync, client side):
//  1. Send the outbox and the local trie
//  2. Merge the peer's reply and diff the tries
//  3. Equal roots: done. Otherwise resend every entry at or after the
//     earliest differing bucket and repeat
//  4. The same bucket twice in a row, or more than MaxRounds rounds, is a
//     *ProtocolError
//
// HandleSync is the peer side of one round.
package engine
