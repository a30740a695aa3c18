package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/hlcsync/internal/hlc"
	"github.com/roach88/hlcsync/internal/merkle"
	"github.com/roach88/hlcsync/internal/oplog"
	"github.com/roach88/hlcsync/internal/syncproto"
)

// SyncReport summarizes one Sync call.
type SyncReport struct {
	Rounds    int
	Sent      int
	Received  int
	Applied   int
	Duplicate int
	Stale     int
	Rejected  int

	// MerkleRoot is the local root hash when the sync finished.
	MerkleRoot uint64
}

func (r *SyncReport) addBatch(b BatchResult) {
	r.Applied += b.Applied
	r.Duplicate += b.Duplicate
	r.Stale += b.Stale
	r.Rejected += b.Rejected
}

// Sync reconciles this replica with the peer behind t until both tries
// agree.
//
// Each round sends entries and the local trie, merges the reply and diffs
// the tries. The first round sends the outbox; later rounds resend every
// stored entry at or after the earliest diverging bucket. A peer that
// reports the same bucket twice in a row, or a sync that runs past
// MaxRounds, fails with *ProtocolError. Entries merged before an error or a
// cancellation stay merged.
func (e *Engine) Sync(ctx context.Context, t syncproto.Transport) (SyncReport, error) {
	var report SyncReport

	pending := e.outbox.Snapshot()
	req := syncproto.Request{
		GroupID:  e.group,
		ClientID: e.Node(),
		Messages: pending,
		Merkle:   e.Trie(),
	}

	var prev *merkle.Bucket
	for round := 1; ; round++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if round > e.maxRounds {
			return report, &ProtocolError{Round: round - 1, Bucket: prev, Reason: fmt.Sprintf("no convergence after %d rounds", e.maxRounds)}
		}

		resp, err := t.Exchange(ctx, req)
		if err != nil {
			return report, fmt.Errorf("sync round %d: %w", round, err)
		}
		report.Rounds = round
		report.Sent += len(req.Messages)

		if resp.Merkle == nil {
			return report, &ProtocolError{Round: round, Reason: "response carries no merkle trie"}
		}

		batch, err := e.MergeBatch(ctx, resp.Messages)
		batch.addUndecoded(resp.Undecoded)
		report.Received += len(resp.Messages) + len(resp.Undecoded)
		report.addBatch(batch)
		if err != nil {
			return report, err
		}

		local := e.Trie()
		if local.Resolution() != resp.Merkle.Resolution() {
			return report, &ProtocolError{Round: round, Reason: fmt.Sprintf(
				"bucket resolution mismatch: local %s, peer %s", local.Resolution(), resp.Merkle.Resolution())}
		}

		bucket, diverged := merkle.Diff(local, resp.Merkle)

		e.logger.Info("sync round",
			"round", round,
			"sent", len(req.Messages),
			"received", len(resp.Messages),
			"applied", batch.Applied,
			"diverged", diverged)

		if !diverged {
			e.outbox.Remove(pending)
			report.MerkleRoot = local.Hash()
			return report, nil
		}
		if prev != nil && *prev == bucket {
			b := bucket
			return report, &ProtocolError{Round: round, Bucket: &b, Reason: "peer diverges at the same bucket twice in a row"}
		}
		prev = &bucket

		since := hlc.Since(bucket.Millis)
		entries, err := oplog.Collect(ctx, e.store, oplog.ScanQuery{Since: since, Limit: e.pageSize})
		if err != nil {
			return report, fmt.Errorf("sync round %d: scan since %s: %w", round, since, err)
		}

		e.logger.Debug("sync diverged",
			"round", round,
			"bucket", bucket.Index,
			"since", bucketTime(bucket),
			"resend", len(entries))

		req = syncproto.Request{
			GroupID:   e.group,
			ClientID:  e.Node(),
			Messages:  entries,
			Merkle:    local,
			AfterTime: &since,
		}
	}
}

// HandleSync answers one sync round: it merges the request's entries, diffs
// the local trie against the requester's and returns every entry at or
// after the diverging bucket except those the request carried. Entries the
// requester authored are included, so a replica restored from an older
// store gets its own writes back.
func (e *Engine) HandleSync(ctx context.Context, req syncproto.Request) (syncproto.Response, error) {
	if err := req.Validate(); err != nil {
		return syncproto.Response{}, &ProtocolError{Reason: err.Error()}
	}
	if e.group != "" && req.GroupID != e.group {
		return syncproto.Response{}, &ProtocolError{Reason: fmt.Sprintf("group %q is served as %q", req.GroupID, e.group)}
	}
	if req.ClientID == e.Node() {
		return syncproto.Response{}, &ProtocolError{Reason: fmt.Sprintf("client %s uses this replica's node id", req.ClientID)}
	}

	if res := e.Trie().Resolution(); res != req.Merkle.Resolution() {
		return syncproto.Response{}, &ProtocolError{Reason: fmt.Sprintf(
			"bucket resolution mismatch: local %s, peer %s", res, req.Merkle.Resolution())}
	}

	batch, err := e.MergeBatch(ctx, req.Messages)
	if err != nil {
		return syncproto.Response{}, err
	}
	batch.addUndecoded(req.Undecoded)
	for _, u := range req.Undecoded {
		e.logger.Warn("dropped undecodable message",
			"client", req.ClientID.String(),
			"index", u.Index,
			"error", u.Err)
	}

	local := e.Trie()
	resp := syncproto.Response{Messages: []oplog.Entry{}, Merkle: local}

	bucket, diverged := merkle.Diff(local, req.Merkle)
	if diverged {
		carried := make(map[hlc.Timestamp]struct{}, len(req.Messages))
		for _, m := range req.Messages {
			carried[m.HLCTime] = struct{}{}
		}
		since := hlc.Since(bucket.Millis)
		for entry, err := range oplog.Scan(ctx, e.store, oplog.ScanQuery{Since: since, Limit: e.pageSize}) {
			if err != nil {
				return syncproto.Response{}, fmt.Errorf("handle sync: %w", err)
			}
			if _, ok := carried[entry.HLCTime]; !ok {
				resp.Messages = append(resp.Messages, entry)
			}
		}
	}

	attrs := []any{
		"group", req.GroupID,
		"client", req.ClientID.String(),
		"received", len(req.Messages),
		"applied", batch.Applied,
		"rejected", batch.Rejected,
		"returned", len(resp.Messages),
	}
	if req.AfterTime != nil {
		attrs = append(attrs, "after_time", req.AfterTime.String())
	}
	e.logger.Info("sync handled", attrs...)

	return resp, nil
}

func bucketTime(b merkle.Bucket) string {
	return time.UnixMilli(int64(b.Millis)).UTC().Format(time.RFC3339)
}
