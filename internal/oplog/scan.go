package oplog

import (
	"context"
	"iter"
)

// Scan yields every entry matching q, fetching pages of q.Limit entries
// with an exclusive timestamp cursor. Each iteration starts again from q, so
// the sequence can be ranged over more than once. Scanning stops at the first
// error, which is yielded with a zero Entry.
func Scan(ctx context.Context, s Scanner, q ScanQuery) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		page := q
		limit := q.PageLimit()
		for {
			if err := ctx.Err(); err != nil {
				yield(Entry{}, err)
				return
			}

			entries, err := s.ScanEntries(ctx, page)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			for _, e := range entries {
				if !yield(e, nil) {
					return
				}
			}
			if len(entries) < limit {
				return
			}
			page.After = entries[len(entries)-1].HLCTime
		}
	}
}

// Collect drains a scan into a slice.
func Collect(ctx context.Context, s Scanner, q ScanQuery) ([]Entry, error) {
	out := []Entry{}
	for e, err := range Scan(ctx, s, q) {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
