package engine

import (
	"context"
	"maps"

	"github.com/roach88/hlcsync/internal/oplog"
	"github.com/roach88/hlcsync/internal/value"
)

// Projector folds a newly winning entry into the materialized view. It runs
// inside the merge transaction, after the entry has been stored.
type Projector interface {
	Project(ctx context.Context, tx oplog.Tx, winner oplog.Entry) error
}

// Document is a projected object as returned by Engine.Get.
type Document struct {
	Store string
	Key   value.Value
	Value value.Value
	Found bool
}

// DocumentProjector keeps one JSON document per (store, key).
//
// A whole-object entry (Prop "") replaces the document and then re-applies
// every property entry newer than itself. A property entry is skipped when a
// newer whole-object entry exists, and otherwise sets (or, for null, removes)
// one property. Either arrival order yields the same document.
type DocumentProjector struct{}

func (DocumentProjector) Project(ctx context.Context, tx oplog.Tx, winner oplog.Entry) error {
	if winner.Prop == "" {
		doc := winner.Value
		later, err := tx.FieldEntriesAfter(ctx, winner.Store, winner.ObjectKey, winner.HLCTime)
		if err != nil {
			return err
		}
		for _, f := range later {
			doc = setProp(doc, f.Prop, f.Value)
		}
		return tx.PutDocument(ctx, winner.Store, winner.ObjectKey, doc)
	}

	whole, ok, err := tx.NewestEntry(ctx, oplog.FieldKey{
		Store:     winner.Store,
		ObjectKey: value.Text(winner.ObjectKey),
	})
	if err != nil {
		return err
	}
	if ok && winner.HLCTime.Less(whole.HLCTime) {
		return nil
	}

	doc, _, err := tx.Document(ctx, winner.Store, winner.ObjectKey)
	if err != nil {
		return err
	}
	return tx.PutDocument(ctx, winner.Store, winner.ObjectKey, setProp(doc, winner.Prop, winner.Value))
}

// setProp returns doc with prop set to v. A document that is not an object
// starts over as an empty one.
func setProp(doc value.Value, prop string, v value.Value) value.Value {
	obj, ok := doc.(value.Object)
	if !ok {
		obj = value.Object{}
	}
	if value.IsNull(v) {
		if _, present := obj[prop]; !present {
			return obj
		}
		out := maps.Clone(obj)
		delete(out, prop)
		return out
	}
	return obj.With(prop, v)
}
