package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/hlcsync/internal/oplog"
	"github.com/roach88/hlcsync/internal/value"
)

func TestOutbox_RemoveKeepsNewerEntries(t *testing.T) {
	o := newOutbox()
	e1 := remoteEntry("aaaa", baseMillis, 0, "1", "title", value.String("a"))
	e2 := remoteEntry("aaaa", baseMillis, 1, "1", "title", value.String("b"))
	e3 := remoteEntry("aaaa", baseMillis, 2, "1", "title", value.String("c"))

	o.Push(e1)
	o.Push(e2)
	sent := o.Snapshot()
	o.Push(e3)

	o.Remove(sent)
	assert.Equal(t, []oplog.Entry{e3}, o.Snapshot())
	assert.Equal(t, 1, o.Len())
}

func TestOutbox_SignalCoalesces(t *testing.T) {
	o := newOutbox()
	o.Push(remoteEntry("aaaa", baseMillis, 0, "1", "title", value.String("a")))
	o.Push(remoteEntry("aaaa", baseMillis, 1, "1", "title", value.String("b")))

	select {
	case <-o.Wait():
	default:
		t.Fatal("expected a signal after Push")
	}
	select {
	case <-o.Wait():
		t.Fatal("signals should coalesce")
	default:
	}
}

func TestOutbox_SnapshotIsCopy(t *testing.T) {
	o := newOutbox()
	o.Push(remoteEntry("aaaa", baseMillis, 0, "1", "title", value.String("a")))

	snap := o.Snapshot()
	snap[0].Store = "changed"
	assert.Equal(t, "todos", o.Snapshot()[0].Store)

	o.Remove(nil)
	assert.Equal(t, 1, o.Len())
}
