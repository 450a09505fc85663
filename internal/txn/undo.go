package txn

import (
	"github.com/cloudsql/storagecore/internal/heap"
	"github.com/cloudsql/storagecore/internal/value"
)

type UndoType uint8

const (
	UndoInsert UndoType = iota
	UndoDelete
	UndoUpdate
)

// UndoEntry is one write-operation's undo intent. Per spec.md §9's first
// open question, DELETE and UPDATE intents carry the old tuple (and the
// original creator id for DELETE, so rollback can restore a version that
// remains visible to whoever could see it before the delete) — the
// reference prototype's UndoLog omits this field, which this
// implementation adds as instructed.
type UndoEntry struct {
	Type     UndoType
	Table    string
	RID      heap.RID
	OldTuple value.Tuple
	OldXmin  uint64
}
