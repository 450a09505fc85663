package txn

import (
	"sync"
	"sync/atomic"
)

// Transaction is a client's handle, obtained from Manager.Begin, per
// spec.md §2's "client holds a Transaction handle" control-flow note.
type Transaction struct {
	ID        uint64
	Isolation Isolation
	PrevLSN   int64

	mu       sync.Mutex
	state    int32 // State, accessed atomically so lockmgr's AbortChecker needs no transaction-wide lock
	snapshot Snapshot
	undo     []UndoEntry
}

func newTransaction(id uint64, isolation Isolation, beginLSN int64, snap Snapshot) *Transaction {
	return &Transaction{ID: id, Isolation: isolation, PrevLSN: beginLSN, snapshot: snap}
}

func (t *Transaction) State() State {
	return State(atomic.LoadInt32(&t.state))
}

func (t *Transaction) setState(s State) {
	atomic.StoreInt32(&t.state, int32(s))
}

// Snapshot returns the transaction's captured visibility snapshot. Under
// READ COMMITTED, callers should re-capture one per statement via
// Manager.RestatementSnapshot rather than reuse this.
func (t *Transaction) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot
}

func (t *Transaction) setSnapshot(s Snapshot) {
	t.mu.Lock()
	t.snapshot = s
	t.mu.Unlock()
}

// RecordUndo appends a write's undo intent (spec.md §4.6 "Undo tracking").
func (t *Transaction) RecordUndo(e UndoEntry) {
	t.mu.Lock()
	t.undo = append(t.undo, e)
	t.mu.Unlock()
}

func (t *Transaction) undoEntries() []UndoEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]UndoEntry(nil), t.undo...)
}

// IsVisible applies the transaction's own snapshot and isolation level to
// a candidate record version, per spec.md §4.6: READ_UNCOMMITTED skips
// filtering entirely.
func (t *Transaction) IsVisible(xmin, xmax uint64) bool {
	if t.Isolation == ReadUncommitted {
		return true
	}
	return t.Snapshot().IsVisible(t.ID, xmin, xmax)
}
