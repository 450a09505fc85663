package txn

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudsql/storagecore/internal/heap"
	"github.com/cloudsql/storagecore/internal/value"
	"github.com/cloudsql/storagecore/internal/wal"
)

// fakeTable is a minimal in-memory TableHeap for exercising undo replay
// without a real pageserver-backed heap.Table.
type fakeTable struct {
	rows map[heap.RID]value.Tuple
	next uint16
}

func newFakeTable() *fakeTable { return &fakeTable{rows: make(map[heap.RID]value.Tuple)} }

func (f *fakeTable) Insert(tuple value.Tuple, xmin uint64) (heap.RID, error) {
	f.next++
	rid := heap.NewRID(0, f.next)
	f.rows[rid] = tuple
	return rid, nil
}

func (f *fakeTable) PhysicalRemove(rid heap.RID) error {
	delete(f.rows, rid)
	return nil
}

func (f *fakeTable) Update(rid heap.RID, newTuple value.Tuple, txn uint64) error {
	f.rows[rid] = newTuple
	return nil
}

type fakeProvider struct {
	tables map[string]TableHeap
}

func (p *fakeProvider) GetTable(name string) (TableHeap, bool) {
	tb, ok := p.tables[name]
	return tb, ok
}

func newTestManager(t *testing.T) (*Manager, *fakeTable) {
	m, tbl, _ := newTestManagerWithWALPath(t)
	return m, tbl
}

func newTestManagerWithWALPath(t *testing.T) (*Manager, *fakeTable, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wal.log")
	walMgr, err := wal.Open(path, 16, 10*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { walMgr.Close() })

	tbl := newFakeTable()
	provider := &fakeProvider{tables: map[string]TableHeap{"t": tbl}}
	return NewManager(walMgr, provider, RepeatableRead, time.Second), tbl, path
}

func TestBeginAssignsIncreasingIDs(t *testing.T) {
	m, _ := newTestManager(t)
	t1, err := m.Begin(RepeatableRead)
	require.NoError(t, err)
	t2, err := m.Begin(RepeatableRead)
	require.NoError(t, err)
	assert.Less(t, t1.ID, t2.ID)
}

func TestCommitReleasesLocksAndDeactivates(t *testing.T) {
	m, _ := newTestManager(t)
	tx, err := m.Begin(RepeatableRead)
	require.NoError(t, err)

	rid := heap.NewRID(0, 1)
	require.NoError(t, m.AcquireExclusive(tx, "t", rid))
	require.NoError(t, m.Commit(tx))

	assert.Nil(t, m.Get(tx.ID))

	// Lock must have been released: a fresh transaction can take it.
	tx2, err := m.Begin(RepeatableRead)
	require.NoError(t, err)
	require.NoError(t, m.AcquireExclusive(tx2, "t", rid))
}

func TestAbortReplaysUndoInsertAsPhysicalRemove(t *testing.T) {
	m, tbl := newTestManager(t)
	tx, err := m.Begin(RepeatableRead)
	require.NoError(t, err)

	rid, err := tbl.Insert(value.Tuple{value.NewInt64(1)}, tx.ID)
	require.NoError(t, err)
	tx.RecordUndo(UndoEntry{Type: UndoInsert, Table: "t", RID: rid})

	require.NoError(t, m.Abort(tx))

	_, stillThere := tbl.rows[rid]
	assert.False(t, stillThere, "aborting an insert must physically remove the row")
}

func TestAbortReplaysUndoDeleteAsReinsert(t *testing.T) {
	m, tbl := newTestManager(t)
	tx, err := m.Begin(RepeatableRead)
	require.NoError(t, err)

	oldTuple := value.Tuple{value.NewInt64(42)}
	tx.RecordUndo(UndoEntry{Type: UndoDelete, Table: "t", OldTuple: oldTuple, OldXmin: 7})

	require.NoError(t, m.Abort(tx))

	found := false
	for _, row := range tbl.rows {
		if row[0].Int == 42 {
			found = true
		}
	}
	assert.True(t, found, "aborting a delete must reinsert the old tuple")
}

func TestAbortReplaysInReverseOrder(t *testing.T) {
	m, tbl := newTestManager(t)
	tx, err := m.Begin(RepeatableRead)
	require.NoError(t, err)

	ridA, err := tbl.Insert(value.Tuple{value.NewInt64(1)}, tx.ID)
	require.NoError(t, err)
	ridB, err := tbl.Insert(value.Tuple{value.NewInt64(2)}, tx.ID)
	require.NoError(t, err)

	tx.RecordUndo(UndoEntry{Type: UndoInsert, Table: "t", RID: ridA})
	tx.RecordUndo(UndoEntry{Type: UndoInsert, Table: "t", RID: ridB})

	require.NoError(t, m.Abort(tx))

	assert.Empty(t, tbl.rows)
}

func TestCommitOnNonRunningTxnFails(t *testing.T) {
	m, _ := newTestManager(t)
	tx, err := m.Begin(RepeatableRead)
	require.NoError(t, err)
	require.NoError(t, m.Commit(tx))

	err = m.Commit(tx)
	assert.Error(t, err)
}

func TestSnapshotExcludesOtherActiveTxns(t *testing.T) {
	m, _ := newTestManager(t)
	t1, err := m.Begin(RepeatableRead)
	require.NoError(t, err)
	t2, err := m.Begin(RepeatableRead)
	require.NoError(t, err)

	snap := t2.Snapshot()
	assert.True(t, snap.ActiveSet[t1.ID], "t1 must still be active in t2's snapshot")
	assert.False(t, snap.ActiveSet[t2.ID], "a transaction never appears in its own active set")
}

func TestLogInsertChainsPrevLSNAndWritesBeginInsertCommit(t *testing.T) {
	mgr, tbl, path := newTestManagerWithWALPath(t)
	tx, err := mgr.Begin(RepeatableRead)
	require.NoError(t, err)

	rid, err := tbl.Insert(value.Tuple{value.NewInt64(1)}, tx.ID)
	require.NoError(t, err)
	beforeInsertLSN := tx.PrevLSN
	require.NoError(t, mgr.LogInsert(tx, "t", rid, value.Tuple{value.NewInt64(1)}))
	assert.Greater(t, tx.PrevLSN, beforeInsertLSN, "LogInsert must advance PrevLSN past the BEGIN record")

	require.NoError(t, mgr.Commit(tx))

	records, err := wal.ReadAll(path)
	require.NoError(t, err)
	require.Len(t, records, 3, "expected BEGIN, INSERT, COMMIT")

	assert.Equal(t, wal.TypeBegin, records[0].Type)
	assert.Equal(t, wal.TypeInsert, records[1].Type)
	assert.Equal(t, wal.TypeCommit, records[2].Type)

	// prev_lsn back-chain: each record's PrevLSN equals the prior record's
	// own LSN.
	assert.Equal(t, records[0].LSN, records[1].PrevLSN)
	assert.Equal(t, records[1].LSN, records[2].PrevLSN)
	assert.Equal(t, "t", records[1].Table)
	assert.Equal(t, rid, records[1].RID)
}

func TestDeadlockVictimMarkedAbortedWithoutUndo(t *testing.T) {
	m, _ := newTestManager(t)
	tx, err := m.Begin(RepeatableRead)
	require.NoError(t, err)

	m.markAborted(tx.ID)
	assert.Equal(t, Aborted, tx.State())
	// The transaction is still registered until the caller calls Abort.
	assert.NotNil(t, m.Get(tx.ID))
}
