package txn

import (
	"fmt"
	"sync"
	"time"

	log "github.com/AlexStocks/log4go"
	"github.com/pkg/errors"

	"github.com/cloudsql/storagecore/internal/heap"
	"github.com/cloudsql/storagecore/internal/lockmgr"
	"github.com/cloudsql/storagecore/internal/value"
	"github.com/cloudsql/storagecore/internal/wal"
)

// TableHeap is the subset of heap.Table the transaction manager needs for
// undo replay, kept as an interface so tests can substitute a fake.
type TableHeap interface {
	Insert(tuple value.Tuple, xmin uint64) (heap.RID, error)
	PhysicalRemove(rid heap.RID) error
	Update(rid heap.RID, newTuple value.Tuple, txn uint64) error
}

// TableProvider resolves a table name to its heap, the way spec.md §1
// says the catalog supplies "an ordered schema per table name" — here
// generalized to supply the table handle itself.
type TableProvider interface {
	GetTable(name string) (TableHeap, bool)
}

// Manager is the transaction manager of spec.md §4.6.
type Manager struct {
	mu     sync.Mutex
	nextID uint64
	active map[uint64]*Transaction

	lockMgr *lockmgr.Manager
	walMgr  *wal.Manager
	tables  TableProvider

	defaultIsolation Isolation
	lockTimeout      time.Duration
}

// NewManager wires a transaction manager to its lock manager, log manager
// and table provider, per spec.md §6's
// TransactionManager(lock_mgr, catalog, storage, log_mgr).
func NewManager(walMgr *wal.Manager, tables TableProvider, defaultIsolation Isolation, lockTimeout time.Duration) *Manager {
	m := &Manager{
		active:           make(map[uint64]*Transaction),
		walMgr:           walMgr,
		tables:           tables,
		defaultIsolation: defaultIsolation,
		lockTimeout:      lockTimeout,
	}
	m.lockMgr = lockmgr.New(m.isAborted)
	m.lockMgr.SetDeadlockVictim(m.markAborted)
	return m
}

func (m *Manager) isAborted(txnID uint64) bool {
	t := m.Get(txnID)
	return t != nil && t.State() == Aborted
}

// markAborted is the lock manager's deadlock-victim callback: it flips
// the chosen transaction to ABORTED without running undo (the caller
// still owns the transaction and must call Manager.Abort itself once its
// blocked Acquire call returns the resulting error).
func (m *Manager) markAborted(txnID uint64) {
	if t := m.Get(txnID); t != nil {
		t.setState(Aborted)
	}
}

// RunDeadlockDetector starts the lock manager's background wait-for-graph
// scan, per spec.md §9's deadlock-handling decision. A caller whose
// Acquire call returns an error because its transaction was marked
// ABORTED by the detector must still call Abort to run undo and release
// locks.
func (m *Manager) RunDeadlockDetector(interval time.Duration) {
	m.lockMgr.RunDeadlockDetector(interval)
}

func (m *Manager) StopDeadlockDetector() {
	m.lockMgr.StopDeadlockDetector()
}

// recordKey is the lock manager's stable string form of a record id,
// scoped by table, per spec.md §4.4's "stable string (the RID's string
// form suffices)".
func recordKey(table string, rid heap.RID) string {
	return fmt.Sprintf("%s:%d:%d", table, rid.Page, rid.Slot)
}

// Begin allocates a transaction id, appends a BEGIN log record, captures
// its visibility snapshot, and registers it as active, per spec.md §4.6.
func (m *Manager) Begin(isolation Isolation) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID

	var beginLSN int64 = -1
	if m.walMgr != nil {
		lsn, err := m.walMgr.Append(&wal.Record{TxnID: id, PrevLSN: -1, Type: wal.TypeBegin})
		if err != nil {
			return nil, errors.Wrap(err, "txn: append BEGIN")
		}
		beginLSN = lsn
	}

	snap := m.captureSnapshotLocked(id)
	t := newTransaction(id, isolation, beginLSN, snap)
	t.setState(Running)
	m.active[id] = t

	log.Debug("txn: begin %d isolation=%s", id, isolation)
	return t, nil
}

// captureSnapshotLocked implements spec.md §4.6 step 4. Caller must hold
// m.mu.
func (m *Manager) captureSnapshotLocked(selfID uint64) Snapshot {
	xmaxHi := m.nextID + 1 // "next_id" after allocation for the new txn
	active := make(map[uint64]bool, len(m.active))
	xminLo := xmaxHi
	for id := range m.active {
		if id == selfID {
			continue
		}
		active[id] = true
		if id < xminLo {
			xminLo = id
		}
	}
	return Snapshot{XminLo: xminLo, XmaxHi: xmaxHi, ActiveSet: active}
}

// RestatementSnapshot re-captures the snapshot for txn, implementing READ
// COMMITTED's per-statement refresh (spec.md §4.6).
func (m *Manager) RestatementSnapshot(t *Transaction) {
	m.mu.Lock()
	snap := m.captureSnapshotLocked(t.ID)
	m.mu.Unlock()
	t.setSnapshot(snap)
}

// Get returns the active transaction with id, or nil once it has reached
// a terminal state and been removed from the active map.
func (m *Manager) Get(id uint64) *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[id]
}

// AcquireShared/AcquireExclusive route through the lock manager, scoping
// the record key by table name (needed by SERIALIZABLE reads and by every
// write, per spec.md §2's control-flow note).
func (m *Manager) AcquireShared(t *Transaction, table string, rid heap.RID) error {
	return m.lockMgr.AcquireShared(t.ID, recordKey(table, rid), m.lockTimeout)
}

func (m *Manager) AcquireExclusive(t *Transaction, table string, rid heap.RID) error {
	return m.lockMgr.AcquireExclusive(t.ID, recordKey(table, rid), m.lockTimeout)
}

// LogInsert appends an INSERT record for a write already applied to the
// heap, chaining it off t.PrevLSN, and records the matching undo intent,
// per spec.md §2's "writes subject to ... (5) durably logging the intent"
// and §4.6's "each write operation ... appends an undo intent".
func (m *Manager) LogInsert(t *Transaction, table string, rid heap.RID, tuple value.Tuple) error {
	if err := m.appendWrite(t, &wal.Record{Type: wal.TypeInsert, Table: table, RID: rid, NewTuple: tuple}); err != nil {
		return err
	}
	t.RecordUndo(UndoEntry{Type: UndoInsert, Table: table, RID: rid})
	return nil
}

// LogDelete appends a MARK_DELETE record for a logical delete already
// applied via heap.Table.Remove, and records the undo intent carrying the
// old tuple and its original creator, per spec.md §9's first open
// question.
func (m *Manager) LogDelete(t *Transaction, table string, rid heap.RID, oldTuple value.Tuple, oldXmin uint64) error {
	if err := m.appendWrite(t, &wal.Record{Type: wal.TypeMarkDelete, Table: table, RID: rid, OldTuple: oldTuple}); err != nil {
		return err
	}
	t.RecordUndo(UndoEntry{Type: UndoDelete, Table: table, OldTuple: oldTuple, OldXmin: oldXmin})
	return nil
}

// LogUpdate appends an UPDATE record for a write already applied via
// heap.Table.Update, and records the undo intent carrying the pre-update
// tuple.
func (m *Manager) LogUpdate(t *Transaction, table string, rid heap.RID, oldTuple, newTuple value.Tuple) error {
	if err := m.appendWrite(t, &wal.Record{Type: wal.TypeUpdate, Table: table, RID: rid, OldTuple: oldTuple, NewTuple: newTuple}); err != nil {
		return err
	}
	t.RecordUndo(UndoEntry{Type: UndoUpdate, Table: table, RID: rid, OldTuple: oldTuple})
	return nil
}

// appendWrite fills in the TxnID/PrevLSN header fields, appends r, and
// advances t.PrevLSN to the assigned LSN so later records in the same
// transaction chain off it, per spec.md §5's back-chain contract. A nil
// log manager (tests without one wired) is a no-op.
func (m *Manager) appendWrite(t *Transaction, r *wal.Record) error {
	if m.walMgr == nil {
		return nil
	}
	r.TxnID = t.ID
	r.PrevLSN = t.PrevLSN
	lsn, err := m.walMgr.Append(r)
	if err != nil {
		return errors.Wrapf(err, "txn: append write record type %d", r.Type)
	}
	t.PrevLSN = lsn
	return nil
}

// Commit writes the COMMIT record, force-flushes, releases locks, and
// removes the transaction from the active map, per spec.md §4.6.
func (m *Manager) Commit(t *Transaction) error {
	if t.State() != Running {
		return errors.Errorf("txn: commit: txn %d not running", t.ID)
	}

	if m.walMgr != nil {
		if _, err := m.walMgr.Append(&wal.Record{TxnID: t.ID, PrevLSN: t.PrevLSN, Type: wal.TypeCommit}); err != nil {
			return errors.Wrap(err, "txn: append COMMIT")
		}
		if err := m.walMgr.Flush(true); err != nil {
			return errors.Wrap(err, "txn: flush COMMIT")
		}
	}

	t.setState(Committed)
	m.lockMgr.ReleaseAll(t.ID)

	m.mu.Lock()
	delete(m.active, t.ID)
	m.mu.Unlock()

	log.Debug("txn: commit %d", t.ID)
	return nil
}

// Abort replays undo intents in reverse, appends ABORT, releases locks
// and removes the transaction, per spec.md §4.6. A failing undo step does
// not prevent the remaining steps from running or the transaction from
// reaching ABORTED, per spec.md §7's error-handling design.
func (m *Manager) Abort(t *Transaction) error {
	// A deadlock victim is already ABORTED but still registered; only a
	// committed or fully aborted (deregistered) transaction is rejected.
	if t.State() == Committed || m.Get(t.ID) == nil {
		return errors.Errorf("txn: abort: txn %d already finished", t.ID)
	}

	t.setState(Aborted)
	m.lockMgr.WakeAll()

	entries := t.undoEntries()
	for i := len(entries) - 1; i >= 0; i-- {
		if err := m.undoOne(t, entries[i]); err != nil {
			log.Warn("txn: abort %d: undo step failed: %v", t.ID, err)
		}
	}

	if m.walMgr != nil {
		if _, err := m.walMgr.Append(&wal.Record{TxnID: t.ID, PrevLSN: t.PrevLSN, Type: wal.TypeAbort}); err != nil {
			log.Warn("txn: abort %d: append ABORT failed: %v", t.ID, err)
		} else if err := m.walMgr.Flush(true); err != nil {
			log.Warn("txn: abort %d: flush ABORT failed: %v", t.ID, err)
		}
	}

	m.lockMgr.ReleaseAll(t.ID)

	m.mu.Lock()
	delete(m.active, t.ID)
	m.mu.Unlock()

	log.Debug("txn: abort %d", t.ID)
	return nil
}

func (m *Manager) undoOne(t *Transaction, e UndoEntry) error {
	if m.tables == nil {
		return errors.New("txn: no table provider for undo")
	}
	tbl, ok := m.tables.GetTable(e.Table)
	if !ok {
		return errors.Errorf("txn: undo: unknown table %s", e.Table)
	}
	switch e.Type {
	case UndoInsert:
		return tbl.PhysicalRemove(e.RID)
	case UndoDelete:
		_, err := tbl.Insert(e.OldTuple, e.OldXmin)
		return err
	case UndoUpdate:
		return tbl.Update(e.RID, e.OldTuple, t.ID)
	default:
		return errors.Errorf("txn: undo: unknown undo type %d", e.Type)
	}
}
