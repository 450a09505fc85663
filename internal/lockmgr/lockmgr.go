// Package lockmgr implements the per-record two-phase locking scheme from
// spec.md §4.4: FIFO wait queues per record id, shared/exclusive
// compatibility, blocking acquire, unlock-on-request, and cancellation of
// a waiter whose transaction has been aborted.
package lockmgr

import (
	"sync"
	"time"

	log "github.com/AlexStocks/log4go"
	"github.com/pkg/errors"
)

type Mode uint8

const (
	Shared Mode = iota
	Exclusive
)

// AbortChecker reports whether a transaction has been marked ABORTED, so a
// waiter can be cancelled per spec.md §4.4 step (a). The lock manager
// depends on this instead of a back-pointer to the transaction object,
// following the re-architecture spec.md §9 recommends: key by transaction
// id and query the owner, rather than holding a pointer into it.
type AbortChecker func(txnID uint64) bool

type request struct {
	txnID   uint64
	mode    Mode
	granted bool
}

type queue struct {
	requests []*request
	cond     *sync.Cond
}

// DeadlockVictim is called with the id of the transaction the background
// detector has chosen to sacrifice to break a wait-for cycle, per
// spec.md §9's deadlock-handling open question. The callback is expected
// to mark that transaction ABORTED; the lock manager only picks the
// victim and wakes waiters so the abort is noticed.
type DeadlockVictim func(txnID uint64)

// Manager is the lock table: one FIFO wait queue per record id.
type Manager struct {
	mu        sync.Mutex
	queues    map[string]*queue
	holders   map[uint64]map[string]Mode // txn -> record -> held mode
	isAborted AbortChecker

	waitGraphMu sync.Mutex
	waitFor     map[uint64]map[uint64]bool // waiter -> set of holders it waits on

	onDeadlock DeadlockVictim
	detectStop chan struct{}
}

func New(isAborted AbortChecker) *Manager {
	return &Manager{
		queues:    make(map[string]*queue),
		holders:   make(map[uint64]map[string]Mode),
		isAborted: isAborted,
		waitFor:   make(map[uint64]map[uint64]bool),
	}
}

// SetDeadlockVictim installs the callback RunDeadlockDetector uses to
// report its chosen victim.
func (m *Manager) SetDeadlockVictim(cb DeadlockVictim) {
	m.waitGraphMu.Lock()
	m.onDeadlock = cb
	m.waitGraphMu.Unlock()
}

// updateWaitFor records that txnID is currently waiting behind every
// distinct transaction holding an earlier, incompatible request on q,
// building the wait-for edges the background detector walks.
func (m *Manager) updateWaitFor(txnID uint64, q *queue, req *request) {
	blockers := make(map[uint64]bool)
	for _, other := range q.requests {
		if other == req {
			break
		}
		if other.txnID == txnID {
			continue
		}
		if req.mode == Shared && other.mode != Exclusive {
			continue
		}
		blockers[other.txnID] = true
	}
	m.waitGraphMu.Lock()
	if len(blockers) == 0 {
		delete(m.waitFor, txnID)
	} else {
		m.waitFor[txnID] = blockers
	}
	m.waitGraphMu.Unlock()
}

func (m *Manager) clearWaitFor(txnID uint64) {
	m.waitGraphMu.Lock()
	delete(m.waitFor, txnID)
	m.waitGraphMu.Unlock()
}

// detectCycle looks for a transaction reachable from itself via waitFor
// edges, returning the cycle's member ids, or nil if the graph is acyclic.
func (m *Manager) detectCycle() []uint64 {
	m.waitGraphMu.Lock()
	defer m.waitGraphMu.Unlock()

	const (
		white = iota
		gray
		black
	)
	color := make(map[uint64]int)
	var stack []uint64
	var cycle []uint64

	var visit func(n uint64) bool
	visit = func(n uint64) bool {
		color[n] = gray
		stack = append(stack, n)
		for next := range m.waitFor[n] {
			switch color[next] {
			case white:
				if visit(next) {
					return true
				}
			case gray:
				for i := len(stack) - 1; i >= 0; i-- {
					cycle = append(cycle, stack[i])
					if stack[i] == next {
						break
					}
				}
				return true
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		return false
	}

	for n := range m.waitFor {
		if color[n] == white {
			if visit(n) {
				return cycle
			}
		}
	}
	return nil
}

// pickVictim chooses the highest transaction id in the cycle: the
// youngest transaction, so long-running work is not the one sacrificed.
func pickVictim(cycle []uint64) uint64 {
	victim := cycle[0]
	for _, id := range cycle[1:] {
		if id > victim {
			victim = id
		}
	}
	return victim
}

// RunDeadlockDetector starts a goroutine that scans the wait-for graph
// every interval and reports a victim via SetDeadlockVictim's callback
// whenever it finds a cycle, per spec.md §9's "background detector"
// deadlock-handling decision. Stop with StopDeadlockDetector.
func (m *Manager) RunDeadlockDetector(interval time.Duration) {
	m.waitGraphMu.Lock()
	if m.detectStop != nil {
		m.waitGraphMu.Unlock()
		return
	}
	m.detectStop = make(chan struct{})
	stop := m.detectStop
	m.waitGraphMu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if cycle := m.detectCycle(); len(cycle) > 0 {
					victim := pickVictim(cycle)
					log.Warn("lockmgr: deadlock detected among %v, aborting txn %d", cycle, victim)
					m.waitGraphMu.Lock()
					cb := m.onDeadlock
					m.waitGraphMu.Unlock()
					if cb != nil {
						cb(victim)
					}
					m.WakeAll()
				}
			case <-stop:
				return
			}
		}
	}()
}

// StopDeadlockDetector stops a detector started by RunDeadlockDetector.
// Safe to call even if one was never started.
func (m *Manager) StopDeadlockDetector() {
	m.waitGraphMu.Lock()
	stop := m.detectStop
	m.detectStop = nil
	m.waitGraphMu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (m *Manager) queueFor(record string) *queue {
	q, ok := m.queues[record]
	if !ok {
		q = &queue{cond: sync.NewCond(&m.mu)}
		m.queues[record] = q
	}
	return q
}

func compatible(a, b Mode) bool {
	return a == Shared && b == Shared
}

// AcquireShared blocks until a shared lock on record is granted to txnID,
// or the transaction is observed ABORTED, or timeout elapses (timeout of 0
// means block indefinitely). Re-entrant: a transaction already holding any
// lock on record is granted immediately.
func (m *Manager) AcquireShared(txnID uint64, record string, timeout time.Duration) error {
	return m.acquire(txnID, record, Shared, timeout)
}

// AcquireExclusive behaves as AcquireShared but for exclusive mode; a
// transaction already holding S attempts an upgrade by re-queuing as X.
func (m *Manager) AcquireExclusive(txnID uint64, record string, timeout time.Duration) error {
	return m.acquire(txnID, record, Exclusive, timeout)
}

func (m *Manager) acquire(txnID uint64, record string, mode Mode, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if held, ok := m.holders[txnID][record]; ok {
		if mode == Shared || held == Exclusive {
			return nil // re-entrant
		}
		// Held S, requesting X: fall through to enqueue an upgrade request.
	}

	q := m.queueFor(record)
	req := &request{txnID: txnID, mode: mode}
	q.requests = append(q.requests, req)

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if m.isAborted != nil && m.isAborted(txnID) {
			m.removeRequest(q, req)
			m.clearWaitFor(txnID)
			q.cond.Broadcast()
			return errors.Errorf("lockmgr: txn %d aborted while waiting on %s", txnID, record)
		}
		if m.canGrant(q, req) {
			req.granted = true
			m.recordHeld(txnID, record, mode)
			m.clearWaitFor(txnID)
			log.Debug("lockmgr: txn %d granted %v on %s", txnID, mode, record)
			return nil
		}
		m.updateWaitFor(txnID, q, req)
		if timeout > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				m.removeRequest(q, req)
				m.clearWaitFor(txnID)
				return errors.Errorf("lockmgr: txn %d timed out waiting on %s", txnID, record)
			}
			waitWithTimeout(q.cond, remaining)
		} else {
			q.cond.Wait()
		}
	}
}

// canGrant implements spec.md §4.4's wait rule: a shared request may be
// granted as soon as no earlier request in the queue is exclusive; an
// exclusive request may be granted only once every earlier request
// belongs to the same transaction (self-requests never block each other).
func (m *Manager) canGrant(q *queue, req *request) bool {
	for _, other := range q.requests {
		if other == req {
			return true
		}
		if req.mode == Shared {
			if other.mode == Exclusive {
				return false
			}
			continue
		}
		// req.mode == Exclusive: any earlier request not owned by the
		// same txn blocks it.
		if other.txnID != req.txnID {
			return false
		}
	}
	return true
}

func (m *Manager) removeRequest(q *queue, target *request) {
	for i, r := range q.requests {
		if r == target {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return
		}
	}
}

func (m *Manager) recordHeld(txnID uint64, record string, mode Mode) {
	locks, ok := m.holders[txnID]
	if !ok {
		locks = make(map[string]Mode)
		m.holders[txnID] = locks
	}
	locks[record] = mode
}

// Unlock releases txnID's lock on record, notifying any waiters on that
// queue. Unlocking a record the transaction does not hold, or an unknown
// record, returns failure per spec.md §4.4.
func (m *Manager) Unlock(txnID uint64, record string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[record]
	if !ok {
		return errors.Errorf("lockmgr: unknown record %s", record)
	}
	if _, held := m.holders[txnID][record]; !held {
		return errors.Errorf("lockmgr: txn %d does not hold %s", txnID, record)
	}

	found := false
	var kept []*request
	for _, r := range q.requests {
		if r.txnID == txnID && r.granted {
			found = true
			continue
		}
		kept = append(kept, r)
	}
	q.requests = kept
	delete(m.holders[txnID], record)
	if !found {
		return errors.Errorf("lockmgr: txn %d does not hold %s", txnID, record)
	}
	q.cond.Broadcast()
	return nil
}

// ReleaseAll releases every lock txnID holds (commit/abort path), shared
// locks first then exclusive, per spec.md §4.6's commit step 3.
func (m *Manager) ReleaseAll(txnID uint64) {
	m.mu.Lock()
	locks := m.holders[txnID]
	var shared, exclusive []string
	for rec, mode := range locks {
		if mode == Shared {
			shared = append(shared, rec)
		} else {
			exclusive = append(exclusive, rec)
		}
	}
	m.mu.Unlock()

	for _, rec := range shared {
		_ = m.Unlock(txnID, rec)
	}
	for _, rec := range exclusive {
		_ = m.Unlock(txnID, rec)
	}
}

// WakeAll wakes every waiting queue, used after a transaction is marked
// ABORTED so its own pending acquires notice and cancel themselves
// (spec.md §4.4 "Cancellation").
func (m *Manager) WakeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.queues {
		q.cond.Broadcast()
	}
}

// waitWithTimeout wraps sync.Cond.Wait with a bound on how long it can
// block, by releasing the lock, sleeping on a timer in a helper goroutine,
// and re-acquiring before returning. The caller must hold cond.L.
func waitWithTimeout(cond *sync.Cond, d time.Duration) {
	done := make(chan struct{})
	timer := time.AfterFunc(d, func() {
		cond.L.Lock()
		cond.Broadcast()
		cond.L.Unlock()
		close(done)
	})
	cond.Wait()
	timer.Stop()
	select {
	case <-done:
	default:
	}
}
