package lockmgr

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noAbort(uint64) bool { return false }

func TestSharedLocksAreCompatible(t *testing.T) {
	m := New(noAbort)
	require.NoError(t, m.AcquireShared(1, "r1", 0))
	require.NoError(t, m.AcquireShared(2, "r1", 0))
}

func TestExclusiveBlocksShared(t *testing.T) {
	m := New(noAbort)
	require.NoError(t, m.AcquireExclusive(1, "r1", 0))

	err := m.AcquireShared(2, "r1", 20*time.Millisecond)
	assert.Error(t, err, "txn 2 must time out waiting behind txn 1's exclusive lock")
}

func TestUnlockWakesWaiter(t *testing.T) {
	m := New(noAbort)
	require.NoError(t, m.AcquireExclusive(1, "r1", 0))

	done := make(chan error, 1)
	go func() {
		done <- m.AcquireExclusive(2, "r1", time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.Unlock(1, "r1"))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("txn 2 was never granted the lock after txn 1 released it")
	}
}

func TestReentrantAcquireDoesNotBlockSelf(t *testing.T) {
	m := New(noAbort)
	require.NoError(t, m.AcquireExclusive(1, "r1", 0))
	require.NoError(t, m.AcquireExclusive(1, "r1", 0))
	require.NoError(t, m.AcquireShared(1, "r1", 0))
}

func TestFIFOOrderingAmongExclusiveWaiters(t *testing.T) {
	m := New(noAbort)
	require.NoError(t, m.AcquireExclusive(1, "r1", 0))

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, id := range []uint64{2, 3} {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			if err := m.AcquireExclusive(id, "r1", time.Second); err == nil {
				mu.Lock()
				order = append(order, int(id))
				mu.Unlock()
			}
		}(id)
		time.Sleep(10 * time.Millisecond) // keep queue order deterministic
	}

	require.NoError(t, m.Unlock(1, "r1"))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.Unlock(2, "r1"))
	wg.Wait()

	assert.Equal(t, []int{2, 3}, order)
}

func TestAbortCancelsWaiter(t *testing.T) {
	var aborted int32
	isAborted := func(id uint64) bool { return atomic.LoadInt32(&aborted) == 1 }

	m := New(isAborted)
	require.NoError(t, m.AcquireExclusive(1, "r1", 0))

	done := make(chan error, 1)
	go func() {
		done <- m.AcquireExclusive(2, "r1", time.Second)
	}()
	time.Sleep(20 * time.Millisecond)

	atomic.StoreInt32(&aborted, 1)
	m.WakeAll()

	select {
	case err := <-done:
		assert.Error(t, err, "a waiter whose txn is aborted must give up instead of blocking forever")
	case <-time.After(time.Second):
		t.Fatal("aborted waiter was never cancelled")
	}
}

func TestUnlockUnknownRecordFails(t *testing.T) {
	m := New(noAbort)
	err := m.Unlock(1, "nope")
	assert.Error(t, err)
}

func TestReleaseAllReleasesEveryHeldLock(t *testing.T) {
	m := New(noAbort)
	require.NoError(t, m.AcquireShared(1, "r1", 0))
	require.NoError(t, m.AcquireExclusive(1, "r2", 0))

	m.ReleaseAll(1)

	require.NoError(t, m.AcquireExclusive(2, "r1", 0))
	require.NoError(t, m.AcquireExclusive(3, "r2", 0))
}

func TestDeadlockDetectorPicksYoungestVictim(t *testing.T) {
	var victim uint64
	var mu sync.Mutex
	m := New(noAbort)
	m.SetDeadlockVictim(func(id uint64) {
		mu.Lock()
		victim = id
		mu.Unlock()
	})

	require.NoError(t, m.AcquireExclusive(1, "a", 0))
	require.NoError(t, m.AcquireExclusive(2, "b", 0))

	go m.AcquireExclusive(1, "b", time.Second) // 1 waits on 2
	time.Sleep(10 * time.Millisecond)
	go m.AcquireExclusive(2, "a", time.Second) // 2 waits on 1: cycle

	m.RunDeadlockDetector(10 * time.Millisecond)
	defer m.StopDeadlockDetector()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return victim != 0
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, uint64(2), victim, "the younger (higher-id) transaction in the cycle must be chosen")
}

func TestDetectCycleNoFalsePositive(t *testing.T) {
	m := New(noAbort)
	require.NoError(t, m.AcquireShared(1, "a", 0))
	require.NoError(t, m.AcquireShared(2, "a", 0))
	assert.Nil(t, m.detectCycle())
}
