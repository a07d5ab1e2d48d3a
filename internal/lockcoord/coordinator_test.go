package lockcoord

import (
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LorenDorez/git-tfs/internal/errs"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	dir, err := os.MkdirTemp("", "lockcoord-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	c, err := New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestTryAcquireThenRelease(t *testing.T) {
	c := newTestCoordinator(t)

	require.NoError(t, c.TryAcquire("ws", 0, time.Hour, Record{AcquiredBy: "agent-1"}))

	info, err := c.GetInfo("ws")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", info.AcquiredBy)

	require.NoError(t, c.Release("ws"))

	_, err = c.GetInfo("ws")
	assert.ErrorIs(t, err, ErrNotHeld)
}

func TestTryAcquireRejectsTimeoutGreaterThanMaxAge(t *testing.T) {
	c := newTestCoordinator(t)

	err := c.TryAcquire("ws", 2*time.Hour, time.Hour, Record{})
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidArguments, errs.KindOf(err))
}

func TestTryAcquireFailsWhenAlreadyHeldAndFresh(t *testing.T) {
	c := newTestCoordinator(t)

	require.NoError(t, c.TryAcquire("ws", 0, time.Hour, Record{AcquiredBy: "agent-1"}))

	err := c.TryAcquire("ws", 50*time.Millisecond, time.Hour, Record{AcquiredBy: "agent-2"})
	require.Error(t, err)
	assert.Equal(t, errs.KindLockContention, errs.KindOf(err))
}

func TestTryAcquireEvictsStaleHolder(t *testing.T) {
	c := newTestCoordinator(t)

	require.NoError(t, c.TryAcquire("ws", 0, 10*time.Millisecond, Record{AcquiredBy: "agent-1"}))
	time.Sleep(30 * time.Millisecond)

	err := c.TryAcquire("ws", 10*time.Millisecond, 10*time.Millisecond, Record{AcquiredBy: "agent-2"})
	require.NoError(t, err)

	info, err := c.GetInfo("ws")
	require.NoError(t, err)
	assert.Equal(t, "agent-2", info.AcquiredBy)
}

func TestReleaseOfUnheldLockIsNotError(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.Release("never-held"))
}

func TestForceUnlockRemovesFreshLock(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.TryAcquire("ws", 0, time.Hour, Record{AcquiredBy: "agent-1"}))
	require.NoError(t, c.ForceUnlock("ws"))

	_, err := c.GetInfo("ws")
	assert.ErrorIs(t, err, ErrNotHeld)
}

func TestGetInfoTreatsCorruptRecordAsNotHeld(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, os.WriteFile(c.path("ws"), []byte("not a valid record\x00\x01"), 0644))

	_, err := c.GetInfo("ws")
	assert.ErrorIs(t, err, ErrNotHeld)
}

func TestIsStale(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.TryAcquire("ws", 0, 10*time.Millisecond, Record{AcquiredBy: "agent-1"}))

	stale, err := c.IsStale("ws", 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, stale)

	time.Sleep(30 * time.Millisecond)

	stale, err = c.IsStale("ws", 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestIsStaleOfMissingLockIsFalse(t *testing.T) {
	c := newTestCoordinator(t)
	stale, err := c.IsStale("never-held", time.Hour)
	require.NoError(t, err)
	assert.False(t, stale)
}

// TestConcurrentAcquireOnlyOneWinner exercises the mutual-exclusion
// guarantee under real goroutine contention: of many concurrent acquirers
// racing for the same lock name, exactly one observes success before the
// others time out.
func TestConcurrentAcquireOnlyOneWinner(t *testing.T) {
	c := newTestCoordinator(t)

	const attempts = 8
	var wins atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := c.TryAcquire("ws", 20*time.Millisecond, time.Hour, Record{AcquiredBy: "agent"})
			if err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
