package versionmanager

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/gojotx/core/storage_engine/common"
)

func requireGranted(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	default:
		t.Fatal("lock not granted")
	}
}

func requireWaiting(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	require.NotNil(t, ch)
	select {
	case <-ch:
		t.Fatal("lock granted too early")
	default:
	}
}

func TestLockTable_GrantAndReentry(t *testing.T) {
	lt := NewLockTable()
	ch, err := lt.Add(1, 100)
	require.NoError(t, err)
	require.Nil(t, ch)
	require.True(t, lt.Holds(1, 100))

	ch, err = lt.Add(1, 100)
	require.NoError(t, err)
	require.Nil(t, ch)
}

func TestLockTable_FIFOHandOff(t *testing.T) {
	lt := NewLockTable()
	_, err := lt.Add(1, 100)
	require.NoError(t, err)

	ch2, err := lt.Add(2, 100)
	require.NoError(t, err)
	requireWaiting(t, ch2)
	ch3, err := lt.Add(3, 100)
	require.NoError(t, err)
	requireWaiting(t, ch3)

	lt.Remove(1)
	requireGranted(t, ch2)
	requireWaiting(t, ch3)
	require.True(t, lt.Holds(2, 100))

	// the new holder's locks are released with it
	lt.Remove(2)
	requireGranted(t, ch3)
	require.True(t, lt.Holds(3, 100))

	lt.Remove(3)
	require.False(t, lt.Holds(3, 100))
	require.Empty(t, lt.u2x)
	require.Empty(t, lt.x2u)
	require.Empty(t, lt.wait)
	require.Empty(t, lt.waitU)
	require.Empty(t, lt.waitCh)
}

func TestLockTable_SkipsWithdrawnWaiter(t *testing.T) {
	lt := NewLockTable()
	_, err := lt.Add(1, 100)
	require.NoError(t, err)
	ch2, err := lt.Add(2, 100)
	require.NoError(t, err)
	ch3, err := lt.Add(3, 100)
	require.NoError(t, err)

	// 2 gives up while waiting
	lt.Remove(2)
	requireGranted(t, ch2)
	require.False(t, lt.Holds(2, 100))

	lt.Remove(1)
	requireGranted(t, ch3)
	require.True(t, lt.Holds(3, 100))
}

func TestLockTable_TwoWayDeadlock(t *testing.T) {
	lt := NewLockTable()
	_, err := lt.Add(1, 100)
	require.NoError(t, err)
	_, err = lt.Add(2, 200)
	require.NoError(t, err)

	ch, err := lt.Add(1, 200)
	require.NoError(t, err)
	requireWaiting(t, ch)

	_, err = lt.Add(2, 100)
	require.ErrorIs(t, err, common.ErrDeadlock)
	// the failed wait edge is rolled back
	_, waiting := lt.waitU[2]
	require.False(t, waiting)
	require.NotContains(t, lt.wait[100], uint64(2))

	lt.Remove(2)
	requireGranted(t, ch)
	require.True(t, lt.Holds(1, 200))
}

func TestLockTable_ThreeWayDeadlock(t *testing.T) {
	lt := NewLockTable()
	for xid, uid := range map[uint64]common.UID{1: 100, 2: 200, 3: 300} {
		_, err := lt.Add(xid, uid)
		require.NoError(t, err)
	}
	_, err := lt.Add(1, 200)
	require.NoError(t, err)
	_, err = lt.Add(2, 300)
	require.NoError(t, err)
	_, err = lt.Add(3, 100)
	require.ErrorIs(t, err, common.ErrDeadlock)
}

func TestLockTable_ChainWithoutCycle(t *testing.T) {
	lt := NewLockTable()
	for xid := uint64(1); xid <= 5; xid++ {
		_, err := lt.Add(xid, common.UID(xid*100))
		require.NoError(t, err)
	}
	// 1 -> 2 -> 3 -> 4 -> 5, and 5 is not waiting
	for xid := uint64(1); xid < 5; xid++ {
		ch, err := lt.Add(xid, common.UID((xid+1)*100))
		require.NoError(t, err)
		requireWaiting(t, ch)
	}
	require.False(t, lt.hasDeadlock())

	// closing the ring is a deadlock
	_, err := lt.Add(5, 100)
	require.ErrorIs(t, err, common.ErrDeadlock)
}
