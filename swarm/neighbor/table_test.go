package neighbor

import (
	"sync"
	"sync/atomic"
	"testing"

	"seedmesh/peerid"

	"github.com/stretchr/testify/require"
)

var (
	a = peerid.New("127.0.0.1", 5001)
	b = peerid.New("127.0.0.1", 5002)
)

func TestAddRemove(t *testing.T) {
	tbl := NewTable()
	var size atomic.Int32
	tbl.OnChange(func(n int) { size.Store(int32(n)) })

	require.True(t, tbl.Add(b))
	require.True(t, tbl.Add(a))
	require.False(t, tbl.Add(a))
	require.Equal(t, []peerid.PeerID{a, b}, tbl.List())
	require.EqualValues(t, 2, size.Load())

	require.True(t, tbl.Remove(a))
	require.False(t, tbl.Remove(a))
	require.False(t, tbl.Has(a))
	require.Equal(t, 1, tbl.Len())
	require.EqualValues(t, 1, size.Load())
}

func TestMissedCounter(t *testing.T) {
	tbl := NewTable()
	tbl.Add(a)

	require.Equal(t, 1, tbl.RecordFailure(a))
	require.Equal(t, 2, tbl.RecordFailure(a))
	require.True(t, tbl.RecordSuccess(a))
	require.Equal(t, 0, tbl.Missed(a))
	require.Equal(t, 1, tbl.RecordFailure(a))

	// Re-adding an existing neighbor keeps its counter.
	tbl.Add(a)
	require.Equal(t, 1, tbl.Missed(a))

	require.Equal(t, -1, tbl.RecordFailure(b))
	require.False(t, tbl.RecordSuccess(b))
	require.Equal(t, -1, tbl.Missed(b))
}

func TestEvictable(t *testing.T) {
	tbl := NewTable()
	tbl.Add(a)
	tbl.Add(b)
	for range 3 {
		tbl.RecordFailure(b)
	}
	tbl.RecordFailure(a)

	require.Equal(t, []peerid.PeerID{b}, tbl.Evictable(3))
	require.Empty(t, tbl.Evictable(4))
	require.Len(t, tbl.Evictable(1), 2)
	require.True(t, tbl.Has(b))
}

func TestSnapshotIsACopy(t *testing.T) {
	tbl := NewTable()
	tbl.Add(a)
	tbl.RecordFailure(a)

	snap := tbl.Snapshot()
	snap[0].MissedPings = 99
	require.Equal(t, 1, tbl.Missed(a))
}

func TestConcurrentUse(t *testing.T) {
	tbl := NewTable()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := peerid.New("10.0.0.1", 6000+i)
			for j := 0; j < 200; j++ {
				tbl.Add(id)
				tbl.RecordFailure(id)
				tbl.RecordSuccess(id)
				_ = tbl.List()
				if j%50 == 0 {
					tbl.Remove(id)
				}
			}
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, tbl.Len(), 8)
}
