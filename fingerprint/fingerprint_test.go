package fingerprint

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfIsContentDerived(t *testing.T) {
	a := Of("1700000000:127.0.0.1:5001:token")
	b := Of("1700000000:127.0.0.1:5001:token")
	c := Of("1700000000:127.0.0.1:5001:other")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a.String(), 2*Size)
	assert.Len(t, a.Short(), 16)
}

func TestSeenSetVariants(t *testing.T) {
	for _, kind := range []string{KindUnbounded, KindLRU, KindBloom} {
		t.Run(kind, func(t *testing.T) {
			s, err := New(kind, 1024, 0.0001)
			require.NoError(t, err)

			fp := Of("hello")
			require.False(t, s.Seen(fp))
			require.True(t, s.MarkSeen(fp), "first sighting must be unseen")
			require.False(t, s.MarkSeen(fp), "second sighting must be seen")
			require.True(t, s.Seen(fp))
			require.Equal(t, 1, s.Len())
		})
	}
}

func TestUnknownKind(t *testing.T) {
	_, err := New("fifo", 10, 0.01)
	require.Error(t, err)
}

func TestLRUForgetsOldest(t *testing.T) {
	s, err := NewLRU(2)
	require.NoError(t, err)

	first := Of("a")
	require.True(t, s.MarkSeen(first))
	require.True(t, s.MarkSeen(Of("b")))
	require.True(t, s.MarkSeen(Of("c")))

	require.False(t, s.Seen(first))
	require.Equal(t, 2, s.Len())
}

func TestBloomRejectsBadParameters(t *testing.T) {
	_, err := NewBloom(0, 0.01)
	require.Error(t, err)
	_, err = NewBloom(10, 1)
	require.Error(t, err)
}

func TestUnboundedConcurrentMarkSeen(t *testing.T) {
	s := NewUnbounded()
	fp := Of("contended")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.MarkSeen(fp) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
			s.MarkSeen(Of(fmt.Sprint(i)))
		}()
	}
	wg.Wait()

	require.Equal(t, 1, wins)
	require.Equal(t, 33, s.Len())
}
