package registry

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"seedmesh/datamodel/member"
	"seedmesh/datastore/peerfile"
	"seedmesh/peerid"
	"seedmesh/swarm/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type failingStore struct {
	merges int
}

func (s *failingStore) Load() ([]member.Record, error) { return nil, errors.New("disk on fire") }
func (s *failingStore) Merge([]member.Record) error {
	s.merges++
	return errors.New("disk on fire")
}
func (s *failingStore) Close() error { return nil }

var (
	peerA = peerid.New("127.0.0.1", 5001)
	peerB = peerid.New("127.0.0.1", 5002)
	peerC = peerid.New("127.0.0.1", 5003)
)

func TestEmptyRegistry(t *testing.T) {
	r := New(nil)

	require.Empty(t, r.GetPeers())

	resp, err := r.Handle(context.Background(), nil, &protocol.GetPeers{})
	require.NoError(t, err)
	require.True(t, resp.IsOK())
	require.Empty(t, resp.Peers)
}

func TestRegisterThenQuery(t *testing.T) {
	r := New(nil)

	resp, err := r.Handle(context.Background(), nil, &protocol.Register{Peer: peerA})
	require.NoError(t, err)
	require.Equal(t, protocol.MessageAck, resp.Message)
	_, err = r.Handle(context.Background(), nil, &protocol.Register{Peer: peerB})
	require.NoError(t, err)

	// Registering twice is idempotent.
	r.Register(peerA)

	require.ElementsMatch(t, []peerid.PeerID{peerA, peerB}, r.GetPeers())
}

func TestHeartbeatKeepsRecordAlive(t *testing.T) {
	clock := newFakeClock()
	r := New(nil, WithClock(clock.Now), WithHeartbeatTimeout(15*time.Second))

	r.Register(peerA)
	r.Register(peerB)

	clock.Advance(10 * time.Second)
	r.Heartbeat(peerA, 1)

	clock.Advance(6 * time.Second)
	expired := r.Sweep()

	require.Equal(t, []peerid.PeerID{peerB}, expired)
	require.Equal(t, []peerid.PeerID{peerA}, r.GetPeers())
}

func TestHeartbeatTimeoutWithoutDeregistration(t *testing.T) {
	clock := newFakeClock()
	r := New(nil, WithClock(clock.Now), WithHeartbeatTimeout(15*time.Second))

	r.Register(peerA)

	// Exactly at the timeout the record is still valid.
	clock.Advance(15 * time.Second)
	require.Empty(t, r.Sweep())
	require.Equal(t, []peerid.PeerID{peerA}, r.GetPeers())

	clock.Advance(time.Millisecond)
	require.Equal(t, []peerid.PeerID{peerA}, r.Sweep())
	require.Empty(t, r.GetPeers())
}

func TestHeartbeatFromUnknownPeerRegisters(t *testing.T) {
	dir := t.TempDir()
	store, err := peerfile.New(filepath.Join(dir, "peers.txt"))
	require.NoError(t, err)

	r := New(store)
	resp, err := r.Handle(context.Background(), nil, &protocol.Heartbeat{Peer: peerC})
	require.NoError(t, err)
	require.True(t, resp.IsOK())

	require.Equal(t, []peerid.PeerID{peerC}, r.GetPeers())

	persisted, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, []peerid.PeerID{peerC}, member.IDs(persisted))
}

func TestReportDeadIgnoresLastSeen(t *testing.T) {
	r := New(nil)
	r.Register(peerA)
	r.Register(peerB)

	resp, err := r.Handle(context.Background(), nil, &protocol.DeadNode{Peer: peerA})
	require.NoError(t, err)
	require.Nil(t, resp, "dead_node takes no reply")

	require.Equal(t, []peerid.PeerID{peerB}, r.GetPeers())
	require.False(t, r.ReportDead(peerA))
}

func TestPersistenceIsAUnion(t *testing.T) {
	store, err := peerfile.New(filepath.Join(t.TempDir(), "peers.txt"))
	require.NoError(t, err)

	r := New(store)
	r.Register(peerA)
	r.ReportDead(peerA)
	r.Register(peerB)

	persisted, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, []peerid.PeerID{peerA, peerB}, member.IDs(persisted))
}

func TestStoreFailureDoesNotAbortMutation(t *testing.T) {
	store := &failingStore{}
	r := New(store)

	r.Register(peerA)

	require.Equal(t, 1, store.merges)
	require.Equal(t, []peerid.PeerID{peerA}, r.GetPeers())
	require.Error(t, r.WarmStart())
}

func TestWarmStart(t *testing.T) {
	store, err := peerfile.New(filepath.Join(t.TempDir(), "peers.txt"))
	require.NoError(t, err)
	require.NoError(t, store.Merge([]member.Record{{ID: peerA}, {ID: peerB}}))

	clock := newFakeClock()
	r := New(store, WithClock(clock.Now), WithHeartbeatTimeout(15*time.Second))
	require.NoError(t, r.WarmStart())
	require.Equal(t, []peerid.PeerID{peerA, peerB}, r.GetPeers())

	// Only peers that heartbeat survive their first window.
	clock.Advance(10 * time.Second)
	r.Heartbeat(peerB, 1)
	clock.Advance(10 * time.Second)
	r.Sweep()
	require.Equal(t, []peerid.PeerID{peerB}, r.GetPeers())
}

func TestSeedRejectsPeerMessages(t *testing.T) {
	r := New(nil)

	for _, msg := range []protocol.Message{
		&protocol.Connect{Peer: peerA},
		&protocol.Ping{},
		&protocol.Gossip{Payload: "x"},
	} {
		_, err := r.Handle(context.Background(), nil, msg)
		assert.ErrorIs(t, err, ErrUnsupported, "kind %s", msg.Kind())
	}
	require.Empty(t, r.GetPeers())
}

func TestConcurrentAccess(t *testing.T) {
	clock := newFakeClock()
	r := New(nil, WithClock(clock.Now))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := peerid.New("10.0.0.1", 5000+i*100+j)
				r.Register(id)
				r.Heartbeat(id, 1)
				_ = r.GetPeers()
				if j%10 == 0 {
					r.Sweep()
				}
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 800, r.Len())
	require.Len(t, r.GetPeers(), 800)
	require.Len(t, r.Records(), 800)
}

func TestGetPeersCarriesReportedDegrees(t *testing.T) {
	r := New(nil)
	r.Register(peerA)
	r.Heartbeat(peerB, 4)
	r.Heartbeat(peerA, 2)

	// A later register keeps the last reported degree.
	r.Register(peerA)

	resp, err := r.Handle(context.Background(), nil, &protocol.GetPeers{})
	require.NoError(t, err)
	require.NoError(t, protocol.Validate(resp))
	require.Equal(t, []peerid.PeerID{peerA, peerB}, resp.Peers)
	require.Equal(t, []int{2, 4}, resp.Degrees)
}
