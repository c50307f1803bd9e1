package gossip

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"seedmesh/fingerprint"
	"seedmesh/peerid"
	"seedmesh/swarm/neighbor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu   sync.Mutex
	down map[peerid.PeerID]bool
	sent map[peerid.PeerID][]string
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		down: map[peerid.PeerID]bool{},
		sent: map[peerid.PeerID][]string{},
	}
}

func (s *fakeSender) Gossip(ctx context.Context, peer peerid.PeerID, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down[peer] {
		return errors.New("connection refused")
	}
	s.sent[peer] = append(s.sent[peer], payload)
	return nil
}

func (s *fakeSender) count(peer peerid.PeerID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent[peer])
}

var (
	self = peerid.New("127.0.0.1", 5000)
	a    = peerid.New("127.0.0.1", 5001)
	b    = peerid.New("127.0.0.1", 5002)
)

func newTestDisseminator(s Sender, opts Options) *Disseminator {
	tbl := neighbor.NewTable()
	tbl.Add(a)
	tbl.Add(b)
	return New(self, tbl, fingerprint.NewUnbounded(), s, opts)
}

func TestReceiveRelaysOnce(t *testing.T) {
	s := newFakeSender()
	d := newTestDisseminator(s, Options{})
	ctx := context.Background()

	require.True(t, d.Receive(ctx, "hello"))
	require.False(t, d.Receive(ctx, "hello"))
	require.False(t, d.Receive(ctx, "hello"))

	// The sender is not excluded, so both neighbors get exactly one copy.
	assert.Equal(t, []string{"hello"}, s.sent[a])
	assert.Equal(t, []string{"hello"}, s.sent[b])
	assert.True(t, d.Seen("hello"))
}

func TestReceiveDistinctPayloads(t *testing.T) {
	s := newFakeSender()
	d := newTestDisseminator(s, Options{})
	ctx := context.Background()

	require.True(t, d.Receive(ctx, "one"))
	require.True(t, d.Receive(ctx, "two"))
	assert.Equal(t, 2, s.count(a))
	assert.Equal(t, 2, s.count(b))
}

func TestOriginateIsUniqueAndSeen(t *testing.T) {
	s := newFakeSender()
	now := time.Unix(1700000000, 42)
	var delivered []string
	d := newTestDisseminator(s, Options{
		Now:       func() time.Time { return now },
		OnDeliver: func(p string) { delivered = append(delivered, p) },
	})
	ctx := context.Background()

	p1 := d.Originate(ctx)
	p2 := d.Originate(ctx)
	require.NotEqual(t, p1, p2, "same timestamp must still give distinct payloads")
	require.True(t, strings.HasPrefix(p1, "1700000000000000042:127.0.0.1:5000:"), p1)

	// Our own payload coming back is a duplicate.
	require.False(t, d.Receive(ctx, p1))
	assert.Equal(t, 2, s.count(a))
	assert.Equal(t, []string{p1, p2}, delivered)
}

func TestRelayToleratesDeadNeighbor(t *testing.T) {
	s := newFakeSender()
	s.down[a] = true
	d := newTestDisseminator(s, Options{})

	require.True(t, d.Receive(context.Background(), "x"))
	assert.Zero(t, s.count(a))
	assert.Equal(t, 1, s.count(b))
}

func TestRunOriginatesPeriodically(t *testing.T) {
	s := newFakeSender()
	d := newTestDisseminator(s, Options{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return s.count(a) >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
