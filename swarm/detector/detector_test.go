package detector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"seedmesh/peerid"
	"seedmesh/swarm/neighbor"

	"github.com/stretchr/testify/require"
)

type deadReport struct {
	seed, dead peerid.PeerID
}

type fakeClient struct {
	mu         sync.Mutex
	down       map[peerid.PeerID]bool
	pings      map[peerid.PeerID]int
	heartbeats map[peerid.PeerID]int
	degrees    map[peerid.PeerID]int
	reports    []deadReport
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		down:       map[peerid.PeerID]bool{},
		pings:      map[peerid.PeerID]int{},
		heartbeats: map[peerid.PeerID]int{},
		degrees:    map[peerid.PeerID]int{},
	}
}

func (c *fakeClient) setDown(id peerid.PeerID, down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down[id] = down
}

func (c *fakeClient) Ping(ctx context.Context, peer, self peerid.PeerID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings[peer]++
	if c.down[peer] {
		return errors.New("connection refused")
	}
	return nil
}

func (c *fakeClient) Heartbeat(ctx context.Context, seed, self peerid.PeerID, degree int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down[seed] {
		return errors.New("connection refused")
	}
	c.heartbeats[seed]++
	c.degrees[seed] = degree
	return nil
}

func (c *fakeClient) ReportDead(ctx context.Context, seed, dead peerid.PeerID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, deadReport{seed: seed, dead: dead})
	return nil
}

var (
	self  = peerid.New("127.0.0.1", 5000)
	alive = peerid.New("127.0.0.1", 5001)
	dead  = peerid.New("127.0.0.1", 5002)
	seeds = []peerid.PeerID{peerid.New("127.0.0.1", 4000), peerid.New("127.0.0.1", 4001)}
)

func TestProbeEviction(t *testing.T) {
	tbl := neighbor.NewTable()
	tbl.Add(alive)
	tbl.Add(dead)

	c := newFakeClient()
	c.setDown(dead, true)

	var evicted []peerid.PeerID
	d := New(self, seeds, tbl, c, Options{OnEvict: func(id peerid.PeerID) { evicted = append(evicted, id) }})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.Empty(t, d.Probe(ctx))
		require.Equal(t, i, tbl.Missed(dead))
	}
	require.True(t, tbl.Has(dead), "kept until the next inspection")
	require.Empty(t, c.reports)

	require.Equal(t, []peerid.PeerID{dead}, d.Probe(ctx))
	require.False(t, tbl.Has(dead))
	require.True(t, tbl.Has(alive))
	require.Equal(t, 0, tbl.Missed(alive))
	require.Equal(t, []peerid.PeerID{dead}, evicted)

	require.ElementsMatch(t, []deadReport{
		{seed: seeds[0], dead: dead},
		{seed: seeds[1], dead: dead},
	}, c.reports)

	// The evicted neighbor is not pinged on the eviction round.
	require.Equal(t, 3, c.pings[dead])
}

func TestMissedCountResetsOnSuccess(t *testing.T) {
	tbl := neighbor.NewTable()
	tbl.Add(dead)

	c := newFakeClient()
	d := New(self, seeds, tbl, c, Options{})
	ctx := context.Background()

	c.setDown(dead, true)
	d.Probe(ctx)
	d.Probe(ctx)
	require.Equal(t, 2, tbl.Missed(dead))

	c.setDown(dead, false)
	d.Probe(ctx)
	require.Equal(t, 0, tbl.Missed(dead))

	c.setDown(dead, true)
	d.Probe(ctx)
	require.Equal(t, 1, tbl.Missed(dead))
	require.True(t, tbl.Has(dead))
	require.Empty(t, c.reports)
}

func TestHeartbeatReachesEverySeed(t *testing.T) {
	c := newFakeClient()
	c.setDown(seeds[0], true)

	tbl := neighbor.NewTable()
	tbl.Add(alive)
	tbl.Add(dead)

	d := New(self, seeds, tbl, c, Options{})
	d.Heartbeat(context.Background())
	d.Heartbeat(context.Background())

	require.Zero(t, c.heartbeats[seeds[0]])
	require.Equal(t, 2, c.heartbeats[seeds[1]])
	require.Equal(t, 2, c.degrees[seeds[1]], "neighbor count is reported")
}

func TestRunLoops(t *testing.T) {
	tbl := neighbor.NewTable()
	tbl.Add(dead)
	c := newFakeClient()
	c.setDown(dead, true)

	d := New(self, seeds, tbl, c, Options{
		ProbeInterval:     5 * time.Millisecond,
		HeartbeatInterval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return !tbl.Has(dead) }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.heartbeats[seeds[1]] > 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
