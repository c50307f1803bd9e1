// Package agent is the peer side of the mesh: it joins through the seeds,
// keeps a neighbor set, floods gossip and watches its neighbors.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync/atomic"
	"time"

	"seedmesh/config"
	"seedmesh/fingerprint"
	"seedmesh/helper/timer"
	"seedmesh/net/transport"
	"seedmesh/peerid"
	"seedmesh/swarm/client"
	"seedmesh/swarm/detector"
	"seedmesh/swarm/gossip"
	"seedmesh/swarm/neighbor"
	"seedmesh/swarm/topology"
	"seedmesh/telemetry"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	log "github.com/sirupsen/logrus"
)

var ErrNoSeeds = errors.New("agent needs at least one seed")

type Agent struct {
	// Advertised identity
	Self peerid.PeerID

	// Full bootstrap list, and the subset used for registration and
	// peer discovery.
	Seeds    []peerid.PeerID
	Selected []peerid.PeerID

	// Overlay state
	Table    *neighbor.Table
	Builder  *topology.Builder
	Detector *detector.Detector
	Gossip   *gossip.Disseminator

	// Networking
	Client *client.Client
	Server *transport.Server

	Metrics *telemetry.Metrics

	topologyInterval time.Duration
	jitter           time.Duration
	metricsListen    string

	// Pool size seen by the last rebuild
	poolSize atomic.Int64

	// Helpers
	sg singleflight.Group
}

type options struct {
	rng       *rand.Rand
	metrics   *telemetry.Metrics
	onDeliver func(payload string)
}

type Option func(*options)

// WithRand fixes the randomness of seed selection and topology sampling.
func WithRand(rng *rand.Rand) Option {
	return func(o *options) { o.rng = rng }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithDeliver observes every gossip payload the first time this agent sees it.
func WithDeliver(f func(payload string)) Option {
	return func(o *options) { o.onDeliver = f }
}

// New wires an agent around listener, which must already be bound to the
// port advertised in self.
func New(cfg *config.Config, self peerid.PeerID, seeds []peerid.PeerID, listener net.Listener, opts ...Option) (*Agent, error) {
	if len(seeds) == 0 {
		return nil, ErrNoSeeds
	}
	if err := self.Validate(); err != nil {
		return nil, fmt.Errorf("advertised address: %w", err)
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if o.metrics == nil {
		o.metrics = telemetry.New()
	}

	if err := topology.ValidPolicy(cfg.Peer.TopologyPolicy); err != nil {
		return nil, err
	}

	seen, err := fingerprint.New(cfg.Peer.SeenSet, cfg.Peer.SeenCapacity, cfg.Peer.BloomFPRate)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		Self:             self,
		Seeds:            seeds,
		Selected:         SelectSeeds(o.rng, seeds),
		Table:            neighbor.NewTable(),
		Client:           client.New(cfg.Network.Timeout.Std()),
		Metrics:          o.metrics,
		topologyInterval: cfg.Peer.TopologyInterval.Std(),
		jitter:           cfg.Peer.Jitter.Std(),
		metricsListen:    cfg.Metrics.Listen,
	}
	if a.topologyInterval <= 0 {
		a.topologyInterval = 30 * time.Second
	}

	a.Table.OnChange(func(size int) {
		a.Metrics.Neighbors.Set(float64(size))
	})

	a.Builder = topology.NewBuilder(self, a.Client, a.Table, topology.Options{
		Policy:   cfg.Peer.TopologyPolicy,
		FixedCap: cfg.Peer.FixedCap,
		Rand:     o.rng,
		Metrics:  a.Metrics,
	})

	a.Detector = detector.New(self, seeds, a.Table, a.Client, detector.Options{
		MaxMissedPings:    cfg.Peer.MaxMissedPings,
		ProbeInterval:     cfg.Peer.ProbeInterval.Std(),
		HeartbeatInterval: cfg.Peer.HeartbeatInterval.Std(),
		Jitter:            a.jitter,
		Metrics:           a.Metrics,
		OnEvict:           a.Builder.Forget,
	})

	a.Gossip = gossip.New(self, a.Table, seen, a.Client, gossip.Options{
		Interval:  cfg.Peer.GossipInterval.Std(),
		Jitter:    a.jitter,
		Metrics:   a.Metrics,
		OnDeliver: o.onDeliver,
	})

	a.Server = transport.NewServer(listener, a, transport.Options{
		Timeout:     cfg.Network.Timeout.Std(),
		MaxConns:    cfg.Network.MaxConns,
		AcceptRate:  cfg.Network.AcceptRate,
		AcceptBurst: cfg.Network.AcceptBurst,
	})

	log.Infof("I am %s, using seeds %v of %d", self, a.Selected, len(seeds))

	return a, nil
}

// SelectSeeds shuffles seeds and keeps ⌈n/2⌉+1 of them, or all when there
// are fewer.
func SelectSeeds(rng *rand.Rand, seeds []peerid.PeerID) []peerid.PeerID {
	n := len(seeds)
	k := min(n, (n+1)/2+1)

	shuffled := make([]peerid.PeerID, n)
	copy(shuffled, seeds)
	rng.Shuffle(n, func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:k]
}

// Bootstrap registers with the selected seeds and builds the first
// topology. Unreachable seeds are skipped; the error is only returned
// when none accepted the registration.
func (a *Agent) Bootstrap(ctx context.Context) error {
	registered := 0
	for _, seed := range a.Selected {
		if err := a.Client.Register(ctx, seed, a.Self); err != nil {
			log.WithField("seed", seed.String()).Warnf("Agent.Bootstrap: register failed: %v", err)
			continue
		}
		registered++
	}

	if _, err := a.Rebuild(ctx); err != nil {
		return err
	}

	if registered == 0 {
		return fmt.Errorf("no seed out of %d accepted the registration", len(a.Selected))
	}
	return nil
}

// Pool returns the union of the selected seeds' member lists, with the
// highest neighbor count any seed reported for each member.
func (a *Agent) Pool(ctx context.Context) ([]peerid.PeerID, map[peerid.PeerID]int) {
	var pool []peerid.PeerID
	degrees := make(map[peerid.PeerID]int)
	for _, seed := range a.Selected {
		peers, reported, err := a.Client.Members(ctx, seed)
		if err != nil {
			log.WithField("seed", seed.String()).Warnf("Agent.Pool: get_peers failed: %v", err)
			continue
		}
		pool = append(pool, peers...)
		if len(reported) != len(peers) {
			continue
		}
		for i, id := range peers {
			degrees[id] = max(degrees[id], reported[i])
		}
	}
	return peerid.Dedup(pool), degrees
}

// Rebuild fetches a fresh pool and runs a topology round. Concurrent
// callers share one round. It returns the neighbors added.
func (a *Agent) Rebuild(ctx context.Context) ([]peerid.PeerID, error) {
	v, err, shared := a.sg.Do("Rebuild", func() (interface{}, error) {
		pool, degrees := a.Pool(ctx)

		size := 0
		for _, id := range pool {
			if id != a.Self {
				size++
			}
		}
		a.poolSize.Store(int64(size))

		return a.Builder.Build(ctx, pool, degrees), nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debugf("Agent.Rebuild: joined a round in progress")
	}
	return v.([]peerid.PeerID), nil
}

// This is run via the RunWithTicker() helper
func (a *Agent) maintainTopology(ctx context.Context) error {
	size := int(a.poolSize.Load())
	if size > 0 && a.Table.Len() >= a.Builder.Target(size) {
		return nil
	}

	added, err := a.Rebuild(ctx)
	if err != nil {
		return err
	}
	if len(added) > 0 {
		log.Infof("Agent: topology round added %d neighbors, now %d", len(added), a.Table.Len())
	}
	return nil
}

// Run serves inbound requests and drives every background loop until ctx
// is cancelled. Bootstrap should have been called first.
func (a *Agent) Run(ctx context.Context) error {
	wg, cctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return a.Server.Serve(cctx)
	})

	wg.Go(func() error {
		return a.Gossip.Run(cctx)
	})

	wg.Go(func() error {
		return a.Detector.Run(cctx)
	})

	wg.Go(func() error {
		interval := &timer.Interval{
			Duration: a.topologyInterval,
			Jitter:   a.jitter,
		}
		return timer.RunWithTicker(cctx, interval, a.maintainTopology)
	})

	if a.metricsListen != "" {
		wg.Go(func() error {
			return a.Metrics.Serve(cctx, a.metricsListen)
		})
	}

	return wg.Wait()
}
