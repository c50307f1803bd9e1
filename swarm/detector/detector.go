// Package detector finds dead overlay edges by pinging neighbors, and keeps
// this peer alive in the seeds' view by heartbeating them.
package detector

import (
	"context"
	"time"

	"seedmesh/helper/timer"
	"seedmesh/peerid"
	"seedmesh/swarm/neighbor"
	"seedmesh/telemetry"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultMaxMissedPings    = 3
	DefaultProbeInterval     = 13 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second

	// Pings in flight at once during a probe round.
	probeConcurrency = 32
)

type Client interface {
	Ping(ctx context.Context, peer, self peerid.PeerID) error
	Heartbeat(ctx context.Context, seed, self peerid.PeerID, degree int) error
	ReportDead(ctx context.Context, seed, dead peerid.PeerID) error
}

type Options struct {
	MaxMissedPings    int
	ProbeInterval     time.Duration
	HeartbeatInterval time.Duration
	Jitter            time.Duration
	Metrics           *telemetry.Metrics
	// OnEvict, when set, is called after each eviction.
	OnEvict func(id peerid.PeerID)
}

type Detector struct {
	self   peerid.PeerID
	seeds  []peerid.PeerID
	table  *neighbor.Table
	client Client
	opts   Options
}

func New(self peerid.PeerID, seeds []peerid.PeerID, table *neighbor.Table, client Client, opts Options) *Detector {
	if opts.MaxMissedPings <= 0 {
		opts.MaxMissedPings = DefaultMaxMissedPings
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = DefaultProbeInterval
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.New()
	}
	return &Detector{
		self:   self,
		seeds:  seeds,
		table:  table,
		client: client,
		opts:   opts,
	}
}

// Probe runs one round over the neighbor table. Neighbors already at the
// missed threshold are evicted; every other neighbor is pinged. It returns
// the evicted ids.
func (d *Detector) Probe(ctx context.Context) []peerid.PeerID {
	evict := d.table.Evictable(d.opts.MaxMissedPings)
	for _, id := range evict {
		d.evict(ctx, id)
	}

	var g errgroup.Group
	g.SetLimit(probeConcurrency)
	for _, id := range d.table.List() {
		g.Go(func() error {
			d.ping(ctx, id)
			return nil
		})
	}
	g.Wait()

	return evict
}

func (d *Detector) ping(ctx context.Context, id peerid.PeerID) {
	logger := log.WithField("peer", id.String())

	if err := d.client.Ping(ctx, id, d.self); err != nil {
		d.opts.Metrics.Probes.WithLabelValues("missed").Inc()
		missed := d.table.RecordFailure(id)
		if missed >= 0 {
			logger.Warnf("Detector.Probe: ping failed (%d/%d missed): %v", missed, d.opts.MaxMissedPings, err)
		}
		return
	}

	d.opts.Metrics.Probes.WithLabelValues("ok").Inc()
	d.table.RecordSuccess(id)
	logger.Debug("Detector.Probe: pong")
}

// evict drops id and tells every known seed about it.
func (d *Detector) evict(ctx context.Context, id peerid.PeerID) {
	if !d.table.Remove(id) {
		return
	}
	d.opts.Metrics.Evictions.Inc()
	log.WithField("peer", id.String()).Warnf("Detector: evicting neighbor after %d missed pings", d.opts.MaxMissedPings)

	for _, seed := range d.seeds {
		if err := d.client.ReportDead(ctx, seed, id); err != nil {
			log.WithFields(log.Fields{"peer": id.String(), "seed": seed.String()}).Warnf("Detector: dead node report failed: %v", err)
		}
	}

	if d.opts.OnEvict != nil {
		d.opts.OnEvict(id)
	}
}

// Heartbeat signals liveness and the current neighbor count to every known
// seed once. Failures are logged; the next tick is the retry.
func (d *Detector) Heartbeat(ctx context.Context) {
	degree := d.table.Len()
	for _, seed := range d.seeds {
		err := d.client.Heartbeat(ctx, seed, d.self, degree)
		d.opts.Metrics.Heartbeats.WithLabelValues(telemetry.Result(err)).Inc()
		if err != nil {
			log.WithField("seed", seed.String()).Warnf("Detector.Heartbeat: %v", err)
		}
	}
}

// This is run via the RunWithTicker() helper
func (d *Detector) probeTick(ctx context.Context) error {
	d.Probe(ctx)
	return nil
}

// This is run via the RunWithTicker() helper
func (d *Detector) heartbeatTick(ctx context.Context) error {
	d.Heartbeat(ctx)
	return nil
}

// Run drives the probe and heartbeat loops until ctx is cancelled.
func (d *Detector) Run(ctx context.Context) error {
	wg, cctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		interval := &timer.Interval{
			Duration: d.opts.ProbeInterval,
			Jitter:   d.opts.Jitter,
		}
		return timer.RunWithTicker(cctx, interval, d.probeTick)
	})

	wg.Go(func() error {
		interval := &timer.Interval{
			Duration: d.opts.HeartbeatInterval,
			Jitter:   d.opts.Jitter,
		}
		return timer.RunWithTicker(cctx, interval, d.heartbeatTick)
	})

	return wg.Wait()
}
