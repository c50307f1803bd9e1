// Package gossip floods payloads across the overlay. Every node relays a
// payload at most once, keyed by its fingerprint.
package gossip

import (
	"context"
	"fmt"
	"time"

	"seedmesh/fingerprint"
	"seedmesh/helper/timer"
	"seedmesh/peerid"
	"seedmesh/swarm/neighbor"
	"seedmesh/telemetry"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"
)

const DefaultInterval = 5 * time.Second

// Sender delivers one payload to one neighbor, without waiting for a reply.
type Sender interface {
	Gossip(ctx context.Context, peer peerid.PeerID, payload string) error
}

type Options struct {
	Interval time.Duration
	Jitter   time.Duration
	Metrics  *telemetry.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
	// OnDeliver, when set, sees every payload the first time it is seen
	// here, originated or received.
	OnDeliver func(payload string)
}

type Disseminator struct {
	self   peerid.PeerID
	table  *neighbor.Table
	seen   fingerprint.SeenSet
	sender Sender
	opts   Options
}

func New(self peerid.PeerID, table *neighbor.Table, seen fingerprint.SeenSet, sender Sender, opts Options) *Disseminator {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.New()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if seen == nil {
		seen = fingerprint.NewUnbounded()
	}
	return &Disseminator{
		self:   self,
		table:  table,
		seen:   seen,
		sender: sender,
		opts:   opts,
	}
}

// NewPayload builds a payload no other call, on this node or any other,
// will produce.
func (d *Disseminator) NewPayload() string {
	return fmt.Sprintf("%d:%s:%s", d.opts.Now().UnixNano(), d.self, uuid.NewString())
}

// Originate creates a fresh payload, marks it seen and relays it to every
// neighbor. It returns the payload.
func (d *Disseminator) Originate(ctx context.Context) string {
	payload := d.NewPayload()
	d.seen.MarkSeen(fingerprint.Of(payload))
	d.opts.Metrics.GossipOriginated.Inc()
	d.deliver(payload)

	n := d.relay(ctx, payload)
	log.Debugf("Disseminator.Originate: %s sent to %d neighbors", payload, n)
	return payload
}

// Receive handles a payload from a neighbor. Payloads seen before are
// dropped and it returns false; otherwise the payload is relayed to every
// neighbor, the sender included.
func (d *Disseminator) Receive(ctx context.Context, payload string) bool {
	d.opts.Metrics.GossipReceived.Inc()

	fp := fingerprint.Of(payload)
	if !d.seen.MarkSeen(fp) {
		d.opts.Metrics.GossipDuplicates.Inc()
		return false
	}

	log.WithField("fp", fp.Short()).Infof("Disseminator.Receive: new message %q", payload)
	d.deliver(payload)
	d.relay(ctx, payload)
	return true
}

func (d *Disseminator) Seen(payload string) bool {
	return d.seen.Seen(fingerprint.Of(payload))
}

func (d *Disseminator) deliver(payload string) {
	if d.opts.OnDeliver != nil {
		d.opts.OnDeliver(payload)
	}
}

// relay sends payload to all current neighbors at once and returns the
// number of successful sends. Failures are left to the detector.
func (d *Disseminator) relay(ctx context.Context, payload string) int {
	peers := d.table.List()
	results := make([]error, len(peers))

	var g errgroup.Group
	for i, p := range peers {
		g.Go(func() error {
			results[i] = d.sender.Gossip(ctx, p, payload)
			return nil
		})
	}
	g.Wait()

	sent := 0
	for i, err := range results {
		if err != nil {
			log.WithField("peer", peers[i].String()).Debugf("Disseminator: relay failed: %v", err)
			continue
		}
		sent++
	}
	d.opts.Metrics.GossipRelayed.Add(float64(sent))
	return sent
}

// This is run via the RunWithTicker() helper
func (d *Disseminator) originateTick(ctx context.Context) error {
	d.Originate(ctx)
	return nil
}

// Run originates a payload every interval until ctx is cancelled.
func (d *Disseminator) Run(ctx context.Context) error {
	interval := &timer.Interval{
		Duration: d.opts.Interval,
		Jitter:   d.opts.Jitter,
	}
	return timer.RunWithTicker(ctx, interval, d.originateTick)
}
