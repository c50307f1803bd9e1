// Package topology picks a peer's overlay neighbors with preferential
// attachment: candidates that are already well connected are more likely
// to be chosen.
package topology

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"seedmesh/peerid"
	"seedmesh/swarm/neighbor"
	"seedmesh/telemetry"

	log "github.com/sirupsen/logrus"
)

const (
	// PolicySublinear targets max(1, ceil(|pool|^0.7)) neighbors.
	PolicySublinear = "sublinear"
	// PolicyFixed targets min(cap, |pool|) neighbors.
	PolicyFixed = "fixed"

	DefaultFixedCap = 5

	sublinearExponent = 0.7
)

var ErrUnknownPolicy = errors.New("unknown topology policy")

// ValidPolicy rejects anything but the known policies. Empty means
// sublinear.
func ValidPolicy(policy string) error {
	switch policy {
	case "", PolicySublinear, PolicyFixed:
		return nil
	default:
		return fmt.Errorf("%w %q", ErrUnknownPolicy, policy)
	}
}

// Target returns how many neighbors to aim for given the pool size.
func Target(policy string, poolSize, fixedCap int) int {
	switch policy {
	case PolicyFixed:
		if fixedCap <= 0 {
			fixedCap = DefaultFixedCap
		}
		return max(1, min(fixedCap, poolSize))
	default:
		return max(1, int(math.Ceil(math.Pow(float64(poolSize), sublinearExponent))))
	}
}

// Select draws one of candidates with probability degree(c)/Σdegree, or
// uniformly when every degree is zero. candidates must not be empty.
func Select(rng *rand.Rand, candidates []peerid.PeerID, degrees map[peerid.PeerID]int) peerid.PeerID {
	total := 0
	for _, c := range candidates {
		total += degrees[c]
	}
	if total == 0 {
		return candidates[rng.IntN(len(candidates))]
	}

	r := rng.IntN(total)
	for _, c := range candidates {
		r -= degrees[c]
		if r < 0 {
			return c
		}
	}
	return candidates[len(candidates)-1]
}

// Dialer performs the connect handshake. A nil error means the remote
// acknowledged.
type Dialer interface {
	Connect(ctx context.Context, peer, self peerid.PeerID) error
}

type Options struct {
	Policy   string
	FixedCap int
	// Rand defaults to a randomly seeded source.
	Rand    *rand.Rand
	Metrics *telemetry.Metrics
}

// Builder draws candidates weighted by the degree each one last reported
// to the seeds, plus the edges this node formed with it. Local counters
// live as long as the builder unless Forget drops them.
type Builder struct {
	self     peerid.PeerID
	dialer   Dialer
	table    *neighbor.Table
	policy   string
	fixedCap int
	metrics  *telemetry.Metrics

	mu      sync.Mutex
	rng     *rand.Rand
	degrees map[peerid.PeerID]int
}

func NewBuilder(self peerid.PeerID, dialer Dialer, table *neighbor.Table, opts Options) *Builder {
	b := &Builder{
		self:     self,
		dialer:   dialer,
		table:    table,
		policy:   opts.Policy,
		fixedCap: opts.FixedCap,
		metrics:  opts.Metrics,
		rng:      opts.Rand,
		degrees:  make(map[peerid.PeerID]int),
	}
	if b.rng == nil {
		b.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if b.metrics == nil {
		b.metrics = telemetry.New()
	}
	return b
}

// Bump counts one more edge between this node and id.
func (b *Builder) Bump(id peerid.PeerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.degrees[id]++
}

// Forget drops the counter of id, so an evicted peer carries no weight
// into later rounds.
func (b *Builder) Forget(id peerid.PeerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.degrees, id)
}

func (b *Builder) Degree(id peerid.PeerID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.degrees[id]
}

// Target is the neighbor count Build aims for with a pool of poolSize
// candidates, self excluded.
func (b *Builder) Target(poolSize int) int {
	return Target(b.policy, poolSize, b.fixedCap)
}

// Build handshakes with candidates from pool until the neighbor table
// reaches the target, the eligible candidates run out, or the attempt
// budget is spent. Self, current neighbors and candidates that failed
// during this round are never drawn. reported holds the neighbor counts
// the seeds returned with the pool and may be nil. It returns the
// neighbors it added.
func (b *Builder) Build(ctx context.Context, pool []peerid.PeerID, reported map[peerid.PeerID]int) []peerid.PeerID {
	candidates := make([]peerid.PeerID, 0, len(pool))
	for _, id := range peerid.Dedup(pool) {
		if id != b.self {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		log.Debugf("Builder.Build: no candidates besides self")
		return nil
	}

	target := b.Target(len(candidates))
	maxAttempts := 4*target + len(candidates)
	failed := make(map[peerid.PeerID]bool)

	var added []peerid.PeerID
	for attempts := 0; attempts < maxAttempts && b.table.Len() < target; attempts++ {
		if ctx.Err() != nil {
			break
		}

		eligible := make([]peerid.PeerID, 0, len(candidates))
		for _, c := range candidates {
			if !failed[c] && !b.table.Has(c) {
				eligible = append(eligible, c)
			}
		}
		if len(eligible) == 0 {
			break
		}

		c := b.pick(eligible, reported)
		if err := b.dialer.Connect(ctx, c, b.self); err != nil {
			log.WithField("peer", c.String()).Warnf("Builder.Build: handshake failed: %v", err)
			b.metrics.Handshakes.WithLabelValues("failure").Inc()
			failed[c] = true
			continue
		}

		b.metrics.Handshakes.WithLabelValues("success").Inc()
		b.table.Add(c)
		b.Bump(c)
		added = append(added, c)
		log.WithField("peer", c.String()).Info("Builder.Build: connected")
	}

	log.Infof("Builder.Build: %d candidates, target %d, added %d, %d neighbors", len(candidates), target, len(added), b.table.Len())
	return added
}

func (b *Builder) pick(eligible []peerid.PeerID, reported map[peerid.PeerID]int) peerid.PeerID {
	b.mu.Lock()
	defer b.mu.Unlock()

	weights := make(map[peerid.PeerID]int, len(eligible))
	for _, c := range eligible {
		weights[c] = reported[c] + b.degrees[c]
	}
	return Select(b.rng, eligible, weights)
}
