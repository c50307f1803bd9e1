// Package registry implements the seed side of the network: a membership
// table fed by register and heartbeat requests, trimmed by dead-node
// reports and by a heartbeat expiry sweep.
package registry

import (
	"slices"
	"sync"
	"time"

	"seedmesh/datamodel/member"
	"seedmesh/peerid"
	"seedmesh/telemetry"

	log "github.com/sirupsen/logrus"
)

const DefaultHeartbeatTimeout = 15 * time.Second

type Option func(*Registry)

func WithHeartbeatTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// Registry is the only owner of its membership table. All mutations take
// mu, reads take the read lock and return copies.
type Registry struct {
	mu      sync.RWMutex
	members map[peerid.PeerID]*member.Record

	// Best effort. Nil disables persistence.
	store member.Store

	timeout time.Duration
	now     func() time.Time
	metrics *telemetry.Metrics
}

func New(store member.Store, opts ...Option) *Registry {
	r := &Registry{
		members: make(map[peerid.PeerID]*member.Record),
		store:   store,
		timeout: DefaultHeartbeatTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = telemetry.New()
	}
	return r
}

// WarmStart loads the persisted snapshot. Loaded peers start with a fresh
// lastSeen, so they are expired by the sweep unless they heartbeat.
func (r *Registry) WarmStart() error {
	if r.store == nil {
		return nil
	}
	records, err := r.store.Load()
	if err != nil {
		return err
	}

	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		if _, ok := r.members[rec.ID]; ok {
			continue
		}
		firstSeen := rec.FirstSeen
		if firstSeen.IsZero() {
			firstSeen = now
		}
		r.members[rec.ID] = &member.Record{ID: rec.ID, FirstSeen: firstSeen, LastSeen: now}
	}
	r.metrics.Members.Set(float64(len(r.members)))
	log.Infof("Registry.WarmStart: loaded %d members", len(records))
	return nil
}

// Register inserts or refreshes id and flushes the table to the store.
func (r *Registry) Register(id peerid.PeerID) {
	r.upsert(id, -1)
	r.metrics.Registrations.Inc()
	log.WithField("peer", id.String()).Info("Registry.Register: peer registered")
	r.flush()
}

// Heartbeat refreshes id and records its neighbor count. An unknown id is
// registered on the spot.
func (r *Registry) Heartbeat(id peerid.PeerID, degree int) {
	if created := r.upsert(id, max(degree, 0)); created {
		r.metrics.Registrations.Inc()
		log.WithField("peer", id.String()).Info("Registry.Heartbeat: unknown peer, registering")
		r.flush()
		return
	}
	log.WithField("peer", id.String()).Debug("Registry.Heartbeat: refreshed")
}

// ReportDead removes id whatever its lastSeen.
func (r *Registry) ReportDead(id peerid.PeerID) bool {
	r.mu.Lock()
	_, ok := r.members[id]
	delete(r.members, id)
	r.metrics.Members.Set(float64(len(r.members)))
	r.mu.Unlock()

	r.metrics.DeadReports.Inc()
	if ok {
		log.WithField("peer", id.String()).Info("Registry.ReportDead: removed")
	} else {
		log.WithField("peer", id.String()).Debug("Registry.ReportDead: not a member")
	}
	return ok
}

// GetPeers returns a sorted snapshot of the members.
func (r *Registry) GetPeers() []peerid.PeerID {
	r.mu.RLock()
	ids := make([]peerid.PeerID, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	peerid.Sort(ids)
	return ids
}

// Records returns copies of the member records, sorted by id.
func (r *Registry) Records() []member.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Sweep removes every member whose lastSeen is older than the heartbeat
// timeout and returns their ids.
func (r *Registry) Sweep() []peerid.PeerID {
	now := r.now()

	r.mu.Lock()
	var expired []peerid.PeerID
	for id, rec := range r.members {
		if rec.Expired(now, r.timeout) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(r.members, id)
	}
	r.metrics.Members.Set(float64(len(r.members)))
	r.mu.Unlock()

	peerid.Sort(expired)
	for _, id := range expired {
		log.WithField("peer", id.String()).Infof("Registry.Sweep: no heartbeat for %v, removed", r.timeout)
	}
	r.metrics.Expirations.Add(float64(len(expired)))
	return expired
}

// upsert refreshes id. A negative degree leaves the stored one alone.
func (r *Registry) upsert(id peerid.PeerID, degree int) (created bool) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.members[id]
	if !ok {
		rec = &member.Record{ID: id, FirstSeen: now}
		r.members[id] = rec
		r.metrics.Members.Set(float64(len(r.members)))
	}
	rec.LastSeen = now
	if degree >= 0 {
		rec.Degree = degree
	}
	return !ok
}

func (r *Registry) snapshotLocked() []member.Record {
	records := make([]member.Record, 0, len(r.members))
	for _, rec := range r.members {
		records = append(records, *rec)
	}
	slices.SortFunc(records, func(a, b member.Record) int {
		return peerid.Compare(a.ID, b.ID)
	})
	return records
}

// flush merges the current table into the store. Failures leave the
// in-memory table untouched.
func (r *Registry) flush() {
	if r.store == nil {
		return
	}
	if err := r.store.Merge(r.Records()); err != nil {
		log.Errorf("Registry: failed to persist membership: %v", err)
	}
}
