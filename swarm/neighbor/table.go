// Package neighbor holds a peer agent's overlay edges and their probe state.
package neighbor

import (
	"slices"
	"sync"

	"seedmesh/peerid"
)

// Record is one overlay edge.
type Record struct {
	ID          peerid.PeerID
	MissedPings int
}

// Table is owned by a single agent. Every method takes the table lock, so
// background loops and inbound handlers may call it concurrently.
type Table struct {
	mu    sync.Mutex
	peers map[peerid.PeerID]*Record

	// Called with the new size after every change, outside the lock.
	onChange func(size int)
}

func NewTable() *Table {
	return &Table{peers: make(map[peerid.PeerID]*Record)}
}

// OnChange registers f to observe the table size. Set it before sharing
// the table.
func (t *Table) OnChange(f func(size int)) {
	t.onChange = f
}

// Add inserts id with a clean probe record. It reports false when id was
// already a neighbor, in which case its counter is left alone.
func (t *Table) Add(id peerid.PeerID) bool {
	t.mu.Lock()
	if _, ok := t.peers[id]; ok {
		t.mu.Unlock()
		return false
	}
	t.peers[id] = &Record{ID: id}
	size := len(t.peers)
	t.mu.Unlock()

	t.changed(size)
	return true
}

func (t *Table) Remove(id peerid.PeerID) bool {
	t.mu.Lock()
	_, ok := t.peers[id]
	delete(t.peers, id)
	size := len(t.peers)
	t.mu.Unlock()

	if ok {
		t.changed(size)
	}
	return ok
}

func (t *Table) Has(id peerid.PeerID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.peers[id]
	return ok
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}

// List returns the neighbor ids, sorted.
func (t *Table) List() []peerid.PeerID {
	t.mu.Lock()
	ids := make([]peerid.PeerID, 0, len(t.peers))
	for id := range t.peers {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	peerid.Sort(ids)
	return ids
}

// Snapshot returns copies of every record, sorted by id.
func (t *Table) Snapshot() []Record {
	t.mu.Lock()
	out := make([]Record, 0, len(t.peers))
	for _, r := range t.peers {
		out = append(out, *r)
	}
	t.mu.Unlock()

	slices.SortFunc(out, func(a, b Record) int {
		return peerid.Compare(a.ID, b.ID)
	})
	return out
}

// RecordSuccess resets the missed counter. It reports false for an id that
// is not a neighbor.
func (t *Table) RecordSuccess(id peerid.PeerID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.peers[id]
	if ok {
		r.MissedPings = 0
	}
	return ok
}

// RecordFailure increments the missed counter and returns the new value,
// or -1 for an id that is not a neighbor.
func (t *Table) RecordFailure(id peerid.PeerID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.peers[id]
	if !ok {
		return -1
	}
	r.MissedPings++
	return r.MissedPings
}

// Missed returns the counter for id, or -1 when id is not a neighbor.
func (t *Table) Missed(id peerid.PeerID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.peers[id]; ok {
		return r.MissedPings
	}
	return -1
}

// Evictable returns the ids whose missed counter has reached threshold,
// sorted. The table is not modified.
func (t *Table) Evictable(threshold int) []peerid.PeerID {
	t.mu.Lock()
	var ids []peerid.PeerID
	for id, r := range t.peers {
		if r.MissedPings >= threshold {
			ids = append(ids, id)
		}
	}
	t.mu.Unlock()

	peerid.Sort(ids)
	return ids
}

func (t *Table) changed(size int) {
	if t.onChange != nil {
		t.onChange(size)
	}
}
