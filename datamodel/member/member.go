package member

import (
	"time"

	"seedmesh/peerid"
)

// Record is a seed's view of one registered peer.
type Record struct {
	ID        peerid.PeerID `cbor:"1,keyasint,omitempty"` // Peer address
	FirstSeen time.Time     `cbor:"2,keyasint,omitempty"` // First registration
	LastSeen  time.Time     `cbor:"3,keyasint,omitempty"` // Last register or heartbeat
	Degree    int           `cbor:"4,keyasint,omitempty"` // Neighbor count from the last heartbeat
}

// Expired reports whether the record is older than timeout at now.
func (r *Record) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(r.LastSeen) > timeout
}

// Store persists membership snapshots across restarts.
type Store interface {
	// Load returns every record persisted so far. A store that was never
	// written returns no records and no error.
	Load() ([]Record, error)

	// Merge unions records into what is already persisted. Entries present
	// on disk but absent from records are kept.
	Merge(records []Record) error

	Close() error
}

// IDs extracts the peer ids of records, in order.
func IDs(records []Record) []peerid.PeerID {
	ids := make([]peerid.PeerID, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids
}
