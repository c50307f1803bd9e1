package leveldb

import (
	"seedmesh/datamodel/member"
	"seedmesh/peerid"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	log "github.com/sirupsen/logrus"
)

const (
	keyPrefixMember = "MBR" // Member record indexed by peer id. Followed by host:port
)

var _ member.Store = (*MemberIndex)(nil)

// MemberIndex keeps one CBOR record per peer that ever registered. Records
// are never deleted, so Merge is a union by construction.
type MemberIndex struct {
	levelDB
}

func keyFromPeerID(id peerid.PeerID) []byte {
	return append([]byte(keyPrefixMember), []byte(id.String())...)
}

func NewMemberIndex(path string) (*MemberIndex, error) {
	// Init the underlying LevelDB object
	ldb, err := initLevelDb(path)
	if err != nil {
		return nil, err
	}

	return &MemberIndex{
		levelDB: levelDB{
			path: path,
			db:   ldb,
		},
	}, nil
}

func (l *MemberIndex) Get(id peerid.PeerID) (*member.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(id)
}

func (l *MemberIndex) get(id peerid.PeerID) (*member.Record, error) {
	raw, err := l.db.Get(keyFromPeerID(id), nil)
	if err != nil {
		return nil, err
	}

	rec := &member.Record{}
	if err := cbor.Unmarshal(raw, rec); err != nil {
		return nil, err
	}

	// Compare the id just in case
	if rec.ID != id {
		log.Errorf("MemberIndex.Get: id mismatch: %s != %s", id, rec.ID)
		return nil, ErrCorrupted
	}

	return rec, nil
}

// Merge writes records in one batch. An existing record keeps its
// FirstSeen and takes the later LastSeen.
func (l *MemberIndex) Merge(records []member.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	batch := new(leveldb.Batch)
	for _, rec := range records {
		if old, err := l.get(rec.ID); err == nil {
			if !old.FirstSeen.IsZero() && (rec.FirstSeen.IsZero() || old.FirstSeen.Before(rec.FirstSeen)) {
				rec.FirstSeen = old.FirstSeen
			}
			if old.LastSeen.After(rec.LastSeen) {
				rec.LastSeen = old.LastSeen
			}
		}

		raw, err := cbor.Marshal(&rec)
		if err != nil {
			return err
		}
		batch.Put(keyFromPeerID(rec.ID), raw)
	}

	return l.db.Write(batch, nil)
}

func (l *MemberIndex) Load() ([]member.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var results []member.Record

	iter := l.db.NewIterator(util.BytesPrefix([]byte(keyPrefixMember)), nil)
	defer iter.Release()

	for iter.Next() {
		rec := member.Record{}
		if err := cbor.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}

	return results, iter.Error()
}
