// Package peerfile implements member.Store as a flat text file with one
// host:port per line.
package peerfile

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"seedmesh/datamodel/member"
	"seedmesh/peerid"

	log "github.com/sirupsen/logrus"
)

var _ member.Store = (*Store)(nil)

// Store keeps only addresses; timestamps are not persisted. Writes go to a
// temporary file which is then renamed over the original.
type Store struct {
	path string
	mu   sync.Mutex
}

func New(path string) (*Store, error) {
	path = filepath.Clean(path)

	// Make sure the directory exists and create if missing
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}

	log.Infof("Opened peer file at %s", path)

	return &Store{path: path}, nil
}

// ensureDir checks if a directory exists at the given path, and if not, creates it.
func ensureDir(path string) error {
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(path, 0755)
		}
		return err
	}
	if !stat.IsDir() {
		return &os.PathError{Op: "ensureDir", Path: path, Err: os.ErrExist}
	}
	return nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Load() ([]member.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.read()
	if err != nil {
		return nil, err
	}
	records := make([]member.Record, 0, len(ids))
	for _, id := range ids {
		records = append(records, member.Record{ID: id})
	}
	return records, nil
}

func (s *Store) Merge(records []member.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.read()
	if err != nil {
		return err
	}

	ids := peerid.Dedup(append(existing, member.IDs(records)...))
	peerid.Sort(ids)

	var buf bytes.Buffer
	for _, id := range ids {
		buf.WriteString(id.String())
		buf.WriteByte('\n')
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *Store) Close() error {
	return nil
}

// read returns the ids in the file. Lines that do not parse are logged and
// skipped. A missing file is empty.
func (s *Store) read() ([]peerid.PeerID, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("peerfile: %w", err)
	}

	var ids []peerid.PeerID
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, err := peerid.Parse(line)
		if err != nil {
			log.Warnf("peerfile: skipping malformed entry %q in %s: %v", line, s.path, err)
			continue
		}
		ids = append(ids, id)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("peerfile: %w", err)
	}
	return ids, nil
}
