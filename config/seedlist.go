package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"seedmesh/peerid"
)

var ErrNoSeeds = errors.New("seed list is empty")

// LoadSeedList reads the bootstrap seeds from path.
func LoadSeedList(path string) ([]peerid.PeerID, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("seed list: %w", err)
	}
	defer f.Close()

	seeds, err := ParseSeedList(f)
	if err != nil {
		return nil, fmt.Errorf("seed list %s: %w", path, err)
	}
	log.Infof("Loaded %d seeds from %s", len(seeds), path)
	return seeds, nil
}

// ParseSeedList reads one host:port per line. Blank lines and lines
// starting with # are skipped, duplicates are dropped keeping the first.
func ParseSeedList(r io.Reader) ([]peerid.PeerID, error) {
	var seeds []peerid.PeerID

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, err := peerid.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		seeds = append(seeds, id)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	seeds = peerid.Dedup(seeds)
	if len(seeds) == 0 {
		return nil, ErrNoSeeds
	}
	return seeds, nil
}
