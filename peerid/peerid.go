// Package peerid defines the only identity a node has on the network: the
// host and port it can be reached at.
package peerid

import (
	"cmp"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

var ErrInvalidPeerID = errors.New("invalid peer id")

// PeerID is value-comparable and usable as a map key.
type PeerID struct {
	Host string `cbor:"1,keyasint,omitempty"`
	Port int    `cbor:"2,keyasint,omitempty"`
}

func New(host string, port int) PeerID {
	return PeerID{Host: host, Port: port}
}

func (p PeerID) String() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

func (p PeerID) IsZero() bool {
	return p == PeerID{}
}

// Validate reports whether p can be dialed.
func (p PeerID) Validate() error {
	if p.Host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidPeerID)
	}
	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidPeerID, p.Port)
	}
	return nil
}

func (p PeerID) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *PeerID) UnmarshalText(data []byte) error {
	id, err := Parse(string(data))
	if err != nil {
		return err
	}
	*p = id
	return nil
}

// Parse accepts "host:port" (and "[v6]:port").
func Parse(s string) (PeerID, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return PeerID{}, fmt.Errorf("%w: %q: %v", ErrInvalidPeerID, s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return PeerID{}, fmt.Errorf("%w: %q: bad port", ErrInvalidPeerID, s)
	}
	id := PeerID{Host: host, Port: port}
	if err := id.Validate(); err != nil {
		return PeerID{}, err
	}
	return id, nil
}

func MustParse(s string) PeerID {
	id, err := Parse(s)
	if err != nil {
		log.Fatalf("Failed to parse peer id: %v", err)
	}
	return id
}

func Compare(a, b PeerID) int {
	if c := cmp.Compare(a.Host, b.Host); c != 0 {
		return c
	}
	return cmp.Compare(a.Port, b.Port)
}

// Sort orders ids by host, then port.
func Sort(ids []PeerID) {
	slices.SortFunc(ids, Compare)
}

// Dedup returns ids without duplicates, keeping first occurrences in order.
func Dedup(ids []PeerID) []PeerID {
	seen := make(map[PeerID]struct{}, len(ids))
	out := make([]PeerID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
