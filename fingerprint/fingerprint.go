// Package fingerprint derives content identifiers for gossip payloads and
// keeps track of which ones a node has already handled.
package fingerprint

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

const Size = 32

// Fingerprint depends only on payload content, so it is stable across relays.
type Fingerprint [Size]byte

func Of(payload string) Fingerprint {
	return sha3.Sum256([]byte(payload))
}

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Short is the first 8 bytes in hex, for logs.
func (f Fingerprint) Short() string {
	return hex.EncodeToString(f[:8])
}
