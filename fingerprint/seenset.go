package fingerprint

import (
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	KindUnbounded = "unbounded"
	KindLRU       = "lru"
	KindBloom     = "bloom"
)

// SeenSet is the per-agent UNSEEN -> SEEN state. Implementations are safe
// for concurrent use.
type SeenSet interface {
	// MarkSeen records fp and reports whether it was unseen before the call.
	MarkSeen(fp Fingerprint) bool
	Seen(fp Fingerprint) bool
	Len() int
}

var (
	_ SeenSet = (*Unbounded)(nil)
	_ SeenSet = (*LRU)(nil)
	_ SeenSet = (*Bloom)(nil)
)

// New builds a SeenSet by kind. capacity and fpRate are ignored by the
// unbounded set.
func New(kind string, capacity int, fpRate float64) (SeenSet, error) {
	switch kind {
	case "", KindUnbounded:
		return NewUnbounded(), nil
	case KindLRU:
		return NewLRU(capacity)
	case KindBloom:
		return NewBloom(capacity, fpRate)
	default:
		return nil, fmt.Errorf("fingerprint: unknown seen set kind %q", kind)
	}
}

// Unbounded remembers every fingerprint for the lifetime of the process.
type Unbounded struct {
	mu   sync.Mutex
	seen map[Fingerprint]struct{}
}

func NewUnbounded() *Unbounded {
	return &Unbounded{seen: make(map[Fingerprint]struct{})}
}

func (u *Unbounded) MarkSeen(fp Fingerprint) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.seen[fp]; ok {
		return false
	}
	u.seen[fp] = struct{}{}
	return true
}

func (u *Unbounded) Seen(fp Fingerprint) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.seen[fp]
	return ok
}

func (u *Unbounded) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.seen)
}

// LRU keeps the most recent capacity fingerprints. A payload evicted from
// the window and received again is relayed again.
type LRU struct {
	cache *lru.Cache[Fingerprint, struct{}]
}

func NewLRU(capacity int) (*LRU, error) {
	c, err := lru.New[Fingerprint, struct{}](capacity)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: lru: %w", err)
	}
	return &LRU{cache: c}, nil
}

func (l *LRU) MarkSeen(fp Fingerprint) bool {
	found, _ := l.cache.ContainsOrAdd(fp, struct{}{})
	return !found
}

func (l *LRU) Seen(fp Fingerprint) bool {
	return l.cache.Contains(fp)
}

func (l *LRU) Len() int {
	return l.cache.Len()
}

// Bloom is a fixed-memory filter. False positives drop a fresh payload on
// this node, so fpRate should stay small.
type Bloom struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	n      int
}

func NewBloom(capacity int, fpRate float64) (*Bloom, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("fingerprint: bloom capacity must be positive, got %d", capacity)
	}
	if fpRate <= 0 || fpRate >= 1 {
		return nil, fmt.Errorf("fingerprint: bloom false positive rate must be in (0,1), got %v", fpRate)
	}
	return &Bloom{filter: bloom.NewWithEstimates(uint(capacity), fpRate)}, nil
}

func (b *Bloom) MarkSeen(fp Fingerprint) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.filter.TestAndAdd(fp[:]) {
		return false
	}
	b.n++
	return true
}

func (b *Bloom) Seen(fp Fingerprint) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filter.Test(fp[:])
}

// Len counts insertions that were reported as unseen.
func (b *Bloom) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}
