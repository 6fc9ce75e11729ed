package blockdir

import (
	"math/rand"
	"sync"

	"github.com/sourcefrog-labs/conserve/chash"
)

// presenceCache is a concurrent "have I seen this block" set, bounded in
// size with random eviction once full, following the cache shape in
// go-git's plumbing/cache package (a bounded, concurrency-safe Object
// cache) narrowed to presence rather than content. Per spec.md section
// 5, reads are lock-free-ish (a short RLock) and insertion holds a short
// critical section; no I/O happens while the lock is held.
type presenceCache struct {
	mu       sync.RWMutex
	size     int
	present  map[chash.Hash]struct{}
	order    []chash.Hash
}

func newPresenceCache(size int) *presenceCache {
	return &presenceCache{size: size, present: make(map[chash.Hash]struct{}, size)}
}

func (c *presenceCache) has(h chash.Hash) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.present[h]
	return ok
}

func (c *presenceCache) add(h chash.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.present[h]; ok {
		return
	}
	if len(c.order) >= c.size {
		c.evictLocked()
	}
	c.present[h] = struct{}{}
	c.order = append(c.order, h)
}

func (c *presenceCache) remove(h chash.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.present, h)
}

// evictLocked drops one random entry to make room. Random eviction avoids
// the bookkeeping cost of true LRU for a cache whose only job is to skip a
// redundant transport probe (spec.md section 4.D).
func (c *presenceCache) evictLocked() {
	if len(c.order) == 0 {
		return
	}
	i := rand.Intn(len(c.order))
	victim := c.order[i]
	c.order[i] = c.order[len(c.order)-1]
	c.order = c.order[:len(c.order)-1]
	delete(c.present, victim)
}
