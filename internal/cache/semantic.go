package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/lattice-run/llmgate/internal/core"
)

const (
	// DefaultCapacity bounds the total number of entries across all shards.
	DefaultCapacity = 10_000
	// DefaultTTL is how long a cached response remains eligible for reuse.
	DefaultTTL = 5 * time.Minute
	// shardCount trades a slightly weaker LRU ordering (each shard evicts
	// independently) for reduced lock contention under concurrent traffic —
	// the same trade the teacher's MemoryCache doesn't need to make because
	// it never bounds capacity in the first place.
	shardCount = 16
)

type entry struct {
	fp        Fingerprint
	resp      core.Response
	expiresAt time.Time
}

type shard struct {
	mu       sync.Mutex
	ll       *list.List
	elements map[Fingerprint]*list.Element
	capacity int
}

// SemanticCache is a bounded, TTL-expiring, approximate-LRU cache keyed by
// request Fingerprint. "Approximate" because eviction is exact per-shard
// LRU but global recency ordering across shards is not tracked — a request
// splits itself into shardCount independent caches by fingerprint byte, so
// the least-recently-used entry evicted is the LRU entry of its shard, not
// necessarily of the whole cache. Put is last-writer-wins: a concurrent
// Get racing a Put may observe either the old or new value, never a torn
// one. There is no miss deduplication — concurrent identical misses each
// invoke the router and provider independently.
type SemanticCache struct {
	shards [shardCount]*shard
	ttl    time.Duration
}

// NewSemanticCache creates a cache with the given total capacity (spread
// evenly across shards) and per-entry TTL. A capacity or ttl of zero falls
// back to the package defaults.
func NewSemanticCache(capacity int, ttl time.Duration) *SemanticCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	perShard := capacity / shardCount
	if perShard < 1 {
		perShard = 1
	}

	c := &SemanticCache{ttl: ttl}
	for i := range c.shards {
		c.shards[i] = &shard{
			ll:       list.New(),
			elements: make(map[Fingerprint]*list.Element),
			capacity: perShard,
		}
	}
	return c
}

// Get returns the cached response for fp if present and unexpired. A miss
// (absent or expired) returns the zero Response and false. Get never
// blocks on a Put to a different shard, and only briefly on one to the
// same shard.
func (c *SemanticCache) Get(fp Fingerprint) (core.Response, bool) {
	s := c.shards[fp.shard(shardCount)]

	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.elements[fp]
	if !ok {
		return core.Response{}, false
	}

	e := el.Value.(*entry)
	if time.Now().After(e.expiresAt) {
		s.ll.Remove(el)
		delete(s.elements, fp)
		return core.Response{}, false
	}

	s.ll.MoveToFront(el)
	return e.resp, true
}

// Put stores resp under fp, overwriting any existing entry and resetting
// its TTL and recency (last-writer-wins). If the shard is at capacity the
// least-recently-used entry in that shard is evicted first.
func (c *SemanticCache) Put(fp Fingerprint, resp core.Response) {
	s := c.shards[fp.shard(shardCount)]
	expiresAt := time.Now().Add(c.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.elements[fp]; ok {
		e := el.Value.(*entry)
		e.resp = resp
		e.expiresAt = expiresAt
		s.ll.MoveToFront(el)
		return
	}

	el := s.ll.PushFront(&entry{fp: fp, resp: resp, expiresAt: expiresAt})
	s.elements[fp] = el

	if s.ll.Len() > s.capacity {
		oldest := s.ll.Back()
		if oldest != nil {
			s.ll.Remove(oldest)
			delete(s.elements, oldest.Value.(*entry).fp)
		}
	}
}

// Len returns the total number of entries held across all shards,
// including entries that have expired but not yet been evicted.
func (c *SemanticCache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		total += s.ll.Len()
		s.mu.Unlock()
	}
	return total
}
