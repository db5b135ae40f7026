package cache

import (
	"container/list"
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

const shardCount = 16

// MemoryStore is the in-process cache backend. Keys are spread over a fixed
// number of shards, each holding its own LRU list, so concurrent requests on
// different keys rarely contend on the same lock.
type MemoryStore struct {
	shards [shardCount]*shard

	// Statistics (atomic for lock-free reads)
	hits          atomic.Int64
	misses        atomic.Int64
	evictions     atomic.Int64
	expirations   atomic.Int64
	invalidations atomic.Int64

	metrics *Metrics
	now     func() time.Time
}

type shard struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	lru        *list.List // front is most recently used
	tags       map[string]map[string]struct{}
	bytes      int64
	maxEntries int
	maxBytes   int64
}

type item struct {
	key   string
	entry *Entry
	size  int64
}

// NewMemoryStore creates a memory cache. The entry and byte budgets are
// split evenly across shards.
func NewMemoryStore(maxEntries int, maxBytes int64) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	perShardEntries := maxEntries / shardCount
	if perShardEntries < 1 {
		perShardEntries = 1
	}
	perShardBytes := maxBytes / shardCount
	if perShardBytes < 1 {
		perShardBytes = 1
	}

	m := &MemoryStore{now: time.Now}
	for i := range m.shards {
		m.shards[i] = &shard{
			items:      make(map[string]*list.Element),
			lru:        list.New(),
			tags:       make(map[string]map[string]struct{}),
			maxEntries: perShardEntries,
			maxBytes:   perShardBytes,
		}
	}
	return m
}

// WithMetrics attaches Prometheus metrics and returns the store.
func (m *MemoryStore) WithMetrics(metrics *Metrics) *MemoryStore {
	m.metrics = metrics
	return m
}

func (m *MemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return m.shards[h.Sum32()%shardCount]
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Entry, bool) {
	sh := m.shardFor(key)
	now := m.now()

	sh.mu.Lock()
	el, ok := sh.items[key]
	if !ok {
		sh.mu.Unlock()
		m.miss()
		return nil, false
	}
	it := el.Value.(*item)
	if it.entry.expired(now) {
		sh.removeLocked(el)
		sh.mu.Unlock()
		m.expirations.Add(1)
		m.miss()
		return nil, false
	}
	sh.lru.MoveToFront(el)
	entry := it.entry
	sh.mu.Unlock()

	m.hits.Add(1)
	if m.metrics != nil {
		m.metrics.Hits.Inc()
	}
	return entry, true
}

func (m *MemoryStore) miss() {
	m.misses.Add(1)
	if m.metrics != nil {
		m.metrics.Misses.Inc()
	}
}

func (m *MemoryStore) Set(_ context.Context, key string, entry *Entry, ttl time.Duration) {
	if entry == nil {
		return
	}
	now := m.now()
	entry.StoredAt = now
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}
	size := entry.Size() + int64(len(key))

	sh := m.shardFor(key)
	sh.mu.Lock()
	if el, ok := sh.items[key]; ok {
		sh.removeLocked(el)
	}
	// Oversized responses bypass the cache entirely.
	if size > sh.maxBytes {
		sh.mu.Unlock()
		return
	}
	el := sh.lru.PushFront(&item{key: key, entry: entry, size: size})
	sh.items[key] = el
	sh.bytes += size
	for _, tag := range entry.Tags {
		set := sh.tags[tag]
		if set == nil {
			set = make(map[string]struct{})
			sh.tags[tag] = set
		}
		set[key] = struct{}{}
	}
	evicted := 0
	for (sh.lru.Len() > sh.maxEntries || sh.bytes > sh.maxBytes) && sh.lru.Len() > 1 {
		oldest := sh.lru.Back()
		if oldest == nil || oldest == el {
			break
		}
		sh.removeLocked(oldest)
		evicted++
	}
	sh.mu.Unlock()

	if evicted > 0 {
		m.evictions.Add(int64(evicted))
		if m.metrics != nil {
			m.metrics.Evictions.Add(float64(evicted))
		}
	}
	if m.metrics != nil {
		m.metrics.Sets.Inc()
	}
}

func (m *MemoryStore) Delete(_ context.Context, key string) {
	sh := m.shardFor(key)
	sh.mu.Lock()
	if el, ok := sh.items[key]; ok {
		sh.removeLocked(el)
	}
	sh.mu.Unlock()
}

// InvalidateTag removes every entry carrying the tag and returns how many
// entries were dropped.
func (m *MemoryStore) InvalidateTag(_ context.Context, tag string) int {
	removed := 0
	for _, sh := range m.shards {
		sh.mu.Lock()
		if set := sh.tags[tag]; len(set) > 0 {
			keys := make([]string, 0, len(set))
			for key := range set {
				keys = append(keys, key)
			}
			for _, key := range keys {
				if el, ok := sh.items[key]; ok {
					sh.removeLocked(el)
					removed++
				}
			}
		}
		delete(sh.tags, tag)
		sh.mu.Unlock()
	}
	if removed > 0 {
		m.invalidations.Add(int64(removed))
		if m.metrics != nil {
			m.metrics.Invalidations.Add(float64(removed))
		}
	}
	return removed
}

// StartJanitor 周期清扫已过期的条目，避免冷数据一直占用条目与字节预算。
// 返回的函数用于停止清扫。
func (m *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) func() {
	if interval <= 0 {
		interval = time.Minute
	}
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweepExpired(m.now())
			}
		}
	}()

	return cancel
}

// sweepExpired removes entries whose TTL elapsed and returns how many were
// dropped.
func (m *MemoryStore) sweepExpired(now time.Time) int {
	removed := 0
	for _, sh := range m.shards {
		sh.mu.Lock()
		var expired []*list.Element
		for el := sh.lru.Back(); el != nil; el = el.Prev() {
			if el.Value.(*item).entry.expired(now) {
				expired = append(expired, el)
			}
		}
		for _, el := range expired {
			sh.removeLocked(el)
			removed++
		}
		sh.mu.Unlock()
	}
	if removed > 0 {
		m.expirations.Add(int64(removed))
	}
	return removed
}

// Purge drops every entry in the store. Counters are kept.
func (m *MemoryStore) Purge(_ context.Context) {
	for _, sh := range m.shards {
		sh.mu.Lock()
		sh.items = make(map[string]*list.Element)
		sh.lru = list.New()
		sh.tags = make(map[string]map[string]struct{})
		sh.bytes = 0
		sh.mu.Unlock()
	}
}

func (m *MemoryStore) Stats() Stats {
	stats := Stats{
		Hits:          m.hits.Load(),
		Misses:        m.misses.Load(),
		Evictions:     m.evictions.Load(),
		Expirations:   m.expirations.Load(),
		Invalidations: m.invalidations.Load(),
	}
	for _, sh := range m.shards {
		sh.mu.Lock()
		stats.Entries += sh.lru.Len()
		stats.Bytes += sh.bytes
		sh.mu.Unlock()
	}
	return stats
}

// removeLocked unlinks an element and updates byte and tag bookkeeping.
// Caller must hold the shard lock.
func (sh *shard) removeLocked(el *list.Element) {
	it := el.Value.(*item)
	sh.lru.Remove(el)
	delete(sh.items, it.key)
	sh.bytes -= it.size
	for _, tag := range it.entry.Tags {
		if set := sh.tags[tag]; set != nil {
			delete(set, it.key)
			if len(set) == 0 {
				delete(sh.tags, tag)
			}
		}
	}
}
