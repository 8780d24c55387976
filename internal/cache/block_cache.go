// Package cache implements the sharded LRU block cache that sits between
// the SSTable reader and the file system. It caches decoded data and index
// blocks, keyed by (gen, index-within-file), so that repeat point lookups
// against hot SSTs avoid re-reading and re-decoding from disk.
//
// Sharding: a key hashes to one of N independent LRU shards, each guarded
// by its own mutex, with capacity split evenly across shards. GetOrInsert
// holds the shard lock across the loader call, guaranteeing at most one
// load per missing key per shard — concurrent callers racing on the same
// miss converge on a single disk read.
package cache

import (
	"container/list"
	"sync"
)

// Key identifies one cached block: the SST generation it belongs to, and
// either nothing (the SST's single index block) or the index-block entry
// that locates a data block.
type Key struct {
	Gen      uint64
	HasIndex bool
	Offset   uint32
	Length   uint32
}

// entry is the value stored in one LRU shard.
type entry struct {
	key    Key
	value  any
	charge uint64
}

// shard is one independent LRU partition.
type shard struct {
	mu       sync.Mutex
	capacity uint64
	usage    uint64
	table    map[Key]*list.Element
	lru      *list.List
}

func newShard(capacity uint64) *shard {
	return &shard{
		capacity: capacity,
		table:    make(map[Key]*list.Element),
		lru:      list.New(),
	}
}

// getOrInsert returns the cached value for key, calling loader to produce
// it (and inserting the result) on a miss. loader runs under the shard
// lock, so at most one loader call happens per key per shard even when
// multiple goroutines race on the same miss.
func (s *shard) getOrInsert(key Key, loader func() (any, uint64, error)) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.table[key]; ok {
		s.lru.MoveToFront(elem)
		return elem.Value.(*entry).value, nil
	}

	value, charge, err := loader()
	if err != nil {
		return nil, err
	}

	e := &entry{key: key, value: value, charge: charge}
	elem := s.lru.PushFront(e)
	s.table[key] = elem
	s.usage += charge

	for s.usage > s.capacity && s.lru.Len() > 1 {
		back := s.lru.Back()
		if back == elem {
			break
		}
		s.evict(back)
	}

	return value, nil
}

func (s *shard) evict(elem *list.Element) {
	e := elem.Value.(*entry)
	delete(s.table, e.key)
	s.lru.Remove(elem)
	s.usage -= e.charge
}

// erase drops an entry if present; used when an SST is removed so a stale
// block can never be served after its backing file is deleted.
func (s *shard) erase(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if elem, ok := s.table[key]; ok {
		s.evict(elem)
	}
}

// BlockCache is a sharded LRU cache of decoded blocks.
type BlockCache struct {
	shards []*shard
	mask   uint64
}

// New creates a BlockCache with the given total capacity in bytes, split
// evenly across numShards (rounded up to a power of two).
func New(capacity uint64, numShards int) *BlockCache {
	if numShards <= 0 {
		numShards = 16
	}
	numShards = nextPowerOfTwo(numShards)

	perShard := capacity / uint64(numShards)
	if perShard == 0 {
		perShard = 1
	}

	c := &BlockCache{
		shards: make([]*shard, numShards),
		mask:   uint64(numShards) - 1,
	}
	for i := range c.shards {
		c.shards[i] = newShard(perShard)
	}
	return c
}

// GetOrInsert returns the cached value for key, computing and storing it
// via loader on a miss.
func (c *BlockCache) GetOrInsert(key Key, loader func() (any, uint64, error)) (any, error) {
	return c.shardFor(key).getOrInsert(key, loader)
}

// Erase removes key from the cache, if present.
func (c *BlockCache) Erase(key Key) {
	c.shardFor(key).erase(key)
}

// EraseGen removes every cached block belonging to gen. Called when an SST
// is physically deleted so a future open under a reused gen can't collide
// with stale cache entries (gens are never reused in practice, but this
// keeps cache state bounded when a table is dropped early).
func (c *BlockCache) EraseGen(gen uint64) {
	for _, s := range c.shards {
		s.mu.Lock()
		var stale []Key
		for k := range s.table {
			if k.Gen == gen {
				stale = append(stale, k)
			}
		}
		for _, k := range stale {
			s.evict(s.table[k])
		}
		s.mu.Unlock()
	}
}

func (c *BlockCache) shardFor(key Key) *shard {
	h := key.Gen*0x9E3779B97F4A7C15 ^ uint64(key.Offset)<<32 ^ uint64(key.Length)
	return c.shards[h&c.mask]
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
