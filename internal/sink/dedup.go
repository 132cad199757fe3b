package sink

import (
	"sync"

	"github.com/zeebo/xxh3"
)

const dedupShards = 64

// DedupSet is a concurrent insert-only set of DedupKeys.
//
// Keys are spread over shards by hash to keep lock contention low when
// many goroutines report blocks at once; each shard stores full keys, so
// hash collisions never suppress distinct blocks. The set is never
// pruned.
type DedupSet struct {
	shards [dedupShards]dedupShard
}

type dedupShard struct {
	mu   sync.Mutex
	keys map[DedupKey]struct{}
}

// NewDedupSet returns an empty set.
func NewDedupSet() *DedupSet {
	s := &DedupSet{}
	for i := range s.shards {
		s.shards[i].keys = make(map[DedupKey]struct{})
	}
	return s
}

func (s *DedupSet) shard(k DedupKey) *dedupShard {
	h := xxh3.HashString(k.File)
	h ^= uint64(k.Line)*0x9e3779b97f4a7c15 + uint64(k.Relblock)
	return &s.shards[h%dedupShards]
}

// Insert adds k and reports whether it was absent. The check and the
// insert are atomic with respect to concurrent callers.
func (s *DedupSet) Insert(k DedupKey) bool {
	sh := s.shard(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, seen := sh.keys[k]; seen {
		return false
	}
	sh.keys[k] = struct{}{}
	return true
}

// Contains reports whether k was inserted.
func (s *DedupSet) Contains(k DedupKey) bool {
	sh := s.shard(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	_, seen := sh.keys[k]
	return seen
}

// Len returns the number of distinct keys.
func (s *DedupSet) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.keys)
		sh.mu.Unlock()
	}
	return n
}
