package mutator

import (
	"hash/fnv"
	"sync"
)

const defaultLockShards = 32

// LockMap hands out one mutex per key. Keys are spread over shards so that
// lookups for unrelated paths do not contend on a single map lock.
// Entries are never removed.
type LockMap struct {
	shards []lockShard
}

type lockShard struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLockMap creates a lock map with the given number of shards
// (defaultLockShards when n <= 0).
func NewLockMap(n int) *LockMap {
	if n <= 0 {
		n = defaultLockShards
	}
	lm := &LockMap{shards: make([]lockShard, n)}
	for i := range lm.shards {
		lm.shards[i].locks = make(map[string]*sync.Mutex)
	}
	return lm
}

func (lm *LockMap) shard(key string) *lockShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &lm.shards[h.Sum32()%uint32(len(lm.shards))]
}

// Get returns the mutex for key, creating it on first use.
func (lm *LockMap) Get(key string) *sync.Mutex {
	s := lm.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	return m
}

// Lock acquires the mutex for key and returns its release function.
func (lm *LockMap) Lock(key string) func() {
	m := lm.Get(key)
	m.Lock()
	return m.Unlock
}

// Len returns the number of keys that have a mutex.
func (lm *LockMap) Len() int {
	n := 0
	for i := range lm.shards {
		s := &lm.shards[i]
		s.mu.Lock()
		n += len(s.locks)
		s.mu.Unlock()
	}
	return n
}
