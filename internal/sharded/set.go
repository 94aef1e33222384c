package sharded

import "sync"

const numSetShards = 64 // power of 2, for fast bitwise mod

type setShard struct {
	mu    sync.RWMutex
	items map[string]struct{}
}

// Set is a concurrency-friendly string set used for the Checkpoint's
// completed_files/completed_dirs tracking and the Scanner's discovered-path
// bookkeeping.
type Set []*setShard

func NewSet() *Set {
	s := make(Set, numSetShards)
	for i := 0; i < numSetShards; i++ {
		s[i] = &setShard{items: make(map[string]struct{})}
	}
	return &s
}

func (s *Set) getShard(key string) *setShard {
	return (*s)[getShardIndex(key, numSetShards)]
}

// Store adds key to the set.
func (s *Set) Store(key string) {
	shard := s.getShard(key)
	shard.mu.Lock()
	shard.items[key] = struct{}{}
	shard.mu.Unlock()
}

// Has reports whether key is present.
func (s *Set) Has(key string) bool {
	shard := s.getShard(key)
	shard.mu.RLock()
	_, exists := shard.items[key]
	shard.mu.RUnlock()
	return exists
}

// LoadOrStore ensures key is present, returning true if it was already there.
func (s *Set) LoadOrStore(key string) (loaded bool) {
	shard := s.getShard(key)
	shard.mu.Lock()
	_, loaded = shard.items[key]
	if !loaded {
		shard.items[key] = struct{}{}
	}
	shard.mu.Unlock()
	return loaded
}

func (s *Set) Delete(key string) {
	shard := s.getShard(key)
	shard.mu.Lock()
	delete(shard.items, key)
	shard.mu.Unlock()
}

// Count returns the total number of elements in the set.
func (s *Set) Count() int {
	count := 0
	for i := 0; i < numSetShards; i++ {
		shard := (*s)[i]
		shard.mu.RLock()
		count += len(shard.items)
		shard.mu.RUnlock()
	}
	return count
}

// Keys returns a snapshot of all keys. Order is not guaranteed.
func (s *Set) Keys() []string {
	keys := make([]string, 0, s.Count())
	for i := 0; i < numSetShards; i++ {
		shard := (*s)[i]
		shard.mu.RLock()
		for k := range shard.items {
			keys = append(keys, k)
		}
		shard.mu.RUnlock()
	}
	return keys
}

// Range calls f for each key. If f returns false, iteration stops. f must
// not mutate the set.
func (s *Set) Range(f func(key string) bool) {
	for i := 0; i < numSetShards; i++ {
		shard := (*s)[i]
		shard.mu.RLock()
		for k := range shard.items {
			if !f(k) {
				shard.mu.RUnlock()
				return
			}
		}
		shard.mu.RUnlock()
	}
}

// Clear removes all keys from the set.
func (s *Set) Clear() {
	for i := 0; i < numSetShards; i++ {
		shard := (*s)[i]
		shard.mu.Lock()
		shard.items = make(map[string]struct{})
		shard.mu.Unlock()
	}
}
