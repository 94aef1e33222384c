// Package sharded provides concurrent map/set implementations that spread
// locking across a fixed number of shards keyed by hash, so the Scanner,
// Checkpoint, and Executor can track thousands of in-flight path keys from
// many goroutines without a single global lock becoming a bottleneck.
package sharded

import "hash/fnv"

// getShardIndex calculates the shard index for a given key using FNV-1a.
// numShards must be a power of 2 for the bitwise AND optimization below.
func getShardIndex(key string, numShards int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	hashValue := h.Sum32()
	return int(hashValue & uint32(numShards-1))
}
