// Package sharded provides lock-sharded concurrent sets and maps keyed by
// path strings. Sharding by key hash keeps contention low when many workers
// record paths at once.
package sharded

import "hash/fnv"

// getShardIndex calculates the shard index for a given key using FNV-1a.
// numShards must be a power of 2 for the bitwise AND to be a valid modulus.
func getShardIndex(key string, numShards int) int {
	h := fnv.New32a()
	// Write never returns an error for FNV-1a.
	h.Write([]byte(key))
	return int(h.Sum32() & uint32(numShards-1))
}
