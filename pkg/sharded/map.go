package sharded

import "sync"

const numMapShards = 64 // power of 2 for fast bitwise mod

type mapShard struct {
	mu    sync.RWMutex
	items map[string]any
}

// Map is a concurrent string-keyed map. The reconciler uses one to collect
// non-fatal per-path removal errors within a scan.
type Map []*mapShard

func NewMap() *Map {
	m := make(Map, numMapShards)
	for i := 0; i < numMapShards; i++ {
		m[i] = &mapShard{items: make(map[string]any)}
	}
	return &m
}

func (m *Map) getShard(key string) *mapShard {
	return (*m)[getShardIndex(key, numMapShards)]
}

// Store adds a key-value pair to the map.
func (m *Map) Store(key string, value any) {
	shard := m.getShard(key)
	shard.mu.Lock()
	shard.items[key] = value
	shard.mu.Unlock()
}

// Load returns the value for a key, and whether it was present.
func (m *Map) Load(key string) (any, bool) {
	shard := m.getShard(key)
	shard.mu.RLock()
	v, ok := shard.items[key]
	shard.mu.RUnlock()
	return v, ok
}

// Delete removes a key.
func (m *Map) Delete(key string) {
	shard := m.getShard(key)
	shard.mu.Lock()
	delete(shard.items, key)
	shard.mu.Unlock()
}

// Count returns the total number of entries.
func (m *Map) Count() int {
	count := 0
	for i := 0; i < numMapShards; i++ {
		shard := (*m)[i]
		shard.mu.RLock()
		count += len(shard.items)
		shard.mu.RUnlock()
	}
	return count
}

// Items returns a plain-map snapshot of the contents.
func (m *Map) Items() map[string]any {
	out := make(map[string]any, m.Count())
	for i := 0; i < numMapShards; i++ {
		shard := (*m)[i]
		shard.mu.RLock()
		for k, v := range shard.items {
			out[k] = v
		}
		shard.mu.RUnlock()
	}
	return out
}

// Clear removes all entries.
func (m *Map) Clear() {
	for i := 0; i < numMapShards; i++ {
		shard := (*m)[i]
		shard.mu.Lock()
		shard.items = make(map[string]any)
		shard.mu.Unlock()
	}
}
