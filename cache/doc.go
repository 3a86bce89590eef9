// Package cache provides a generic, cost-bounded LRU cache.
//
// Design
//
//   - Concurrency: the whole cache is one monitor. Its state (key index,
//     recency list, total cost) lives in a single thread.Atomic and every
//     public method is one critical section, so the cost invariant is always
//     observed on a consistent view. Get takes the exclusive lock because it
//     promotes; Peek, Contains, Len, Cost, Keys and Entries take the shared lock.
//
//   - Storage: a map[K]*node for lookups and an intrusive MRU↔LRU doubly
//     linked list for ordering. All operations are O(1) expected.
//
//   - Cost/Capacity: each entry has a cost (Options.Cost, default 1) and the
//     sum of resident costs never exceeds Options.Capacity after a call
//     returns. Writes evict from the LRU end until the budget holds; ties
//     between equal-cost entries are broken strictly by recency. An entry
//     whose own cost exceeds Capacity, or that would overflow the total, is
//     rejected and the cache is left unchanged.
//
//   - Callbacks: Options.OnEvict(k, v, reason) runs after the lock is
//     released, so it may safely call back into the cache.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Evict/Size signals.
//     By default NoopMetrics is used; plug metrics/prom to export them.
//
// Basic usage
//
//	// Count-bounded cache holding at most 2 entries.
//	c := cache.New[string, string](cache.Options[string, string]{Capacity: 2})
//	c.Insert("a", "1")
//	c.Insert("b", "2")
//	c.Get("a")         // a becomes MRU
//	c.Insert("c", "3") // evicts b
//
// Byte-bounded cache
//
//	c := cache.New[string, []byte](cache.Options[string, []byte]{
//	    Capacity: 64 << 20,
//	    Cost:     func(k string, v []byte) uint64 { return uint64(len(k) + len(v)) },
//	})
//
// Ownership
//
// An LRU embeds a lock and must not be copied; go vet reports copies.
// Move hands the contents to a new LRU and leaves the source empty, so two
// live values never share recency state or cost accounting.
package cache
