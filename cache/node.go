package cache

// node is an intrusive doubly linked list element owned by an LRU.
// It stores the key/value alongside the list links and its cost.
type node[K comparable, V any] struct {
	key K
	val V

	// Intrusive list links: head is MRU, tail is LRU.
	prev *node[K, V]
	next *node[K, V]

	// Cost charged against Options.Capacity while the node is resident.
	cost uint64
}

func (n *node[K, V]) entry() Entry[K, V] {
	return Entry[K, V]{Key: n.key, Value: n.val, Cost: n.cost}
}

// Entry is a point-in-time copy of a resident cache entry.
type Entry[K comparable, V any] struct {
	Key   K
	Value V
	Cost  uint64
}
