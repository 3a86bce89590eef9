package cache

// EvictReason explains why an entry was removed without an explicit Remove.
type EvictReason int

const (
	// EvictCapacity — removed to bring the total cost back under Capacity.
	EvictCapacity EvictReason = iota
	// EvictClear — dropped by Clear.
	EvictClear
)

// String returns a stable label for the reason.
func (r EvictReason) String() string {
	switch r {
	case EvictCapacity:
		return "capacity"
	case EvictClear:
		return "clear"
	default:
		return "unknown"
	}
}

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
// Hooks run under the cache lock; keep them cheap and never call back
// into the cache from them.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Size(entries int, cost uint64)
}

// Options configures an LRU. Zero values are safe; defaults applied in New():
//   - nil Cost     => every entry costs 1 (LRU by count)
//   - nil Less     => Keys() returns recency order (MRU first)
//   - nil Metrics  => NoopMetrics
type Options[K comparable, V any] struct {
	// Capacity is the total cost budget. Zero is valid: every entry with a
	// positive cost is rejected and the cache stays empty.
	Capacity uint64

	// Cost returns the weight of an entry (e.g. payload bytes).
	Cost func(k K, v V) uint64

	// Less orders keys for Keys(). It is resolved once at construction.
	Less func(a, b K) bool

	// OnEvict is called for every evicted entry after the cache lock has been
	// released, so it may call back into the cache.
	OnEvict func(k K, v V, reason EvictReason)

	Metrics Metrics
}

func unitCost[K comparable, V any](K, V) uint64 { return 1 }
