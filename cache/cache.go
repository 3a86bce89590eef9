package cache

import (
	"cmp"
	"math/bits"
	"slices"

	"github.com/IvanBrykalov/flightcache/internal/util"
	"github.com/IvanBrykalov/flightcache/thread"
)

// LRU is a cost-bounded least-recently-used cache.
// All methods are safe for concurrent use by multiple goroutines; each one
// runs as a single critical section over the whole cache state.
//
// An LRU must not be copied (it embeds a lock); use Move to transfer
// ownership of its contents.
type LRU[K comparable, V any] struct {
	st  thread.Atomic[state[K, V]]
	opt Options[K, V]

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_      util.CacheLinePad
	hits   util.PaddedAtomicUint64
	misses util.PaddedAtomicUint64
	evicts util.PaddedAtomicUint64
}

// state is everything guarded by the LRU lock.
// The zero value is an empty cache.
type state[K comparable, V any] struct {
	m    map[K]*node[K, V]
	head *node[K, V] // MRU
	tail *node[K, V] // LRU
	cost uint64      // sum of resident node costs
}

// New constructs an LRU with the provided Options.
func New[K comparable, V any](opt Options[K, V]) *LRU[K, V] {
	if opt.Cost == nil {
		opt.Cost = unitCost[K, V]
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	return &LRU[K, V]{opt: opt}
}

// NewOrdered is New with Options.Less defaulting to the natural key order.
func NewOrdered[K cmp.Ordered, V any](opt Options[K, V]) *LRU[K, V] {
	if opt.Less == nil {
		opt.Less = cmp.Less[K]
	}
	return New(opt)
}

// Insert adds k→v only if k is absent.
//
// If k is present the existing entry is returned untouched with false.
// If the entry alone does not fit (its cost exceeds Capacity, or the total
// cost would overflow) nothing changes and (nil, false) is returned.
// Otherwise the entry becomes MRU, LRU entries are evicted until the total
// cost fits, and the new entry is returned with true.
func (c *LRU[K, V]) Insert(k K, v V) (*Entry[K, V], bool) {
	cost := c.opt.Cost(k, v)

	var (
		res      *Entry[K, V]
		inserted bool
		evicted  []Entry[K, V]
	)
	c.st.Locked(func(s *state[K, V]) {
		if n, ok := s.m[k]; ok {
			e := n.entry()
			res = &e
			return
		}
		if !c.fits(s.cost, cost) {
			return
		}
		n := s.add(k, v, cost)
		evicted = c.trimLocked(s)
		e := n.entry()
		res, inserted = &e, true
		c.opt.Metrics.Size(len(s.m), s.cost)
	})
	c.notify(evicted, EvictCapacity)
	return res, inserted
}

// InsertOrAssign inserts k→v, or replaces the value (and cost) of an
// existing k and promotes it to MRU.
//
// The boolean is true for a fresh insertion and false for a replacement or
// a rejection; a rejection (entry does not fit) returns a nil Entry and
// leaves the cache unchanged, including any previous value for k.
func (c *LRU[K, V]) InsertOrAssign(k K, v V) (*Entry[K, V], bool) {
	cost := c.opt.Cost(k, v)

	var (
		res      *Entry[K, V]
		inserted bool
		evicted  []Entry[K, V]
	)
	c.st.Locked(func(s *state[K, V]) {
		if n, ok := s.m[k]; ok {
			if !c.fits(s.cost-n.cost, cost) {
				return
			}
			s.cost = s.cost - n.cost + cost
			n.val, n.cost = v, cost
			s.moveToFront(n)
			evicted = c.trimLocked(s)
			e := n.entry()
			res = &e
			c.opt.Metrics.Size(len(s.m), s.cost)
			return
		}
		if !c.fits(s.cost, cost) {
			return
		}
		n := s.add(k, v, cost)
		evicted = c.trimLocked(s)
		e := n.entry()
		res, inserted = &e, true
		c.opt.Metrics.Size(len(s.m), s.cost)
	})
	c.notify(evicted, EvictCapacity)
	return res, inserted
}

// Get returns the value for k and promotes it to MRU.
// A miss returns the zero value and false.
func (c *LRU[K, V]) Get(k K) (V, bool) {
	var (
		v  V
		ok bool
	)
	c.st.Locked(func(s *state[K, V]) {
		n, found := s.m[k]
		if !found {
			c.misses.Add(1)
			c.opt.Metrics.Miss()
			return
		}
		s.moveToFront(n)
		c.hits.Add(1)
		c.opt.Metrics.Hit()
		v, ok = n.val, true
	})
	return v, ok
}

// Peek returns the value for k without promoting it or touching metrics.
func (c *LRU[K, V]) Peek(k K) (V, bool) {
	var (
		v  V
		ok bool
	)
	c.st.RLocked(func(s *state[K, V]) {
		if n, found := s.m[k]; found {
			v, ok = n.val, true
		}
	})
	return v, ok
}

// Contains reports whether k is resident, without promoting it.
func (c *LRU[K, V]) Contains(k K) bool {
	return thread.RLockedResult(&c.st, func(s *state[K, V]) bool {
		_, ok := s.m[k]
		return ok
	})
}

// Remove deletes k if present and returns true on success.
// Explicit removals are not reported to OnEvict.
func (c *LRU[K, V]) Remove(k K) bool {
	return thread.LockedResult(&c.st, func(s *state[K, V]) bool {
		n, ok := s.m[k]
		if !ok {
			return false
		}
		s.unlink(n)
		delete(s.m, k)
		c.opt.Metrics.Size(len(s.m), s.cost)
		return true
	})
}

// Clear removes every entry and resets the total cost to zero.
// OnEvict, if set, sees each dropped entry with EvictClear.
func (c *LRU[K, V]) Clear() {
	var dropped []Entry[K, V]
	c.st.Locked(func(s *state[K, V]) {
		if c.opt.OnEvict != nil {
			dropped = s.entries()
		}
		for range s.m {
			c.opt.Metrics.Evict(EvictClear)
		}
		*s = state[K, V]{}
		c.opt.Metrics.Size(0, 0)
	})
	c.notify(dropped, EvictClear)
}

// Len returns the number of resident entries.
func (c *LRU[K, V]) Len() int {
	return thread.RLockedResult(&c.st, func(s *state[K, V]) int { return len(s.m) })
}

// IsEmpty reports whether the cache holds no entries.
func (c *LRU[K, V]) IsEmpty() bool { return c.Len() == 0 }

// Capacity returns the configured cost budget.
func (c *LRU[K, V]) Capacity() uint64 { return c.opt.Capacity }

// Cost returns the current total cost of resident entries.
func (c *LRU[K, V]) Cost() uint64 {
	return thread.RLockedResult(&c.st, func(s *state[K, V]) uint64 { return s.cost })
}

// Keys returns a snapshot of resident keys, ordered by Options.Less when set
// and MRU→LRU otherwise.
func (c *LRU[K, V]) Keys() []K {
	keys := thread.RLockedResult(&c.st, func(s *state[K, V]) []K {
		out := make([]K, 0, len(s.m))
		for n := s.head; n != nil; n = n.next {
			out = append(out, n.key)
		}
		return out
	})
	if less := c.opt.Less; less != nil {
		slices.SortStableFunc(keys, func(a, b K) int {
			switch {
			case less(a, b):
				return -1
			case less(b, a):
				return 1
			}
			return 0
		})
	}
	return keys
}

// Entries returns a snapshot of resident entries in MRU→LRU order.
func (c *LRU[K, V]) Entries() []Entry[K, V] {
	return thread.RLockedResult(&c.st, func(s *state[K, V]) []Entry[K, V] {
		return s.entries()
	})
}

// Move transfers all entries, recency order, cost accounting and counters
// into a new LRU with the same Options. The receiver is left empty and
// remains usable.
func (c *LRU[K, V]) Move() *LRU[K, V] {
	dst := &LRU[K, V]{opt: c.opt}
	moved := c.st.LockedSwapWithDefault()
	dst.st.LockedMove(&moved)
	dst.hits.Store(c.hits.Swap(0))
	dst.misses.Store(c.misses.Swap(0))
	dst.evicts.Store(c.evicts.Swap(0))
	return dst
}

// ---- helpers ----

// fits reports whether an entry of the given cost can be admitted on top of
// base without exceeding Capacity on its own or overflowing the total.
func (c *LRU[K, V]) fits(base, cost uint64) bool {
	if cost > c.opt.Capacity {
		return false
	}
	_, carry := bits.Add64(base, cost, 0)
	return carry == 0
}

// trimLocked evicts LRU entries until the total cost fits Capacity.
// The MRU entry (the one just written) is never evicted.
func (c *LRU[K, V]) trimLocked(s *state[K, V]) []Entry[K, V] {
	var evicted []Entry[K, V]
	for s.cost > c.opt.Capacity {
		n := s.tail
		if n == nil || n == s.head {
			break
		}
		s.unlink(n)
		delete(s.m, n.key)
		c.evicts.Add(1)
		c.opt.Metrics.Evict(EvictCapacity)
		evicted = append(evicted, n.entry())
	}
	return evicted
}

// notify delivers eviction callbacks; it must run without the lock held.
func (c *LRU[K, V]) notify(evicted []Entry[K, V], reason EvictReason) {
	cb := c.opt.OnEvict
	if cb == nil {
		return
	}
	for _, e := range evicted {
		cb(e.Key, e.Value, reason)
	}
}

// -------------------- list internals (lock held) --------------------

// add links a new node at MRU and indexes it.
func (s *state[K, V]) add(k K, v V, cost uint64) *node[K, V] {
	if s.m == nil {
		s.m = make(map[K]*node[K, V])
	}
	n := &node[K, V]{key: k, val: v, cost: cost}
	s.m[k] = n
	s.pushFront(n)
	return n
}

// pushFront inserts n at MRU in O(1).
func (s *state[K, V]) pushFront(n *node[K, V]) {
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
	s.cost += n.cost
}

// moveToFront promotes n to MRU in O(1).
func (s *state[K, V]) moveToFront(n *node[K, V]) {
	if n == s.head {
		return
	}
	// detach
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.tail == n {
		s.tail = n.prev
	}
	// insert at head
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
}

// unlink removes n from the list and subtracts its cost in O(1).
// Map bookkeeping is left to the caller.
func (s *state[K, V]) unlink(n *node[K, V]) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.head == n {
		s.head = n.next
	}
	if s.tail == n {
		s.tail = n.prev
	}
	n.prev, n.next = nil, nil
	s.cost -= n.cost
}

func (s *state[K, V]) entries() []Entry[K, V] {
	out := make([]Entry[K, V], 0, len(s.m))
	for n := s.head; n != nil; n = n.next {
		out = append(out, n.entry())
	}
	return out
}
