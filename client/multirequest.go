package client

import (
	"context"
	"maps"
	"slices"

	"github.com/IvanBrykalov/flightcache/thread"
)

// MultiRequest coalesces concurrent requests for the same key into one
// operation. The first caller for a key registers a fresh
// CancellationContext in PendingRequests and schedules the operation; callers
// arriving before it completes attach to it and receive the same result.
//
// Concurrency notes:
//   - Callbacks are invoked outside every lock, after the key has been
//     released from PendingRequests, so a callback may immediately start a
//     new request for the same key.
//   - Cancelling a caller's token detaches only that caller, which receives
//     ErrCancelled. When the last caller detaches, the operation's context is
//     cancelled; the operation keeps its key until fn returns.
//   - Lock order is MultiRequest → PendingRequests; PendingRequests never
//     calls back while locked.
type MultiRequest[K comparable, V any] struct {
	pending   *PendingRequests[K]
	scheduler thread.TaskScheduler
	calls     thread.Atomic[map[K]*call[V]]
}

type call[V any] struct {
	cc        *CancellationContext
	callbacks map[uint64]func(V, error)
	nextID    uint64
	done      bool
}

// NewMultiRequest builds a MultiRequest that registers its operations in
// pending and runs them on scheduler. A nil pending gets a private registry;
// a nil scheduler starts one goroutine per operation.
func NewMultiRequest[K comparable, V any](pending *PendingRequests[K], scheduler thread.TaskScheduler) *MultiRequest[K, V] {
	if pending == nil {
		pending = NewPendingRequests[K]()
	}
	if scheduler == nil {
		scheduler = thread.GoScheduler{}
	}
	return &MultiRequest[K, V]{pending: pending, scheduler: scheduler}
}

// Execute runs fn for key at PriorityNormal, or attaches callback to the
// operation already in flight for key. See ExecuteWithPriority.
func (m *MultiRequest[K, V]) Execute(key K, fn func(cc *CancellationContext) (V, error), callback func(V, error)) CancellationToken {
	return m.ExecuteWithPriority(key, thread.PriorityNormal, fn, callback)
}

// ExecuteWithPriority runs fn for key, or attaches callback to the operation
// already in flight for key. callback is invoked exactly once: with the
// operation's result, or with ErrCancelled if the returned token is
// cancelled first. priority only applies when a new operation is started;
// joining callers inherit the running one.
//
// If key is owned in PendingRequests by something other than this
// MultiRequest, callback receives ErrDuplicateRequest immediately. If the
// scheduler rejects the operation, every attached callback receives
// ErrCancelled and the key is released.
func (m *MultiRequest[K, V]) ExecuteWithPriority(key K, priority thread.Priority, fn func(cc *CancellationContext) (V, error), callback func(V, error)) CancellationToken {
	if callback == nil {
		callback = func(V, error) {}
	}

	var (
		c        *call[V]
		id       uint64
		start    bool
		conflict bool
	)
	m.calls.Locked(func(calls *map[K]*call[V]) {
		c = (*calls)[key]
		if c == nil {
			cc := NewCancellationContext()
			if !m.pending.TryInsert(key, cc) {
				conflict = true
				return
			}
			if *calls == nil {
				*calls = make(map[K]*call[V])
			}
			c = &call[V]{cc: cc, callbacks: make(map[uint64]func(V, error))}
			(*calls)[key] = c
			start = true
		}
		id = c.nextID
		c.nextID++
		c.callbacks[id] = callback
	})

	if conflict {
		var zero V
		callback(zero, ErrDuplicateRequest)
		return CancellationToken{}
	}
	if start {
		if err := m.scheduler.ScheduleTask(func() { m.run(key, c, fn) }, priority); err != nil {
			var zero V
			m.finish(key, c, zero, NewApiError(ErrorCancelled, "%v: %v", key, err))
			return CancellationToken{}
		}
	}
	return NewCancellationToken(func() { m.leave(c, id) })
}

// Do is the blocking form of Execute. If ctx is done first, the caller is
// detached and ctx.Err() is returned.
func (m *MultiRequest[K, V]) Do(ctx context.Context, key K, fn func(cc *CancellationContext) (V, error)) (V, error) {
	return m.DoWithPriority(ctx, key, thread.PriorityNormal, fn)
}

// DoWithPriority is the blocking form of ExecuteWithPriority.
func (m *MultiRequest[K, V]) DoWithPriority(ctx context.Context, key K, priority thread.Priority, fn func(cc *CancellationContext) (V, error)) (V, error) {
	type result struct {
		v   V
		err error
	}
	ch := make(chan result, 1)
	token := m.ExecuteWithPriority(key, priority, fn, func(v V, err error) { ch <- result{v, err} })

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		token.Cancel()
		var zero V
		return zero, ctx.Err()
	}
}

// Cancel requests cancellation of the operation in flight for key.
// It reports whether such an operation existed.
func (m *MultiRequest[K, V]) Cancel(key K) bool {
	c := thread.RLockedResult(&m.calls, func(calls *map[K]*call[V]) *call[V] {
		return (*calls)[key]
	})
	if c == nil {
		return false
	}
	c.cc.Cancel()
	return true
}

// Len returns the number of operations in flight.
func (m *MultiRequest[K, V]) Len() int {
	return thread.RLockedResult(&m.calls, func(calls *map[K]*call[V]) int { return len(*calls) })
}

// run executes fn and completes the call. A panic in fn is reported to the
// callers as an ErrorUnknown ApiError so the key is never left behind.
func (m *MultiRequest[K, V]) run(key K, c *call[V], fn func(cc *CancellationContext) (V, error)) {
	var (
		v   V
		err error
	)
	defer func() {
		if r := recover(); r != nil {
			var zero V
			v, err = zero, NewApiError(ErrorUnknown, "%v: request panicked: %v", key, r)
		}
		m.finish(key, c, v, err)
	}()
	v, err = fn(c.cc)
}

// finish releases key and delivers the result to every attached caller,
// outside the lock.
func (m *MultiRequest[K, V]) finish(key K, c *call[V], v V, err error) {
	var callbacks []func(V, error)
	m.calls.Locked(func(calls *map[K]*call[V]) {
		if (*calls)[key] == c {
			delete(*calls, key)
		}
		m.pending.Release(key, c.cc)
		for _, id := range slices.Sorted(maps.Keys(c.callbacks)) {
			callbacks = append(callbacks, c.callbacks[id])
		}
		c.callbacks = nil
		c.done = true
	})

	for _, cb := range callbacks {
		cb(v, err)
	}
}

func (m *MultiRequest[K, V]) leave(c *call[V], id uint64) {
	var (
		cb   func(V, error)
		last bool
	)
	m.calls.Locked(func(*map[K]*call[V]) {
		var ok bool
		if cb, ok = c.callbacks[id]; !ok {
			return
		}
		delete(c.callbacks, id)
		last = len(c.callbacks) == 0 && !c.done
	})
	if cb == nil {
		return
	}

	var zero V
	cb(zero, ErrCancelled)
	if last {
		c.cc.Cancel()
	}
}
