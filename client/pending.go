package client

import (
	"context"

	"github.com/IvanBrykalov/flightcache/thread"
)

// PendingRequests tracks the in-flight operations of a client, one per key.
// At any instant the registry holds exactly the operations that are still
// owned (started and not yet completed).
//
// All methods are safe for concurrent use. Cancellation handlers are never
// invoked while the registry lock is held, so a handler may call back into
// the registry (for example to Remove its own key).
type PendingRequests[K comparable] struct {
	st thread.Atomic[pendingState[K]]
}

type pendingState[K comparable] struct {
	m map[K]*CancellationContext
	// idle is closed when m becomes empty; nil while nobody waits.
	idle chan struct{}
}

// NewPendingRequests returns an empty registry.
func NewPendingRequests[K comparable]() *PendingRequests[K] {
	return &PendingRequests[K]{}
}

// TryInsert registers cc as the owner of key. It returns false, without
// changing anything, when key already has an owner.
func (p *PendingRequests[K]) TryInsert(key K, cc *CancellationContext) bool {
	return thread.LockedResult(&p.st, func(s *pendingState[K]) bool {
		if _, exists := s.m[key]; exists {
			return false
		}
		if s.m == nil {
			s.m = make(map[K]*CancellationContext)
		}
		s.m[key] = cc
		return true
	})
}

// Find returns the context owning key, for callers that want to join or
// cancel the operation.
func (p *PendingRequests[K]) Find(key K) (*CancellationContext, bool) {
	var (
		cc *CancellationContext
		ok bool
	)
	p.st.RLocked(func(s *pendingState[K]) {
		cc, ok = s.m[key]
	})
	return cc, ok
}

// Remove releases key regardless of its owner. Removing an absent key is a
// no-op that returns false.
func (p *PendingRequests[K]) Remove(key K) bool {
	return thread.LockedResult(&p.st, func(s *pendingState[K]) bool {
		if _, ok := s.m[key]; !ok {
			return false
		}
		s.deleteLocked(key)
		return true
	})
}

// Release removes key only while it is still owned by cc. A late or
// duplicate completion therefore cannot release a slot that a newer
// operation has claimed in the meantime.
func (p *PendingRequests[K]) Release(key K, cc *CancellationContext) bool {
	return thread.LockedResult(&p.st, func(s *pendingState[K]) bool {
		if owner, ok := s.m[key]; !ok || owner != cc {
			return false
		}
		s.deleteLocked(key)
		return true
	})
}

// Len returns the number of pending operations.
func (p *PendingRequests[K]) Len() int {
	return thread.RLockedResult(&p.st, func(s *pendingState[K]) int { return len(s.m) })
}

// CancelAll requests cancellation of every pending operation. Entries are
// not removed: each operation releases its own key when it completes.
func (p *PendingRequests[K]) CancelAll() {
	contexts := thread.RLockedResult(&p.st, func(s *pendingState[K]) []*CancellationContext {
		out := make([]*CancellationContext, 0, len(s.m))
		for _, cc := range s.m {
			out = append(out, cc)
		}
		return out
	})
	for _, cc := range contexts {
		cc.Cancel()
	}
}

// CancelAllAndWait cancels every pending operation and blocks until all of
// them have released their keys, or ctx is done.
func (p *PendingRequests[K]) CancelAllAndWait(ctx context.Context) error {
	p.CancelAll()
	return p.Wait(ctx)
}

// Wait blocks until the registry is empty or ctx is done.
func (p *PendingRequests[K]) Wait(ctx context.Context) error {
	idle := thread.LockedResult(&p.st, func(s *pendingState[K]) chan struct{} {
		if len(s.m) == 0 {
			return nil
		}
		if s.idle == nil {
			s.idle = make(chan struct{})
		}
		return s.idle
	})
	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *pendingState[K]) deleteLocked(key K) {
	delete(s.m, key)
	if len(s.m) == 0 && s.idle != nil {
		close(s.idle)
		s.idle = nil
	}
}
