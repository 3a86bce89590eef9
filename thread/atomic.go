// Package thread contains small concurrency building blocks shared by the
// cache and client packages: a mutex-guarded value wrapper and a task
// scheduler backed by a fixed pool of goroutines.
package thread

import "sync"

// Atomic guards a value of type T with a reader/writer lock.
// All access goes through the Locked* methods, so no reference to the
// wrapped value can outlive its access window unless fn leaks it.
//
// Atomic must not be copied after first use (go vet copylocks).
type Atomic[T any] struct {
	mu  sync.RWMutex
	val T
}

// NewAtomic returns an Atomic holding v.
func NewAtomic[T any](v T) *Atomic[T] {
	return &Atomic[T]{val: v}
}

// Locked runs fn with exclusive access to the wrapped value.
// The lock is released on every exit path, including a panic in fn.
func (a *Atomic[T]) Locked(fn func(v *T)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(&a.val)
}

// RLocked runs fn with shared access. fn must not mutate *v.
func (a *Atomic[T]) RLocked(fn func(v *T)) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	fn(&a.val)
}

// LockedResult runs fn under the exclusive lock of a and returns its result.
func LockedResult[T, R any](a *Atomic[T], fn func(v *T) R) R {
	a.mu.Lock()
	defer a.mu.Unlock()
	return fn(&a.val)
}

// RLockedResult runs fn under the shared lock of a and returns its result.
func RLockedResult[T, R any](a *Atomic[T], fn func(v *T) R) R {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return fn(&a.val)
}

// LockedAssign replaces the wrapped value with v.
func (a *Atomic[T]) LockedAssign(v T) {
	a.mu.Lock()
	a.val = v
	a.mu.Unlock()
}

// LockedCopy returns a copy of the wrapped value.
// For reference types (maps, slices, pointers) the copy is shallow.
func (a *Atomic[T]) LockedCopy() T {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.val
}

// LockedMove transfers *src into the wrapper and resets *src to the zero
// value, so the caller no longer holds the moved state.
func (a *Atomic[T]) LockedMove(src *T) {
	var zero T
	a.mu.Lock()
	a.val = *src
	a.mu.Unlock()
	*src = zero
}

// LockedSwap exchanges the wrapped value with *other.
func (a *Atomic[T]) LockedSwap(other *T) {
	a.mu.Lock()
	a.val, *other = *other, a.val
	a.mu.Unlock()
}

// LockedSwapWithDefault returns the wrapped value and leaves the zero value
// of T in its place.
func (a *Atomic[T]) LockedSwapWithDefault() T {
	var zero T
	a.mu.Lock()
	old := a.val
	a.val = zero
	a.mu.Unlock()
	return old
}
