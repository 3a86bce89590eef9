package client

import (
	"context"
	"sync"
)

// State is the lifecycle of a CancellationContext.
type State int

const (
	// StateActive: cancellation has not been requested.
	StateActive State = iota
	// StateCancelRequested: Cancel was called; no handler has run yet.
	StateCancelRequested
	// StateHandlerExecuted: a handler ran as a result of cancellation.
	StateHandlerExecuted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCancelRequested:
		return "cancel_requested"
	case StateHandlerExecuted:
		return "handler_executed"
	default:
		return "unknown"
	}
}

// CancellationToken cancels one sub-operation (for example an outstanding
// network call). The zero token does nothing.
type CancellationToken struct {
	cancel func()
}

// NewCancellationToken wraps fn as a token.
func NewCancellationToken(fn func()) CancellationToken {
	return CancellationToken{cancel: fn}
}

// Cancel runs the wrapped function, if any.
func (t CancellationToken) Cancel() {
	if t.cancel != nil {
		t.cancel()
	}
}

// CancellationContext is a cooperative cancellation flag shared between the
// issuer of an operation and the operation body. The body either polls
// IsCancelled or registers a handler that aborts its current step; Cancel
// never stops anything by itself.
//
// The zero value is ready to use. A CancellationContext must not be copied;
// share it by pointer.
//
// Handlers always run without the internal lock held, so a handler may call
// back into the context or into structures that own it.
type CancellationContext struct {
	mu        sync.Mutex
	cancelled bool
	executed  bool
	handler   func()
	done      chan struct{}
}

// NewCancellationContext returns an active context.
func NewCancellationContext() *CancellationContext {
	return &CancellationContext{}
}

// Cancel requests cancellation. The handler registered at that moment, if
// any, is invoked synchronously before Cancel returns. Further calls are
// no-ops.
func (c *CancellationContext) Cancel() {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return
	}
	c.cancelled = true
	h := c.handler
	c.handler = nil
	done := c.doneLocked()
	c.mu.Unlock()

	if h != nil {
		c.runHandler(h)
	}
	close(done)
}

// IsCancelled reports whether Cancel has been called.
func (c *CancellationContext) IsCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// State returns the current lifecycle state.
func (c *CancellationContext) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.executed:
		return StateHandlerExecuted
	case c.cancelled:
		return StateCancelRequested
	default:
		return StateActive
	}
}

// ExecuteOrCancelled starts the next step of an operation.
//
// If the context is already cancelled, cancel (if non-nil) is called and
// false is returned. Otherwise execute is called and the token it returns
// becomes the cancellation handler, replacing the previous one. If Cancel
// ran while execute was in progress, the returned token is cancelled right
// away so the step cannot be missed.
func (c *CancellationContext) ExecuteOrCancelled(execute func() CancellationToken, cancel func()) bool {
	if c.IsCancelled() {
		if cancel != nil {
			cancel()
		}
		return false
	}

	token := execute()

	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		if token.cancel != nil {
			c.runHandler(token.cancel)
		}
		return true
	}
	c.handler = token.cancel
	c.mu.Unlock()
	return true
}

// OnCancel registers fn as the cancellation handler, replacing the previous
// one. If the context is already cancelled fn runs immediately.
func (c *CancellationContext) OnCancel(fn func()) {
	c.mu.Lock()
	if !c.cancelled {
		c.handler = fn
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	if fn != nil {
		c.runHandler(fn)
	}
}

// Done returns a channel that is closed once cancellation was requested and
// the handler registered at that moment has returned.
func (c *CancellationContext) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doneLocked()
}

// Bind cancels c when ctx is done. The returned stop function detaches the
// binding; it reports whether the binding was still pending.
func (c *CancellationContext) Bind(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, c.Cancel)
}

// WithContext derives a context.Context that is cancelled when c is
// cancelled or parent is done. Call the returned CancelFunc when finished
// to release resources.
func (c *CancellationContext) WithContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	done := c.Done()
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (c *CancellationContext) runHandler(h func()) {
	h()
	c.mu.Lock()
	c.executed = true
	c.mu.Unlock()
}

func (c *CancellationContext) doneLocked() chan struct{} {
	if c.done == nil {
		c.done = make(chan struct{})
	}
	return c.done
}
