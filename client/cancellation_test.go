package client

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancellationContext_InitialState(t *testing.T) {
	t.Parallel()

	var cc CancellationContext // zero value is usable
	assert.False(t, cc.IsCancelled())
	assert.Equal(t, StateActive, cc.State())
}

func TestCancellationContext_CancelRunsHandlerOnce(t *testing.T) {
	t.Parallel()

	cc := NewCancellationContext()
	var calls atomic.Int32
	cc.OnCancel(func() { calls.Add(1) })

	cc.Cancel()
	cc.Cancel() // idempotent

	assert.True(t, cc.IsCancelled())
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, StateHandlerExecuted, cc.State())
}

func TestCancellationContext_CancelWithoutHandler(t *testing.T) {
	t.Parallel()

	cc := NewCancellationContext()
	cc.Cancel()
	assert.Equal(t, StateCancelRequested, cc.State())

	// Registering after cancellation runs the handler immediately.
	ran := false
	cc.OnCancel(func() { ran = true })
	assert.True(t, ran)
	assert.Equal(t, StateHandlerExecuted, cc.State())
}

func TestCancellationContext_ExecuteOrCancelled(t *testing.T) {
	t.Parallel()

	cc := NewCancellationContext()
	var aborted atomic.Bool

	executed := cc.ExecuteOrCancelled(func() CancellationToken {
		return NewCancellationToken(func() { aborted.Store(true) })
	}, func() { t.Error("cancel callback must not run on an active context") })
	require.True(t, executed)
	assert.False(t, aborted.Load())

	cc.Cancel()
	assert.True(t, aborted.Load(), "registered token must be cancelled")

	cancelled := false
	executed = cc.ExecuteOrCancelled(func() CancellationToken {
		t.Error("execute must not run on a cancelled context")
		return CancellationToken{}
	}, func() { cancelled = true })
	assert.False(t, executed)
	assert.True(t, cancelled)
}

// Cancel racing with execute: the token returned by execute is still
// cancelled, so the step is never missed.
func TestCancellationContext_CancelDuringExecute(t *testing.T) {
	t.Parallel()

	cc := NewCancellationContext()
	var aborted atomic.Bool

	cc.ExecuteOrCancelled(func() CancellationToken {
		cc.Cancel() // lands while execute is running
		return NewCancellationToken(func() { aborted.Store(true) })
	}, nil)

	assert.True(t, aborted.Load())
	assert.Equal(t, StateHandlerExecuted, cc.State())
}

// The handler runs outside the context lock and may query it.
func TestCancellationContext_HandlerMayReenter(t *testing.T) {
	t.Parallel()

	cc := NewCancellationContext()
	var sawCancelled bool
	cc.OnCancel(func() { sawCancelled = cc.IsCancelled() })
	cc.Cancel()
	assert.True(t, sawCancelled)
}

func TestCancellationContext_DoneAfterHandler(t *testing.T) {
	t.Parallel()

	cc := NewCancellationContext()
	var handled atomic.Bool
	cc.OnCancel(func() {
		time.Sleep(10 * time.Millisecond)
		handled.Store(true)
	})

	go cc.Cancel()

	select {
	case <-cc.Done():
		assert.True(t, handled.Load(), "Done must close after the handler returned")
	case <-time.After(2 * time.Second):
		t.Fatal("Done was not closed")
	}
}

// Observing IsCancelled()==true implies the handler registered earlier has
// been invoked or is being invoked.
func TestCancellationContext_NoMissedSignal(t *testing.T) {
	t.Parallel()

	for i := 0; i < 200; i++ {
		cc := NewCancellationContext()
		var started atomic.Bool
		cc.OnCancel(func() { started.Store(true) })

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); cc.Cancel() }()
		go func() { defer wg.Done(); cc.Cancel() }()
		wg.Wait()

		require.True(t, cc.IsCancelled())
		require.True(t, started.Load())
	}
}

func TestCancellationContext_Bind(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cc := NewCancellationContext()
	cc.Bind(ctx)

	cancel()
	select {
	case <-cc.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("bound context cancellation did not propagate")
	}
	assert.True(t, cc.IsCancelled())
}

func TestCancellationContext_WithContext(t *testing.T) {
	t.Parallel()

	cc := NewCancellationContext()
	ctx, release := cc.WithContext(context.Background())
	defer release()

	cc.Cancel()
	select {
	case <-ctx.Done():
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("derived context was not cancelled")
	}
}

func TestCancellationToken_Zero(t *testing.T) {
	t.Parallel()

	var tok CancellationToken
	assert.NotPanics(t, tok.Cancel)
}

func TestApiError_Is(t *testing.T) {
	t.Parallel()

	err := NewApiError(ErrorCancelled, "cancelled %q", "k")
	assert.ErrorIs(t, err, ErrCancelled)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, `cancelled "k"`, err.Error())
	assert.Equal(t, "not_found", ErrorNotFound.String())
}
