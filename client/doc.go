// Package client holds the request-side concurrency primitives of the SDK:
// cooperative cancellation (CancellationContext, CancellationToken), the
// registry of in-flight operations (PendingRequests) and request
// coalescing on top of it (MultiRequest).
//
// None of these types perform I/O or log. Every outcome is returned to the
// caller: duplicate keys and missing keys are reported through boolean
// results, and operation failures through *ApiError values that can be
// matched with errors.Is against ErrCancelled, ErrNotFound and friends.
//
// Typical flow
//
//	pending := client.NewPendingRequests[string]()
//	requests := client.NewMultiRequest[string, []byte](pending, nil)
//
//	data, err := requests.Do(ctx, key, func(cc *client.CancellationContext) ([]byte, error) {
//	    reqCtx, cancel := cc.WithContext(context.Background())
//	    defer cancel()
//	    return fetch(reqCtx, key)
//	})
//
//	// On shutdown:
//	_ = pending.CancelAllAndWait(ctx)
package client
