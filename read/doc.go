// Package read is a layer client built from the cache and client packages.
//
// A LayerClient resolves DataRequests against a byte-bounded LRU first and a
// Fetcher second. Concurrent requests for the same partition share one fetch
// and the payload is cached once it arrives. Close cancels whatever is still
// in flight and waits for it to drain.
package read
