package read

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/flightcache/cache"
	"github.com/IvanBrykalov/flightcache/client"
)

// LayerClient reads partitions of one layer. Concurrent requests for the
// same key share a single fetch, successful fetches land in the cache, and
// every in-flight fetch can be cancelled individually or all at once.
type LayerClient struct {
	catalog string
	layer   string

	fetcher  Fetcher
	cache    *cache.LRU[string, []byte]
	pending  *client.PendingRequests[string]
	requests *client.MultiRequest[string, []byte]

	prefetchLimit int
	log           zerolog.Logger
}

// NewLayerClient wires a client for catalog/layer on top of fetcher.
func NewLayerClient(catalog, layer string, fetcher Fetcher, settings Settings) *LayerClient {
	if settings.Cache == nil {
		settings.Cache = CreateDefaultCache(settings)
	}
	if settings.PrefetchConcurrency <= 0 {
		settings.PrefetchConcurrency = defaultPrefetchConcurrency
	}
	log := zerolog.Nop()
	if settings.Logger != nil {
		log = *settings.Logger
	}

	pending := client.NewPendingRequests[string]()
	return &LayerClient{
		catalog:       catalog,
		layer:         layer,
		fetcher:       fetcher,
		cache:         settings.Cache,
		pending:       pending,
		requests:      client.NewMultiRequest[string, []byte](pending, settings.Scheduler),
		prefetchLimit: settings.PrefetchConcurrency,
		log:           log.With().Str("catalog", catalog).Str("layer", layer).Logger(),
	}
}

// GetData resolves req and passes the result to callback. Cache hits and
// request errors are delivered before GetData returns; fetches complete on
// the scheduler. Cancelling the returned token detaches this caller, which
// then receives ErrCancelled.
func (c *LayerClient) GetData(req DataRequest, callback func([]byte, error)) client.CancellationToken {
	key, data, done, err := c.lookup(req)
	if done {
		callback(data, err)
		return client.CancellationToken{}
	}
	return c.requests.ExecuteWithPriority(key, req.Priority, c.fetch(req, key), callback)
}

// GetDataSync is the blocking form of GetData. When ctx is done first the
// caller is detached and ctx.Err() is returned.
func (c *LayerClient) GetDataSync(ctx context.Context, req DataRequest) ([]byte, error) {
	key, data, done, err := c.lookup(req)
	if done {
		return data, err
	}
	return c.requests.DoWithPriority(ctx, key, req.Priority, c.fetch(req, key))
}

// Prefetch warms the cache with reqs, running at most
// Settings.PrefetchConcurrency fetches at once. Results are in request order;
// one failing request does not stop the others. An empty batch is
// ErrInvalidArgument.
func (c *LayerClient) Prefetch(ctx context.Context, reqs []DataRequest) ([]PrefetchResult, error) {
	if len(reqs) == 0 {
		c.log.Warn().Msg("prefetch: empty request list")
		return nil, client.NewApiError(client.ErrorInvalidArgument, "prefetch: empty request list")
	}
	results := make([]PrefetchResult, len(reqs))

	var g errgroup.Group
	g.SetLimit(c.prefetchLimit)
	for i, req := range reqs {
		g.Go(func() error {
			data, err := c.GetDataSync(ctx, req)
			results[i] = PrefetchResult{Request: req, Size: len(data), Err: err}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	c.log.Info().Int("requested", len(reqs)).Int("failed", failed).Msg("prefetch complete")
	return results, nil
}

// RemoveFromCache drops every cached version of partitionID. It reports
// whether anything was removed.
func (c *LayerClient) RemoveFromCache(partitionID string) bool {
	if partitionID == "" {
		return false
	}
	prefix := DataRequest{PartitionID: partitionID}.CreateKey(c.catalog, c.layer)

	removed := false
	for _, k := range c.cache.Keys() {
		if k == prefix || strings.HasPrefix(k, prefix+"@") {
			removed = c.cache.Remove(k) || removed
		}
	}
	return removed
}

// Pending returns the number of fetches in flight.
func (c *LayerClient) Pending() int { return c.pending.Len() }

// CancelPendingRequests cancels every fetch in flight. Waiting callers
// receive ErrCancelled once their fetch returns.
func (c *LayerClient) CancelPendingRequests() {
	c.log.Debug().Int("pending", c.pending.Len()).Msg("cancelling pending requests")
	c.pending.CancelAll()
}

// Close cancels every fetch in flight and waits until all of them have
// returned, or ctx is done.
func (c *LayerClient) Close(ctx context.Context) error {
	if err := c.pending.CancelAllAndWait(ctx); err != nil {
		c.log.Warn().Err(err).Int("pending", c.pending.Len()).Msg("close: requests still in flight")
		return err
	}
	return nil
}

// lookup answers req without the network when it can. done reports that
// data/err are final.
func (c *LayerClient) lookup(req DataRequest) (key string, data []byte, done bool, err error) {
	if !req.valid() {
		return "", nil, true, client.NewApiError(client.ErrorInvalidArgument, "partition id or data handle required")
	}
	key = req.CreateKey(c.catalog, c.layer)

	if req.FetchOption == OnlineOnly {
		return key, nil, false, nil
	}
	if data, ok := c.cache.Get(key); ok {
		c.log.Debug().Str("key", key).Msg("cache hit")
		return key, data, true, nil
	}
	if req.FetchOption == CacheOnly {
		c.log.Debug().Str("key", key).Msg("cache miss, cache only")
		return key, nil, true, client.NewApiError(client.ErrorNotFound, "%s: not found in cache", key)
	}
	return key, nil, false, nil
}

func (c *LayerClient) fetch(req DataRequest, key string) func(*client.CancellationContext) ([]byte, error) {
	return func(cc *client.CancellationContext) ([]byte, error) {
		ctx, cancel := cc.WithContext(context.Background())
		defer cancel()

		data, err := c.fetcher.Fetch(ctx, req)
		if cc.IsCancelled() {
			c.log.Debug().Str("key", key).Msg("fetch cancelled")
			return nil, client.ErrCancelled
		}
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				err = client.NewApiError(client.ErrorRequestTimeout, "%s: %v", key, err)
				c.log.Warn().Err(err).Str("key", key).Msg("fetch timed out")
				return nil, err
			}
			c.log.Info().Err(err).Str("key", key).Msg("fetch failed")
			return nil, err
		}

		if e, _ := c.cache.InsertOrAssign(key, data); e == nil {
			c.log.Debug().Str("key", key).Int("size", len(data)).Msg("payload exceeds cache capacity, not cached")
		}
		return data, nil
	}
}
