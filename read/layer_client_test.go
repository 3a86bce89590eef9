package read

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/flightcache/client"
	"github.com/IvanBrykalov/flightcache/thread"
)

// fakeFetcher returns "data:<partition>" and counts calls. With gate set,
// every fetch waits for the gate (or ctx) before returning.
type fakeFetcher struct {
	calls   atomic.Int64
	started chan struct{}
	gate    chan struct{}
	fail    map[string]error
}

func (f *fakeFetcher) Fetch(ctx context.Context, req DataRequest) ([]byte, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.fail[req.PartitionID]; err != nil {
		return nil, err
	}
	return []byte("data:" + req.PartitionID), nil
}

func newTestClient(f Fetcher) *LayerClient {
	return NewLayerClient("hrn:catalog", "layer", f, Settings{})
}

func TestDataRequest_CreateKey(t *testing.T) {
	t.Parallel()

	v := int64(7)
	assert.Equal(t, "cat::lay::partition::p1", DataRequest{PartitionID: "p1"}.CreateKey("cat", "lay"))
	assert.Equal(t, "cat::lay::partition::p1@7", DataRequest{PartitionID: "p1", Version: &v}.CreateKey("cat", "lay"))
	assert.Equal(t, "cat::lay::handle::h", DataRequest{DataHandle: "h", BillingTag: "x"}.CreateKey("cat", "lay"))

	// A partition id that looks like a handle marker must not share a slot
	// with the handle itself.
	for _, id := range []string{"#h", "handle::h", "h"} {
		assert.NotEqual(t,
			DataRequest{DataHandle: "h"}.CreateKey("cat", "lay"),
			DataRequest{PartitionID: id}.CreateKey("cat", "lay"), "partition %q", id)
	}
	assert.Equal(t, "cache_only", CacheOnly.String())
}

func TestLayerClient_FetchThenCacheHit(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{}
	c := newTestClient(f)
	ctx := context.Background()

	data, err := c.GetDataSync(ctx, DataRequest{PartitionID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, "data:p1", string(data))

	data, err = c.GetDataSync(ctx, DataRequest{PartitionID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, "data:p1", string(data))
	assert.Equal(t, int64(1), f.calls.Load(), "second read is served from cache")

	_, err = c.GetDataSync(ctx, DataRequest{PartitionID: "p1", FetchOption: OnlineOnly})
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.calls.Load(), "OnlineOnly bypasses the cache")
}

func TestLayerClient_CacheOnly(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{}
	c := newTestClient(f)
	ctx := context.Background()

	_, err := c.GetDataSync(ctx, DataRequest{PartitionID: "p1", FetchOption: CacheOnly})
	assert.ErrorIs(t, err, client.ErrNotFound)
	assert.Zero(t, f.calls.Load())

	_, err = c.GetDataSync(ctx, DataRequest{PartitionID: "p1"})
	require.NoError(t, err)

	data, err := c.GetDataSync(ctx, DataRequest{PartitionID: "p1", FetchOption: CacheOnly})
	require.NoError(t, err)
	assert.Equal(t, "data:p1", string(data))
}

func TestLayerClient_InvalidRequest(t *testing.T) {
	t.Parallel()

	c := newTestClient(&fakeFetcher{})
	_, err := c.GetDataSync(context.Background(), DataRequest{})
	assert.ErrorIs(t, err, client.ErrInvalidArgument)

	var cbErr error
	tok := c.GetData(DataRequest{}, func(_ []byte, err error) { cbErr = err })
	assert.ErrorIs(t, cbErr, client.ErrInvalidArgument)
	assert.NotPanics(t, tok.Cancel)
}

func TestLayerClient_FetchErrorNotCached(t *testing.T) {
	t.Parallel()

	errBackend := errors.New("backend down")
	f := &fakeFetcher{fail: map[string]error{"bad": errBackend}}
	c := newTestClient(f)
	ctx := context.Background()

	_, err := c.GetDataSync(ctx, DataRequest{PartitionID: "bad"})
	assert.ErrorIs(t, err, errBackend)
	_, err = c.GetDataSync(ctx, DataRequest{PartitionID: "bad"})
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, int64(2), f.calls.Load())
}

func TestLayerClient_TimeoutIsApiError(t *testing.T) {
	t.Parallel()

	c := newTestClient(FetcherFunc(func(context.Context, DataRequest) ([]byte, error) {
		return nil, context.DeadlineExceeded
	}))
	_, err := c.GetDataSync(context.Background(), DataRequest{PartitionID: "p"})
	assert.ErrorIs(t, err, client.ErrRequestTimeout)
}

// Concurrent readers of one partition share a single fetch.
func TestLayerClient_Deduplicates(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{gate: make(chan struct{})}
	c := newTestClient(f)

	const N = 16
	results := make(chan string, N)
	var g errgroup.Group
	for i := 0; i < N; i++ {
		g.Go(func() error {
			c.GetData(DataRequest{PartitionID: "p1"}, func(data []byte, err error) {
				if err != nil {
					results <- err.Error()
					return
				}
				results <- string(data)
			})
			return nil
		})
	}
	require.NoError(t, g.Wait())
	close(f.gate)

	for i := 0; i < N; i++ {
		select {
		case got := <-results:
			assert.Equal(t, "data:p1", got)
		case <-time.After(2 * time.Second):
			t.Fatal("callback not invoked")
		}
	}
	assert.Equal(t, int64(1), f.calls.Load())
}

func TestLayerClient_CancelToken(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	c := newTestClient(f)

	errs := make(chan error, 1)
	tok := c.GetData(DataRequest{PartitionID: "p1"}, func(_ []byte, err error) { errs <- err })
	<-f.started
	tok.Cancel()

	assert.ErrorIs(t, <-errs, client.ErrCancelled)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Close(ctx), "the fetch observes cancellation and drains")
}

func TestLayerClient_CloseCancelsInFlight(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{gate: make(chan struct{}), started: make(chan struct{}, 2)}
	c := newTestClient(f)

	var g errgroup.Group
	for _, p := range []string{"a", "b"} {
		g.Go(func() error {
			_, err := c.GetDataSync(context.Background(), DataRequest{PartitionID: p})
			if !errors.Is(err, client.ErrCancelled) {
				return err
			}
			return nil
		})
	}
	<-f.started
	<-f.started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Close(ctx))
	require.NoError(t, g.Wait())

	_, err := c.GetDataSync(context.Background(), DataRequest{PartitionID: "a", FetchOption: CacheOnly})
	assert.ErrorIs(t, err, client.ErrNotFound, "cancelled fetches are not cached")
}

func TestLayerClient_RemoveFromCache(t *testing.T) {
	t.Parallel()

	c := newTestClient(&fakeFetcher{})
	ctx := context.Background()
	v := int64(3)

	_, err := c.GetDataSync(ctx, DataRequest{PartitionID: "p1"})
	require.NoError(t, err)
	_, err = c.GetDataSync(ctx, DataRequest{PartitionID: "p1", Version: &v})
	require.NoError(t, err)
	_, err = c.GetDataSync(ctx, DataRequest{PartitionID: "p10"})
	require.NoError(t, err)

	assert.True(t, c.RemoveFromCache("p1"))
	assert.False(t, c.RemoveFromCache("p1"))
	assert.False(t, c.RemoveFromCache(""))

	_, err = c.GetDataSync(ctx, DataRequest{PartitionID: "p10", FetchOption: CacheOnly})
	assert.NoError(t, err, "a partition sharing the prefix is kept")
}

func TestLayerClient_Prefetch(t *testing.T) {
	t.Parallel()

	errBackend := errors.New("backend down")
	f := &fakeFetcher{fail: map[string]error{"bad": errBackend}}
	c := NewLayerClient("cat", "layer", f, Settings{PrefetchConcurrency: 2})

	reqs := []DataRequest{{PartitionID: "a"}, {PartitionID: "bad"}, {PartitionID: "c"}}
	results, err := c.Prefetch(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, len("data:a"), results[0].Size)
	assert.ErrorIs(t, results[1].Err, errBackend)
	assert.NoError(t, results[2].Err)

	_, err = c.GetDataSync(context.Background(), DataRequest{PartitionID: "c", FetchOption: CacheOnly})
	assert.NoError(t, err)
}

func TestLayerClient_PrefetchEmpty(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{}
	c := newTestClient(f)

	results, err := c.Prefetch(context.Background(), nil)
	assert.ErrorIs(t, err, client.ErrInvalidArgument)
	assert.Empty(t, results)
	assert.Zero(t, f.calls.Load())
}

// The request priority is handed to the scheduler that runs the fetch.
func TestLayerClient_PriorityReachesScheduler(t *testing.T) {
	t.Parallel()

	var rec recordingScheduler
	c := NewLayerClient("cat", "layer", &fakeFetcher{}, Settings{Scheduler: &rec})

	_, err := c.GetDataSync(context.Background(), DataRequest{PartitionID: "a", Priority: thread.PriorityHigh})
	require.NoError(t, err)
	_, err = c.GetDataSync(context.Background(), DataRequest{PartitionID: "b"})
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []thread.Priority{thread.PriorityHigh, thread.PriorityNormal}, rec.seen)
}

// A closed pool rejects fetches; callers get ErrCancelled and Close does
// not wait for a fetch that never started.
func TestLayerClient_ClosedScheduler(t *testing.T) {
	t.Parallel()

	pool := thread.NewThreadPool(1, 1)
	require.NoError(t, pool.Close())
	c := NewLayerClient("cat", "layer", &fakeFetcher{}, Settings{Scheduler: pool})

	_, err := c.GetDataSync(context.Background(), DataRequest{PartitionID: "a"})
	assert.ErrorIs(t, err, client.ErrCancelled)
	assert.Zero(t, c.Pending())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Close(ctx))
}

type recordingScheduler struct {
	mu   sync.Mutex
	seen []thread.Priority
}

func (s *recordingScheduler) ScheduleTask(task func(), p thread.Priority) error {
	s.mu.Lock()
	s.seen = append(s.seen, p)
	s.mu.Unlock()
	go task()
	return nil
}

func TestCreateDefaultCache_ByteCost(t *testing.T) {
	t.Parallel()

	lru := CreateDefaultCache(Settings{DefaultCacheCapacity: 10})
	_, ok := lru.Insert("k", []byte("123456789"))
	require.True(t, ok)
	assert.Equal(t, uint64(10), lru.Cost())

	e, _ := lru.Insert("big", []byte("123456789"))
	assert.Nil(t, e, "12 bytes exceed the budget")

	assert.Equal(t, DefaultCacheCapacity, CreateDefaultCache(Settings{}).Capacity())
}
