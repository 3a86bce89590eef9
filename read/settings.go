package read

import (
	"github.com/rs/zerolog"

	"github.com/IvanBrykalov/flightcache/cache"
	"github.com/IvanBrykalov/flightcache/thread"
)

// DefaultCacheCapacity is the byte budget of the cache built by
// CreateDefaultCache when Settings.DefaultCacheCapacity is zero.
const DefaultCacheCapacity uint64 = 1 << 20

const defaultPrefetchConcurrency = 8

// Settings configures a LayerClient. Zero values are safe:
//   - nil Cache      => CreateDefaultCache(settings)
//   - nil Scheduler  => one goroutine per fetch
//   - nil Logger     => zerolog.Nop()
type Settings struct {
	// Cache may be shared between clients; keys carry catalog and layer.
	Cache *cache.LRU[string, []byte]

	// DefaultCacheCapacity is the byte budget used when Cache is nil.
	DefaultCacheCapacity uint64

	Scheduler thread.TaskScheduler

	// Metrics is attached to the default cache only.
	Metrics cache.Metrics

	Logger *zerolog.Logger

	// PrefetchConcurrency bounds the fetches a Prefetch call runs at once.
	PrefetchConcurrency int
}

// CreateDefaultCache builds a byte-bounded LRU. An entry costs the length of
// its key plus the length of its payload.
func CreateDefaultCache(s Settings) *cache.LRU[string, []byte] {
	capacity := s.DefaultCacheCapacity
	if capacity == 0 {
		capacity = DefaultCacheCapacity
	}
	return cache.NewOrdered(cache.Options[string, []byte]{
		Capacity: capacity,
		Cost:     func(k string, v []byte) uint64 { return uint64(len(k) + len(v)) },
		Metrics:  s.Metrics,
	})
}
