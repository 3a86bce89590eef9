package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/flightcache/cache"
	"github.com/IvanBrykalov/flightcache/client"
	pmet "github.com/IvanBrykalov/flightcache/metrics/prom"
	"github.com/IvanBrykalov/flightcache/read"
	"github.com/IvanBrykalov/flightcache/thread"
)

type report struct {
	cfg     config
	elapsed time.Duration

	reads   uint64
	errs    uint64
	fetches uint64
	stats   cache.Stats
	entries int
	cost    uint64
}

// run executes one workload and blocks until cfg.Duration elapsed or ctx is
// done.
func run(ctx context.Context, cfg config, log zerolog.Logger) (report, error) {
	if cfg.PprofAddr != "" {
		go func() {
			log.Info().Str("addr", cfg.PprofAddr).Msg("pprof: serving")
			log.Warn().Err(http.ListenAndServe(cfg.PprofAddr, nil)).Msg("pprof server stopped")
		}()
	}

	var metrics cache.Metrics = cache.NoopMetrics{}
	if cfg.MetricsAddr != "" {
		metrics = pmet.New(nil, "flightcache", "bench", nil)
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics: serving")
			log.Warn().Err(http.ListenAndServe(cfg.MetricsAddr, nil)).Msg("metrics server stopped")
		}()
	}

	var fetches atomic.Uint64
	payload := make([]byte, cfg.Payload)
	backend := read.FetcherFunc(func(ctx context.Context, _ read.DataRequest) ([]byte, error) {
		fetches.Add(1)
		t := time.NewTimer(cfg.Latency)
		defer t.Stop()
		select {
		case <-t.C:
			return payload, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	settings := read.Settings{
		DefaultCacheCapacity: cfg.Capacity,
		Metrics:              metrics,
		Logger:               &log,
	}
	if cfg.PoolWorkers > 0 {
		pool := thread.NewThreadPool(cfg.PoolWorkers, 0)
		defer func() { _ = pool.Close() }()
		settings.Scheduler = pool
	}
	lru := read.CreateDefaultCache(settings)
	settings.Cache = lru

	lc := read.NewLayerClient("hrn:bench:catalog", "volatile", backend, settings)
	if cfg.MetricsAddr != "" {
		pmet.RegisterInflight(nil, "flightcache", "bench", nil, lc.Pending)
	}

	if cfg.Preload > 0 {
		reqs := make([]read.DataRequest, cfg.Preload)
		for i := range reqs {
			reqs[i] = read.DataRequest{PartitionID: partition(uint64(i))}
		}
		results, err := lc.Prefetch(ctx, reqs)
		if err != nil {
			return report{}, fmt.Errorf("preload: %w", err)
		}
		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
			}
		}
		log.Info().Int("partitions", len(reqs)).Int("failed", failed).Msg("preload done")
	}

	var reads, errs atomic.Uint64
	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	start := time.Now()
	var g errgroup.Group
	for w := 0; w < cfg.Workers; w++ {
		g.Go(func() error {
			// rand.Rand is not goroutine-safe: one RNG and Zipf per worker.
			r := rand.New(rand.NewSource(cfg.Seed + int64(w)*9973))
			zipf := rand.NewZipf(r, cfg.ZipfS, cfg.ZipfV, cfg.Keys-1)

			for runCtx.Err() == nil {
				_, err := lc.GetDataSync(runCtx, read.DataRequest{PartitionID: partition(zipf.Uint64())})
				switch {
				case err == nil:
					reads.Add(1)
				case runCtx.Err() != nil:
					return nil
				case errors.Is(err, client.ErrCancelled):
				default:
					errs.Add(1)
					log.Debug().Err(err).Msg("read failed")
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	elapsed := time.Since(start)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := lc.Close(closeCtx); err != nil {
		return report{}, fmt.Errorf("close layer client: %w", err)
	}

	return report{
		cfg:     cfg,
		elapsed: elapsed,
		reads:   reads.Load(),
		errs:    errs.Load(),
		fetches: fetches.Load(),
		stats:   lru.Stats(),
		entries: lru.Len(),
		cost:    lru.Cost(),
	}, nil
}

func partition(n uint64) string { return "p:" + strconv.FormatUint(n, 10) }

func (r report) print(w io.Writer) {
	secs := r.elapsed.Seconds()
	if secs == 0 {
		secs = 1
	}
	misses := r.stats.Misses
	coalesced := uint64(0)
	if misses > r.fetches {
		coalesced = misses - r.fetches
	}

	fmt.Fprintf(w, "capacity=%dB workers=%d pool=%d keys=%d latency=%v dur=%v seed=%d\n",
		r.cfg.Capacity, r.cfg.Workers, r.cfg.PoolWorkers, r.cfg.Keys, r.cfg.Latency, r.elapsed, r.cfg.Seed)
	fmt.Fprintf(w, "reads=%d (%.0f reads/s)  errors=%d\n", r.reads, float64(r.reads)/secs, r.errs)
	fmt.Fprintf(w, "hits=%d  misses=%d  hit-rate=%.2f%%\n", r.stats.Hits, misses, r.stats.HitRatio()*100)
	fmt.Fprintf(w, "fetches=%d  coalesced=%d  evictions=%d\n", r.fetches, coalesced, r.stats.Evictions)
	fmt.Fprintf(w, "entries=%d  cost=%dB\n", r.entries, r.cost)
}
