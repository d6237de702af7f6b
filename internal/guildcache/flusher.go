package guildcache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/piyushsatti/nonagon/internal/bus"
	"github.com/piyushsatti/nonagon/internal/domain"
	"github.com/piyushsatti/nonagon/internal/otel"
)

// Persister is where flushed member documents land: the local store or the
// quest service adapter.
type Persister interface {
	UpsertUser(ctx context.Context, u *domain.User) error
}

// FlushStats is the flusher's cumulative accounting.
type FlushStats struct {
	TotalBatches   int64 `json:"total_batches"`
	TotalItems     int64 `json:"total_items"`
	LastDurationMS int64 `json:"last_duration_ms"`
	Errors         int64 `json:"errors"`
}

// Flusher drains the cache's dirty queue on a fixed interval and writes each
// pending member to the configured persistence target. Failed writes are
// requeued for the next batch so a flaky target never loses a mutation.
type Flusher struct {
	cache    *Cache
	target   Persister
	interval time.Duration
	workers  int
	logger   *slog.Logger
	bus      *bus.Bus
	metrics  *otel.Metrics

	batches   atomic.Int64
	items     atomic.Int64
	lastMS    atomic.Int64
	errCount  atomic.Int64
	lastDepth atomic.Int64
}

// NewFlusher wires a flusher against the given persistence target. workers
// only matters for remote targets; the sqlite store serialises writes anyway,
// so callers pass 1 for the local path.
func NewFlusher(cache *Cache, target Persister, interval time.Duration, workers int, logger *slog.Logger, b *bus.Bus, metrics *otel.Metrics) *Flusher {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Flusher{
		cache:    cache,
		target:   target,
		interval: interval,
		workers:  workers,
		logger:   logger,
		bus:      b,
		metrics:  metrics,
	}
}

// Run flushes on the configured interval until ctx is cancelled, then runs
// one final drain so shutdown never strands dirty members.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			f.FlushOnce(drainCtx)
			cancel()
			return
		case <-ticker.C:
			f.FlushOnce(ctx)
		}
	}
}

// FlushOnce drains the current dirty set and persists each member. It
// returns the number of successfully written members.
func (f *Flusher) FlushOnce(ctx context.Context) int {
	keys := f.cache.drainDirty()
	if len(keys) == 0 {
		return 0
	}
	start := time.Now()

	var failedMu sync.Mutex
	var failed []dirtyKey
	var written atomic.Int64

	work := make(chan dirtyKey)
	var wg sync.WaitGroup
	for i := 0; i < f.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range work {
				u, ok := f.cache.snapshotUser(key)
				if !ok {
					continue
				}
				if err := f.target.UpsertUser(ctx, u); err != nil {
					f.logger.Warn("flush write failed",
						"guild_id", key.GuildID, "user_id", key.UserID.String(), "error", err)
					failedMu.Lock()
					failed = append(failed, key)
					failedMu.Unlock()
					continue
				}
				written.Add(1)
			}
		}()
	}
	for _, key := range keys {
		work <- key
	}
	close(work)
	wg.Wait()

	if len(failed) > 0 {
		f.cache.requeue(failed)
	}

	elapsed := time.Since(start)
	f.batches.Add(1)
	f.items.Add(written.Load())
	f.lastMS.Store(elapsed.Milliseconds())
	f.errCount.Add(int64(len(failed)))

	depth := f.cache.DirtyCount()
	if f.metrics != nil {
		f.metrics.FlushDuration.Record(ctx, elapsed.Seconds())
		f.metrics.FlushItems.Add(ctx, written.Load())
		f.metrics.FlushErrors.Add(ctx, int64(len(failed)))
		prev := f.lastDepth.Swap(int64(depth))
		f.metrics.DirtyQueueDepth.Add(ctx, int64(depth)-prev)
	}
	if f.bus != nil {
		f.bus.Publish(bus.TopicFlushBatch, bus.FlushBatchEvent{
			Batch:      int(written.Load()),
			Errors:     len(failed),
			QueueDepth: depth,
			DurationMS: elapsed.Milliseconds(),
		})
	}
	f.logger.Info("flush batch",
		"written", written.Load(), "failed", len(failed),
		"queue_depth", depth, "duration_ms", elapsed.Milliseconds())
	return int(written.Load())
}

// Stats returns the flusher's cumulative counters.
func (f *Flusher) Stats() FlushStats {
	return FlushStats{
		TotalBatches:   f.batches.Load(),
		TotalItems:     f.items.Load(),
		LastDurationMS: f.lastMS.Load(),
		Errors:         f.errCount.Load(),
	}
}
