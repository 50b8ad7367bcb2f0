package cache

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/stayops/concierge/internal/metrics"
)

// Tiered coordinates the local and distributed tiers behind a single
// lookup/store surface. The local tier is authoritative for latency; the
// distributed tier extends hits across replicas and restarts and is strictly
// best-effort.
type Tiered struct {
	local   *Local
	remote  *Valkey
	logger  *slog.Logger
	metrics *metrics.Recorder

	mu            sync.Mutex
	l1Hits        uint64
	l2Hits        uint64
	misses        uint64
	remoteErrors  uint64
	totalRequests uint64
	// avgLatencyMs is an exponential moving average with alpha 2/(n+1), so
	// early samples settle quickly and steady state smooths out spikes.
	avgLatencyMs float64

	now func() time.Time
}

// TieredStats aggregates both tiers plus the orchestrator's own counters.
type TieredStats struct {
	Local         LocalStats   `json:"local"`
	Valkey        *ValkeyStats `json:"valkey,omitempty"`
	L1Hits        uint64       `json:"l1Hits"`
	L2Hits        uint64       `json:"l2Hits"`
	Misses        uint64       `json:"misses"`
	RemoteErrors  uint64       `json:"remoteErrors"`
	TotalRequests uint64       `json:"totalRequests"`
	HitRate       float64      `json:"hitRate"`
	AvgLatencyMs  float64      `json:"avgLatencyMs"`
}

// NewTiered wires the tiers together. remote may be nil, in which case the
// cache runs purely in-process.
func NewTiered(local *Local, remote *Valkey, rec *metrics.Recorder, logger *slog.Logger) *Tiered {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tiered{
		local:   local,
		remote:  remote,
		logger:  logger.With(slog.String("subsystem", "cache")),
		metrics: rec,
		now:     time.Now,
	}
}

// Get looks the question up in the local tier first, then the distributed
// tier. A distributed hit is promoted into the local tier so the next lookup
// stays in-process. Distributed failures count as misses.
func (t *Tiered) Get(ctx context.Context, question string, category, section *string) (Response, bool) {
	start := t.now()
	key := NewKey(question, category, section)

	localStart := t.now()
	if resp, ok := t.local.Get(key); ok {
		t.metrics.ObserveCacheLookup(metrics.CacheTierLocal, metrics.CacheOutcomeHit, t.now().Sub(localStart))
		t.recordLookup(&t.l1Hits, start)
		return resp, true
	}
	t.metrics.ObserveCacheLookup(metrics.CacheTierLocal, metrics.CacheOutcomeMiss, t.now().Sub(localStart))

	if t.remote == nil {
		t.recordLookup(&t.misses, start)
		return Response{}, false
	}

	remoteStart := t.now()
	resp, ok, err := t.remote.Get(ctx, key)
	switch {
	case err != nil:
		t.metrics.ObserveCacheLookup(metrics.CacheTierValkey, metrics.CacheOutcomeError, t.now().Sub(remoteStart))
		t.logger.WarnContext(ctx, "distributed cache lookup failed", slog.String("key", key.String()), slog.Any("error", err))
		t.mu.Lock()
		t.remoteErrors++
		t.mu.Unlock()
		t.recordLookup(&t.misses, start)
		return Response{}, false
	case !ok:
		t.metrics.ObserveCacheLookup(metrics.CacheTierValkey, metrics.CacheOutcomeMiss, t.now().Sub(remoteStart))
		t.recordLookup(&t.misses, start)
		return Response{}, false
	}

	t.metrics.ObserveCacheLookup(metrics.CacheTierValkey, metrics.CacheOutcomeHit, t.now().Sub(remoteStart))
	t.local.Set(key, question, resp)
	t.recordLookup(&t.l2Hits, start)
	return resp, true
}

// Set writes the response to the local tier unconditionally and to the
// distributed tier on a best-effort basis.
func (t *Tiered) Set(ctx context.Context, question string, category, section *string, resp Response) {
	key := NewKey(question, category, section)
	if resp.Timestamp.IsZero() {
		resp.Timestamp = t.now().UTC()
	}
	resp.Category = category
	resp.Section = section

	localStart := t.now()
	t.local.Set(key, question, resp)
	t.metrics.ObserveCacheStore(metrics.CacheTierLocal, metrics.CacheOutcomeStored, t.now().Sub(localStart))

	if t.remote == nil {
		return
	}

	remoteStart := t.now()
	if err := t.remote.Set(ctx, key, resp); err != nil {
		t.metrics.ObserveCacheStore(metrics.CacheTierValkey, metrics.CacheOutcomeError, t.now().Sub(remoteStart))
		t.logger.WarnContext(ctx, "distributed cache store failed", slog.String("key", key.String()), slog.Any("error", err))
		t.mu.Lock()
		t.remoteErrors++
		t.mu.Unlock()
		return
	}
	t.metrics.ObserveCacheStore(metrics.CacheTierValkey, metrics.CacheOutcomeStored, t.now().Sub(remoteStart))
}

// Invalidate removes local entries whose question contains fragment. Because
// distributed keys are hashes, the distributed tier cannot match by question
// text and is flushed for its whole namespace instead. Reports how many
// entries were removed across both tiers.
func (t *Tiered) Invalidate(ctx context.Context, fragment string) int {
	removed := t.local.ClearMatching(fragment)
	if t.remote != nil {
		remoteRemoved, err := t.remote.ClearPrefix(ctx)
		if err != nil {
			t.logger.WarnContext(ctx, "distributed cache invalidation failed", slog.Any("error", err))
		}
		removed += remoteRemoved
	}
	return removed
}

// Clear empties both tiers. Counters are preserved.
func (t *Tiered) Clear(ctx context.Context) {
	t.local.Clear()
	if t.remote != nil {
		if _, err := t.remote.ClearPrefix(ctx); err != nil {
			t.logger.WarnContext(ctx, "distributed cache clear failed", slog.Any("error", err))
		}
	}
}

// Stats snapshots the combined cache state.
func (t *Tiered) Stats(ctx context.Context) TieredStats {
	t.mu.Lock()
	stats := TieredStats{
		L1Hits:        t.l1Hits,
		L2Hits:        t.l2Hits,
		Misses:        t.misses,
		RemoteErrors:  t.remoteErrors,
		TotalRequests: t.totalRequests,
		AvgLatencyMs:  math.Round(t.avgLatencyMs*100) / 100,
	}
	t.mu.Unlock()

	total := stats.TotalRequests
	if total == 0 {
		total = 1
	}
	rate := float64(stats.L1Hits+stats.L2Hits) / float64(total) * 100
	stats.HitRate = math.Round(rate*100) / 100

	stats.Local = t.local.Stats()
	if t.remote != nil {
		remote := t.remote.Stats(ctx)
		stats.Valkey = &remote
	}
	return stats
}

func (t *Tiered) recordLookup(counter *uint64, start time.Time) {
	elapsed := float64(t.now().Sub(start)) / float64(time.Millisecond)
	t.mu.Lock()
	defer t.mu.Unlock()
	*counter++
	t.totalRequests++
	alpha := 2 / float64(t.totalRequests+1)
	t.avgLatencyMs = alpha*elapsed + (1-alpha)*t.avgLatencyMs
}
