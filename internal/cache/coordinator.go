package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// defaultSizeThresholdBytes routes payloads at or above this size to the
// remote tier only, keeping small hot objects fast without bloating local
// memory with large blobs.
const defaultSizeThresholdBytes int64 = 100 * 1024

// SetOptions carries the optional parameters of Set. The zero value means
// no TTL, no tags, and automatic size-based tier selection.
type SetOptions struct {
	TTL  time.Duration
	Tags []string

	// Tier forces the write to a single tier. Empty selects by size.
	Tier Tier
}

// Loader produces the value for a key during cache warming.
type Loader func(ctx context.Context, key string) (any, error)

// InvalidationCallback is invoked after a tag's keys have been invalidated.
// A returned error is logged and never aborts the remaining invalidation.
type InvalidationCallback func(tag string, keys []string) error

// HealthState classifies the outcome of a health check.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// TierStatus reports the outcome of a synthetic probe against one tier.
type TierStatus struct {
	Tier    Tier
	Healthy bool
	Latency time.Duration
	Error   string
}

// Status is the aggregate result of HealthCheck.
type Status struct {
	Overall   HealthState
	Tiers     []TierStatus
	CheckedAt time.Time
}

// Report is the result of OptimizeCacheLevels.
type Report struct {
	Scanned         int
	Promoted        int
	HitRate         float64
	Recommendations []string
}

// CoordinatorConfig holds the tunables of a Coordinator.
type CoordinatorConfig struct {
	// SizeThresholdBytes is the payload size at or above which values are
	// written to the remote tier only. Defaults to 100 KiB.
	SizeThresholdBytes int64

	// PromotionAccessThreshold is the minimum remote access count before
	// OptimizeCacheLevels promotes a key. Defaults to 5.
	PromotionAccessThreshold int64

	// PromotionSampleLimit bounds the number of remote keys examined per
	// OptimizeCacheLevels pass. Defaults to 100.
	PromotionSampleLimit int

	// PromotionMaxConcurrent bounds in-flight asynchronous promotions.
	// Defaults to 8.
	PromotionMaxConcurrent int64

	// WarmBatchSize is the default batch size for WarmCache when the
	// caller passes zero. Defaults to 10.
	WarmBatchSize int

	// Codec serializes values for sizing and hashing. Defaults to JSONCodec.
	Codec Codec

	// Clock supplies timestamps. Defaults to the system clock.
	Clock Clock

	// Logger receives diagnostics. Optional.
	Logger zerolog.Logger
}

// Coordinator routes reads and writes across a fast bounded local tier and a
// slower remote tier, promotes remote hits into the local tier, resolves tag
// and dependency invalidation, and aggregates statistics. Callers only ever
// talk to the Coordinator; tier failures degrade to absent results and logs,
// never panics or surfaced errors.
type Coordinator struct {
	local  *LocalBackend
	remote Backend

	index    *Index
	recorder *Recorder
	codec    Codec
	clock    Clock
	logger   zerolog.Logger
	cfg      CoordinatorConfig

	// probeSF collapses concurrent remote probes for the same key.
	probeSF singleflight.Group

	// promSem bounds asynchronous promotions; promWG lets Close drain them.
	promSem *semaphore.Weighted
	promWG  sync.WaitGroup

	cbMu      sync.RWMutex
	callbacks map[string][]InvalidationCallback
}

// NewCoordinator wires a coordinator over the given tiers. The local tier's
// eviction callback is chained so evictions feed metrics and analytics.
func NewCoordinator(local *LocalBackend, remote Backend, cfg CoordinatorConfig) *Coordinator {
	if cfg.SizeThresholdBytes <= 0 {
		cfg.SizeThresholdBytes = defaultSizeThresholdBytes
	}
	if cfg.PromotionAccessThreshold <= 0 {
		cfg.PromotionAccessThreshold = 5
	}
	if cfg.PromotionSampleLimit <= 0 {
		cfg.PromotionSampleLimit = 100
	}
	if cfg.PromotionMaxConcurrent <= 0 {
		cfg.PromotionMaxConcurrent = 8
	}
	if cfg.WarmBatchSize <= 0 {
		cfg.WarmBatchSize = 10
	}
	if cfg.Codec == nil {
		cfg.Codec = JSONCodec{}
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}

	c := &Coordinator{
		local:     local,
		remote:    remote,
		index:     NewIndex(),
		recorder:  NewRecorder(cfg.Clock),
		codec:     cfg.Codec,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		cfg:       cfg,
		promSem:   semaphore.NewWeighted(cfg.PromotionMaxConcurrent),
		callbacks: make(map[string][]InvalidationCallback),
	}

	// Wrap the local tier's eviction callback so eviction feeds metrics and
	// analytics without the backend knowing about either.
	original := local.onEvict
	local.onEvict = func(key string, entry *Entry) {
		EvictionsTotal.WithLabelValues(string(TierLocal)).Inc()
		c.recorder.RecordEviction()
		c.index.DeregisterKey(key)
		if original != nil {
			original(key, entry)
		}
	}

	registerEntriesCollector(TierLocal, func() int {
		n, _ := local.Len(context.Background())
		return n
	})
	registerEntriesCollector(TierRemote, func() int {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, _ := remote.Len(ctx)
		return n
	})

	return c
}

// Get probes the local tier first, then the remote tier. A remote hit is
// asynchronously promoted into the local tier. Absence is (nil, false).
func (c *Coordinator) Get(ctx context.Context, key string) (any, bool) {
	start := time.Now()
	defer func() { c.recorder.Observe(OpGet, time.Since(start)) }()

	if entry, ok, err := c.local.Get(ctx, key); err == nil && ok {
		c.recorder.RecordHit(TierLocal, key)
		HitsTotal.WithLabelValues(string(TierLocal)).Inc()
		return entry.Value, true
	} else if err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Local tier Get failed")
	}
	c.recorder.RecordTierMiss(TierLocal)
	MissesTotal.WithLabelValues(string(TierLocal)).Inc()

	// The local read guard is released before the remote probe; network
	// latency never blocks unrelated local operations.
	res, err, _ := c.probeSF.Do(key, func() (any, error) {
		entry, ok, err := c.remote.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return (*Entry)(nil), nil
		}
		return entry, nil
	})
	if err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Remote tier Get failed")
	}
	entry, _ := res.(*Entry)
	if entry == nil {
		c.recorder.RecordTierMiss(TierRemote)
		MissesTotal.WithLabelValues(string(TierRemote)).Inc()
		c.recorder.RecordMiss(key)
		return nil, false
	}

	c.recorder.RecordHit(TierRemote, key)
	HitsTotal.WithLabelValues(string(TierRemote)).Inc()
	c.promote(entry.Clone())
	return entry.Value, true
}

// promote writes a remote hit into the local tier in the background, bounded
// by the promotion semaphore. Promotion is best-effort; when the bound is
// reached the entry simply stays remote-only until the next hit.
func (c *Coordinator) promote(entry *Entry) {
	if !c.promSem.TryAcquire(1) {
		return
	}
	c.promWG.Add(1)
	go func() {
		defer c.promWG.Done()
		defer c.promSem.Release(1)
		if err := c.local.Set(context.Background(), entry); err != nil {
			c.logger.Warn().Err(err).Str("key", entry.Key).Msg("Promotion to local tier failed")
		}
	}()
}

// Set computes the entry's size and hash from its serialized form, selects
// target tiers by size (or the explicit override), and writes the entry.
// Returns true only if every targeted write succeeded; a partial failure is
// reported as failure but not rolled back.
func (c *Coordinator) Set(ctx context.Context, key string, value any, opts SetOptions) bool {
	start := time.Now()
	defer func() { c.recorder.Observe(OpSet, time.Since(start)) }()

	data, err := c.codec.Encode(value)
	size, hash := FallbackSizeBytes, FallbackContentHash
	if err != nil {
		// Degrade rather than abort: the entry is cached with fallback
		// metadata. Risky if the codec is broken, so it is counted.
		c.logger.Error().Err(err).Str("key", key).Msg("Value serialization failed, using fallback size and hash")
		c.recorder.RecordEncodeFallback()
	} else {
		size, hash = Fingerprint(data)
	}

	now := c.clock.Now()
	entry := &Entry{
		Key:            key,
		Value:          value,
		CreatedAt:      now,
		LastAccessedAt: now,
		TTL:            opts.TTL,
		SizeBytes:      size,
		Version:        c.nextVersion(ctx, key),
		ContentHash:    hash,
		Tags:           opts.Tags,
	}

	targets := c.targetTiers(entry.SizeBytes, opts.Tier)
	allOK := true
	anyOK := false
	for _, backend := range targets {
		if err := backend.Set(ctx, entry.Clone()); err != nil {
			c.logger.Error().Err(err).Str("key", key).Str("tier", string(backend.Tier())).Msg("Tier write failed")
			allOK = false
			continue
		}
		SetsTotal.WithLabelValues(string(backend.Tier())).Inc()
		anyOK = true
	}

	if anyOK {
		c.index.RegisterEntry(key, opts.Tags)
		c.recorder.RecordSet(key)
	}
	return allOK
}

// nextVersion looks up the previous version of a key, preferring the local
// tier and falling back to a remote peek. A fresh key starts at version 1.
func (c *Coordinator) nextVersion(ctx context.Context, key string) int64 {
	if prev, ok, err := c.local.Peek(ctx, key); err == nil && ok {
		return prev.Version + 1
	}
	if prev, ok, err := c.remote.Peek(ctx, key); err == nil && ok {
		return prev.Version + 1
	}
	return 1
}

// targetTiers selects the backends a write goes to.
func (c *Coordinator) targetTiers(size int64, override Tier) []Backend {
	switch override {
	case TierLocal:
		return []Backend{c.local}
	case TierRemote:
		return []Backend{c.remote}
	}
	if size < c.cfg.SizeThresholdBytes {
		return []Backend{c.local, c.remote}
	}
	return []Backend{c.remote}
}

// Delete removes the key from every tier. Returns true if at least one tier
// held the key.
func (c *Coordinator) Delete(ctx context.Context, key string) bool {
	start := time.Now()
	defer func() { c.recorder.Observe(OpDelete, time.Since(start)) }()

	found := c.deleteEverywhere(ctx, key)
	c.index.DeregisterKey(key)
	c.recorder.RecordDelete(key)
	return found
}

func (c *Coordinator) deleteEverywhere(ctx context.Context, key string) bool {
	found := false
	for _, backend := range []Backend{c.local, c.remote} {
		ok, err := backend.Delete(ctx, key)
		if err != nil {
			c.logger.Error().Err(err).Str("key", key).Str("tier", string(backend.Tier())).Msg("Tier delete failed")
			continue
		}
		if ok {
			DeletesTotal.WithLabelValues(string(backend.Tier())).Inc()
			found = true
		}
	}
	return found
}

// Exists reports whether any tier holds an unexpired entry for the key.
func (c *Coordinator) Exists(ctx context.Context, key string) bool {
	for _, backend := range []Backend{c.local, c.remote} {
		ok, err := backend.Exists(ctx, key)
		if err != nil {
			c.logger.Error().Err(err).Str("key", key).Str("tier", string(backend.Tier())).Msg("Tier exists check failed")
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

// AddInvalidationCallback registers fn to run after the given tag is
// invalidated, with the tag and the affected keys.
func (c *Coordinator) AddInvalidationCallback(tag string, fn InvalidationCallback) {
	if fn == nil {
		return
	}
	c.cbMu.Lock()
	c.callbacks[tag] = append(c.callbacks[tag], fn)
	c.cbMu.Unlock()
}

// AddDependency records that dependent must be invalidated whenever key is.
func (c *Coordinator) AddDependency(key, dependent string) {
	c.index.AddDependency(key, dependent)
}

// InvalidateByTags resolves each tag to its keys via the index, falling back
// to a full tier scan when the index has nothing for the tag, and deletes
// every resolved key from every tier. Returns the number of keys removed;
// when the context is cancelled mid-way the count reflects exactly what
// completed.
func (c *Coordinator) InvalidateByTags(ctx context.Context, tags []string) int {
	start := time.Now()
	defer func() { c.recorder.Observe(OpInvalidate, time.Since(start)) }()

	count := 0
	for _, tag := range tags {
		keys := c.index.KeysForTag(tag)
		if len(keys) == 0 {
			// Index may be stale or empty for this tag; fall back to an
			// enumeration-and-filter scan. O(tier size), off the hot path.
			keys = c.scanForTag(ctx, tag)
		}

		affected := make([]string, 0, len(keys))
		for _, key := range keys {
			if ctx.Err() != nil {
				c.recorder.RecordInvalidation(len(affected))
				InvalidationsTotal.Add(float64(len(affected)))
				return count
			}
			if c.deleteEverywhere(ctx, key) {
				affected = append(affected, key)
				count++
			}
			c.index.DeregisterKey(key)
		}

		c.recorder.RecordInvalidation(len(affected))
		InvalidationsTotal.Add(float64(len(affected)))
		c.runCallbacks(tag, affected)
	}
	return count
}

// InvalidateByPattern deletes every key matching the glob pattern from every
// tier and returns the number of keys removed.
func (c *Coordinator) InvalidateByPattern(ctx context.Context, pattern string) int {
	start := time.Now()
	defer func() { c.recorder.Observe(OpInvalidate, time.Since(start)) }()

	seen := make(map[string]struct{})
	for _, backend := range []Backend{c.local, c.remote} {
		keys, err := backend.Enumerate(ctx, pattern)
		if err != nil {
			c.logger.Error().Err(err).Str("pattern", pattern).Str("tier", string(backend.Tier())).Msg("Tier enumeration failed")
			continue
		}
		for _, key := range keys {
			seen[key] = struct{}{}
		}
	}

	count := 0
	for key := range seen {
		if ctx.Err() != nil {
			break
		}
		if c.deleteEverywhere(ctx, key) {
			count++
		}
		c.index.DeregisterKey(key)
	}
	c.recorder.RecordInvalidation(count)
	InvalidationsTotal.Add(float64(count))
	return count
}

// InvalidateDependencies deletes every key that declared a dependency on the
// given key. Edges are walked one level deep; callers wanting transitive
// invalidation re-invoke per returned key.
func (c *Coordinator) InvalidateDependencies(ctx context.Context, key string) int {
	start := time.Now()
	defer func() { c.recorder.Observe(OpInvalidate, time.Since(start)) }()

	count := 0
	for _, dependent := range c.index.Dependents(key) {
		if ctx.Err() != nil {
			break
		}
		if c.deleteEverywhere(ctx, dependent) {
			count++
		}
		c.index.DeregisterKey(dependent)
	}
	c.recorder.RecordInvalidation(count)
	InvalidationsTotal.Add(float64(count))
	return count
}

// scanForTag enumerates both tiers and filters entries carrying the tag.
func (c *Coordinator) scanForTag(ctx context.Context, tag string) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, backend := range []Backend{c.local, c.remote} {
		enumerated, err := backend.Enumerate(ctx, "*")
		if err != nil {
			c.logger.Error().Err(err).Str("tier", string(backend.Tier())).Msg("Tier enumeration failed")
			continue
		}
		for _, key := range enumerated {
			if _, dup := seen[key]; dup {
				continue
			}
			entry, ok, err := backend.Peek(ctx, key)
			if err != nil || !ok {
				continue
			}
			if entry.HasTag(tag) {
				seen[key] = struct{}{}
				keys = append(keys, key)
			}
		}
	}
	return keys
}

// runCallbacks invokes the callbacks registered for a tag. Failures and
// panics are logged and isolated.
func (c *Coordinator) runCallbacks(tag string, keys []string) {
	c.cbMu.RLock()
	fns := c.callbacks[tag]
	c.cbMu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error().Str("tag", tag).Interface("panic", r).Msg("Invalidation callback panicked")
				}
			}()
			if err := fn(tag, keys); err != nil {
				c.logger.Error().Err(err).Str("tag", tag).Msg("Invalidation callback failed")
			}
		}()
	}
}

// ClearAll empties every tier and the invalidation index. Returns the number
// of entries removed per tier.
func (c *Coordinator) ClearAll(ctx context.Context) map[Tier]int {
	counts := make(map[Tier]int)
	for _, backend := range []Backend{c.local, c.remote} {
		n, err := backend.Clear(ctx)
		if err != nil {
			c.logger.Error().Err(err).Str("tier", string(backend.Tier())).Msg("Tier clear failed")
		}
		counts[backend.Tier()] = n
	}
	c.index.Clear()
	return counts
}

// WarmCache populates keys that are not already cached by invoking the
// loader in bounded-size batches. A loader failure for one key never aborts
// the batch. Returns the number of keys successfully warmed.
func (c *Coordinator) WarmCache(ctx context.Context, loader Loader, keys []string, batchSize int) int {
	if loader == nil || len(keys) == 0 {
		return 0
	}
	if batchSize <= 0 {
		batchSize = c.cfg.WarmBatchSize
	}

	var warmed int64
	var warmedMu sync.Mutex
	for begin := 0; begin < len(keys); begin += batchSize {
		if ctx.Err() != nil {
			break
		}
		end := min(begin+batchSize, len(keys))

		var wg sync.WaitGroup
		for _, key := range keys[begin:end] {
			wg.Add(1)
			go func(key string) {
				defer wg.Done()
				if c.Exists(ctx, key) {
					return
				}
				value, err := loader(ctx, key)
				if err != nil {
					c.logger.Warn().Err(err).Str("key", key).Msg("Cache warm loader failed")
					return
				}
				if c.Set(ctx, key, value, SetOptions{}) {
					warmedMu.Lock()
					warmed++
					warmedMu.Unlock()
				}
			}(key)
		}
		wg.Wait()
	}
	return int(warmed)
}

// OptimizeCacheLevels samples remote keys with an access count above the
// promotion threshold that are absent from the local tier and promotes them,
// then derives tuning recommendations from the current statistics.
func (c *Coordinator) OptimizeCacheLevels(ctx context.Context) Report {
	report := Report{}

	keys, err := c.remote.Enumerate(ctx, "*")
	if err != nil {
		c.logger.Error().Err(err).Msg("Remote enumeration failed during optimization")
	}
	if len(keys) > c.cfg.PromotionSampleLimit {
		keys = keys[:c.cfg.PromotionSampleLimit]
	}

	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		report.Scanned++

		if ok, err := c.local.Exists(ctx, key); err == nil && ok {
			continue
		}
		entry, ok, err := c.remote.Peek(ctx, key)
		if err != nil || !ok {
			continue
		}
		if entry.AccessCount < c.cfg.PromotionAccessThreshold {
			continue
		}
		if err := c.local.Set(ctx, entry.Clone()); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("Promotion to local tier failed")
			continue
		}
		report.Promoted++
	}

	snap := c.recorder.Snapshot()
	report.HitRate = snap.HitRate
	switch {
	case snap.Gets == 0:
		report.Recommendations = append(report.Recommendations, "no traffic recorded yet; recommendations need a warm workload")
	case snap.HitRate < 0.8:
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("hit rate %.1f%% is below 80%%, consider increasing local capacity", snap.HitRate*100))
	default:
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("hit rate %.1f%% is healthy", snap.HitRate*100))
	}
	if snap.Sets > 0 && snap.Evictions*2 > snap.Sets {
		report.Recommendations = append(report.Recommendations,
			"local tier is evicting more than half of all writes; consider increasing capacity or raising the size threshold")
	}
	return report
}

// HealthCheck issues a synthetic set/get/delete probe against every tier.
// Overall status is healthy when all tiers pass, unhealthy when more than
// half fail, degraded otherwise.
func (c *Coordinator) HealthCheck(ctx context.Context) Status {
	now := c.clock.Now()
	status := Status{CheckedAt: now}
	failures := 0

	for _, backend := range []Backend{c.local, c.remote} {
		probe := c.probeTier(ctx, backend)
		status.Tiers = append(status.Tiers, probe)
		if !probe.Healthy {
			failures++
		}
	}

	total := len(status.Tiers)
	switch {
	case failures == 0:
		status.Overall = HealthHealthy
	case failures*2 > total:
		status.Overall = HealthUnhealthy
	default:
		status.Overall = HealthDegraded
	}
	return status
}

func (c *Coordinator) probeTier(ctx context.Context, backend Backend) TierStatus {
	status := TierStatus{Tier: backend.Tier()}
	start := time.Now()
	defer func() { status.Latency = time.Since(start) }()

	now := c.clock.Now()
	key := fmt.Sprintf("healthcheck:%s:%d", backend.Tier(), now.UnixNano())
	data, _ := c.codec.Encode("ok")
	size, hash := Fingerprint(data)
	probe := &Entry{
		Key:            key,
		Value:          "ok",
		CreatedAt:      now,
		LastAccessedAt: now,
		TTL:            time.Minute,
		SizeBytes:      size,
		Version:        1,
		ContentHash:    hash,
	}

	if err := backend.Set(ctx, probe); err != nil {
		status.Error = fmt.Sprintf("set: %v", err)
		return status
	}
	if _, ok, err := backend.Get(ctx, key); err != nil || !ok {
		if err != nil {
			status.Error = fmt.Sprintf("get: %v", err)
		} else {
			status.Error = "get: probe entry missing"
		}
		_, _ = backend.Delete(ctx, key)
		return status
	}
	if _, err := backend.Delete(ctx, key); err != nil {
		status.Error = fmt.Sprintf("delete: %v", err)
		return status
	}
	status.Healthy = true
	return status
}

// GetStatistics returns an immutable snapshot of the running counters.
func (c *Coordinator) GetStatistics() Snapshot {
	return c.recorder.Snapshot()
}

// TopKeys returns up to n keys ranked by total traffic, busiest first.
func (c *Coordinator) TopKeys(n int) []KeyStats {
	return c.recorder.TopKeys(n)
}

// Close drains in-flight promotions, unregisters metric collectors, and
// closes both tiers.
func (c *Coordinator) Close() error {
	c.promWG.Wait()
	unregisterEntriesCollector(TierLocal)
	unregisterEntriesCollector(TierRemote)
	if err := c.local.Close(); err != nil {
		return err
	}
	return c.remote.Close()
}
