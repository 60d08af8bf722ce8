package cache

import (
	"sort"
	"sync"
	"time"
)

// OpType labels coordinator operations for latency accounting.
type OpType string

const (
	OpGet        OpType = "get"
	OpSet        OpType = "set"
	OpDelete     OpType = "delete"
	OpInvalidate OpType = "invalidate"
)

// KeyStats aggregates per-key traffic counters.
type KeyStats struct {
	Key          string
	Hits         uint64
	Misses       uint64
	Sets         uint64
	Deletes      uint64
	LastAccessAt time.Time
}

// traffic is the ranking criterion for TopKeys.
func (s *KeyStats) traffic() uint64 {
	return s.Hits + s.Misses + s.Sets + s.Deletes
}

// Snapshot is an immutable point-in-time view of the recorder's counters.
// Derived values (hit rate, throughput, average latencies) are computed at
// snapshot time; the running counters remain the source of truth.
type Snapshot struct {
	Gets            uint64
	Sets            uint64
	Deletes         uint64
	Evictions       uint64
	Invalidations   uint64
	HitsByTier      map[Tier]uint64
	MissesByTier    map[Tier]uint64
	Misses          uint64 // both tiers missed
	EncodeFallbacks uint64
	HitRate         float64
	OpsPerSecond    float64
	AvgLatency      map[OpType]time.Duration
	TakenAt         time.Time
}

type latencyAgg struct {
	count uint64
	total time.Duration
}

// Recorder counts hits, misses, sets, and deletes per key and globally, and
// tracks a running average latency per operation type. It has its own mutex
// and is never updated while a backend lock is held.
type Recorder struct {
	mu      sync.Mutex
	clock   Clock
	started time.Time

	gets            uint64
	sets            uint64
	deletes         uint64
	evictions       uint64
	invalidations   uint64
	hitsByTier      map[Tier]uint64
	missesByTier    map[Tier]uint64
	misses          uint64
	encodeFallbacks uint64

	perKey  map[string]*KeyStats
	latency map[OpType]*latencyAgg
}

// NewRecorder creates an empty analytics recorder.
func NewRecorder(clock Clock) *Recorder {
	if clock == nil {
		clock = SystemClock()
	}
	return &Recorder{
		clock:        clock,
		started:      clock.Now(),
		hitsByTier:   make(map[Tier]uint64),
		missesByTier: make(map[Tier]uint64),
		perKey:       make(map[string]*KeyStats),
		latency:      make(map[OpType]*latencyAgg),
	}
}

func (r *Recorder) keyStats(key string) *KeyStats {
	s, ok := r.perKey[key]
	if !ok {
		s = &KeyStats{Key: key}
		r.perKey[key] = s
	}
	return s
}

// RecordHit counts a Get satisfied by the given tier.
func (r *Recorder) RecordHit(tier Tier, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gets++
	r.hitsByTier[tier]++
	s := r.keyStats(key)
	s.Hits++
	s.LastAccessAt = r.clock.Now()
}

// RecordTierMiss counts an unsuccessful probe of one tier.
func (r *Recorder) RecordTierMiss(tier Tier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.missesByTier[tier]++
}

// RecordMiss counts a Get that missed every tier.
func (r *Recorder) RecordMiss(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gets++
	r.misses++
	s := r.keyStats(key)
	s.Misses++
	s.LastAccessAt = r.clock.Now()
}

// RecordSet counts a write.
func (r *Recorder) RecordSet(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sets++
	s := r.keyStats(key)
	s.Sets++
	s.LastAccessAt = r.clock.Now()
}

// RecordDelete counts a delete.
func (r *Recorder) RecordDelete(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deletes++
	s := r.keyStats(key)
	s.Deletes++
	s.LastAccessAt = r.clock.Now()
}

// RecordEviction counts a capacity eviction.
func (r *Recorder) RecordEviction() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictions++
}

// RecordInvalidation counts n keys removed by tag or dependency invalidation.
func (r *Recorder) RecordInvalidation(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidations += uint64(n)
}

// RecordEncodeFallback counts a value the codec failed to serialize.
func (r *Recorder) RecordEncodeFallback() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encodeFallbacks++
}

// Observe adds one latency sample for an operation type.
func (r *Recorder) Observe(op OpType, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agg, ok := r.latency[op]
	if !ok {
		agg = &latencyAgg{}
		r.latency[op] = agg
	}
	agg.count++
	agg.total += d
}

// TopKeys returns up to n keys ranked by total traffic, busiest first.
func (r *Recorder) TopKeys(n int) []KeyStats {
	r.mu.Lock()
	ranked := make([]KeyStats, 0, len(r.perKey))
	for _, s := range r.perKey {
		ranked = append(ranked, *s)
	}
	r.mu.Unlock()

	sort.Slice(ranked, func(i, j int) bool {
		ti, tj := ranked[i].traffic(), ranked[j].traffic()
		if ti != tj {
			return ti > tj
		}
		return ranked[i].Key < ranked[j].Key
	})
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// Snapshot returns an immutable copy of all counters with derived rates.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	snap := Snapshot{
		Gets:            r.gets,
		Sets:            r.sets,
		Deletes:         r.deletes,
		Evictions:       r.evictions,
		Invalidations:   r.invalidations,
		Misses:          r.misses,
		EncodeFallbacks: r.encodeFallbacks,
		HitsByTier:      make(map[Tier]uint64, len(r.hitsByTier)),
		MissesByTier:    make(map[Tier]uint64, len(r.missesByTier)),
		AvgLatency:      make(map[OpType]time.Duration, len(r.latency)),
		TakenAt:         now,
	}
	var hits uint64
	for tier, n := range r.hitsByTier {
		snap.HitsByTier[tier] = n
		hits += n
	}
	for tier, n := range r.missesByTier {
		snap.MissesByTier[tier] = n
	}
	if r.gets > 0 {
		snap.HitRate = float64(hits) / float64(r.gets)
	}
	if elapsed := now.Sub(r.started).Seconds(); elapsed > 0 {
		snap.OpsPerSecond = float64(r.gets+r.sets+r.deletes) / elapsed
	}
	for op, agg := range r.latency {
		if agg.count > 0 {
			snap.AvgLatency[op] = agg.total / time.Duration(agg.count)
		}
	}
	return snap
}
