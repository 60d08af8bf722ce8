package cache

import (
	"context"
	"path"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// EvictCallback is called after an entry is evicted from a bounded tier.
// It runs outside the backend's critical section.
type EvictCallback func(key string, entry *Entry)

// LocalConfig holds the configuration needed to create a LocalBackend.
type LocalConfig struct {
	// Capacity is the maximum number of entries held at once.
	Capacity int

	// Policy is the name of the eviction policy (see RegisteredPolicies).
	Policy string

	// Clock supplies timestamps. If nil, the system clock is used.
	Clock Clock

	// OnEvict is called for every capacity eviction. Optional.
	OnEvict EvictCallback

	// Logger receives diagnostics. Optional.
	Logger zerolog.Logger
}

// localItem wraps a stored entry with independently-updatable access
// counters, so reads only need the backend's read lock.
type localItem struct {
	entry       Entry
	accessCount atomic.Int64
	lastAccess  atomic.Int64 // unix nanos
}

func (it *localItem) snapshot() *Entry {
	e := it.entry.Clone()
	e.AccessCount = it.accessCount.Load()
	if ns := it.lastAccess.Load(); ns != 0 {
		e.LastAccessedAt = time.Unix(0, ns)
	}
	return e
}

// LocalBackend is the bounded, in-process tier. Mutations run under a single
// short-lived critical section; reads take a read lock and update per-key
// counters atomically. Eviction repeats until capacity allows the insert, so
// the tier never stays over capacity under bulk writes.
type LocalBackend struct {
	mu    sync.RWMutex
	items map[string]*localItem

	// pmu guards the eviction policy's bookkeeping. Never acquired while
	// blocking on I/O, and mu is never acquired while holding pmu.
	pmu    sync.Mutex
	policy Policy

	capacity int
	clock    Clock
	onEvict  EvictCallback
	logger   zerolog.Logger
}

// NewLocalBackend creates a bounded local tier with the named eviction policy.
func NewLocalBackend(cfg LocalConfig) (*LocalBackend, error) {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	policyName := cfg.Policy
	if policyName == "" {
		policyName = "lru"
	}
	policy, err := NewPolicy(policyName, PolicyConfig{Capacity: cfg.Capacity, Clock: cfg.Clock})
	if err != nil {
		return nil, err
	}
	return &LocalBackend{
		items:    make(map[string]*localItem),
		policy:   policy,
		capacity: cfg.Capacity,
		clock:    cfg.Clock,
		onEvict:  cfg.OnEvict,
		logger:   cfg.Logger,
	}, nil
}

func (b *LocalBackend) Tier() Tier { return TierLocal }

// PolicyName returns the name of the configured eviction policy.
func (b *LocalBackend) PolicyName() string {
	b.pmu.Lock()
	defer b.pmu.Unlock()
	return b.policy.Name()
}

// Capacity returns the configured entry capacity.
func (b *LocalBackend) Capacity() int { return b.capacity }

func (b *LocalBackend) Get(_ context.Context, key string) (*Entry, bool, error) {
	now := b.clock.Now()

	b.mu.RLock()
	it, ok := b.items[key]
	b.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if it.entry.Expired(now) {
		// Lazy expiry: the entry is logically absent; purge it in passing.
		b.removeExpired(key, it)
		return nil, false, nil
	}

	it.accessCount.Add(1)
	it.lastAccess.Store(now.UnixNano())

	b.pmu.Lock()
	b.policy.OnAccess(key)
	b.pmu.Unlock()

	return it.snapshot(), true, nil
}

func (b *LocalBackend) Peek(_ context.Context, key string) (*Entry, bool, error) {
	b.mu.RLock()
	it, ok := b.items[key]
	b.mu.RUnlock()
	if !ok || it.entry.Expired(b.clock.Now()) {
		return nil, false, nil
	}
	return it.snapshot(), true, nil
}

func (b *LocalBackend) Set(_ context.Context, entry *Entry) error {
	stored := entry.Clone()
	it := &localItem{entry: *stored}
	it.accessCount.Store(stored.AccessCount)
	it.lastAccess.Store(stored.LastAccessedAt.UnixNano())

	var evicted []*Entry

	b.mu.Lock()
	_, overwrite := b.items[entry.Key]
	if !overwrite && len(b.items) >= b.capacity {
		evicted = b.evictLocked()
	}
	b.items[entry.Key] = it
	b.mu.Unlock()

	b.pmu.Lock()
	b.policy.OnInsert(stored)
	b.pmu.Unlock()

	// Callbacks run outside the critical section so downstream bookkeeping
	// never nests inside a backend lock.
	if b.onEvict != nil {
		for _, e := range evicted {
			b.onEvict(e.Key, e)
		}
	}
	return nil
}

// evictLocked frees room for an insert. Expired entries are swept first;
// the policy chooses among the rest. Caller holds mu.
func (b *LocalBackend) evictLocked() []*Entry {
	now := b.clock.Now()
	var evicted []*Entry

	// Proactive expiry sweep: expired entries are dead weight, drop them
	// before consulting the policy.
	for key, it := range b.items {
		if it.entry.Expired(now) {
			delete(b.items, key)
			b.pmu.Lock()
			b.policy.OnRemove(key)
			b.pmu.Unlock()
			evicted = append(evicted, it.snapshot())
		}
	}

	for len(b.items) >= b.capacity {
		b.pmu.Lock()
		key, ok := b.policy.Candidate()
		b.pmu.Unlock()
		if !ok {
			break
		}
		it, present := b.items[key]
		b.pmu.Lock()
		b.policy.OnRemove(key)
		b.pmu.Unlock()
		if !present {
			// Policy tracked a key the table no longer holds; retry.
			continue
		}
		delete(b.items, key)
		evicted = append(evicted, it.snapshot())
	}
	return evicted
}

func (b *LocalBackend) Delete(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	_, ok := b.items[key]
	if ok {
		delete(b.items, key)
	}
	b.mu.Unlock()

	if ok {
		b.pmu.Lock()
		b.policy.OnRemove(key)
		b.pmu.Unlock()
	}
	return ok, nil
}

func (b *LocalBackend) Exists(_ context.Context, key string) (bool, error) {
	b.mu.RLock()
	it, ok := b.items[key]
	b.mu.RUnlock()
	return ok && !it.entry.Expired(b.clock.Now()), nil
}

func (b *LocalBackend) Clear(_ context.Context) (int, error) {
	b.mu.Lock()
	count := len(b.items)
	b.items = make(map[string]*localItem)
	b.mu.Unlock()

	b.pmu.Lock()
	b.policy.Reset()
	b.pmu.Unlock()
	return count, nil
}

func (b *LocalBackend) Enumerate(_ context.Context, pattern string) ([]string, error) {
	now := b.clock.Now()

	b.mu.RLock()
	keys := make([]string, 0, len(b.items))
	for key, it := range b.items {
		if it.entry.Expired(now) {
			continue
		}
		if matchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	b.mu.RUnlock()

	sort.Strings(keys)
	return keys, nil
}

func (b *LocalBackend) Len(context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items), nil
}

func (b *LocalBackend) Close() error {
	return nil
}

// removeExpired purges an entry detected as expired during a read. The item
// pointer is compared so a concurrent overwrite is never discarded.
func (b *LocalBackend) removeExpired(key string, it *localItem) {
	b.mu.Lock()
	cur, ok := b.items[key]
	if ok && cur == it {
		delete(b.items, key)
	} else {
		ok = false
	}
	b.mu.Unlock()

	if ok {
		b.pmu.Lock()
		b.policy.OnRemove(key)
		b.pmu.Unlock()
	}
}

// matchPattern matches keys against a path.Match-style glob. An empty
// pattern or "*" matches everything.
func matchPattern(pattern, key string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	ok, err := path.Match(pattern, key)
	return err == nil && ok
}
