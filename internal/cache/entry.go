package cache

import (
	"slices"
	"time"
)

// Tier identifies one storage layer behind the Coordinator.
type Tier string

const (
	// TierLocal is the fast, bounded, in-process tier.
	TierLocal Tier = "local"

	// TierRemote is the slower, out-of-process tier, unbounded from the
	// coordinator's perspective.
	TierRemote Tier = "remote"
)

// Clock supplies timestamps to backends and policies. Injectable so TTL
// behavior is testable without sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// Entry is the unit of storage exchanged with tier backends. Each backend
// owns the entries it holds; promotion between tiers copies, it never
// aliases, so readers observe an entry wholly before or wholly after a write.
type Entry struct {
	Key            string
	Value          any
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64
	TTL            time.Duration // zero means no expiry
	SizeBytes      int64
	Version        int64
	ContentHash    string
	Tags           []string
}

// Expired reports whether the entry is logically absent at the given time.
// An expired entry must never be served, even if not yet physically purged.
func (e *Entry) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.After(e.CreatedAt.Add(e.TTL))
}

// ExpiresAt returns the expiry deadline and whether the entry has one.
func (e *Entry) ExpiresAt() (time.Time, bool) {
	if e.TTL <= 0 {
		return time.Time{}, false
	}
	return e.CreatedAt.Add(e.TTL), true
}

// HasTag reports whether the entry carries the given invalidation tag.
func (e *Entry) HasTag(tag string) bool {
	return slices.Contains(e.Tags, tag)
}

// Clone returns a deep copy of the entry. Backends hand out and accept
// clones so no entry is ever shared mutably across tiers.
func (e *Entry) Clone() *Entry {
	clone := *e
	clone.Tags = slices.Clone(e.Tags)
	return &clone
}
