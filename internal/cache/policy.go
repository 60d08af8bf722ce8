package cache

import (
	"fmt"
	"sort"
	"sync"
)

// PolicyConfig holds the configuration needed to create an eviction policy.
type PolicyConfig struct {
	// Capacity is the entry capacity of the tier the policy serves.
	Capacity int

	// Clock supplies timestamps for expiry- and recency-aware policies.
	// If nil, the system clock is used.
	Clock Clock
}

// Policy selects eviction candidates for a bounded tier. Implementations are
// not safe for concurrent use; the owning backend serializes calls.
type Policy interface {
	// Name returns the registered name of the policy.
	Name() string

	// OnInsert is called when an entry is written, including overwrites.
	// An overwrite resets whatever access state the policy tracks.
	OnInsert(entry *Entry)

	// OnAccess is called when a key is read.
	OnAccess(key string)

	// OnRemove is called when a key leaves the tier for any reason.
	OnRemove(key string)

	// Candidate returns the key the policy would evict next. Returns
	// false when the policy tracks no keys.
	Candidate() (string, bool)

	// Reset drops all tracked state.
	Reset()
}

// PolicyFactory is a constructor function that creates a Policy from config.
type PolicyFactory func(cfg PolicyConfig) Policy

var (
	policyMu        sync.RWMutex
	policyFactories = make(map[string]PolicyFactory)
)

// RegisterPolicy registers an eviction policy under the given name.
// It panics if the name is already registered or the factory is nil.
func RegisterPolicy(name string, f PolicyFactory) {
	policyMu.Lock()
	defer policyMu.Unlock()

	if f == nil {
		panic("cache: RegisterPolicy factory is nil")
	}
	if _, exists := policyFactories[name]; exists {
		panic(fmt.Sprintf("cache: policy %q already registered", name))
	}
	policyFactories[name] = f
}

// NewPolicy creates an eviction policy using the named factory.
func NewPolicy(name string, cfg PolicyConfig) (Policy, error) {
	policyMu.RLock()
	f, ok := policyFactories[name]
	policyMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("cache: unknown policy %q (registered: %v)", name, RegisteredPolicies())
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	return f(cfg), nil
}

// RegisteredPolicies returns a sorted list of registered policy names.
func RegisteredPolicies() []string {
	policyMu.RLock()
	defer policyMu.RUnlock()

	names := make([]string, 0, len(policyFactories))
	for name := range policyFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
