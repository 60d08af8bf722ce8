package cache

import (
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

func init() {
	RegisterPolicy("lru", newLRUPolicy)
}

// lruPolicy evicts the least-recently-touched key. Recency ordering is
// delegated to hashicorp's simplelru list; the policy never lets it evict on
// its own (the list is sized one past the tier capacity, and the backend
// removes a candidate before inserting).
type lruPolicy struct {
	order *simplelru.LRU[string, struct{}]
}

func newLRUPolicy(cfg PolicyConfig) Policy {
	size := cfg.Capacity
	if size < 1 {
		size = 1
	}
	order, err := simplelru.NewLRU[string, struct{}](size+1, nil)
	if err != nil {
		// Unreachable: NewLRU only fails for a non-positive size.
		panic(err)
	}
	return &lruPolicy{order: order}
}

func (p *lruPolicy) Name() string { return "lru" }

func (p *lruPolicy) OnInsert(entry *Entry) {
	p.order.Add(entry.Key, struct{}{})
}

func (p *lruPolicy) OnAccess(key string) {
	// Get moves the key to the most-recently-used position.
	p.order.Get(key)
}

func (p *lruPolicy) OnRemove(key string) {
	p.order.Remove(key)
}

func (p *lruPolicy) Candidate() (string, bool) {
	key, _, ok := p.order.GetOldest()
	return key, ok
}

func (p *lruPolicy) Reset() {
	p.order.Purge()
}
