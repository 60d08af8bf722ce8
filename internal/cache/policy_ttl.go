package cache

import "time"

func init() {
	RegisterPolicy("ttl", newTTLPolicy)
}

type ttlState struct {
	expiresAt time.Time // zero means no TTL
	seq       uint64
}

// ttlPolicy reports already-expired keys first, then falls back to the key
// nearest to expiry. Keys without a TTL are considered farthest from expiry
// and are only offered once every bounded key is gone.
type ttlPolicy struct {
	clock   Clock
	keys    map[string]*ttlState
	nextSeq uint64
}

func newTTLPolicy(cfg PolicyConfig) Policy {
	return &ttlPolicy{
		clock: cfg.Clock,
		keys:  make(map[string]*ttlState),
	}
}

func (p *ttlPolicy) Name() string { return "ttl" }

func (p *ttlPolicy) OnInsert(entry *Entry) {
	p.nextSeq++
	s := &ttlState{seq: p.nextSeq}
	if exp, ok := entry.ExpiresAt(); ok {
		s.expiresAt = exp
	}
	p.keys[entry.Key] = s
}

func (p *ttlPolicy) OnAccess(string) {
	// Expiry is fixed at write time; reads do not change it.
}

func (p *ttlPolicy) OnRemove(key string) {
	delete(p.keys, key)
}

// rank orders candidates: expired keys before live bounded keys before
// keys without a TTL.
func (p *ttlPolicy) rank(s *ttlState, now time.Time) int {
	switch {
	case !s.expiresAt.IsZero() && now.After(s.expiresAt):
		return 0
	case !s.expiresAt.IsZero():
		return 1
	default:
		return 2
	}
}

func (p *ttlPolicy) Candidate() (string, bool) {
	now := p.clock.Now()

	var (
		best  string
		bestS *ttlState
		found bool
	)
	for key, s := range p.keys {
		if !found {
			best, bestS, found = key, s, true
			continue
		}
		r, br := p.rank(s, now), p.rank(bestS, now)
		better := false
		switch {
		case r != br:
			better = r < br
		case r == 2:
			// Neither has a TTL: oldest insertion wins.
			better = s.seq < bestS.seq
		case s.expiresAt.Equal(bestS.expiresAt):
			better = s.seq < bestS.seq
		default:
			// Expired: earliest expiry first. Live: nearest to expiry first.
			better = s.expiresAt.Before(bestS.expiresAt)
		}
		if better {
			best, bestS = key, s
		}
	}
	return best, found
}

func (p *ttlPolicy) Reset() {
	p.keys = make(map[string]*ttlState)
	p.nextSeq = 0
}
