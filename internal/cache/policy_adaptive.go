package cache

import "time"

func init() {
	RegisterPolicy("adaptive", newAdaptivePolicy)
}

// Adaptive scoring weights. The remaining weight is reserved for expiry
// pressure: an already-expired key is always evicted before any scored key.
const (
	adaptiveRecencyWeight   = 0.4
	adaptiveFrequencyWeight = 0.3
)

type adaptiveState struct {
	lastAccess time.Time
	count      int64
	expiresAt  time.Time // zero means no TTL
	seq        uint64
}

// adaptivePolicy blends a normalized recency score with a normalized
// frequency score and evicts the key with the worst combined score.
type adaptivePolicy struct {
	clock   Clock
	keys    map[string]*adaptiveState
	nextSeq uint64
}

func newAdaptivePolicy(cfg PolicyConfig) Policy {
	return &adaptivePolicy{
		clock: cfg.Clock,
		keys:  make(map[string]*adaptiveState),
	}
}

func (p *adaptivePolicy) Name() string { return "adaptive" }

func (p *adaptivePolicy) OnInsert(entry *Entry) {
	p.nextSeq++
	s := &adaptiveState{
		lastAccess: p.clock.Now(),
		seq:        p.nextSeq,
	}
	if exp, ok := entry.ExpiresAt(); ok {
		s.expiresAt = exp
	}
	p.keys[entry.Key] = s
}

func (p *adaptivePolicy) OnAccess(key string) {
	if s, ok := p.keys[key]; ok {
		s.lastAccess = p.clock.Now()
		s.count++
	}
}

func (p *adaptivePolicy) OnRemove(key string) {
	delete(p.keys, key)
}

func (p *adaptivePolicy) Candidate() (string, bool) {
	if len(p.keys) == 0 {
		return "", false
	}
	now := p.clock.Now()

	// Expired keys take priority over the blended score.
	var (
		expKey   string
		expS     *adaptiveState
		expFound bool
	)
	for key, s := range p.keys {
		if s.expiresAt.IsZero() || !now.After(s.expiresAt) {
			continue
		}
		if !expFound || s.expiresAt.Before(expS.expiresAt) ||
			(s.expiresAt.Equal(expS.expiresAt) && s.seq < expS.seq) {
			expKey, expS, expFound = key, s, true
		}
	}
	if expFound {
		return expKey, true
	}

	// Normalization bounds across the tracked population.
	var (
		oldest, newest time.Time
		maxCount       int64
		first          = true
	)
	for _, s := range p.keys {
		if first {
			oldest, newest = s.lastAccess, s.lastAccess
			first = false
		} else {
			if s.lastAccess.Before(oldest) {
				oldest = s.lastAccess
			}
			if s.lastAccess.After(newest) {
				newest = s.lastAccess
			}
		}
		if s.count > maxCount {
			maxCount = s.count
		}
	}
	spread := newest.Sub(oldest)

	var (
		worstKey   string
		worstS     *adaptiveState
		worstScore float64
		found      bool
	)
	for key, s := range p.keys {
		recency := 1.0 // single key or identical timestamps score as most recent
		if spread > 0 {
			recency = float64(s.lastAccess.Sub(oldest)) / float64(spread)
		}
		frequency := 0.0
		if maxCount > 0 {
			frequency = float64(s.count) / float64(maxCount)
		}
		score := adaptiveRecencyWeight*recency + adaptiveFrequencyWeight*frequency

		if !found || score < worstScore || (score == worstScore && s.seq < worstS.seq) {
			worstKey, worstS, worstScore, found = key, s, score, true
		}
	}
	return worstKey, found
}

func (p *adaptivePolicy) Reset() {
	p.keys = make(map[string]*adaptiveState)
	p.nextSeq = 0
}
