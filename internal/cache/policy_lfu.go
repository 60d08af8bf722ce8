package cache

func init() {
	RegisterPolicy("lfu", newLFUPolicy)
}

type lfuState struct {
	count int64
	seq   uint64 // insertion order, breaks frequency ties deterministically
}

// lfuPolicy evicts the key with the fewest accesses since it was written.
type lfuPolicy struct {
	keys    map[string]*lfuState
	nextSeq uint64
}

func newLFUPolicy(PolicyConfig) Policy {
	return &lfuPolicy{keys: make(map[string]*lfuState)}
}

func (p *lfuPolicy) Name() string { return "lfu" }

func (p *lfuPolicy) OnInsert(entry *Entry) {
	// Overwrites reset the frequency along with the entry's access count.
	p.nextSeq++
	p.keys[entry.Key] = &lfuState{seq: p.nextSeq}
}

func (p *lfuPolicy) OnAccess(key string) {
	if s, ok := p.keys[key]; ok {
		s.count++
	}
}

func (p *lfuPolicy) OnRemove(key string) {
	delete(p.keys, key)
}

func (p *lfuPolicy) Candidate() (string, bool) {
	var (
		best  string
		bestS *lfuState
		found bool
	)
	for key, s := range p.keys {
		if !found || s.count < bestS.count || (s.count == bestS.count && s.seq < bestS.seq) {
			best, bestS, found = key, s, true
		}
	}
	return best, found
}

func (p *lfuPolicy) Reset() {
	p.keys = make(map[string]*lfuState)
	p.nextSeq = 0
}
