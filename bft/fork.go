package bft

import (
	"bytes"
	"sync"

	"github.com/canopy-network/pulse/lib"
	lru "github.com/hashicorp/golang-lru"
)

/*
	The fork resolver remembers the distinct blocks finalized at recent heights. A second, differently hashed block at
	a height forms a fork candidate, which is resolved deterministically so every honest node picks the same winner:
	the higher average committee fitness, then the higher total committee stake, then the lexicographically smaller
	block hash.
*/

// defaultForkCacheSize is the number of heights remembered when none is configured
const defaultForkCacheSize = 1024

// ForkStats are the counters of the resolver
type ForkStats struct {
	Observed    uint64 `json:"observed"`    // blocks observed
	Candidates  uint64 `json:"candidates"`  // fork candidates formed
	Resolved    uint64 `json:"resolved"`    // resolutions recorded
	Replaced    uint64 `json:"replaced"`    // resolutions that replaced the canonical block
	ReturnedTxs uint64 `json:"returnedTxs"` // transactions returned to the pool from discarded blocks
	ByFitness   uint64 `json:"byFitness"`
	ByStake     uint64 `json:"byStake"`
	ByHash      uint64 `json:"byHash"`
}

// ForkResolver detects and resolves competing finalized blocks
type ForkResolver struct {
	mu    sync.Mutex
	seen  *lru.Cache // height -> []*lib.Block with distinct hashes
	stats ForkStats
	log   lib.LoggerI
}

// NewForkResolver() creates a resolver that remembers the last `size` heights
func NewForkResolver(size int, log lib.LoggerI) *ForkResolver {
	if size <= 0 {
		size = defaultForkCacheSize
	}
	// lru.New only fails on a non-positive size
	cache, _ := lru.New(size)
	return &ForkResolver{seen: cache, log: log}
}

// Observe() remembers a block; returns a candidate when the height now has more than one distinct block
func (f *ForkResolver) Observe(b *lib.Block) *lib.ForkCandidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats.Observed++
	var blocks []*lib.Block
	if v, ok := f.seen.Get(b.Height); ok {
		blocks = v.([]*lib.Block)
	}
	for _, known := range blocks {
		if bytes.Equal(known.Hash, b.Hash) {
			if len(blocks) > 1 {
				return &lib.ForkCandidate{Height: b.Height, Blocks: append([]*lib.Block(nil), blocks...)}
			}
			return nil
		}
	}
	blocks = append(append([]*lib.Block(nil), blocks...), b)
	f.seen.Add(b.Height, blocks)
	if len(blocks) < 2 {
		return nil
	}
	f.stats.Candidates++
	f.log.Warnf("Fork detected at height %d with %d competing blocks", b.Height, len(blocks))
	return &lib.ForkCandidate{Height: b.Height, Blocks: append([]*lib.Block(nil), blocks...)}
}

// Forget() drops the remembered blocks of every height at or above `height`
func (f *ForkResolver) Forget(height uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.seen.Keys() {
		if k.(uint64) >= height {
			f.seen.Remove(k)
		}
	}
}

// Resolve() picks the winner of a candidate; blocks without a fitness proof can't compete
func (f *ForkResolver) Resolve(c *lib.ForkCandidate) (*lib.ForkResolution, lib.ErrorI) {
	if c == nil || len(c.Blocks) < 2 {
		return nil, ErrForkRejected("a fork needs at least two blocks")
	}
	for _, b := range c.Blocks {
		if b == nil || b.FitnessProof == nil {
			return nil, ErrForkRejected("competing block without a fitness proof")
		}
		if b.Height != c.Height {
			return nil, ErrForkRejected("competing blocks at different heights")
		}
	}
	winner := c.Blocks[0]
	for _, b := range c.Blocks[1:] {
		if better, _ := CompareForks(b, winner); better {
			winner = b
		}
	}
	// the rule is the criterion that separated the winner from the strongest loser
	res := &lib.ForkResolution{Height: c.Height, Winner: winner.Hash, Time: lib.NowMS()}
	var runnerUp *lib.Block
	for _, b := range c.Blocks {
		if bytes.Equal(b.Hash, winner.Hash) {
			continue
		}
		res.Losers = append(res.Losers, b.Hash)
		if runnerUp == nil {
			runnerUp = b
		} else if better, _ := CompareForks(b, runnerUp); better {
			runnerUp = b
		}
	}
	if runnerUp == nil {
		return nil, ErrForkRejected("every competing block has the same hash")
	}
	_, res.Rule = CompareForks(winner, runnerUp)
	return res, nil
}

// CompareForks() returns true if `a` beats `b` and the rule that decided it
func CompareForks(a, b *lib.Block) (aWins bool, rule lib.ForkRule) {
	pa, pb := a.FitnessProof, b.FitnessProof
	if pa.AverageScore != pb.AverageScore {
		return pa.AverageScore > pb.AverageScore, lib.ForkRuleFitness
	}
	if pa.TotalStake != pb.TotalStake {
		return pa.TotalStake > pb.TotalStake, lib.ForkRuleStake
	}
	return bytes.Compare(a.Hash, b.Hash) < 0, lib.ForkRuleHash
}

// Record() counts an applied resolution
func (f *ForkResolver) Record(r *lib.ForkResolution) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats.Resolved++
	if r.Replaced {
		f.stats.Replaced++
	}
	f.stats.ReturnedTxs += uint64(r.ReturnedTxs)
	switch r.Rule {
	case lib.ForkRuleFitness:
		f.stats.ByFitness++
	case lib.ForkRuleStake:
		f.stats.ByStake++
	case lib.ForkRuleHash:
		f.stats.ByHash++
	}
}

// Stats() returns a copy of the counters
func (f *ForkResolver) Stats() ForkStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}
