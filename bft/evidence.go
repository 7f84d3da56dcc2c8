package bft

import (
	"bytes"
	"sort"
	"sync"

	"github.com/canopy-network/pulse/lib"
)

/*
	The byzantine detector remembers the first signed vote of every (validator, epoch, round) and the first signed
	proposal of every (proposer, epoch, round, height). A later message that conflicts with the remembered one is
	evidence of an offense. History is bucketed by epoch so inserts and lookups are O(1) and pruning drops whole
	epochs at once.
*/

// voteKey indexes vote history inside an epoch bucket
type voteKey struct {
	validatorID string
	round       uint64
}

// proposalKey indexes proposal history inside an epoch bucket
type proposalKey struct {
	proposerID string
	round      uint64
	height     uint64
}

// offenseKey de-duplicates punishments
type offenseKey struct {
	validatorID string
	epoch       uint64
	round       uint64
	kind        lib.OffenseKind
}

// epochHistory is the remembered messages of one epoch
type epochHistory struct {
	votes     map[voteKey]*lib.Vote
	proposals map[proposalKey]*lib.Block
}

// DetectorStats are the counters of detected offenses
type DetectorStats struct {
	DoubleVotes      uint64 `json:"doubleVotes"`
	Equivocations    uint64 `json:"equivocations"`
	DoubleSigns      uint64 `json:"doubleSigns"`
	InvalidProposals uint64 `json:"invalidProposals"`
	Duplicates       uint64 `json:"duplicates"` // identical re-deliveries, not offenses
	Pruned           uint64 `json:"pruned"`     // history entries dropped by retention or the cap
}

// Total() is the number of offenses detected
func (s DetectorStats) Total() uint64 {
	return s.DoubleVotes + s.Equivocations + s.DoubleSigns + s.InvalidProposals
}

// Detector finds provable misbehavior in the votes and proposals a node observes
type Detector struct {
	mu         sync.Mutex
	history    map[uint64]*epochHistory // epoch -> remembered messages
	entries    int                      // total remembered messages
	punished   map[offenseKey]struct{}  // offenses already reported
	evidence   []*lib.Evidence          // recent evidence, newest last
	stats      DetectorStats
	retention  uint64 // epochs of history kept
	maxEntries int    // hard cap on remembered messages
	log        lib.LoggerI
}

// maxRecentEvidence bounds the evidence kept for reporting
const maxRecentEvidence = 1000

// NewDetector() creates a detector with the configured retention window and cap
func NewDetector(config lib.ConsensusConfig, log lib.LoggerI) *Detector {
	return &Detector{
		history:    make(map[uint64]*epochHistory),
		punished:   make(map[offenseKey]struct{}),
		retention:  config.EvidenceRetentionEpochs,
		maxEntries: config.MaxEvidenceEntries,
		log:        log,
	}
}

// ObserveVote() remembers a signed vote; returns evidence if it conflicts with an earlier vote of the same round,
// or an InvalidVote error if it is an identical re-delivery
func (d *Detector) ObserveVote(v *lib.Vote) (*lib.Evidence, lib.ErrorI) {
	d.mu.Lock()
	defer d.mu.Unlock()
	bucket := d.bucket(v.Epoch)
	key := voteKey{validatorID: v.ValidatorID, round: v.Round}
	first, found := bucket.votes[key]
	if !found {
		bucket.votes[key] = v
		d.entries++
		d.enforceCap()
		return nil, nil
	}
	if first.SameContent(v) {
		d.stats.Duplicates++
		return nil, lib.ErrInvalidVote("duplicate")
	}
	kind := lib.OffenseEquivocation
	if bytes.Equal(first.BlockHash, v.BlockHash) {
		kind = lib.OffenseDoubleVote
	}
	e := &lib.Evidence{
		Kind:        kind,
		ValidatorID: v.ValidatorID,
		Epoch:       v.Epoch,
		Round:       v.Round,
		VoteA:       first,
		VoteB:       v,
	}
	return d.record(e), nil
}

// ObserveProposal() remembers a signed proposal; returns DoubleSign evidence if the proposer already signed a
// different block for the same round and height. An identical re-delivery returns nothing
func (d *Detector) ObserveProposal(b *lib.Block) *lib.Evidence {
	d.mu.Lock()
	defer d.mu.Unlock()
	bucket := d.bucket(b.Epoch)
	key := proposalKey{proposerID: b.ProposerID, round: b.Round, height: b.Height}
	first, found := bucket.proposals[key]
	if !found {
		bucket.proposals[key] = b
		d.entries++
		d.enforceCap()
		return nil
	}
	if bytes.Equal(first.Hash, b.Hash) {
		d.stats.Duplicates++
		return nil
	}
	return d.record(&lib.Evidence{
		Kind:        lib.OffenseDoubleSign,
		ValidatorID: b.ProposerID,
		Epoch:       b.Epoch,
		Round:       b.Round,
		Height:      b.Height,
		BlockA:      first,
		BlockB:      b,
	})
}

// ReportInvalidProposal() records a correctly signed proposal that failed validation
func (d *Detector) ReportInvalidProposal(b *lib.Block, reason string) *lib.Evidence {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.record(&lib.Evidence{
		Kind:        lib.OffenseInvalidProposal,
		ValidatorID: b.ProposerID,
		Epoch:       b.Epoch,
		Round:       b.Round,
		Height:      b.Height,
		BlockA:      b,
		Reason:      reason,
	})
}

// record() counts the evidence once per (validator, epoch, round, kind); returns nil for a repeat; must hold the lock
func (d *Detector) record(e *lib.Evidence) *lib.Evidence {
	key := offenseKey{validatorID: e.ValidatorID, epoch: e.Epoch, round: e.Round, kind: e.Kind}
	if _, done := d.punished[key]; done {
		return nil
	}
	d.punished[key] = struct{}{}
	switch e.Kind {
	case lib.OffenseDoubleVote:
		d.stats.DoubleVotes++
	case lib.OffenseEquivocation:
		d.stats.Equivocations++
	case lib.OffenseDoubleSign:
		d.stats.DoubleSigns++
	case lib.OffenseInvalidProposal:
		d.stats.InvalidProposals++
	}
	d.evidence = append(d.evidence, e)
	if len(d.evidence) > maxRecentEvidence {
		d.evidence = d.evidence[len(d.evidence)-maxRecentEvidence:]
	}
	d.log.Warnf("Byzantine evidence: %s", e)
	return e
}

// bucket() returns (creating if needed) the history of an epoch; must hold the lock
func (d *Detector) bucket(epoch uint64) *epochHistory {
	h, found := d.history[epoch]
	if !found {
		h = &epochHistory{
			votes:     make(map[voteKey]*lib.Vote),
			proposals: make(map[proposalKey]*lib.Block),
		}
		d.history[epoch] = h
	}
	return h
}

// Prune() drops the history of epochs that fell out of the retention window ending at `currentEpoch`
func (d *Detector) Prune(currentEpoch uint64) (pruned int) {
	if currentEpoch < d.retention {
		return 0
	}
	oldest := currentEpoch - d.retention
	d.mu.Lock()
	defer d.mu.Unlock()
	for epoch := range d.history {
		if epoch < oldest {
			pruned += d.dropEpoch(epoch)
		}
	}
	for key := range d.punished {
		if key.epoch < oldest {
			delete(d.punished, key)
		}
	}
	return
}

// enforceCap() drops the oldest epochs until the history fits the cap, never the newest epoch; must hold the lock
func (d *Detector) enforceCap() {
	if d.maxEntries <= 0 || d.entries <= d.maxEntries || len(d.history) < 2 {
		return
	}
	epochs := make([]uint64, 0, len(d.history))
	for epoch := range d.history {
		epochs = append(epochs, epoch)
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] < epochs[j] })
	for _, epoch := range epochs[:len(epochs)-1] {
		if d.entries <= d.maxEntries {
			return
		}
		d.dropEpoch(epoch)
	}
}

// dropEpoch() removes an epoch bucket; must hold the lock
func (d *Detector) dropEpoch(epoch uint64) int {
	h := d.history[epoch]
	n := len(h.votes) + len(h.proposals)
	delete(d.history, epoch)
	d.entries -= n
	d.stats.Pruned += uint64(n)
	return n
}

// Entries() is the number of remembered messages
func (d *Detector) Entries() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.entries
}

// Stats() returns a copy of the counters
func (d *Detector) Stats() DetectorStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Evidence() returns the recent evidence, oldest first
func (d *Detector) Evidence() []*lib.Evidence {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*lib.Evidence(nil), d.evidence...)
}
