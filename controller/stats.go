package controller

import (
	"sync"

	"github.com/canopy-network/pulse/bft"
	"github.com/canopy-network/pulse/checkpoint"
	"github.com/canopy-network/pulse/lib"
	"github.com/canopy-network/pulse/staking"
	"gonum.org/v1/gonum/stat"
)

/* This file tracks the lifetime consensus statistics, derives the network health and reports the node state */

const (
	statsWindow = 100 // how many recent rounds the averages span

	minConsensusStrength   = 67.0 // below this the last round is a weak consensus
	minParticipation       = 50.0 // below this the last round had too few voters
	maxStaleEpochs         = 5    // epochs without a new block before the chain is stale
	maxPendingTxs          = 1000 // pending transactions before the pool is backlogged
	maxByzantineRate       = 0.1  // evidence per epoch before the Byzantine rate is high
	healthPenaltyPerIssue  = 20   // health score lost per issue
	maxDegradedHealthIssue = 2    // above this many issues the network is critical
)

// ConsensusStats are the lifetime aggregates of the epoch scheduler
type ConsensusStats struct {
	EpochsTotal           uint64  `json:"epochsTotal"`
	EpochsSuccessful      uint64  `json:"epochsSuccessful"`
	EpochsFailed          uint64  `json:"epochsFailed"`
	AverageEpochMS        float64 `json:"averageEpochMS"` // over the recent window
	Timeouts              uint64  `json:"timeouts"`
	QuorumFailures        uint64  `json:"quorumFailures"`
	ByzantineFailures     uint64  `json:"byzantineFailures"` // evidence recorded during rounds
	RejectedVotes         uint64  `json:"rejectedVotes"`
	RejectedBlocks        uint64  `json:"rejectedBlocks"` // proposals that didn't reach quorum or were restarted
	Forks                 uint64  `json:"forks"`
	FinalizedBlocks       uint64  `json:"finalizedBlocks"`
	TransactionsProcessed uint64  `json:"transactionsProcessed"`
	AverageParticipation  float64 `json:"averageParticipation"` // over the recent window
}

// statsTracker accumulates ConsensusStats from round summaries
type statsTracker struct {
	mu            sync.Mutex
	stats         ConsensusStats
	durations     []float64
	participation []float64
	last          *bft.RoundSummary
}

func newStatsTracker() *statsTracker { return &statsTracker{} }

// record() folds the outcome of a round into the statistics
func (s *statsTracker) record(summary *bft.RoundSummary, err lib.ErrorI) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.EpochsTotal++
	if err == nil {
		s.stats.EpochsSuccessful++
	} else {
		s.stats.EpochsFailed++
		switch {
		case lib.IsCode(err, lib.ConsensusModule, lib.CodePhaseTimeout):
			s.stats.Timeouts++
		case lib.IsCode(err, lib.ConsensusModule, lib.CodeQuorumNotReached):
			s.stats.QuorumFailures++
			s.stats.RejectedBlocks++
		}
	}
	// the round never began
	if summary == nil {
		return
	}
	if err == nil {
		s.stats.FinalizedBlocks++
		s.stats.TransactionsProcessed += uint64(summary.TxCount)
	}
	s.stats.ByzantineFailures += uint64(summary.Evidence)
	s.stats.RejectedVotes += summary.Rejections
	s.stats.RejectedBlocks += summary.Restarts
	s.durations = window(append(s.durations, float64(summary.DurationMS)))
	s.participation = window(append(s.participation, summary.Participation))
	s.stats.AverageEpochMS = stat.Mean(s.durations, nil)
	s.stats.AverageParticipation = stat.Mean(s.participation, nil)
	s.last = summary
}

// fork() counts a resolved fork
func (s *statsTracker) fork() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Forks++
}

// snapshot() returns a copy of the statistics and the last round
func (s *statsTracker) snapshot() (ConsensusStats, *bft.RoundSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats, s.last
}

// window() keeps the newest statsWindow samples
func window(samples []float64) []float64 {
	if len(samples) > statsWindow {
		return samples[len(samples)-statsWindow:]
	}
	return samples
}

// HEALTH CODE BELOW

// HealthStatus grades the network
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "Healthy"
	HealthDegraded HealthStatus = "Degraded"
	HealthCritical HealthStatus = "Critical"
)

// HealthIssue names a detected problem
type HealthIssue string

const (
	IssueLowConsensus           HealthIssue = "low-consensus-strength"
	IssueLowParticipation       HealthIssue = "low-participation"
	IssueStaleChain             HealthIssue = "stale-chain"
	IssueInsufficientValidators HealthIssue = "insufficient-validators"
	IssueTransactionBacklog     HealthIssue = "transaction-backlog"
	IssueHighByzantineRate      HealthIssue = "high-byzantine-rate"
)

// NetworkHealth is the graded view of the consensus
type NetworkHealth struct {
	Status HealthStatus  `json:"status"`
	Score  uint64        `json:"score"` // 100 minus a penalty per issue
	Issues []HealthIssue `json:"issues"`
}

// Health() grades the network from the last round, the chain progress, the registry and the pool
func (c *Controller) Health() NetworkHealth {
	stats, last := c.stats.snapshot()
	_, _, headEpoch := c.headInfo()
	epoch := c.epoch.Load()
	issues := make([]HealthIssue, 0)
	if last != nil {
		if last.ConsensusStrength < minConsensusStrength {
			issues = append(issues, IssueLowConsensus)
		}
		if last.Participation < minParticipation {
			issues = append(issues, IssueLowParticipation)
		}
	}
	if epoch > headEpoch && epoch-headEpoch > maxStaleEpochs {
		issues = append(issues, IssueStaleChain)
	}
	if uint64(len(c.Registry.Active())) < c.Config.MinCommitteeSize {
		issues = append(issues, IssueInsufficientValidators)
	}
	if c.Pool.Len() > maxPendingTxs {
		issues = append(issues, IssueTransactionBacklog)
	}
	if stats.EpochsTotal != 0 && float64(stats.ByzantineFailures)/float64(stats.EpochsTotal) > maxByzantineRate {
		issues = append(issues, IssueHighByzantineRate)
	}
	return gradeHealth(issues)
}

// gradeHealth() converts the issues into a status and a score
func gradeHealth(issues []HealthIssue) NetworkHealth {
	h := NetworkHealth{Status: HealthHealthy, Score: 100, Issues: issues}
	switch n := len(issues); {
	case n == 0:
	case n <= maxDegradedHealthIssue:
		h.Status = HealthDegraded
	default:
		h.Status = HealthCritical
	}
	if penalty := uint64(len(issues)) * healthPenaltyPerIssue; penalty < h.Score {
		h.Score -= penalty
	} else {
		h.Score = 0
	}
	return h
}

// headInfo() returns the head height, hash and epoch
func (c *Controller) headInfo() (uint64, []byte, uint64) {
	c.headMu.RLock()
	defer c.headMu.RUnlock()
	return c.height, c.head, c.headEpoch
}

// STATE CODE BELOW

// State is a point in time report of the whole node
type State struct {
	Epoch             uint64            `json:"epoch"`
	Height            uint64            `json:"height"`
	HeadHash          lib.HexBytes      `json:"headHash"`
	HeadEpoch         uint64            `json:"headEpoch"`
	Running           bool              `json:"running"`
	Halted            string            `json:"halted,omitempty"` // the fatal error that stopped the scheduler
	Phase             string            `json:"phase"`
	Round             *bft.RoundSummary `json:"round,omitempty"` // the live or the last round
	ConsensusStrength float64           `json:"consensusStrength"`
	Participation     float64           `json:"participation"`
	Health            NetworkHealth     `json:"health"`
	Stats             ConsensusStats    `json:"stats"`
	Validators        int               `json:"validators"`
	ActiveValidators  int               `json:"activeValidators"`
	JailedValidators  int               `json:"jailedValidators"`
	TotalStake        uint64            `json:"totalStake"`
	Participants      int               `json:"participants"` // validators with an in process key
	PendingTxs        int               `json:"pendingTxs"`
	PendingChanges    int               `json:"pendingChanges"` // registry changes not yet committed
	Checkpoints       checkpoint.Stats  `json:"checkpoints"`
	Forks             bft.ForkStats     `json:"forks"`
	Offenses          bft.DetectorStats `json:"offenses"`
	Ledger            staking.Totals    `json:"ledger"`
	Events            uint64            `json:"events"`
	EventsDropped     uint64            `json:"eventsDropped"`
}

// GetState() reports the current node state
func (c *Controller) GetState() *State {
	height, head, headEpoch := c.headInfo()
	stats, last := c.stats.snapshot()
	s := &State{
		Epoch:          c.epoch.Load(),
		Height:         height,
		HeadHash:       append(lib.HexBytes(nil), head...),
		HeadEpoch:      headEpoch,
		Running:        c.Running(),
		Phase:          bft.Phase(0).String(),
		Health:         c.Health(),
		Stats:          stats,
		Participants:   len(c.Engine.Participants()),
		PendingTxs:     c.Pool.Len(),
		PendingChanges: c.Registry.PendingChanges(),
		Checkpoints:    c.Checkpointer.Stats(),
		Forks:          c.Forks.Stats(),
		Offenses:       c.Engine.Detector().Stats(),
		Ledger:         c.Ledger.Totals(),
		Events:         c.Bus.Total(),
		EventsDropped:  c.Bus.Dropped(),
	}
	if halted := c.Halted(); halted != nil {
		s.Halted = bft.ErrorMessage(halted)
	}
	if round := c.Engine.CurrentSummary(); round != nil {
		s.Round = round
		if c.Engine.Running() {
			s.Phase = round.Phase
		}
	}
	if last != nil {
		s.ConsensusStrength, s.Participation = last.ConsensusStrength, last.Participation
	}
	validators := c.Registry.All()
	for _, v := range validators {
		if v.IsActive() {
			s.ActiveValidators++
		} else {
			s.JailedValidators++
		}
	}
	s.Validators, s.TotalStake = len(validators), validators.TotalStake()
	return s
}
