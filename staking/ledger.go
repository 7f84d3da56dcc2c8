package staking

import (
	"math"
	"sort"
	"sync"

	"github.com/canopy-network/pulse/lib"
)

/*
	The ledger is the economic side of consensus: it burns stake and reputation for proven offenses and splits the
	epoch reward pool among the committee. Rewards follow sqrt(stake) so large stakes are dampened, scaled by a
	fitness multiplier that pays members above the neutral score more and members below it less.
*/

// NeutralScore is the fitness score at which the reward multiplier is 1
const NeutralScore = 75

// maxHistory bounds the slash and reward records kept for reporting
const maxHistory = 1000

var _ lib.StakingI = &Ledger{}

// ValidatorStoreI is the validator state the ledger reads and mutates
type ValidatorStoreI interface {
	Get(id string) (*lib.Validator, lib.ErrorI)
	ApplySlash(id string, amount, reputationPenalty uint64) (*lib.Validator, lib.ErrorI)
	AddRewards(id string, amount uint64) lib.ErrorI
	RevokeRewards(id string, amount uint64) lib.ErrorI
}

// Totals are the lifetime aggregates of the ledger
type Totals struct {
	Slashes     uint64 `json:"slashes"`
	Slashed     uint64 `json:"slashed"`     // stake burned
	Epochs      uint64 `json:"epochs"`      // reward distributions
	Distributed uint64 `json:"distributed"` // rewards paid
}

// Ledger implements slashing and reward distribution over a validator store
type Ledger struct {
	mu            sync.Mutex
	store         ValidatorStoreI
	config        lib.StakingConfig
	slashes       []*lib.SlashRecord        // newest last
	distributions []*lib.RewardDistribution // newest last
	totals        Totals
	log           lib.LoggerI
}

// NewLedger() creates a ledger over the validator store
func NewLedger(store ValidatorStoreI, config lib.StakingConfig, log lib.LoggerI) *Ledger {
	return &Ledger{store: store, config: config, log: log.Named("staking")}
}

// Slash() burns a severity based percentage of the stake and reputation of the offender
func (l *Ledger) Slash(validatorID string, kind lib.OffenseKind, epoch uint64) (*lib.SlashRecord, lib.ErrorI) {
	percent, penalty, err := l.penalties(kind)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	v, err := l.store.Get(validatorID)
	if err != nil {
		return nil, ErrSlashNonValidator(validatorID)
	}
	amount := lib.Uint64Percentage(v.Stake, percent)
	after, err := l.store.ApplySlash(validatorID, amount, penalty)
	if err != nil {
		return nil, err
	}
	rec := &lib.SlashRecord{
		ValidatorID:   validatorID,
		Kind:          kind,
		Severity:      kind.Severity(),
		Amount:        v.Stake - after.Stake,
		StakeAfter:    after.Stake,
		ReputationHit: v.Reputation - after.Reputation,
		Epoch:         epoch,
	}
	l.slashes = append(l.slashes, rec)
	if len(l.slashes) > maxHistory {
		l.slashes = l.slashes[len(l.slashes)-maxHistory:]
	}
	l.totals.Slashes++
	l.totals.Slashed += rec.Amount
	l.log.Warnf("Slashed %s %d stake (%s %s), %d left", validatorID, rec.Amount, rec.Severity, kind, rec.StakeAfter)
	return rec, nil
}

// penalties() maps the offense to its stake percentage and reputation penalty
func (l *Ledger) penalties(kind lib.OffenseKind) (percent, reputation uint64, err lib.ErrorI) {
	switch kind {
	case lib.OffenseDoubleVote, lib.OffenseEquivocation, lib.OffenseDoubleSign, lib.OffenseInvalidProposal:
	default:
		return 0, 0, lib.ErrUnknownOffense(kind.String())
	}
	switch kind.Severity() {
	case lib.SeverityCritical:
		return l.config.CriticalSlashPercent, l.config.CriticalReputationPenalty, nil
	case lib.SeverityMajor:
		return l.config.MajorSlashPercent, l.config.MajorReputationPenalty, nil
	default:
		return l.config.MinorSlashPercent, l.config.MinorReputationPenalty, nil
	}
}

// DistributeRewards() splits the epoch pool among the scored members by sqrt(stake) share and fitness multiplier,
// crediting each member's whole share to its rewards
func (l *Ledger) DistributeRewards(epoch uint64, scores map[string]uint64) (*lib.RewardDistribution, lib.ErrorI) {
	l.mu.Lock()
	defer l.mu.Unlock()
	dist := &lib.RewardDistribution{Epoch: epoch, Pool: l.config.RewardPerEpoch, Shares: []*lib.RewardShare{}}
	// iterate in id order so the journal of reward credits is deterministic
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	members, sumSqrtStake := make([]*lib.Validator, 0, len(ids)), 0.0
	for _, id := range ids {
		v, err := l.store.Get(id)
		if err != nil || !v.IsActive() {
			continue
		}
		members = append(members, v)
		sumSqrtStake += math.Sqrt(float64(v.Stake))
	}
	if sumSqrtStake == 0 {
		return l.record(dist), nil
	}
	for _, v := range members {
		score := scores[v.ID]
		base := math.Sqrt(float64(v.Stake)) / sumSqrtStake * float64(dist.Pool)
		total := uint64(base * FitnessMultiplier(score))
		commission := lib.Uint64Percentage(total, v.Commission)
		if err := l.store.AddRewards(v.ID, total); err != nil {
			l.log.Errorf("Crediting rewards of %s failed: %s", v.ID, err.Error())
			continue
		}
		dist.Shares = append(dist.Shares, &lib.RewardShare{
			ValidatorID: v.ID,
			Score:       score,
			Total:       total,
			Commission:  commission,
			Delegators:  total - commission,
		})
		dist.Distributed += total
	}
	return l.record(dist), nil
}

// RevokeRewards() takes back every share of the distribution and drops it from the history and the totals
func (l *Ledger) RevokeRewards(dist *lib.RewardDistribution) lib.ErrorI {
	if dist == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, share := range dist.Shares {
		if err := l.store.RevokeRewards(share.ValidatorID, share.Total); err != nil {
			l.log.Errorf("Revoking rewards of %s failed: %s", share.ValidatorID, err.Error())
		}
	}
	for i := len(l.distributions) - 1; i >= 0; i-- {
		if l.distributions[i] == dist {
			l.distributions = append(l.distributions[:i], l.distributions[i+1:]...)
			break
		}
	}
	l.totals.Epochs--
	l.totals.Distributed -= dist.Distributed
	l.log.Warnf("Revoked %d rewards of epoch %d", dist.Distributed, dist.Epoch)
	return nil
}

// record() keeps the distribution; must hold the lock
func (l *Ledger) record(dist *lib.RewardDistribution) *lib.RewardDistribution {
	l.distributions = append(l.distributions, dist)
	if len(l.distributions) > maxHistory {
		l.distributions = l.distributions[len(l.distributions)-maxHistory:]
	}
	l.totals.Epochs++
	l.totals.Distributed += dist.Distributed
	return dist
}

// FitnessMultiplier() is 1 + (s-75)/100*0.3 at or above the neutral score and 1 - (75-s)/100*0.5 below it
func FitnessMultiplier(score uint64) float64 {
	if score >= NeutralScore {
		return 1 + float64(score-NeutralScore)/100*0.3
	}
	return 1 - float64(NeutralScore-score)/100*0.5
}

// Slashes() returns the recent slash records, oldest first
func (l *Ledger) Slashes() []*lib.SlashRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*lib.SlashRecord(nil), l.slashes...)
}

// Distributions() returns the recent reward distributions, oldest first
func (l *Ledger) Distributions() []*lib.RewardDistribution {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*lib.RewardDistribution(nil), l.distributions...)
}

// Totals() returns the lifetime aggregates
func (l *Ledger) Totals() Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totals
}
