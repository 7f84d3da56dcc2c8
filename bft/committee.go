package bft

import (
	"math"
	"sort"

	"github.com/canopy-network/pulse/lib"
	"github.com/canopy-network/pulse/lib/crypto"
)

/*
	Committee selection gates membership on fitness: only Active validators at or above the fitness threshold are
	eligible, and the eligible set is ranked by a weighted blend of fitness, normalized sqrt(stake) and reputation.
	The rank order is also the proposer order of the epoch: rank 0 proposes first, rank 1 after a restart, and so on.
*/

// Member is a selected committee member with its selection weight and rank
type Member struct {
	*lib.Validator
	Weight float64 `json:"weight"`
	Rank   int     `json:"rank"`
}

// Committee is the ordered set of validators that propose and vote for one epoch
type Committee struct {
	Epoch     uint64    `json:"epoch"`
	Threshold uint64    `json:"threshold"` // the fitness threshold the members were selected against
	Members   []*Member `json:"members"`   // ordered by weight desc, id asc
	index     map[string]*Member
}

// SelectCommittee() filters the eligible validators, ranks them by weight and takes the top `committeeSize`
func SelectCommittee(active lib.Validators, config lib.ConsensusConfig, epoch uint64) (*Committee, lib.ErrorI) {
	eligible := make([]*lib.Validator, 0, len(active))
	for _, v := range active {
		if v.IsActive() && v.FitnessScore >= config.FitnessThreshold {
			eligible = append(eligible, v)
		}
	}
	if uint64(len(eligible)) < config.MinCommitteeSize {
		return nil, ErrInsufficientCommittee(len(eligible), int(config.MinCommitteeSize))
	}
	// the stake term is normalized over the eligible set so whales are dampened by the square root
	sumSqrtStake := 0.0
	for _, v := range eligible {
		sumSqrtStake += math.Sqrt(float64(v.Stake))
	}
	members := make([]*Member, 0, len(eligible))
	for _, v := range eligible {
		members = append(members, &Member{Validator: v.Copy(), Weight: Weight(v, sumSqrtStake, config)})
	}
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].Weight != members[j].Weight {
			return members[i].Weight > members[j].Weight
		}
		return members[i].ID < members[j].ID
	})
	if uint64(len(members)) > config.CommitteeSize {
		members = members[:config.CommitteeSize]
	}
	c := &Committee{Epoch: epoch, Threshold: config.FitnessThreshold, Members: members}
	c.buildIndex()
	return c, nil
}

// Weight() is fitnessWeight*fitness + stakeWeight*(100*sqrt(stake)/sum(sqrt(stake))) + reputationWeight*reputation
func Weight(v *lib.Validator, sumSqrtStake float64, config lib.ConsensusConfig) float64 {
	stakeTerm := 0.0
	if sumSqrtStake > 0 {
		stakeTerm = 100 * math.Sqrt(float64(v.Stake)) / sumSqrtStake
	}
	return config.FitnessWeight*float64(v.FitnessScore) + config.StakeWeight*stakeTerm + config.ReputationWeight*float64(v.Reputation)
}

// buildIndex() sets the ranks and the id index
func (c *Committee) buildIndex() {
	c.index = make(map[string]*Member, len(c.Members))
	for i, m := range c.Members {
		m.Rank = i
		c.index[m.ID] = m
	}
}

// Size() is the number of members
func (c *Committee) Size() uint64 {
	if c == nil {
		return 0
	}
	return uint64(len(c.Members))
}

// Member() returns the member with the id or nil
func (c *Committee) Member(id string) *Member {
	if c == nil {
		return nil
	}
	return c.index[id]
}

// Contains() returns true if the id is a member
func (c *Committee) Contains(id string) bool { return c.Member(id) != nil }

// Proposer() returns the member at rank `round` or nil if every member already had its turn
func (c *Committee) Proposer(round uint64) *Member {
	if c == nil || round >= c.Size() {
		return nil
	}
	return c.Members[round]
}

// IDs() returns the member ids in rank order
func (c *Committee) IDs() []string {
	ids := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.ID)
	}
	return ids
}

// TotalStake() sums the stake of the members
func (c *Committee) TotalStake() (total uint64) {
	for _, m := range c.Members {
		total += m.Stake
	}
	return
}

// Scores() maps each member to the fitness score it was selected with
func (c *Committee) Scores() map[string]uint64 {
	scores := make(map[string]uint64, len(c.Members))
	for _, m := range c.Members {
		scores[m.ID] = m.FitnessScore
	}
	return scores
}

// FitnessMembers() returns the fitness proof entries of the members in rank order
func (c *Committee) FitnessMembers() []lib.FitnessMember {
	out := make([]lib.FitnessMember, 0, len(c.Members))
	for _, m := range c.Members {
		out = append(out, lib.FitnessMember{ID: m.ID, Score: m.FitnessScore, Stake: m.Stake})
	}
	return out
}

// PublicKey() parses the key of a member
func (c *Committee) PublicKey(id string) (crypto.PublicKeyI, lib.ErrorI) {
	m := c.Member(id)
	if m == nil {
		return nil, ErrValidatorNotInCommittee(id)
	}
	return m.Key()
}
