package bft

import (
	"bytes"
	"sort"
	"sync"

	"github.com/canopy-network/pulse/lib"
)

/*
	The vote set of a round keeps votes in an append-only arena with an id index into it.
	Tallies are maintained on insert so the quorum is always evaluated on a consistent snapshot
	under the set's own lock, independently of the registry and round locks.
*/

// VoteSet collects the votes of one proposal attempt
type VoteSet struct {
	mu            sync.Mutex
	epoch         uint64
	round         uint64
	blockHash     []byte
	committeeSize uint64
	threshold     uint64         // the byzantine threshold percentage
	arena         []*lib.Vote    // votes in arrival order; a nil slot is a dropped vote
	index         map[string]int // validator id -> arena slot
	approvals     uint64
	rejections    uint64
	dropped       uint64        // votes excluded from the tally after a detected offense
	changed       chan struct{} // signals a new or dropped vote
}

// Tally is a consistent snapshot of the vote set
type Tally struct {
	Approvals     uint64 `json:"approvals"`
	Rejections    uint64 `json:"rejections"`
	Dropped       uint64 `json:"dropped"`
	CommitteeSize uint64 `json:"committeeSize"`
	Threshold     uint64 `json:"threshold"`
}

// NewVoteSet() creates an empty vote set for a proposal
func NewVoteSet(epoch, round uint64, blockHash []byte, committeeSize, threshold uint64) *VoteSet {
	return &VoteSet{
		epoch:         epoch,
		round:         round,
		blockHash:     blockHash,
		committeeSize: committeeSize,
		threshold:     threshold,
		index:         make(map[string]int),
		changed:       make(chan struct{}, 1),
	}
}

// Add() inserts the first vote of a validator; any later vote of the same validator is a duplicate
func (s *VoteSet) Add(v *lib.Vote) lib.ErrorI {
	if v.Epoch != s.epoch {
		return ErrWrongEpoch(v.Epoch, s.epoch)
	}
	if v.Round != s.round {
		return ErrWrongRound(v.Round, s.round)
	}
	if !bytes.Equal(v.BlockHash, s.blockHash) {
		return lib.ErrInvalidVote("vote is for another block")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.index[v.ValidatorID]; found {
		return ErrDuplicateVote()
	}
	s.index[v.ValidatorID] = len(s.arena)
	s.arena = append(s.arena, v)
	if v.Approve {
		s.approvals++
	} else {
		s.rejections++
	}
	s.notify()
	return nil
}

// Drop() removes a validator's vote from the tally and refuses any later vote from it
func (s *VoteSet) Drop(validatorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, found := s.index[validatorID]
	if found && s.arena[slot] == nil {
		return
	}
	if found {
		if s.arena[slot].Approve {
			s.approvals--
		} else {
			s.rejections--
		}
		s.arena[slot] = nil
	} else {
		// reserve an empty slot so the validator can't vote again
		s.index[validatorID] = len(s.arena)
		s.arena = append(s.arena, nil)
	}
	s.dropped++
	s.notify()
}

// notify() wakes a waiter without blocking; must hold the lock
func (s *VoteSet) notify() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// Changed() is signaled after every insert or drop
func (s *VoteSet) Changed() <-chan struct{} { return s.changed }

// Tally() returns a consistent snapshot of the counts
func (s *VoteSet) Tally() Tally {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tally()
}

// tally() must hold the lock
func (s *VoteSet) tally() Tally {
	return Tally{
		Approvals:     s.approvals,
		Rejections:    s.rejections,
		Dropped:       s.dropped,
		CommitteeSize: s.committeeSize,
		Threshold:     s.threshold,
	}
}

// HasVoted() returns true if the validator has a slot (counted or dropped)
func (s *VoteSet) HasVoted(validatorID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, found := s.index[validatorID]
	return found
}

// Approvals() returns the approving votes ordered by validator id
func (s *VoteSet) Approvals() []*lib.Vote {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*lib.Vote, 0, s.approvals)
	for _, v := range s.arena {
		if v != nil && v.Approve {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValidatorID < out[j].ValidatorID })
	return out
}

// Votes() returns every counted vote in arrival order
func (s *VoteSet) Votes() []*lib.Vote {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*lib.Vote, 0, len(s.arena))
	for _, v := range s.arena {
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}

// QuorumReached() returns true if approvals * 100 >= threshold * committee size
func (t Tally) QuorumReached() bool {
	return lib.MeetsThreshold(t.Approvals, t.CommitteeSize, t.Threshold)
}

// QuorumImpossible() returns true if the quorum can't be reached even if every outstanding member approves
func (t Tally) QuorumImpossible() bool {
	if t.Rejections+t.Dropped >= t.CommitteeSize {
		return true
	}
	best := t.CommitteeSize - t.Rejections - t.Dropped
	return !lib.MeetsThreshold(best, t.CommitteeSize, t.Threshold)
}

// Decided() returns true once the outcome no longer depends on outstanding votes
func (t Tally) Decided() bool { return t.QuorumReached() || t.QuorumImpossible() }

// Complete() returns true once every member voted or was dropped
func (t Tally) Complete() bool { return t.Approvals+t.Rejections+t.Dropped >= t.CommitteeSize }

// Votes() is the number of counted votes
func (t Tally) Votes() uint64 { return t.Approvals + t.Rejections }

// ApprovalPercent() is the approval ratio of the committee as a percentage
func (t Tally) ApprovalPercent() float64 {
	if t.CommitteeSize == 0 {
		return 0
	}
	return float64(t.Approvals) * 100 / float64(t.CommitteeSize)
}

// ParticipationPercent() is the counted votes ratio of the committee as a percentage
func (t Tally) ParticipationPercent() float64 {
	if t.CommitteeSize == 0 {
		return 0
	}
	return float64(t.Votes()) * 100 / float64(t.CommitteeSize)
}
