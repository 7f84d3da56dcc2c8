package lib

import (
	"encoding/json"
	"fmt"
)

/* This file defines the offenses the byzantine detector can prove and the evidence that proves them */

// OffenseKind is a class of provable misbehavior
type OffenseKind uint8

const (
	OffenseDoubleVote      OffenseKind = iota + 1 // same block, conflicting approval in one round
	OffenseEquivocation                           // votes for two different blocks in one round
	OffenseDoubleSign                             // two distinct proposals for one height in one round
	OffenseInvalidProposal                        // a signed proposal that fails validation
)

// Severity is the punishment class of an offense
type Severity uint8

const (
	SeverityMinor Severity = iota + 1
	SeverityMajor
	SeverityCritical
)

// String() returns the human readable offense
func (o OffenseKind) String() string {
	switch o {
	case OffenseDoubleVote:
		return "DoubleVote"
	case OffenseEquivocation:
		return "Equivocation"
	case OffenseDoubleSign:
		return "DoubleSign"
	case OffenseInvalidProposal:
		return "InvalidProposal"
	default:
		return fmt.Sprintf("Offense(%d)", uint8(o))
	}
}

// Severity() maps the offense to its punishment class
func (o OffenseKind) Severity() Severity {
	switch o {
	case OffenseDoubleVote, OffenseDoubleSign:
		return SeverityCritical
	case OffenseEquivocation:
		return SeverityMajor
	default:
		return SeverityMinor
	}
}

// MarshalJSON() encodes the offense as its name
func (o OffenseKind) MarshalJSON() ([]byte, error) { return json.Marshal(o.String()) }

// UnmarshalJSON() decodes the offense from its name
func (o *OffenseKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for _, k := range []OffenseKind{OffenseDoubleVote, OffenseEquivocation, OffenseDoubleSign, OffenseInvalidProposal} {
		if k.String() == s {
			*o = k
			return nil
		}
	}
	return ErrUnknownOffense(s)
}

// String() returns the human readable severity
func (s Severity) String() string {
	switch s {
	case SeverityMinor:
		return "Minor"
	case SeverityMajor:
		return "Major"
	case SeverityCritical:
		return "Critical"
	default:
		return "Unknown"
	}
}

// Evidence is the proof of an offense: the two conflicting signed messages (or the single invalid one)
type Evidence struct {
	Kind        OffenseKind `json:"kind"`
	ValidatorID string      `json:"validatorID"`
	Epoch       uint64      `json:"epoch"`
	Round       uint64      `json:"round"`
	Height      uint64      `json:"height,omitempty"`
	VoteA       *Vote       `json:"voteA,omitempty"`
	VoteB       *Vote       `json:"voteB,omitempty"`
	BlockA      *Block      `json:"blockA,omitempty"`
	BlockB      *Block      `json:"blockB,omitempty"`
	Reason      string      `json:"reason,omitempty"`
}

// String() summarizes the evidence for logs
func (e *Evidence) String() string {
	return fmt.Sprintf("%s by %s at epoch %d round %d", e.Kind, e.ValidatorID, e.Epoch, e.Round)
}

// SlashRecord is the outcome of punishing an offense
type SlashRecord struct {
	ValidatorID   string      `json:"validatorID"`
	Kind          OffenseKind `json:"kind"`
	Severity      Severity    `json:"severity"`
	Amount        uint64      `json:"amount"`        // stake burned
	StakeAfter    uint64      `json:"stakeAfter"`    // remaining stake
	ReputationHit uint64      `json:"reputationHit"` // reputation points removed
	Epoch         uint64      `json:"epoch"`
}

// RewardShare is one committee member's part of an epoch's reward pool
type RewardShare struct {
	ValidatorID string `json:"validatorID"`
	Score       uint64 `json:"score"`
	Total       uint64 `json:"total"`      // the member's whole share
	Commission  uint64 `json:"commission"` // the part kept by the validator
	Delegators  uint64 `json:"delegators"` // the part owed to delegators
}

// RewardDistribution is the result of distributing one epoch's reward pool
type RewardDistribution struct {
	Epoch       uint64         `json:"epoch"`
	Pool        uint64         `json:"pool"`
	Distributed uint64         `json:"distributed"`
	Shares      []*RewardShare `json:"shares"`
}
