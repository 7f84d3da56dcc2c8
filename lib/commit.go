package lib

import (
	"bytes"
	"fmt"
)

// Commit is the persisted finalization record of a block: the block, the quorum evidence, the registry changes
// journaled since the previous commit and the state hash after applying them
type Commit struct {
	Block         *Block            `json:"block"`
	Approvals     []*Vote           `json:"approvals"`
	CommitteeSize uint64            `json:"committeeSize"`
	ApproveCount  uint64            `json:"approveCount"`
	RejectCount   uint64            `json:"rejectCount"`
	Threshold     uint64            `json:"threshold"` // the byzantine threshold the block was finalized under
	StateHash     HexBytes          `json:"stateHash"`
	Changes       []*RegistryChange `json:"changes"`
	FinalizedAt   uint64            `json:"finalizedAt"` // unix milliseconds
}

// Height() is a nil safe accessor of the block height
func (c *Commit) Height() uint64 {
	if c == nil || c.Block == nil {
		return 0
	}
	return c.Block.Height
}

// Check() validates the structure and quorum evidence of the commit without verifying vote signatures
func (c *Commit) Check() ErrorI {
	if c == nil || c.Block == nil {
		return ErrNilBlock()
	}
	if err := c.Block.Check(); err != nil {
		return err
	}
	// a quorum is a strict majority of a non-empty committee
	if c.Threshold <= 50 || c.Threshold > 100 {
		return ErrInvalidBlock(fmt.Sprintf("byzantine threshold %d is out of [51,100]", c.Threshold))
	}
	if c.CommitteeSize == 0 {
		return ErrInvalidBlock("empty committee")
	}
	if uint64(len(c.Approvals)) != c.ApproveCount {
		return ErrInvalidBlock("approval count mismatch")
	}
	dedup := NewDeDuplicator[string]()
	for _, v := range c.Approvals {
		if err := v.Check(); err != nil {
			return err
		}
		if !v.Approve || !bytes.Equal(v.BlockHash, c.Block.Hash) {
			return ErrInvalidBlock(fmt.Sprintf("approval from %s is not for this block", v.ValidatorID))
		}
		if v.Epoch != c.Block.Epoch || v.Round != c.Block.Round {
			return ErrInvalidBlock(fmt.Sprintf("approval from %s is for another round", v.ValidatorID))
		}
		if dedup.Found(v.ValidatorID) {
			return ErrInvalidBlock(fmt.Sprintf("duplicate approval from %s", v.ValidatorID))
		}
	}
	if !MeetsThreshold(c.ApproveCount, c.CommitteeSize, c.Threshold) {
		return ErrInvalidBlock("approvals below quorum")
	}
	return nil
}
