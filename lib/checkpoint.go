package lib

import (
	"github.com/canopy-network/pulse/lib/codec"
	"github.com/canopy-network/pulse/lib/crypto"
)

// CheckpointSignature is a single validator's signature over a checkpoint
type CheckpointSignature struct {
	ValidatorID string   `json:"validatorID"`
	Signature   HexBytes `json:"signature"`
}

// Checkpoint is a multi-signed snapshot of the registry and the chain head
type Checkpoint struct {
	Epoch              uint64                 `json:"epoch"`
	Height             uint64                 `json:"height"`
	BlockHash          HexBytes               `json:"blockHash"`
	StateHash          HexBytes               `json:"stateHash"` // H(registry snapshot || block hash)
	Validators         Validators             `json:"validators"`
	Signatures         []*CheckpointSignature `json:"signatures"`
	AggregateSigners   []string               `json:"aggregateSigners,omitempty"`   // ordered BLS key holders the bitmap indexes into
	AggregateBitmap    HexBytes               `json:"aggregateBitmap,omitempty"`    // which of AggregateSigners signed
	AggregateSignature HexBytes               `json:"aggregateSignature,omitempty"` // one BLS signature for all BLS signers
	TotalStakeSigned   uint64                 `json:"totalStakeSigned"`
	TotalStake         uint64                 `json:"totalStake"` // total active stake at snapshot time
	Time               uint64                 `json:"time"`       // unix milliseconds
}

// SignBytes() returns the canonical bytes validators sign: (epoch, height, block hash, state hash)
func (c *Checkpoint) SignBytes() []byte {
	return codec.NewEncoder().
		Uint64(1, c.Epoch).
		Uint64(2, c.Height).
		Bytes(3, c.BlockHash).
		Bytes(4, c.StateHash).
		Done()
}

// Hash() identifies the checkpoint
func (c *Checkpoint) Hash() []byte { return crypto.Hash(c.SignBytes()) }
