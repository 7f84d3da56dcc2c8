package lib

import (
	"bytes"

	"github.com/canopy-network/pulse/lib/codec"
	"github.com/canopy-network/pulse/lib/crypto"
)

// Vote is a committee member's signed approval or rejection of a proposal
type Vote struct {
	ValidatorID  string   `json:"validatorID"`
	BlockHash    HexBytes `json:"blockHash"`
	Epoch        uint64   `json:"epoch"`
	Round        uint64   `json:"round"`
	Approve      bool     `json:"approve"`
	Reason       string   `json:"reason,omitempty"` // why a vote rejected; not signed
	FitnessScore uint64   `json:"fitnessScore"`     // the voter's score at vote time; not signed
	Time         uint64   `json:"time"`             // unix milliseconds; not signed
	Signature    HexBytes `json:"signature"`
}

// SignBytes() returns the canonical bytes of (epoch, round, block hash, approve, validator id)
func (v *Vote) SignBytes() []byte {
	return codec.NewEncoder().
		Uint64(1, v.Epoch).
		Uint64(2, v.Round).
		Bytes(3, v.BlockHash).
		Bool(4, v.Approve).
		String(5, v.ValidatorID).
		Done()
}

// Sign() signs the vote with the validator key
func (v *Vote) Sign(pk crypto.PrivateKeyI) { v.Signature = pk.Sign(v.SignBytes()) }

// VerifySignature() checks the vote signature against the validator key
func (v *Vote) VerifySignature(pub crypto.PublicKeyI) bool {
	return pub != nil && pub.VerifyBytes(v.SignBytes(), v.Signature)
}

// Check() validates the vote fields without any external state
func (v *Vote) Check() ErrorI {
	if v == nil {
		return ErrInvalidVote("nil vote")
	}
	if v.ValidatorID == "" {
		return ErrInvalidVote("empty validator id")
	}
	if len(v.BlockHash) != crypto.HashSize {
		return ErrInvalidVote("malformed block hash")
	}
	if len(v.Signature) == 0 {
		return ErrInvalidVote("missing signature")
	}
	return nil
}

// SameContent() returns true if both votes carry the same signed decision
func (v *Vote) SameContent(o *Vote) bool {
	return v.ValidatorID == o.ValidatorID && v.Epoch == o.Epoch && v.Round == o.Round &&
		v.Approve == o.Approve && bytes.Equal(v.BlockHash, o.BlockHash)
}
