package bft

import (
	"bytes"
	"fmt"
	"time"

	"github.com/canopy-network/pulse/lib"
	"github.com/canopy-network/pulse/lib/crypto"
)

// ProposalRequest is everything a proposer needs to build the block of a round
type ProposalRequest struct {
	Height       uint64              // the height of the new block
	Epoch        uint64              // the epoch of the round
	Round        uint64              // the proposal attempt within the epoch
	PreviousHash []byte              // the hash of the chain head
	Transactions []*lib.Transaction  // pending transactions selected from the pool
	Members      []lib.FitnessMember // the committee in rank order
	Threshold    uint64              // the fitness threshold the committee was selected against
}

// ProposalContext is the local view a proposal is validated against
type ProposalContext struct {
	Height       uint64
	Epoch        uint64
	Round        uint64
	PreviousHash []byte
	ProposerID   string
	ProposerKey  crypto.PublicKeyI
	Members      []lib.FitnessMember
	Threshold    uint64
}

// NewProposal() builds, commits and signs a block for the request
func NewProposal(req *ProposalRequest, proposerID string, pk crypto.PrivateKeyI) *lib.Block {
	txs := req.Transactions
	if txs == nil {
		txs = []*lib.Transaction{}
	}
	b := &lib.Block{
		Height:       req.Height,
		Epoch:        req.Epoch,
		Round:        req.Round,
		ProposerID:   proposerID,
		PreviousHash: append(lib.HexBytes(nil), req.PreviousHash...),
		TxRoot:       lib.TxRoot(txs),
		Transactions: txs,
		FitnessProof: lib.NewFitnessProof(req.Epoch, req.Round, req.Threshold, req.Members, proposerID, pk),
		Time:         lib.NowMS(),
	}
	b.Sign(pk)
	return b
}

// ValidateProposal() runs every check a committee member performs before approving a block
func ValidateProposal(b *lib.Block, ctx *ProposalContext, now time.Time) lib.ErrorI {
	// structure, hash, tx root and transactions
	if err := b.Check(); err != nil {
		return err
	}
	if b.Height != ctx.Height {
		return ErrWrongHeight(b.Height, ctx.Height)
	}
	if b.Epoch != ctx.Epoch {
		return ErrWrongEpoch(b.Epoch, ctx.Epoch)
	}
	if b.Round != ctx.Round {
		return ErrWrongRound(b.Round, ctx.Round)
	}
	if b.ProposerID != ctx.ProposerID {
		return ErrWrongProposer(b.ProposerID, ctx.ProposerID)
	}
	if !bytes.Equal(b.PreviousHash, ctx.PreviousHash) {
		return lib.ErrInvalidBlock("previous hash does not link to the chain head")
	}
	if err := b.CheckTime(now); err != nil {
		return err
	}
	if !b.VerifySignature(ctx.ProposerKey) {
		return lib.ErrInvalidSignature()
	}
	return validateFitnessProof(b, ctx)
}

// validateFitnessProof() checks the proof is for this round and commits to the committee the validator selected
func validateFitnessProof(b *lib.Block, ctx *ProposalContext) lib.ErrorI {
	p := b.FitnessProof
	if p.Epoch != b.Epoch || p.Round != b.Round || p.ProposerID != b.ProposerID {
		return lib.ErrInvalidFitnessProof("proof is for another round")
	}
	if p.Threshold < ctx.Threshold {
		return lib.ErrInvalidFitnessProof(fmt.Sprintf("declared threshold %d is below %d", p.Threshold, ctx.Threshold))
	}
	if len(p.Members) != len(ctx.Members) {
		return lib.ErrInvalidFitnessProof("committee size mismatch")
	}
	for i := range p.Members {
		if p.Members[i] != ctx.Members[i] {
			return lib.ErrInvalidFitnessProof(fmt.Sprintf("member %d does not match the local committee", i))
		}
	}
	return p.Verify(ctx.ProposerKey)
}
