package bft

import (
	"context"
	"time"

	"github.com/canopy-network/pulse/lib"
	"github.com/canopy-network/pulse/lib/crypto"
)

// ParticipantI is a validator the engine can ask to propose, vote and sign checkpoints
type ParticipantI interface {
	// ID() is the validator id the participant acts for
	ID() string
	// Propose() builds and signs the block of a round
	Propose(ctx context.Context, req *ProposalRequest) (*lib.Block, error)
	// Vote() validates a proposal against the local view and returns the signed decision
	Vote(ctx context.Context, b *lib.Block, view *ProposalContext) (*lib.Vote, error)
	// SignCheckpoint() signs the canonical bytes of a checkpoint
	SignCheckpoint(ctx context.Context, cp *lib.Checkpoint) ([]byte, error)
}

var _ ParticipantI = &LocalParticipant{}

// LocalParticipant is an honest participant holding the validator private key in process
type LocalParticipant struct {
	id     string
	key    crypto.PrivateKeyI
	scorer lib.FitnessScorerI // optional, stamps the voter's score on votes
	now    func() time.Time
}

// NewLocalParticipant() creates an honest participant for the validator
func NewLocalParticipant(id string, key crypto.PrivateKeyI, scorer lib.FitnessScorerI) *LocalParticipant {
	return &LocalParticipant{id: id, key: key, scorer: scorer, now: time.Now}
}

// ID() returns the validator id
func (p *LocalParticipant) ID() string { return p.id }

// PublicKey() returns the public key matching the participant's private key
func (p *LocalParticipant) PublicKey() crypto.PublicKeyI { return p.key.PublicKey() }

// Propose() builds and signs a block for the request
func (p *LocalParticipant) Propose(ctx context.Context, req *ProposalRequest) (*lib.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewProposal(req, p.id, p.key), nil
}

// Vote() approves a block that passes every check and rejects it with the reason otherwise
func (p *LocalParticipant) Vote(ctx context.Context, b *lib.Block, view *ProposalContext) (*lib.Vote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := &lib.Vote{
		ValidatorID: p.id,
		BlockHash:   b.Hash,
		Epoch:       view.Epoch,
		Round:       view.Round,
		Approve:     true,
		Time:        lib.NowMS(),
	}
	if err := ValidateProposal(b, view, p.now()); err != nil {
		v.Approve, v.Reason = false, ErrorMessage(err)
	}
	if p.scorer != nil {
		if score, err := p.scorer.Score(p.id); err == nil {
			v.FitnessScore = score
		}
	}
	v.Sign(p.key)
	return v, nil
}

// SignCheckpoint() signs the checkpoint sign bytes
func (p *LocalParticipant) SignCheckpoint(ctx context.Context, cp *lib.Checkpoint) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.key.Sign(cp.SignBytes()), nil
}

// ErrorMessage() returns the message of an error without its module and code header
func ErrorMessage(err error) string {
	if e, ok := err.(*lib.Error); ok {
		return e.Msg
	}
	return err.Error()
}
