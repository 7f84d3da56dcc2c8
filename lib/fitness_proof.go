package lib

import (
	"bytes"
	"fmt"
	"math"

	"github.com/canopy-network/pulse/lib/codec"
	"github.com/canopy-network/pulse/lib/crypto"
	"gonum.org/v1/gonum/stat"
)

/*
	A fitness proof is a signed commitment by the proposer to the scores and stake of the committee it proposed with.
	It is not a privacy preserving proof: verifiers recompute the commitment and the aggregates from the members and
	check them against the declared threshold.
*/

// FitnessMember is one committee member's entry in the fitness proof
type FitnessMember struct {
	ID    string `json:"id"`
	Score uint64 `json:"score"`
	Stake uint64 `json:"stake"`
}

// encode() is the deterministic binary form of the member and the merkle leaf
func (m *FitnessMember) encode() []byte {
	return codec.NewEncoder().String(1, m.ID).Uint64(2, m.Score).Uint64(3, m.Stake).Done()
}

// FitnessProof aggregates the committee's fitness for a proposal
type FitnessProof struct {
	Epoch        uint64          `json:"epoch"`
	Round        uint64          `json:"round"`
	ProposerID   string          `json:"proposerID"`
	Threshold    uint64          `json:"threshold"`    // the fitness threshold the committee was selected against
	Members      []FitnessMember `json:"members"`      // in committee rank order
	AverageScore uint64          `json:"averageScore"` // mean score in hundredths
	ScoreStdDev  uint64          `json:"scoreStdDev"`  // sample standard deviation of scores in hundredths
	TotalStake   uint64          `json:"totalStake"`
	Root         HexBytes        `json:"root"` // merkle root over the encoded members
	Signature    HexBytes        `json:"signature"`
}

// NewFitnessProof() builds and signs a proof over the committee members
func NewFitnessProof(epoch, round, threshold uint64, members []FitnessMember, proposerID string, pk crypto.PrivateKeyI) *FitnessProof {
	p := &FitnessProof{
		Epoch:      epoch,
		Round:      round,
		ProposerID: proposerID,
		Threshold:  threshold,
		Members:    members,
	}
	p.AverageScore, p.ScoreStdDev, p.TotalStake = FitnessAggregates(members)
	p.Root = FitnessRoot(members)
	p.Signature = pk.Sign(p.Hash())
	return p
}

// FitnessAggregates() computes the mean and standard deviation (in hundredths) and the total stake of the members
func FitnessAggregates(members []FitnessMember) (average, stdDev, totalStake uint64) {
	if len(members) == 0 {
		return
	}
	scores := make([]float64, 0, len(members))
	for _, m := range members {
		scores = append(scores, float64(m.Score))
		totalStake += m.Stake
	}
	mean, std := stat.MeanStdDev(scores, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return uint64(math.Round(mean * 100)), uint64(math.Round(std * 100)), totalStake
}

// FitnessRoot() is the merkle commitment over the members in order
func FitnessRoot(members []FitnessMember) []byte {
	leaves := make([][]byte, 0, len(members))
	for i := range members {
		leaves = append(leaves, members[i].encode())
	}
	return crypto.MerkleRoot(leaves)
}

// SignBytes() returns the canonical bytes of the proof without its signature
func (p *FitnessProof) SignBytes() []byte {
	return codec.NewEncoder().
		Uint64(1, p.Epoch).
		Uint64(2, p.Round).
		String(3, p.ProposerID).
		Uint64(4, p.Threshold).
		Uint64(5, p.AverageScore).
		Uint64(6, p.ScoreStdDev).
		Uint64(7, p.TotalStake).
		Bytes(8, p.Root).
		Done()
}

// Hash() returns H(sign bytes)
func (p *FitnessProof) Hash() []byte { return crypto.Hash(p.SignBytes()) }

// Verify() recomputes the commitment and the aggregates, checks every member against the declared threshold and
// verifies the proposer signature
func (p *FitnessProof) Verify(proposerKey crypto.PublicKeyI) ErrorI {
	if p == nil {
		return ErrInvalidFitnessProof("missing proof")
	}
	if len(p.Members) == 0 {
		return ErrInvalidFitnessProof("no members")
	}
	dedup := NewDeDuplicator[string]()
	for _, m := range p.Members {
		if dedup.Found(m.ID) {
			return ErrInvalidFitnessProof(fmt.Sprintf("duplicate member %s", m.ID))
		}
		if m.Score > MaxScore {
			return ErrInvalidFitnessProof(fmt.Sprintf("member %s score %d is out of range", m.ID, m.Score))
		}
		if m.Score < p.Threshold {
			return ErrInvalidFitnessProof(fmt.Sprintf("member %s score %d is below threshold %d", m.ID, m.Score, p.Threshold))
		}
	}
	if !bytes.Equal(p.Root, FitnessRoot(p.Members)) {
		return ErrInvalidFitnessProof("root mismatch")
	}
	average, stdDev, totalStake := FitnessAggregates(p.Members)
	if average != p.AverageScore || stdDev != p.ScoreStdDev || totalStake != p.TotalStake {
		return ErrInvalidFitnessProof("aggregate mismatch")
	}
	if p.AverageScore < p.Threshold*100 {
		return ErrInvalidFitnessProof("average below threshold")
	}
	if proposerKey == nil || !proposerKey.VerifyBytes(p.Hash(), p.Signature) {
		return ErrInvalidFitnessProof("bad proposer signature")
	}
	return nil
}

// MemberIDs() returns the ordered member ids
func (p *FitnessProof) MemberIDs() []string {
	ids := make([]string, 0, len(p.Members))
	for _, m := range p.Members {
		ids = append(ids, m.ID)
	}
	return ids
}

// AverageFitness() returns the average score as a float for comparisons and reports
func (p *FitnessProof) AverageFitness() float64 { return float64(p.AverageScore) / 100 }
