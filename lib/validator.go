package lib

import (
	"encoding/json"
	"math"
	"sort"
	"strings"

	"github.com/canopy-network/pulse/lib/codec"
	"github.com/canopy-network/pulse/lib/crypto"
)

/* This file defines the validator and the journal of registry changes carried by every commit */

const (
	// IndefiniteJail is the 'jailed until' epoch of a validator that will never be released
	IndefiniteJail = math.MaxUint64
	// MaxScore is the upper bound of fitness scores and reputation
	MaxScore = 100
	// MaxCommission is the highest commission percentage a validator may charge
	MaxCommission = 20
)

// ValidatorStatus is the lifecycle state of a registered validator
type ValidatorStatus uint8

const (
	ValidatorActive ValidatorStatus = iota
	ValidatorJailed
)

// String() returns the human readable status
func (s ValidatorStatus) String() string {
	switch s {
	case ValidatorActive:
		return "Active"
	case ValidatorJailed:
		return "Jailed"
	default:
		return "Unknown"
	}
}

// MarshalJSON() encodes the status as its name
func (s ValidatorStatus) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// UnmarshalJSON() decodes the status from its name
func (s *ValidatorStatus) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	switch strings.ToLower(str) {
	case "active":
		*s = ValidatorActive
	case "jailed":
		*s = ValidatorJailed
	default:
		return ErrInvalidArgument()
	}
	return nil
}

// Validator is a participant eligible to be selected into a committee
type Validator struct {
	ID               string          `json:"id"`               // unique identifier
	PublicKey        HexBytes        `json:"publicKey"`        // ed25519 (32 bytes) or BLS12-381 (48 bytes) public key
	Stake            uint64          `json:"stake"`            // bonded stake, reduced by slashing
	FitnessScore     uint64          `json:"fitnessScore"`     // latest fitness score [0-100]
	Reputation       uint64          `json:"reputation"`       // [0-100], reduced by offenses
	Status           ValidatorStatus `json:"status"`           // Active or Jailed
	JailedUntilEpoch uint64          `json:"jailedUntilEpoch"` // release epoch when Jailed; IndefiniteJail never releases
	Offenses         uint64          `json:"offenses"`         // count of punished offenses
	Commission       uint64          `json:"commission"`       // percentage of rewards kept by the validator
	Rewards          uint64          `json:"rewards"`          // accumulated rewards
}

// Copy() returns a deep copy of the validator
func (v *Validator) Copy() *Validator {
	if v == nil {
		return nil
	}
	cp := *v
	cp.PublicKey = append(HexBytes(nil), v.PublicKey...)
	return &cp
}

// IsActive() returns true if the validator may participate in rounds
func (v *Validator) IsActive() bool { return v != nil && v.Status == ValidatorActive }

// Key() parses the public key bytes of the validator
func (v *Validator) Key() (crypto.PublicKeyI, ErrorI) { return PublicKeyFromBytes(v.PublicKey) }

// encode() is the deterministic binary form of the validator used in state hashes
func (v *Validator) encode() []byte {
	return codec.NewEncoder().
		String(1, v.ID).
		Bytes(2, v.PublicKey).
		Uint64(3, v.Stake).
		Uint64(4, v.FitnessScore).
		Uint64(5, v.Reputation).
		Uint64(6, uint64(v.Status)).
		Uint64(7, v.JailedUntilEpoch).
		Uint64(8, v.Offenses).
		Uint64(9, v.Commission).
		Uint64(10, v.Rewards).
		Done()
}

// Validators is a list of validators
type Validators []*Validator

// Sort() orders the list by ascending id
func (vs Validators) Sort() Validators {
	sort.Slice(vs, func(i, j int) bool { return vs[i].ID < vs[j].ID })
	return vs
}

// Copy() deep copies every validator of the list
func (vs Validators) Copy() Validators {
	out := make(Validators, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Copy())
	}
	return out
}

// TotalStake() sums the stake of the list
func (vs Validators) TotalStake() (total uint64) {
	for _, v := range vs {
		total += v.Stake
	}
	return
}

// ByID() indexes the list by validator id
func (vs Validators) ByID() map[string]*Validator {
	m := make(map[string]*Validator, len(vs))
	for _, v := range vs {
		m[v.ID] = v
	}
	return m
}

// Hash() commits to the list in ascending id order
func (vs Validators) Hash() []byte {
	sorted := append(Validators(nil), vs...).Sort()
	h := crypto.Hasher()
	for _, v := range sorted {
		h.Write(codec.NewEncoder().Bytes(1, v.encode()).Done())
	}
	return h.Sum(nil)
}

// StateHash() is H(registry snapshot || chain head hash)
func StateHash(validators Validators, headHash []byte) []byte {
	return crypto.HashAll(validators.Hash(), headHash)
}

// ChangeKind is the type of a registry mutation
type ChangeKind uint8

const (
	ChangeUpsert ChangeKind = iota // the validator was created or modified
	ChangeRemove                   // the validator was removed
)

// RegistryChange is a journaled registry mutation; replaying the journal in order reproduces the registry
type RegistryChange struct {
	Kind        ChangeKind `json:"kind"`
	ValidatorID string     `json:"validatorID"`
	Validator   *Validator `json:"validator,omitempty"` // post-state of the validator for upserts
	Reason      string     `json:"reason"`              // register, score, slash, jail, release, reward, remove
	Epoch       uint64     `json:"epoch"`
}
