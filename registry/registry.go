package registry

import (
	"sort"
	"sync"

	"github.com/canopy-network/pulse/lib"
)

/*
	The registry is the set of validators eligible to be selected into committees.
	It allows many concurrent readers and serializes writers (registration, scoring, slashing, jailing, rewards).
	Every mutation is journaled as the post-state of the validator (or its removal) so a persisted commit can carry the
	exact changes since the previous commit and recovery can replay them on top of a checkpoint snapshot.
*/

// Registry is the validator set with its mutation journal
type Registry struct {
	mu         sync.RWMutex
	validators map[string]*lib.Validator // id -> validator
	journal    []*lib.RegistryChange     // changes since the last drain
	epoch      uint64                    // the epoch stamped on journal entries
	config     lib.ConsensusConfig
	log        lib.LoggerI
}

// New() creates an empty registry
func New(config lib.ConsensusConfig, log lib.LoggerI) *Registry {
	return &Registry{
		validators: make(map[string]*lib.Validator),
		config:     config,
		log:        log.Named("registry"),
	}
}

// SetEpoch() sets the epoch stamped on subsequent journal entries
func (r *Registry) SetEpoch(epoch uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch = epoch
}

// Register() adds a new Active validator after checking its id, stake, key, score and commission
func (r *Registry) Register(v *lib.Validator) lib.ErrorI {
	if v == nil || v.ID == "" {
		return lib.ErrEmptyValidatorID()
	}
	if v.Stake < r.config.MinimumStake {
		return lib.ErrInsufficientStake(v.Stake, r.config.MinimumStake)
	}
	if _, err := v.Key(); err != nil {
		return lib.ErrInvalidPublicKey(err)
	}
	if v.FitnessScore > lib.MaxScore {
		return lib.ErrInvalidScore(v.FitnessScore)
	}
	if v.Commission > lib.MaxCommission {
		return lib.ErrInvalidCommission(v.Commission)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.validators[v.ID]; exists {
		return lib.ErrValidatorExists(v.ID)
	}
	// a new validator starts clean regardless of what the caller set
	val := v.Copy()
	val.Status, val.JailedUntilEpoch, val.Offenses, val.Rewards = lib.ValidatorActive, 0, 0, 0
	val.Reputation = lib.MaxScore
	r.validators[val.ID] = val
	r.upsert(val, "register")
	r.log.Infof("Registered validator %s with stake %d", val.ID, val.Stake)
	return nil
}

// Unregister() removes a validator on request
func (r *Registry) Unregister(id string) lib.ErrorI {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.validators[id]; !exists {
		return lib.ErrValidatorNotExists(id)
	}
	r.remove(id, "unregister")
	r.log.Infof("Unregistered validator %s", id)
	return nil
}

// Get() returns a copy of the validator
func (r *Registry) Get(id string) (*lib.Validator, lib.ErrorI) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, exists := r.validators[id]
	if !exists {
		return nil, lib.ErrValidatorNotExists(id)
	}
	return v.Copy(), nil
}

// Exists() returns true if the id is registered
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.validators[id]
	return exists
}

// All() returns copies of every validator ordered by id
func (r *Registry) All() lib.Validators {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.list(false)
}

// Active() returns copies of the Active validators ordered by id
func (r *Registry) Active() lib.Validators {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.list(true)
}

// list() copies the validators in id order; must hold the lock
func (r *Registry) list(activeOnly bool) lib.Validators {
	out := make(lib.Validators, 0, len(r.validators))
	for _, v := range r.validators {
		if activeOnly && !v.IsActive() {
			continue
		}
		out = append(out, v.Copy())
	}
	return out.Sort()
}

// Len() returns the number of registered validators
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.validators)
}

// UpdateScores() records fitness scores for a batch of validators under a single write lock
func (r *Registry) UpdateScores(scores map[string]uint64) lib.ErrorI {
	// validate the whole batch first so it applies atomically
	for id, score := range scores {
		if score > lib.MaxScore {
			return lib.ErrInvalidScore(score)
		}
		if id == "" {
			return lib.ErrEmptyValidatorID()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// journal in id order so replays are deterministic
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		v, exists := r.validators[id]
		if !exists || v.FitnessScore == scores[id] {
			continue
		}
		v.FitnessScore = scores[id]
		r.upsert(v, "score")
	}
	return nil
}

// UpdateScore() records the fitness score of a single validator
func (r *Registry) UpdateScore(id string, score uint64) lib.ErrorI {
	if !r.Exists(id) {
		return lib.ErrValidatorNotExists(id)
	}
	return r.UpdateScores(map[string]uint64{id: score})
}

// ApplySlash() burns stake and reputation and counts the offense; returns the post-state
func (r *Registry) ApplySlash(id string, amount, reputationPenalty uint64) (*lib.Validator, lib.ErrorI) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, exists := r.validators[id]
	if !exists {
		return nil, lib.ErrValidatorNotExists(id)
	}
	if amount > v.Stake {
		amount = v.Stake
	}
	v.Stake -= amount
	if reputationPenalty > v.Reputation {
		reputationPenalty = v.Reputation
	}
	v.Reputation -= reputationPenalty
	v.Offenses++
	r.upsert(v, "slash")
	return v.Copy(), nil
}

// AddRewards() credits rewards to the validator
func (r *Registry) AddRewards(id string, amount uint64) lib.ErrorI {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, exists := r.validators[id]
	if !exists {
		return lib.ErrValidatorNotExists(id)
	}
	if amount == 0 {
		return nil
	}
	v.Rewards += amount
	r.upsert(v, "reward")
	return nil
}

// RevokeRewards() takes back credited rewards, never below zero
func (r *Registry) RevokeRewards(id string, amount uint64) lib.ErrorI {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, exists := r.validators[id]
	if !exists {
		return lib.ErrValidatorNotExists(id)
	}
	if amount == 0 {
		return nil
	}
	if amount > v.Rewards {
		amount = v.Rewards
	}
	v.Rewards -= amount
	r.upsert(v, "reward revoked")
	return nil
}

// Jail() removes the validator from committee eligibility until `untilEpoch`; a validator that reached the maximum
// number of offenses or fell below the minimum stake is jailed indefinitely, which removes it
func (r *Registry) Jail(id string, untilEpoch uint64) (removed bool, err lib.ErrorI) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, exists := r.validators[id]
	if !exists {
		return false, lib.ErrValidatorNotExists(id)
	}
	if v.Offenses >= r.config.MaxOffenses || v.Stake < r.config.MinimumStake {
		r.remove(id, "jailed indefinitely")
		r.log.Warnf("Validator %s removed after %d offenses with stake %d", id, v.Offenses, v.Stake)
		return true, nil
	}
	v.Status = lib.ValidatorJailed
	// never shorten an existing sentence
	if untilEpoch > v.JailedUntilEpoch {
		v.JailedUntilEpoch = untilEpoch
	}
	r.upsert(v, "jail")
	r.log.Warnf("Validator %s jailed until epoch %d", id, v.JailedUntilEpoch)
	return false, nil
}

// ReleaseExpired() reactivates every jailed validator whose sentence ended at or before `epoch`
func (r *Registry) ReleaseExpired(epoch uint64) (released []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.list(false) {
		val := r.validators[v.ID]
		if val.Status != lib.ValidatorJailed || val.JailedUntilEpoch == lib.IndefiniteJail || val.JailedUntilEpoch > epoch {
			continue
		}
		val.Status, val.JailedUntilEpoch = lib.ValidatorActive, 0
		r.upsert(val, "release")
		released = append(released, val.ID)
	}
	return
}

// Snapshot() returns a consistent copy of the whole registry ordered by id
func (r *Registry) Snapshot() lib.Validators { return r.All() }

// StateHash() commits to the registry and the chain head
func (r *Registry) StateHash(headHash []byte) []byte {
	return lib.StateHash(r.Snapshot(), headHash)
}

// SnapshotAndDrain() atomically captures the registry and the journal, clearing the journal
func (r *Registry) SnapshotAndDrain() (lib.Validators, []*lib.RegistryChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	changes := r.journal
	r.journal = nil
	return r.list(false), changes
}

// Requeue() puts changes back at the front of the journal after a failed persist
func (r *Registry) Requeue(changes []*lib.RegistryChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.journal = append(append([]*lib.RegistryChange(nil), changes...), r.journal...)
}

// PendingChanges() returns the number of journaled changes not yet drained
func (r *Registry) PendingChanges() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.journal)
}

// Restore() replaces the whole registry with a snapshot and clears the journal
func (r *Registry) Restore(snapshot lib.Validators) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators = make(map[string]*lib.Validator, len(snapshot))
	for _, v := range snapshot {
		r.validators[v.ID] = v.Copy()
	}
	r.journal = nil
}

// ApplyChanges() replays journaled changes in order without journaling them again
func (r *Registry) ApplyChanges(changes []*lib.RegistryChange) lib.ErrorI {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range changes {
		switch c.Kind {
		case lib.ChangeUpsert:
			if c.Validator == nil || c.Validator.ID != c.ValidatorID {
				return lib.ErrCorruptState("upsert without a matching validator")
			}
			r.validators[c.ValidatorID] = c.Validator.Copy()
		case lib.ChangeRemove:
			delete(r.validators, c.ValidatorID)
		default:
			return lib.ErrCorruptState("unknown change kind")
		}
	}
	return nil
}

// upsert() journals the post-state of a validator; must hold the lock
func (r *Registry) upsert(v *lib.Validator, reason string) {
	r.journal = append(r.journal, &lib.RegistryChange{
		Kind:        lib.ChangeUpsert,
		ValidatorID: v.ID,
		Validator:   v.Copy(),
		Reason:      reason,
		Epoch:       r.epoch,
	})
}

// remove() deletes and journals the removal of a validator; must hold the lock
func (r *Registry) remove(id, reason string) {
	delete(r.validators, id)
	r.journal = append(r.journal, &lib.RegistryChange{
		Kind:        lib.ChangeRemove,
		ValidatorID: id,
		Reason:      reason,
		Epoch:       r.epoch,
	})
}
