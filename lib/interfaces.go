package lib

import "time"

/* This file defines the narrow interfaces through which the consensus core consumes its collaborators */

// FitnessScorerI is the opaque source of fitness scores; the core only thresholds the result
type FitnessScorerI interface {
	// Score() returns the current fitness score [0-100] of the validator
	Score(validatorID string) (uint64, ErrorI)
}

// StakingI is the economic ledger that punishes offenses and pays the committee
type StakingI interface {
	// Slash() burns stake and reputation for an offense committed in the epoch
	Slash(validatorID string, kind OffenseKind, epoch uint64) (*SlashRecord, ErrorI)
	// DistributeRewards() splits the epoch reward pool among committee members by their scores
	DistributeRewards(epoch uint64, scores map[string]uint64) (*RewardDistribution, ErrorI)
	// RevokeRewards() takes back a distribution whose block was never committed
	RevokeRewards(dist *RewardDistribution) ErrorI
}

// PersistenceI is the durable store of finalized commits and checkpoints
type PersistenceI interface {
	// AppendBlock() durably persists a finalized commit
	AppendBlock(c *Commit) ErrorI
	// LoadBlocksSince() returns every persisted commit with a height above `height` in ascending order
	LoadBlocksSince(height uint64) ([]*Commit, ErrorI)
	// RewindTo() deletes every commit at or above `height`
	RewindTo(height uint64) ErrorI
	// StoreCheckpoint() durably persists a checkpoint
	StoreCheckpoint(cp *Checkpoint) ErrorI
	// LoadLatestCheckpoint() returns the newest checkpoint or nil if none exists
	LoadLatestCheckpoint() (*Checkpoint, ErrorI)
	// LoadCheckpoint() returns the checkpoint of an epoch or nil if none exists
	LoadCheckpoint(epoch uint64) (*Checkpoint, ErrorI)
	// ListCheckpoints() returns every retained checkpoint ordered by epoch
	ListCheckpoints() ([]*Checkpoint, ErrorI)
	// PruneCheckpoints() deletes all but the newest `keep` checkpoints
	PruneCheckpoints(keep int) ErrorI
	// StoreForkResolution() records the outcome of a resolved fork
	StoreForkResolution(r *ForkResolution) ErrorI
	// LoadForkResolutions() returns every recorded fork resolution ordered by height
	LoadForkResolutions() ([]*ForkResolution, ErrorI)
}

// EventSinkI receives observability events; it must never fail or block
type EventSinkI interface {
	EmitEvent(e *Event)
}

// TxPoolI is the pending transaction pool blocks are built from
type TxPoolI interface {
	Add(tx *Transaction) ErrorI    // insert a validated pending transaction
	Select(max int) []*Transaction // the highest priority transactions without removing them
	Remove(txs []*Transaction)     // drop transactions that were finalized
	Return(txs []*Transaction) int // re-insert transactions of a discarded block; returns how many were accepted
	Expire(now time.Time) int      // drop transactions that outlived their ttl; returns how many
	Contains(hash string) bool     // whether the pool holds the transaction hash
	Len() int                      // number of pending transactions
}
