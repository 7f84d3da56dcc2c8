package controller

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/canopy-network/pulse/bft"
	"github.com/canopy-network/pulse/checkpoint"
	"github.com/canopy-network/pulse/fitness"
	"github.com/canopy-network/pulse/lib"
	"github.com/canopy-network/pulse/lib/crypto"
	"github.com/canopy-network/pulse/registry"
	"github.com/canopy-network/pulse/staking"
	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru"
)

var _ bft.ChainI = new(Controller)

const (
	persistRetries  = 5                     // how many times a failed commit write is retried
	persistInterval = 50 * time.Millisecond // the first retry interval
	eventCapacity   = 1000                  // how many recent events are retained
)

// StoreI is the durable store the controller persists the chain and its checkpoints to
type StoreI interface {
	lib.PersistenceI
	// LoadCommit() returns the commit at a height or nil
	LoadCommit(height uint64) (*lib.Commit, lib.ErrorI)
	// GarbageCollect() reclaims space of deleted records
	GarbageCollect() lib.ErrorI
	// Close() flushes and closes the store
	Close() lib.ErrorI
}

// ScoreReporterI is a fitness scorer that accepts scores reported by an external oracle
type ScoreReporterI interface {
	Report(validatorID string, score uint64) lib.ErrorI
}

// Controller is the state container of a pulse node: it owns every consensus module, extends the canonical chain
// and exposes the public operations
type Controller struct {
	Config       lib.Config
	Registry     *registry.Registry
	Engine       *bft.Engine
	Forks        *bft.ForkResolver
	Checkpointer *checkpoint.Manager
	Ledger       *staking.Ledger
	Pool         *lib.Mempool
	Bus          *lib.EventBus
	Metrics      *lib.Metrics

	store  StoreI
	scorer lib.FitnessScorerI
	log    lib.LoggerI

	chainMu   sync.Mutex   // serializes commits, fork replacements and recovery
	headMu    sync.RWMutex // guards the head
	height    uint64
	head      []byte
	headEpoch uint64        // the epoch of the head block
	epoch     atomic.Uint64 // the epoch of the latest round
	imported  *lru.Cache    // block hash -> foreign *lib.Commit

	lifecycle sync.Mutex // guards the handle and the halt reason
	handle    *Handle
	halted    lib.ErrorI // the fatal error that stopped the scheduler

	stats *statsTracker
}

// New() creates a controller over the store; a nil scorer uses a score book fed through ReportScore
func New(config lib.Config, db StoreI, scorer lib.FitnessScorerI, metrics *lib.Metrics, log lib.LoggerI) (*Controller, lib.ErrorI) {
	// configuration errors are fatal at startup
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if scorer == nil {
		scorer = fitness.NewBook()
	}
	reg := registry.New(config.ConsensusConfig, log)
	// lru.New only fails on a non-positive size
	imported, _ := lru.New(importedCacheSize)
	c := &Controller{
		Config:   config,
		Registry: reg,
		Forks:    bft.NewForkResolver(0, log.Named("fork")),
		Ledger:   staking.NewLedger(reg, config.StakingConfig, log),
		Pool:     lib.NewMempool(config.MempoolConfig),
		Bus:      lib.NewEventBus(eventCapacity),
		Metrics:  metrics,
		store:    db,
		scorer:   scorer,
		log:      log.Named("controller"),
		head:     crypto.ZeroHash,
		imported: imported,
		stats:    newStatsTracker(),
	}
	c.Engine = bft.New(bft.Params{
		Config:   config.ConsensusConfig,
		Registry: reg,
		Scorer:   scorer,
		Staking:  c.Ledger,
		Pool:     c.Pool,
		Chain:    c,
		Events:   c.Bus,
		Metrics:  metrics,
		Log:      log,
	})
	c.Checkpointer = checkpoint.NewManager(config.ConsensusConfig, reg, db, c.Bus, metrics, log)
	return c, nil
}

// Head() returns the height and hash of the canonical head
func (c *Controller) Head() (uint64, []byte) {
	c.headMu.RLock()
	defer c.headMu.RUnlock()
	return c.height, c.head
}

// Commit() journals the registry changes into the commit, persists it with retries and makes it the head
func (c *Controller) Commit(ctx context.Context, commit *lib.Commit) lib.ErrorI {
	if commit == nil || commit.Block == nil {
		return lib.ErrNilBlock()
	}
	c.chainMu.Lock()
	defer c.chainMu.Unlock()
	// a fork replacement may have moved the head during the round
	height, head := c.Head()
	if commit.Block.Height != height+1 || !bytes.Equal(commit.Block.PreviousHash, head) {
		return ErrStaleHead(commit.Block.Height)
	}
	validators, changes := c.Registry.SnapshotAndDrain()
	commit.Changes, commit.StateHash = changes, lib.StateHash(validators, commit.Block.Hash)
	commit.FinalizedAt = lib.NowMS()
	if err := c.persist(ctx, commit); err != nil {
		// the changes belong to the next commit that succeeds
		c.Registry.Requeue(changes)
		return err
	}
	c.setHead(commit.Block)
	c.Metrics.UpdateValidators(validators)
	if candidate := c.Forks.Observe(commit.Block); candidate != nil {
		if _, err := c.resolve(candidate); err != nil {
			// the block is durable but the store may not be
			if isFatal(err) {
				return err
			}
			c.log.Errorf("Resolving the fork at height %d failed: %s", candidate.Height, bft.ErrorMessage(err))
		}
	}
	return nil
}

// persist() appends the commit to the store, retrying with exponential backoff until the context expires
func (c *Controller) persist(ctx context.Context, commit *lib.Commit) lib.ErrorI {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval, policy.MaxElapsedTime = persistInterval, 0
	policy.Reset()
	var (
		last     lib.ErrorI
		attempts int
	)
	err := backoff.Retry(func() error {
		if attempts++; attempts > 1 {
			c.Metrics.UpdatePersistRetry()
		}
		if last = c.store.AppendBlock(commit); last != nil {
			c.log.Warnf("Persisting block %d failed (attempt %d): %s", commit.Height(), attempts, bft.ErrorMessage(last))
			return last
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(policy, persistRetries), ctx))
	if err == nil {
		return nil
	}
	if last != nil {
		return lib.ErrPersistenceFailure(last)
	}
	return lib.ErrPersistenceFailure(err)
}

// setHead() installs the block as the canonical head
func (c *Controller) setHead(b *lib.Block) {
	c.headMu.Lock()
	defer c.headMu.Unlock()
	c.height, c.head, c.headEpoch = b.Height, b.Hash, b.Epoch
}

// RegisterValidator() adds a validator; with a private key the validator also participates in process
func (c *Controller) RegisterValidator(v *lib.Validator, key crypto.PrivateKeyI) lib.ErrorI {
	if v == nil {
		return lib.ErrEmptyValidatorID()
	}
	if key != nil {
		if len(v.PublicKey) == 0 {
			v.PublicKey = key.PublicKey().Bytes()
		}
		if !bytes.Equal(v.PublicKey, key.PublicKey().Bytes()) {
			return ErrKeyMismatch(v.ID)
		}
	}
	if err := c.Registry.Register(v); err != nil {
		return err
	}
	if key != nil {
		c.Engine.AddParticipant(bft.NewLocalParticipant(v.ID, key, c.scorer))
	}
	c.Metrics.UpdateValidators(c.Registry.All())
	c.Bus.EmitEvent(&lib.Event{
		Type:        lib.EventValidatorRegistered,
		Epoch:       c.epoch.Load(),
		ValidatorID: v.ID,
		Message:     "registered",
	})
	return nil
}

// UnregisterValidator() removes a validator and its in process participant
func (c *Controller) UnregisterValidator(id string) lib.ErrorI {
	if err := c.Registry.Unregister(id); err != nil {
		return err
	}
	c.Engine.RemoveParticipant(id)
	if book, ok := c.scorer.(*fitness.Book); ok {
		book.Forget(id)
	}
	c.Metrics.RemoveValidator(id)
	c.Bus.EmitEvent(&lib.Event{
		Type:        lib.EventValidatorRemoved,
		Epoch:       c.epoch.Load(),
		ValidatorID: id,
		Message:     "unregistered",
	})
	return nil
}

// AttachKey() lets a registered validator participate in process, e.g. after a crash recovery
func (c *Controller) AttachKey(id string, key crypto.PrivateKeyI) lib.ErrorI {
	v, err := c.Registry.Get(id)
	if err != nil {
		return err
	}
	if key == nil || !bytes.Equal(v.PublicKey, key.PublicKey().Bytes()) {
		return ErrKeyMismatch(id)
	}
	c.Engine.AddParticipant(bft.NewLocalParticipant(id, key, c.scorer))
	return nil
}

// DetachKey() stops a validator from participating in process; it may still vote through SubmitVote
func (c *Controller) DetachKey(id string) lib.ErrorI {
	if c.Engine.Participant(id) == nil {
		return bft.ErrNoParticipant(id)
	}
	c.Engine.RemoveParticipant(id)
	return nil
}

// ReportScore() records an externally computed fitness score for the next AssessFitness phase
func (c *Controller) ReportScore(id string, score uint64) lib.ErrorI {
	reporter, ok := c.scorer.(ScoreReporterI)
	if !ok {
		return ErrScoreReports()
	}
	if !c.Registry.Exists(id) {
		return lib.ErrValidatorNotExists(id)
	}
	return reporter.Report(id, score)
}

// SubmitTransaction() adds a transaction to the pending pool
func (c *Controller) SubmitTransaction(tx *lib.Transaction) lib.ErrorI {
	if tx == nil {
		return lib.ErrInvalidTransaction("nil transaction")
	}
	return c.Pool.Add(tx)
}

// SubmitVote() hands a remote committee member's vote to the live round
func (c *Controller) SubmitVote(v *lib.Vote) lib.ErrorI { return c.Engine.SubmitVote(v) }

// SubmitProposal() hands a remote proposer's block to the live round
func (c *Controller) SubmitProposal(b *lib.Block) lib.ErrorI {
	if b == nil {
		return lib.ErrNilBlock()
	}
	return c.Engine.SubmitProposal(b)
}

// GetCurrentRoundSummary() returns the live round, or the last completed round, or nil before the first round
func (c *Controller) GetCurrentRoundSummary() *bft.RoundSummary { return c.Engine.CurrentSummary() }

// Blocks() returns up to `limit` finalized commits above `from` in height order
func (c *Controller) Blocks(from uint64, limit int) ([]*lib.Commit, lib.ErrorI) {
	commits, err := c.store.LoadBlocksSince(from)
	if err != nil {
		return nil, err
	}
	if limit > 0 {
		commits = lib.TruncateSlice(commits, limit)
	}
	return commits, nil
}

// Block() returns the finalized commit at a height or nil
func (c *Controller) Block(height uint64) (*lib.Commit, lib.ErrorI) { return c.store.LoadCommit(height) }

// Validators() returns every registered validator ordered by id
func (c *Controller) Validators() lib.Validators { return c.Registry.All() }

// Validator() returns a registered validator
func (c *Controller) Validator(id string) (*lib.Validator, lib.ErrorI) { return c.Registry.Get(id) }

// Events() returns up to n of the most recent events, oldest first
func (c *Controller) Events(n int) []*lib.Event { return c.Bus.Recent(n) }

// Checkpoints() returns the retained checkpoints ordered by epoch
func (c *Controller) Checkpoints() ([]*lib.Checkpoint, lib.ErrorI) { return c.Checkpointer.List() }

// Checkpoint() returns the checkpoint of an epoch or nil
func (c *Controller) Checkpoint(epoch uint64) (*lib.Checkpoint, lib.ErrorI) { return c.Checkpointer.Get(epoch) }

// ForkResolutions() returns the recorded fork resolutions ordered by height
func (c *Controller) ForkResolutions() ([]*lib.ForkResolution, lib.ErrorI) {
	return c.store.LoadForkResolutions()
}

// Evidence() returns the retained evidence of Byzantine behavior
func (c *Controller) Evidence() []*lib.Evidence { return c.Engine.Detector().Evidence() }

// RecoverFromCrash() rebuilds the registry and the head from the newest checkpoint and the commits after it
func (c *Controller) RecoverFromCrash() (*checkpoint.Recovery, lib.ErrorI) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.running() {
		return nil, lib.ErrAlreadyRunning()
	}
	c.chainMu.Lock()
	defer c.chainMu.Unlock()
	rec, err := c.Checkpointer.Recover()
	if err != nil {
		c.halted = err
		return nil, err
	}
	c.headMu.Lock()
	c.height, c.head, c.headEpoch = rec.Height, rec.HeadHash, rec.Epoch
	c.headMu.Unlock()
	if rec.Epoch > c.epoch.Load() {
		c.epoch.Store(rec.Epoch)
	}
	// recovered blocks can still be contested
	for _, commit := range rec.Commits {
		c.Forks.Observe(commit.Block)
	}
	c.halted = nil
	c.Metrics.UpdateValidators(c.Registry.All())
	c.log.Infof("Recovered head %d (%s) at epoch %d", rec.Height, lib.BytesToTruncatedString(rec.HeadHash), rec.Epoch)
	return rec, nil
}

// Close() stops the scheduler if it's running and closes the store
func (c *Controller) Close() lib.ErrorI {
	if err := c.Stop(); err != nil && err.Code() != lib.CodeNotRunning {
		return err
	}
	return c.store.Close()
}
