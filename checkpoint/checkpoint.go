package checkpoint

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/canopy-network/pulse/lib"
	"github.com/canopy-network/pulse/lib/crypto"
	"github.com/canopy-network/pulse/registry"
	"golang.org/x/sync/errgroup"
)

/*
	A checkpoint is a snapshot of the registry and the chain head signed by the Active validators:

	1) Create  : every `checkpointIntervalEpochs`, snapshot (epoch, height, block hash, state hash) and ask every
	             in process signer for its signature concurrently
	2) Durable : once the signed stake meets the byzantine threshold of the total Active stake the checkpoint is
	             stored and older checkpoints are pruned to `maxCheckpoints`
	3) Recover : load the newest checkpoint, verify its signatures and threshold, restore the registry snapshot and
	             check its hash, then replay every persisted commit above the checkpoint height

	Signers holding BLS keys are additionally aggregated into one signature with a bitmap over the ordered BLS key
	holders of the snapshot.
*/

// SignerI is a validator that can sign checkpoints
type SignerI interface {
	ID() string
	SignCheckpoint(ctx context.Context, cp *lib.Checkpoint) ([]byte, error)
}

// Stats are the lifetime aggregates of the checkpoint manager
type Stats struct {
	Created    uint64 `json:"created"`
	Failed     uint64 `json:"failed"`     // attempts below the signing threshold
	Recoveries uint64 `json:"recoveries"` // successful crash recoveries
	Replayed   uint64 `json:"replayed"`   // commits replayed by recoveries
	LastEpoch  uint64 `json:"lastEpoch"`
	LastHeight uint64 `json:"lastHeight"`
}

// Recovery is the outcome of a crash recovery
type Recovery struct {
	Checkpoint *lib.Checkpoint `json:"checkpoint,omitempty"` // nil when recovering from genesis
	Commits    []*lib.Commit   `json:"-"`                    // the replayed commits in height order
	Replayed   int             `json:"replayed"`
	Height     uint64          `json:"height"`   // the recovered head height
	HeadHash   lib.HexBytes    `json:"headHash"` // the recovered head hash
	Epoch      uint64          `json:"epoch"`    // the epoch of the recovered head
}

// Manager creates, verifies and recovers from checkpoints
type Manager struct {
	mu       sync.Mutex
	config   lib.ConsensusConfig
	registry *registry.Registry
	store    lib.PersistenceI
	events   lib.EventSinkI
	metrics  *lib.Metrics
	stats    Stats
	log      lib.LoggerI
}

// NewManager() creates a checkpoint manager
func NewManager(config lib.ConsensusConfig, reg *registry.Registry, store lib.PersistenceI, events lib.EventSinkI, metrics *lib.Metrics, log lib.LoggerI) *Manager {
	return &Manager{
		config:   config,
		registry: reg,
		store:    store,
		events:   events,
		metrics:  metrics,
		log:      log.Named("checkpoint"),
	}
}

// Due() returns true if a checkpoint is scheduled after the epoch
func (m *Manager) Due(epoch uint64) bool {
	return epoch != 0 && epoch%m.config.CheckpointIntervalEpochs == 0
}

// Create() snapshots the registry and the head, collects signatures and stores the checkpoint once it's durable
func (m *Manager) Create(ctx context.Context, epoch, height uint64, headHash []byte, signers []SignerI) (*lib.Checkpoint, lib.ErrorI) {
	snapshot := m.registry.Snapshot()
	active := activeValidators(snapshot)
	cp := &lib.Checkpoint{
		Epoch:      epoch,
		Height:     height,
		BlockHash:  append(lib.HexBytes(nil), headHash...),
		StateHash:  lib.StateHash(snapshot, headHash),
		Validators: snapshot,
		Signatures: make([]*lib.CheckpointSignature, 0),
		TotalStake: active.TotalStake(),
		Time:       lib.NowMS(),
	}
	sCtx, cancel := context.WithTimeout(ctx, m.config.FinalityTimeout())
	defer cancel()
	sigs := m.collect(sCtx, cp, active.ByID(), signers)
	if err := m.assemble(cp, active, sigs); err != nil {
		return nil, err
	}
	if !lib.MeetsThreshold(cp.TotalStakeSigned, cp.TotalStake, m.config.ByzantineThreshold) {
		m.mu.Lock()
		m.stats.Failed++
		m.mu.Unlock()
		m.metrics.UpdateCheckpoint(epoch, false)
		return nil, ErrCheckpointThreshold(cp.TotalStakeSigned, cp.TotalStake)
	}
	if err := m.store.StoreCheckpoint(cp); err != nil {
		return nil, lib.ErrPersistenceFailure(err)
	}
	if err := m.store.PruneCheckpoints(int(m.config.MaxCheckpoints)); err != nil {
		// the new checkpoint is durable, a failed prune is retried at the next checkpoint
		m.log.Errorf("Pruning checkpoints failed: %s", err.Error())
	}
	m.mu.Lock()
	m.stats.Created++
	m.stats.LastEpoch, m.stats.LastHeight = epoch, height
	m.mu.Unlock()
	m.metrics.UpdateCheckpoint(epoch, true)
	m.events.EmitEvent(&lib.Event{
		Type:    lib.EventCheckpointCreated,
		Epoch:   epoch,
		Height:  height,
		Message: fmt.Sprintf("%d signatures covering %d of %d stake", len(cp.Signatures), cp.TotalStakeSigned, cp.TotalStake),
		Time:    lib.NowMS(),
	})
	m.log.Infof("Checkpoint at epoch %d height %d signed by %d validators", epoch, height, len(cp.Signatures))
	return cp, nil
}

// collect() asks every Active signer for its signature concurrently; invalid or late signatures are dropped
func (m *Manager) collect(ctx context.Context, cp *lib.Checkpoint, active map[string]*lib.Validator, signers []SignerI) map[string][]byte {
	var mu sync.Mutex
	sigs := make(map[string][]byte)
	g, gCtx := errgroup.WithContext(ctx)
	for _, s := range signers {
		v, ok := active[s.ID()]
		if !ok {
			continue
		}
		g.Go(func() error {
			sig, err := s.SignCheckpoint(gCtx, cp)
			if err != nil {
				m.log.Debugf("Validator %s did not sign checkpoint %d: %s", s.ID(), cp.Epoch, err.Error())
				return nil
			}
			if e := verifySignature(v, cp.SignBytes(), sig); e != nil {
				m.log.Warnf("Validator %s signed checkpoint %d incorrectly", s.ID(), cp.Epoch)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			sigs[s.ID()] = sig
			return nil
		})
	}
	_ = g.Wait()
	return sigs
}

// assemble() orders the signatures, sums the signed stake and aggregates the BLS signatures
func (m *Manager) assemble(cp *lib.Checkpoint, active lib.Validators, sigs map[string][]byte) lib.ErrorI {
	blsSigners := blsHolders(active)
	var (
		mpk   crypto.MultiPublicKeyI
		keys  = make([][]byte, 0, len(blsSigners))
		index = make(map[string]int, len(blsSigners))
	)
	for i, v := range blsSigners {
		keys, index[v.ID] = append(keys, v.PublicKey), i
	}
	if len(keys) != 0 {
		var err error
		if mpk, err = crypto.NewMultiBLS(keys, nil); err != nil {
			return ErrAggregateSignature(err)
		}
	}
	aggregated := 0
	for _, v := range active {
		sig, ok := sigs[v.ID]
		if !ok {
			continue
		}
		cp.Signatures = append(cp.Signatures, &lib.CheckpointSignature{ValidatorID: v.ID, Signature: sig})
		cp.TotalStakeSigned += v.Stake
		if i, isBLS := index[v.ID]; isBLS {
			if err := mpk.AddSigner(sig, i); err != nil {
				return ErrAggregateSignature(err)
			}
			aggregated++
		}
	}
	if aggregated == 0 {
		return nil
	}
	aggregate, err := mpk.AggregateSignatures()
	if err != nil {
		return ErrAggregateSignature(err)
	}
	cp.AggregateSigners = make([]string, 0, len(blsSigners))
	for _, v := range blsSigners {
		cp.AggregateSigners = append(cp.AggregateSigners, v.ID)
	}
	cp.AggregateBitmap, cp.AggregateSignature = mpk.Bitmap(), aggregate
	return nil
}

// Verify() checks the signatures, the aggregate signature and the signing threshold of a checkpoint
func (m *Manager) Verify(cp *lib.Checkpoint) lib.ErrorI {
	if cp == nil {
		return ErrCorruptCheckpoint("nil checkpoint")
	}
	if len(cp.BlockHash) != crypto.HashSize || len(cp.StateHash) != crypto.HashSize {
		return ErrCorruptCheckpoint("malformed hashes")
	}
	active := activeValidators(cp.Validators).ByID()
	if total := activeValidators(cp.Validators).TotalStake(); total != cp.TotalStake {
		return ErrCorruptCheckpoint(fmt.Sprintf("total stake %d doesn't match the snapshot's %d", cp.TotalStake, total))
	}
	msg, signed := cp.SignBytes(), make(map[string]bool)
	for _, s := range cp.Signatures {
		v, ok := active[s.ValidatorID]
		if !ok {
			return ErrCorruptCheckpoint(fmt.Sprintf("signature from %s who is not an Active validator", s.ValidatorID))
		}
		if signed[s.ValidatorID] {
			return ErrCorruptCheckpoint(fmt.Sprintf("duplicate signature from %s", s.ValidatorID))
		}
		if err := verifySignature(v, msg, s.Signature); err != nil {
			return ErrCorruptCheckpoint(errMsg(err))
		}
		signed[s.ValidatorID] = true
	}
	if len(cp.AggregateSignature) != 0 {
		if err := verifyAggregate(cp, active, msg, signed); err != nil {
			return err
		}
	}
	var stake uint64
	for id := range signed {
		stake += active[id].Stake
	}
	if stake != cp.TotalStakeSigned {
		return ErrCorruptCheckpoint(fmt.Sprintf("signed stake %d doesn't match the declared %d", stake, cp.TotalStakeSigned))
	}
	if !lib.MeetsThreshold(stake, cp.TotalStake, m.config.ByzantineThreshold) {
		return ErrCorruptCheckpoint(errMsg(ErrCheckpointThreshold(stake, cp.TotalStake)))
	}
	return nil
}

// verifyAggregate() checks the BLS aggregate and marks the signers it covers
func verifyAggregate(cp *lib.Checkpoint, active map[string]*lib.Validator, msg []byte, signed map[string]bool) lib.ErrorI {
	keys := make([][]byte, 0, len(cp.AggregateSigners))
	for _, id := range cp.AggregateSigners {
		v, ok := active[id]
		if !ok || len(v.PublicKey) != crypto.BLS12381PubKeySize {
			return ErrCorruptCheckpoint(fmt.Sprintf("aggregate signer %s is not an Active BLS validator", id))
		}
		keys = append(keys, v.PublicKey)
	}
	mpk, err := crypto.NewMultiBLS(keys, cp.AggregateBitmap)
	if err != nil {
		return ErrCorruptCheckpoint(fmt.Sprintf("aggregate bitmap: %s", err.Error()))
	}
	if !mpk.VerifyBytes(msg, cp.AggregateSignature) {
		return ErrCorruptCheckpoint("invalid aggregate signature")
	}
	for i, id := range cp.AggregateSigners {
		if enabled, _ := mpk.SignerEnabledAt(i); enabled {
			signed[id] = true
		}
	}
	return nil
}

// Recover() restores the registry from the newest checkpoint and replays every commit persisted after it
func (m *Manager) Recover() (*Recovery, lib.ErrorI) {
	start := time.Now()
	cp, err := m.store.LoadLatestCheckpoint()
	if err != nil {
		return nil, loadError(err)
	}
	from, headHash := uint64(0), []byte(crypto.ZeroHash)
	if cp != nil {
		from, headHash = cp.Height, cp.BlockHash
	}
	commits, err := m.store.LoadBlocksSince(from)
	if err != nil {
		return nil, loadError(err)
	}
	rec := &Recovery{Checkpoint: cp, Commits: commits, Height: from, HeadHash: headHash}
	// nothing was ever persisted, the registry is left as is
	if cp == nil && len(commits) == 0 {
		return rec, nil
	}
	if cp != nil {
		if err = m.Verify(cp); err != nil {
			return nil, err
		}
		m.registry.Restore(cp.Validators)
		if !bytes.Equal(m.registry.StateHash(cp.BlockHash), cp.StateHash) {
			return nil, lib.ErrCorruptState(fmt.Sprintf("restored registry doesn't match the state hash of checkpoint %d", cp.Epoch))
		}
		rec.Epoch = cp.Epoch
	} else {
		m.registry.Restore(nil)
	}
	for _, c := range commits {
		if err = m.replay(c, rec.Height, rec.HeadHash); err != nil {
			return nil, err
		}
		rec.Height, rec.HeadHash, rec.Epoch = c.Block.Height, c.Block.Hash, c.Block.Epoch
		rec.Replayed++
	}
	m.mu.Lock()
	m.stats.Recoveries++
	m.stats.Replayed += uint64(rec.Replayed)
	m.mu.Unlock()
	m.metrics.UpdateRecovery()
	m.events.EmitEvent(&lib.Event{
		Type:    lib.EventRecoveryCompleted,
		Epoch:   rec.Epoch,
		Height:  rec.Height,
		Message: fmt.Sprintf("replayed %d commits", rec.Replayed),
		Time:    lib.NowMS(),
	})
	m.log.Infof("Recovered to height %d (replayed %d commits) in %s", rec.Height, rec.Replayed, time.Since(start))
	return rec, nil
}

// replay() checks the integrity and linkage of a commit, applies its registry changes and compares the state hash
func (m *Manager) replay(c *lib.Commit, height uint64, headHash []byte) lib.ErrorI {
	if err := c.Check(); err != nil {
		return lib.ErrCorruptState(fmt.Sprintf("commit at height %d: %s", c.Height(), errMsg(err)))
	}
	if c.Block.Height != height+1 {
		return lib.ErrCorruptState(fmt.Sprintf("expected height %d, got %d", height+1, c.Block.Height))
	}
	if !bytes.Equal(c.Block.PreviousHash, headHash) {
		return lib.ErrCorruptState(fmt.Sprintf("block at height %d doesn't link to its parent", c.Block.Height))
	}
	if err := m.registry.ApplyChanges(c.Changes); err != nil {
		return err
	}
	if !bytes.Equal(m.registry.StateHash(c.Block.Hash), c.StateHash) {
		return lib.ErrCorruptState(fmt.Sprintf("state hash mismatch at height %d", c.Block.Height))
	}
	return nil
}

// Latest() returns the newest stored checkpoint or nil
func (m *Manager) Latest() (*lib.Checkpoint, lib.ErrorI) { return m.store.LoadLatestCheckpoint() }

// Get() returns the checkpoint of an epoch or nil
func (m *Manager) Get(epoch uint64) (*lib.Checkpoint, lib.ErrorI) { return m.store.LoadCheckpoint(epoch) }

// List() returns every retained checkpoint ordered by epoch
func (m *Manager) List() ([]*lib.Checkpoint, lib.ErrorI) { return m.store.ListCheckpoints() }

// Stats() returns a copy of the lifetime aggregates
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// verifySignature() checks a validator's signature over the message
func verifySignature(v *lib.Validator, msg, sig []byte) lib.ErrorI {
	key, err := v.Key()
	if err != nil {
		return ErrInvalidCheckpointSig(v.ID)
	}
	if !key.VerifyBytes(msg, sig) {
		return ErrInvalidCheckpointSig(v.ID)
	}
	return nil
}

// activeValidators() filters the Active validators of a snapshot in id order
func activeValidators(vs lib.Validators) (active lib.Validators) {
	for _, v := range vs {
		if v.IsActive() {
			active = append(active, v)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	return
}

// blsHolders() returns the validators with BLS keys in id order
func blsHolders(vs lib.Validators) (out lib.Validators) {
	for _, v := range vs {
		if len(v.PublicKey) == crypto.BLS12381PubKeySize {
			out = append(out, v)
		}
	}
	return
}

// loadError() classifies a failed load: undecodable records are corrupt, anything else is a storage failure
func loadError(err lib.ErrorI) lib.ErrorI {
	if lib.IsCode(err, lib.MainModule, lib.CodeJSONUnmarshal) {
		return ErrCorruptCheckpoint(errMsg(err))
	}
	return lib.ErrPersistenceFailure(err)
}

// errMsg() returns the message of an error without its module and code header
func errMsg(err lib.ErrorI) string {
	if e, ok := err.(*lib.Error); ok {
		return e.Msg
	}
	return err.Error()
}
