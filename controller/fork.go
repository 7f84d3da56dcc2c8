package controller

import (
	"bytes"
	"context"
	"fmt"

	"github.com/canopy-network/pulse/bft"
	"github.com/canopy-network/pulse/lib"
	"github.com/canopy-network/pulse/lib/crypto"
)

/*
	Fork intake: a commit finalized elsewhere (e.g. by the other side of a healed partition) is authenticated against
	the local registry and remembered by the fork resolver. When it competes with a known block at its height the fork
	is resolved deterministically. If the winner displaces the canonical block, the chain is rewound to that height,
	the winner is installed as the head and the transactions of the rolled back blocks return to the pending pool.

	Heights at or below the latest checkpoint are final and can't be contested.
*/

// importedCacheSize is the number of foreign commits remembered for a later resolution
const importedCacheSize = 1024

// ImportFinalizedBlock() authenticates a foreign commit and resolves it against the chain; the resolution is nil
// when the block doesn't compete with any known block
func (c *Controller) ImportFinalizedBlock(commit *lib.Commit) (*lib.ForkResolution, lib.ErrorI) {
	if err := c.authenticate(commit); err != nil {
		return nil, err
	}
	c.chainMu.Lock()
	defer c.chainMu.Unlock()
	c.imported.Add(commit.Block.Hash.String(), commit)
	candidate := c.Forks.Observe(commit.Block)
	if candidate == nil {
		return nil, nil
	}
	return c.resolve(candidate)
}

// authenticate() checks the structure and quorum of a foreign commit and every signature against the registry
func (c *Controller) authenticate(commit *lib.Commit) lib.ErrorI {
	if err := commit.Check(); err != nil {
		return err
	}
	// the quorum parameters are local policy, never the sender's
	if commit.Threshold != c.Config.ByzantineThreshold {
		return bft.ErrForkRejected(fmt.Sprintf("byzantine threshold %d doesn't match %d", commit.Threshold, c.Config.ByzantineThreshold))
	}
	proof := commit.Block.FitnessProof
	if proof.Threshold != c.Config.FitnessThreshold {
		return bft.ErrForkRejected(fmt.Sprintf("fitness threshold %d doesn't match %d", proof.Threshold, c.Config.FitnessThreshold))
	}
	if commit.CommitteeSize != uint64(len(proof.Members)) {
		return bft.ErrForkRejected(fmt.Sprintf("committee size %d doesn't match %d proof members", commit.CommitteeSize, len(proof.Members)))
	}
	if commit.CommitteeSize < c.Config.MinCommitteeSize || commit.CommitteeSize > c.Config.CommitteeSize {
		return bft.ErrForkRejected(fmt.Sprintf("committee size %d is out of [%d,%d]", commit.CommitteeSize, c.Config.MinCommitteeSize, c.Config.CommitteeSize))
	}
	if err := c.checkMembers(proof.Members); err != nil {
		return err
	}
	proposer, err := c.Registry.Get(commit.Block.ProposerID)
	if err != nil {
		return bft.ErrForkRejected(fmt.Sprintf("unknown proposer %s", commit.Block.ProposerID))
	}
	key, err := proposer.Key()
	if err != nil || !commit.Block.VerifySignature(key) {
		return bft.ErrForkRejected("invalid proposer signature")
	}
	// the fitness proof decides the fork, it must be the proposer's
	if err = commit.Block.FitnessProof.Verify(key); err != nil {
		return bft.ErrForkRejected(bft.ErrorMessage(err))
	}
	members := make(map[string]struct{}, len(proof.Members))
	for _, m := range proof.Members {
		members[m.ID] = struct{}{}
	}
	for _, v := range commit.Approvals {
		if _, ok := members[v.ValidatorID]; !ok {
			return bft.ErrForkRejected(fmt.Sprintf("approval from %s outside the committee", v.ValidatorID))
		}
		voter, e := c.Registry.Get(v.ValidatorID)
		if e != nil {
			return bft.ErrForkRejected(fmt.Sprintf("approval from unknown validator %s", v.ValidatorID))
		}
		voterKey, e := voter.Key()
		if e != nil || !v.VerifySignature(voterKey) {
			return bft.ErrForkRejected(fmt.Sprintf("invalid approval signature of %s", v.ValidatorID))
		}
	}
	return nil
}

// checkMembers() checks the declared committee against the registry: every member must be registered and can't
// declare more stake than the registry holds for it
func (c *Controller) checkMembers(members []lib.FitnessMember) lib.ErrorI {
	for _, m := range members {
		v, err := c.Registry.Get(m.ID)
		if err != nil {
			return bft.ErrForkRejected(fmt.Sprintf("committee member %s is not registered", m.ID))
		}
		if m.Stake > v.Stake {
			return bft.ErrForkRejected(fmt.Sprintf("committee member %s declares stake %d above %d", m.ID, m.Stake, v.Stake))
		}
	}
	return nil
}

// resolve() picks the winner of the candidate, replaces the canonical block if it lost and records the outcome;
// the caller must hold the chain lock
func (c *Controller) resolve(candidate *lib.ForkCandidate) (*lib.ForkResolution, lib.ErrorI) {
	res, err := c.Forks.Resolve(candidate)
	if err != nil {
		return nil, err
	}
	canonical, err := c.store.LoadCommit(candidate.Height)
	if err != nil {
		return nil, lib.ErrPersistenceFailure(err)
	}
	if canonical != nil && !bytes.Equal(canonical.Block.Hash, res.Winner) {
		if res.ReturnedTxs, err = c.replace(candidate.Height, res.Winner); err != nil {
			return nil, err
		}
		res.Replaced = true
	}
	if err = c.store.StoreForkResolution(res); err != nil {
		return nil, lib.ErrPersistenceFailure(err)
	}
	c.Forks.Record(res)
	c.stats.fork()
	c.Metrics.UpdateFork()
	c.Bus.EmitEvent(&lib.Event{
		Type:    lib.EventForkResolved,
		Epoch:   c.epoch.Load(),
		Height:  res.Height,
		Message: fmt.Sprintf("block %s won by %s (replaced: %t)", lib.BytesToTruncatedString(res.Winner), res.Rule, res.Replaced),
	})
	c.log.Warnf("Fork at height %d resolved for %s by %s", res.Height, lib.BytesToTruncatedString(res.Winner), res.Rule)
	return res, nil
}

// replace() rewinds the chain to `height` and installs the winning foreign commit as the head; returns how many
// transactions of the rolled back blocks were returned to the pool
func (c *Controller) replace(height uint64, winnerHash []byte) (int, lib.ErrorI) {
	latest, err := c.store.LoadLatestCheckpoint()
	if err != nil {
		return 0, lib.ErrPersistenceFailure(err)
	}
	if latest != nil && latest.Height >= height {
		return 0, bft.ErrForkRejected(fmt.Sprintf("height %d is final under the checkpoint of epoch %d", height, latest.Epoch))
	}
	v, found := c.imported.Get(lib.HexBytes(winnerHash).String())
	if !found {
		return 0, bft.ErrForkRejected("the winning block was never imported")
	}
	winner := v.(*lib.Commit)
	parentHash := []byte(crypto.ZeroHash)
	if height > 1 {
		parent, e := c.store.LoadCommit(height - 1)
		if e != nil {
			return 0, lib.ErrPersistenceFailure(e)
		}
		if parent == nil {
			return 0, bft.ErrForkRejected(fmt.Sprintf("missing parent at height %d", height-1))
		}
		parentHash = parent.Block.Hash
	}
	if !bytes.Equal(winner.Block.PreviousHash, parentHash) {
		return 0, bft.ErrForkRejected("the winning block doesn't link to the canonical parent")
	}
	discarded, err := c.store.LoadBlocksSince(height - 1)
	if err != nil {
		return 0, lib.ErrPersistenceFailure(err)
	}
	// the registry keeps its live state: the journals of the rolled back commits move into the installed one
	installed := *winner
	validators, pending := c.Registry.SnapshotAndDrain()
	installed.Changes = nil
	for _, d := range discarded {
		installed.Changes = append(installed.Changes, d.Changes...)
	}
	installed.Changes = append(installed.Changes, pending...)
	installed.StateHash = lib.StateHash(validators, winner.Block.Hash)
	installed.FinalizedAt = lib.NowMS()
	if err = c.store.RewindTo(height); err != nil {
		c.Registry.Requeue(pending)
		return 0, lib.ErrPersistenceFailure(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.Config.FinalityTimeout())
	defer cancel()
	if err = c.persist(ctx, &installed); err != nil {
		c.Registry.Requeue(pending)
		return 0, err
	}
	c.setHead(installed.Block)
	// blocks built on the displaced block are gone
	c.Forks.Forget(height + 1)
	included := make(map[string]bool, len(installed.Block.Transactions))
	for _, tx := range installed.Block.Transactions {
		included[tx.Hash.String()] = true
	}
	var rolledBack []*lib.Transaction
	for _, d := range discarded {
		for _, tx := range d.Block.Transactions {
			if !included[tx.Hash.String()] {
				rolledBack = append(rolledBack, tx)
			}
		}
	}
	c.Pool.Remove(installed.Block.Transactions)
	returned := c.Pool.Return(rolledBack)
	c.Metrics.UpdateValidators(validators)
	c.log.Warnf("Rewound %d blocks to install %s at height %d, %d txs returned to the pool", len(discarded), installed.Block.ShortHash(), height, returned)
	return returned, nil
}
