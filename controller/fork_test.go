package controller

import (
	"context"
	"testing"

	"github.com/canopy-network/pulse/lib"
	"github.com/canopy-network/pulse/lib/crypto"
	"github.com/stretchr/testify/require"
)

func TestImportFinalizedBlock(t *testing.T) {
	quorum := []string{"alice", "bob", "carol", "dave"}
	tests := []struct {
		name     string
		detail   string
		commit   func(t *testing.T, n *testNode) *lib.Commit
		module   lib.ErrorModule
		code     lib.ErrorCode
		noFork   bool
		replaced bool
		rule     lib.ForkRule
	}{
		{
			name:   "higher fitness replaces the head",
			detail: "the foreign committee averaged 95 against 90, the canonical block is rolled back",
			commit: func(t *testing.T, n *testNode) *lib.Commit {
				return n.foreignCommit(t, 1, crypto.ZeroHash, 95, quorum...)
			},
			replaced: true,
			rule:     lib.ForkRuleFitness,
		},
		{
			name:   "lower fitness loses",
			detail: "the foreign committee averaged 85 against 90, the canonical block stays",
			commit: func(t *testing.T, n *testNode) *lib.Commit {
				return n.foreignCommit(t, 1, crypto.ZeroHash, 85, quorum...)
			},
			rule: lib.ForkRuleFitness,
		},
		{
			name:   "no competition",
			detail: "a block at a new height doesn't compete with anything",
			commit: func(t *testing.T, n *testNode) *lib.Commit {
				_, head := n.Head()
				return n.foreignCommit(t, 2, head, 95, quorum...)
			},
			noFork: true,
		},
		{
			name:   "below quorum",
			detail: "two of five approvals can't finalize a block",
			commit: func(t *testing.T, n *testNode) *lib.Commit {
				c := n.foreignCommit(t, 1, crypto.ZeroHash, 95, quorum...)
				c.Approvals, c.ApproveCount = c.Approvals[:2], 2
				return c
			},
			module: lib.ConsensusModule,
			code:   lib.CodeInvalidBlock,
		},
		{
			name:   "forged approval",
			detail: "an approval signed by the wrong key is rejected",
			commit: func(t *testing.T, n *testNode) *lib.Commit {
				c := n.foreignCommit(t, 1, crypto.ZeroHash, 95, quorum...)
				c.Approvals[1].Sign(n.keys["erin"])
				return c
			},
			module: lib.ConsensusModule,
			code:   lib.CodeForkRejected,
		},
		{
			name:   "unknown approver",
			detail: "every approver must be a registered validator",
			commit: func(t *testing.T, n *testNode) *lib.Commit {
				c := n.foreignCommit(t, 1, crypto.ZeroHash, 95, quorum...)
				c.Approvals[0].ValidatorID = "mallory"
				return c
			},
			module: lib.ConsensusModule,
			code:   lib.CodeForkRejected,
		},
		{
			name:   "forged proposer",
			detail: "the block must be signed by its proposer",
			commit: func(t *testing.T, n *testNode) *lib.Commit {
				c := n.foreignCommit(t, 1, crypto.ZeroHash, 95, quorum...)
				c.Block.Signature = n.keys["bob"].Sign(c.Block.Hash)
				return c
			},
			module: lib.ConsensusModule,
			code:   lib.CodeForkRejected,
		},
		{
			name:   "self declared committee of one",
			detail: "a lone validator can't finalize a perfect score block with a zero threshold and no approvals",
			commit: func(t *testing.T, n *testNode) *lib.Commit {
				return n.foreignCommitOf(1, crypto.ZeroHash, []lib.FitnessMember{{ID: "alice", Score: 100, Stake: 20000}}, 0)
			},
			module: lib.ConsensusModule,
			code:   lib.CodeInvalidBlock,
		},
		{
			name:   "self approved committee of one",
			detail: "a committee below the minimum size can't finalize even with its own approval",
			commit: func(t *testing.T, n *testNode) *lib.Commit {
				members := []lib.FitnessMember{{ID: "alice", Score: 100, Stake: 20000}}
				return n.foreignCommitOf(1, crypto.ZeroHash, members, n.Config.ByzantineThreshold, "alice")
			},
			module: lib.ConsensusModule,
			code:   lib.CodeForkRejected,
		},
		{
			name:   "lowered byzantine threshold",
			detail: "three of five approvals under a 51% threshold doesn't meet the local 67%",
			commit: func(t *testing.T, n *testNode) *lib.Commit {
				return n.foreignCommitOf(1, crypto.ZeroHash, n.foreignMembers(95), 51, "alice", "bob", "carol")
			},
			module: lib.ConsensusModule,
			code:   lib.CodeForkRejected,
		},
		{
			name:   "committee size mismatch",
			detail: "the quorum must be counted against every member of the fitness proof",
			commit: func(t *testing.T, n *testNode) *lib.Commit {
				c := n.foreignCommit(t, 1, crypto.ZeroHash, 95, quorum...)
				c.CommitteeSize = 4
				return c
			},
			module: lib.ConsensusModule,
			code:   lib.CodeForkRejected,
		},
		{
			name:   "approver outside the committee",
			detail: "erin is registered but not a member of the four member committee",
			commit: func(t *testing.T, n *testNode) *lib.Commit {
				return n.foreignCommitOf(1, crypto.ZeroHash, n.foreignMembers(95)[:4], n.Config.ByzantineThreshold, "alice", "bob", "carol", "erin")
			},
			module: lib.ConsensusModule,
			code:   lib.CodeForkRejected,
		},
		{
			name:   "unregistered member",
			detail: "every committee member must be a registered validator",
			commit: func(t *testing.T, n *testNode) *lib.Commit {
				members := n.foreignMembers(95)
				members[4].ID = "mallory"
				return n.foreignCommitOf(1, crypto.ZeroHash, members, n.Config.ByzantineThreshold, quorum...)
			},
			module: lib.ConsensusModule,
			code:   lib.CodeForkRejected,
		},
		{
			name:   "inflated member stake",
			detail: "a member can't declare more stake than the registry holds for it",
			commit: func(t *testing.T, n *testNode) *lib.Commit {
				members := n.foreignMembers(95)
				members[0].Stake = 1000000
				return n.foreignCommitOf(1, crypto.ZeroHash, members, n.Config.ByzantineThreshold, quorum...)
			},
			module: lib.ConsensusModule,
			code:   lib.CodeForkRejected,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			db := newTestStore(t)
			defer db.Close()
			n := newTestNode(t, db, testValidatorIDs...)
			tx := lib.NewTransaction("alice", "bob", 10, 1, nil)
			require.NoError(t, n.SubmitTransaction(tx))
			require.NoError(t, n.runEpoch(context.Background()))
			_, canonical := n.Head()
			commit := test.commit(t, n)
			res, err := n.ImportFinalizedBlock(commit)
			if test.code != 0 {
				require.True(t, lib.IsCode(err, test.module, test.code), test.detail)
				_, head := n.Head()
				require.Equal(t, canonical, head)
				return
			}
			require.NoError(t, err, test.detail)
			if test.noFork {
				require.Nil(t, res)
				return
			}
			require.NotNil(t, res)
			require.Equal(t, test.rule, res.Rule)
			require.Equal(t, test.replaced, res.Replaced)
			height, head := n.Head()
			require.EqualValues(t, 1, height)
			stored, e := n.Block(1)
			require.NoError(t, e)
			if test.replaced {
				require.Equal(t, []byte(commit.Block.Hash), head)
				require.Equal(t, []byte(commit.Block.Hash), []byte(stored.Block.Hash))
				// the rolled back transaction is pending again
				require.Equal(t, 1, res.ReturnedTxs)
				require.True(t, n.Pool.Contains(tx.Hash.String()))
			} else {
				require.Equal(t, canonical, head)
				require.Equal(t, canonical, []byte(stored.Block.Hash))
				require.Zero(t, res.ReturnedTxs)
				require.False(t, n.Pool.Contains(tx.Hash.String()))
			}
			resolutions, e := n.ForkResolutions()
			require.NoError(t, e)
			require.Len(t, resolutions, 1)
			require.Len(t, n.Bus.Filter(lib.EventForkResolved), 1)
			require.EqualValues(t, 1, n.GetState().Stats.Forks)
		})
	}
}

func TestImportReplacementIsRecoverable(t *testing.T) {
	db := newTestStore(t)
	defer db.Close()
	// no checkpoint, recovery replays from genesis
	config := newTestConfig()
	config.CheckpointIntervalEpochs = 10
	n := newTestNodeWithConfig(t, config, db, testValidatorIDs...)
	require.NoError(t, n.runEpoch(context.Background()))
	commit := n.foreignCommit(t, 1, crypto.ZeroHash, 95, "alice", "bob", "carol", "dave")
	res, err := n.ImportFinalizedBlock(commit)
	require.NoError(t, err)
	require.True(t, res.Replaced)
	// the chain continues on the installed block
	require.NoError(t, n.runEpoch(context.Background()))
	height, head := n.Head()
	require.EqualValues(t, 2, height)
	next, err := n.Block(2)
	require.NoError(t, err)
	require.Equal(t, []byte(commit.Block.Hash), []byte(next.Block.PreviousHash))
	// replaying the journal from genesis rebuilds the same registry
	restarted, err := New(config, db, nil, nil, lib.NewNullLogger())
	require.NoError(t, err)
	rec, err := restarted.RecoverFromCrash()
	require.NoError(t, err)
	require.Nil(t, rec.Checkpoint)
	require.Equal(t, 2, rec.Replayed)
	_, gotHead := restarted.Head()
	require.Equal(t, head, gotHead)
	require.Equal(t, n.Registry.StateHash(head), restarted.Registry.StateHash(gotHead))
}

func TestImportBelowCheckpoint(t *testing.T) {
	db := newTestStore(t)
	defer db.Close()
	n := newTestNode(t, db, testValidatorIDs...)
	// epoch 2 checkpoints height 2
	for i := 0; i < 2; i++ {
		require.NoError(t, n.runEpoch(context.Background()))
	}
	cps, err := n.Checkpoints()
	require.NoError(t, err)
	require.Len(t, cps, 1)
	_, canonical := n.Head()
	commit := n.foreignCommit(t, 1, crypto.ZeroHash, 95, "alice", "bob", "carol", "dave")
	_, err = n.ImportFinalizedBlock(commit)
	require.True(t, lib.IsCode(err, lib.ConsensusModule, lib.CodeForkRejected))
	_, head := n.Head()
	require.Equal(t, canonical, head)
	resolutions, err := n.ForkResolutions()
	require.NoError(t, err)
	require.Empty(t, resolutions)
}

func TestImportUnlinkedWinner(t *testing.T) {
	db := newTestStore(t)
	defer db.Close()
	n := newTestNode(t, db, testValidatorIDs...)
	require.NoError(t, n.runEpoch(context.Background()))
	// the winner builds on a parent this node never finalized
	commit := n.foreignCommit(t, 1, crypto.Hash([]byte("elsewhere")), 95, "alice", "bob", "carol", "dave")
	_, err := n.ImportFinalizedBlock(commit)
	require.True(t, lib.IsCode(err, lib.ConsensusModule, lib.CodeForkRejected))
	height, _ := n.Head()
	require.EqualValues(t, 1, height)
}
