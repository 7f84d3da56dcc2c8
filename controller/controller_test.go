package controller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/canopy-network/pulse/bft"
	"github.com/canopy-network/pulse/lib"
	"github.com/canopy-network/pulse/lib/crypto"
	"github.com/canopy-network/pulse/store"
	"github.com/stretchr/testify/require"
)

var testValidatorIDs = []string{"alice", "bob", "carol", "dave", "erin"}

// flakyStore fails every append while `fail` is set
type flakyStore struct {
	*store.Store
	fail    atomic.Bool
	appends atomic.Int64
}

func (s *flakyStore) AppendBlock(c *lib.Commit) lib.ErrorI {
	s.appends.Add(1)
	if s.fail.Load() {
		return lib.ErrStoreSet(errors.New("disk full"))
	}
	return s.Store.AppendBlock(c)
}

// fixedScorer reports the same score for every validator and doesn't accept reports
type fixedScorer struct{ score uint64 }

func (s *fixedScorer) Score(string) (uint64, lib.ErrorI) { return s.score, nil }

func newTestConfig() lib.Config {
	config := lib.DefaultConfig()
	config.StoreConfig.InMemory = true
	config.CommitteeSize, config.MinCommitteeSize = 5, 3
	config.ProposalTimeoutMS, config.VotingTimeoutMS, config.FinalityTimeoutMS = 2000, 2000, 1000
	config.EpochDurationMS = 20
	config.CheckpointIntervalEpochs = 2
	return config
}

func newTestStore(t *testing.T) *flakyStore {
	db, err := store.NewStoreInMemory(lib.NewNullLogger())
	require.NoError(t, err)
	return &flakyStore{Store: db}
}

type testNode struct {
	*Controller
	db   *flakyStore
	keys map[string]crypto.PrivateKeyI
}

// newTestNode() creates a controller over the store and registers the validators with in process keys and a
// reported score of 90
func newTestNode(t *testing.T, db *flakyStore, ids ...string) *testNode {
	return newTestNodeWithConfig(t, newTestConfig(), db, ids...)
}

func newTestNodeWithConfig(t *testing.T, config lib.Config, db *flakyStore, ids ...string) *testNode {
	c, err := New(config, db, nil, nil, lib.NewNullLogger())
	require.NoError(t, err)
	n := &testNode{Controller: c, db: db, keys: make(map[string]crypto.PrivateKeyI)}
	for _, id := range ids {
		pk, e := crypto.NewEd25519PrivateKey()
		require.NoError(t, e)
		n.keys[id] = pk
		require.NoError(t, c.RegisterValidator(&lib.Validator{ID: id, Stake: 20000, FitnessScore: 80}, pk))
		require.NoError(t, c.ReportScore(id, 90))
	}
	return n
}

// foreignCommit() builds a commit finalized elsewhere by the committee of every test validator, all with `score`
func (n *testNode) foreignCommit(t *testing.T, height uint64, previous []byte, score uint64, approvers ...string) *lib.Commit {
	commit := n.foreignCommitOf(height, previous, n.foreignMembers(score), n.Config.ByzantineThreshold, approvers...)
	require.NoError(t, commit.Check())
	return commit
}

// foreignMembers() declares every test validator as a member with `score`
func (n *testNode) foreignMembers(score uint64) []lib.FitnessMember {
	members := make([]lib.FitnessMember, 0, len(testValidatorIDs))
	for _, id := range testValidatorIDs {
		members = append(members, lib.FitnessMember{ID: id, Score: score, Stake: 20000})
	}
	return members
}

// foreignCommitOf() builds a commit of a block alice proposed with the declared committee, without checking it
func (n *testNode) foreignCommitOf(height uint64, previous []byte, members []lib.FitnessMember, threshold uint64, approvers ...string) *lib.Commit {
	b := bft.NewProposal(&bft.ProposalRequest{
		Height:       height,
		Epoch:        height,
		PreviousHash: previous,
		Members:      members,
		Threshold:    n.Config.FitnessThreshold,
	}, "alice", n.keys["alice"])
	commit := &lib.Commit{Block: b, CommitteeSize: uint64(len(members)), Threshold: threshold}
	for _, id := range approvers {
		v := &lib.Vote{ValidatorID: id, BlockHash: b.Hash, Epoch: b.Epoch, Round: b.Round, Approve: true, Time: lib.NowMS()}
		v.Sign(n.keys[id])
		commit.Approvals = append(commit.Approvals, v)
	}
	commit.ApproveCount = uint64(len(commit.Approvals))
	return commit
}

func TestRegisterValidator(t *testing.T) {
	other, err := crypto.NewEd25519PrivateKey()
	require.NoError(t, err)
	tests := []struct {
		name      string
		detail    string
		validator *lib.Validator
		key       bool
		module    lib.ErrorModule
		code      lib.ErrorCode
	}{
		{
			name:      "key fills public key",
			detail:    "a validator registered with a private key takes its public key",
			validator: &lib.Validator{ID: "frank", Stake: 20000},
			key:       true,
		},
		{
			name:      "mismatched key",
			detail:    "the private key must match the declared public key",
			validator: &lib.Validator{ID: "frank", Stake: 20000, PublicKey: other.PublicKey().Bytes()},
			key:       true,
			module:    lib.RegistryModule,
			code:      lib.CodeInvalidPublicKey,
		},
		{
			name:      "without key",
			detail:    "a validator without a private key is registered but doesn't participate in process",
			validator: &lib.Validator{ID: "frank", Stake: 20000, PublicKey: other.PublicKey().Bytes()},
		},
		{
			name:      "duplicate",
			detail:    "ids are unique",
			validator: &lib.Validator{ID: "alice", Stake: 20000},
			key:       true,
			module:    lib.RegistryModule,
			code:      lib.CodeValidatorExists,
		},
		{
			name:      "insufficient stake",
			detail:    "the stake must meet the minimum",
			validator: &lib.Validator{ID: "frank", Stake: 1},
			key:       true,
			module:    lib.RegistryModule,
			code:      lib.CodeInsufficientStake,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			db := newTestStore(t)
			defer db.Close()
			n := newTestNode(t, db, "alice")
			var key crypto.PrivateKeyI
			if test.key {
				pk, e := crypto.NewEd25519PrivateKey()
				require.NoError(t, e)
				key = pk
			}
			err := n.RegisterValidator(test.validator, key)
			if test.code != 0 {
				require.True(t, lib.IsCode(err, test.module, test.code), test.detail)
				require.Len(t, n.Validators(), 1)
				return
			}
			require.NoError(t, err, test.detail)
			v, e := n.Validator("frank")
			require.NoError(t, e)
			require.Equal(t, lib.ValidatorActive, v.Status)
			require.Equal(t, test.key, n.Engine.Participant("frank") != nil)
			if test.key {
				require.Equal(t, key.PublicKey().Bytes(), []byte(v.PublicKey))
			}
			require.Len(t, n.Bus.Filter(lib.EventValidatorRegistered), 2)
		})
	}
}

func TestUnregisterValidator(t *testing.T) {
	db := newTestStore(t)
	defer db.Close()
	n := newTestNode(t, db, testValidatorIDs...)
	require.NoError(t, n.UnregisterValidator("erin"))
	require.Nil(t, n.Engine.Participant("erin"))
	require.Len(t, n.Validators(), 4)
	require.Len(t, n.Bus.Filter(lib.EventValidatorRemoved), 1)
	// the score book forgets the validator
	_, err := n.scorer.Score("erin")
	require.Error(t, err)
	require.True(t, lib.IsCode(n.UnregisterValidator("erin"), lib.RegistryModule, lib.CodeValidatorNotExists))
}

func TestKeys(t *testing.T) {
	db := newTestStore(t)
	defer db.Close()
	n := newTestNode(t, db, testValidatorIDs...)
	require.NoError(t, n.DetachKey("bob"))
	require.Nil(t, n.Engine.Participant("bob"))
	require.True(t, lib.IsCode(n.DetachKey("bob"), lib.ConsensusModule, lib.CodeNoParticipant))
	require.True(t, lib.IsCode(n.AttachKey("bob", n.keys["alice"]), lib.RegistryModule, lib.CodeInvalidPublicKey))
	require.True(t, lib.IsCode(n.AttachKey("nobody", n.keys["bob"]), lib.RegistryModule, lib.CodeValidatorNotExists))
	require.NoError(t, n.AttachKey("bob", n.keys["bob"]))
	require.NotNil(t, n.Engine.Participant("bob"))
}

func TestReportScore(t *testing.T) {
	db := newTestStore(t)
	defer db.Close()
	n := newTestNode(t, db, "alice")
	require.NoError(t, n.ReportScore("alice", 100))
	score, err := n.scorer.Score("alice")
	require.NoError(t, err)
	require.EqualValues(t, 100, score)
	require.True(t, lib.IsCode(n.ReportScore("alice", 101), lib.RegistryModule, lib.CodeInvalidScore))
	require.True(t, lib.IsCode(n.ReportScore("nobody", 50), lib.RegistryModule, lib.CodeValidatorNotExists))
	// a scorer that computes its own scores doesn't take reports
	c, err := New(newTestConfig(), db, &fixedScorer{score: 90}, nil, lib.NewNullLogger())
	require.NoError(t, err)
	require.True(t, lib.IsCode(c.ReportScore("alice", 50), lib.ConsensusModule, lib.CodeScoreReports))
}

func TestNewInvalidConfig(t *testing.T) {
	db := newTestStore(t)
	defer db.Close()
	config := newTestConfig()
	config.ByzantineThreshold = 50
	_, err := New(config, db, nil, nil, lib.NewNullLogger())
	require.True(t, lib.IsCode(err, lib.MainModule, lib.CodeConfig))
}

func TestRunEpoch(t *testing.T) {
	db := newTestStore(t)
	defer db.Close()
	n := newTestNode(t, db, testValidatorIDs...)
	tx := lib.NewTransaction("alice", "bob", 10, 1, nil)
	require.NoError(t, n.SubmitTransaction(tx))
	require.NoError(t, n.runEpoch(context.Background()))
	// the block is the head and durable
	height, head := n.Head()
	require.EqualValues(t, 1, height)
	commit, err := n.Block(1)
	require.NoError(t, err)
	require.NotNil(t, commit)
	require.Equal(t, head, []byte(commit.Block.Hash))
	require.Len(t, commit.Block.Transactions, 1)
	require.Equal(t, n.Registry.StateHash(head), []byte(commit.StateHash))
	require.Zero(t, n.Registry.PendingChanges())
	require.Zero(t, n.Pool.Len())
	// the summary and the state report the round
	summary := n.GetCurrentRoundSummary()
	require.NotNil(t, summary)
	require.Equal(t, bft.OutcomeFinalized, summary.Outcome)
	state := n.GetState()
	require.EqualValues(t, 1, state.Epoch)
	require.EqualValues(t, 1, state.Height)
	require.EqualValues(t, 1, state.Stats.FinalizedBlocks)
	require.EqualValues(t, 1, state.Stats.TransactionsProcessed)
	require.Equal(t, 5, state.ActiveValidators)
	require.Equal(t, 5, state.Participants)
	require.Equal(t, "Idle", state.Phase)
	require.Equal(t, HealthHealthy, state.Health.Status)
	blocks, err := n.Blocks(0, 10)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
}

func TestRunEpochInsufficientCommittee(t *testing.T) {
	db := newTestStore(t)
	defer db.Close()
	n := newTestNode(t, db, "alice", "bob")
	// an aborted round is not fatal
	require.NoError(t, n.runEpoch(context.Background()))
	height, _ := n.Head()
	require.Zero(t, height)
	state := n.GetState()
	require.EqualValues(t, 1, state.Stats.EpochsFailed)
	// no votes were cast either
	require.ElementsMatch(t, []HealthIssue{IssueLowConsensus, IssueLowParticipation, IssueInsufficientValidators}, state.Health.Issues)
	require.Equal(t, HealthCritical, state.Health.Status)
	require.EqualValues(t, 40, state.Health.Score)
}

func TestCommitStaleHead(t *testing.T) {
	db := newTestStore(t)
	defer db.Close()
	n := newTestNode(t, db, testValidatorIDs...)
	commit := n.foreignCommit(t, 2, crypto.ZeroHash, 90, "alice", "bob", "carol", "dave")
	require.True(t, lib.IsCode(n.Commit(context.Background(), commit), lib.ConsensusModule, lib.CodeStaleHead))
	require.True(t, lib.IsCode(n.Commit(context.Background(), nil), lib.MainModule, lib.CodeNilBlock))
}

func TestStartStop(t *testing.T) {
	db := newTestStore(t)
	defer db.Close()
	n := newTestNode(t, db, testValidatorIDs...)
	require.True(t, lib.IsCode(n.Stop(), lib.ConsensusModule, lib.CodeNotRunning))
	h, err := n.Start(context.Background())
	require.NoError(t, err)
	_, err = n.Start(context.Background())
	require.True(t, lib.IsCode(err, lib.ConsensusModule, lib.CodeAlreadyRunning))
	require.Eventually(t, func() bool {
		height, _ := n.Head()
		return height >= 2
	}, 5*time.Second, 10*time.Millisecond)
	// a checkpoint is taken every second epoch
	require.Eventually(t, func() bool {
		cps, e := n.Checkpoints()
		return e == nil && len(cps) > 0
	}, 5*time.Second, 10*time.Millisecond)
	require.True(t, n.Running())
	require.NoError(t, n.Stop())
	<-h.Done()
	require.NoError(t, h.Err())
	require.False(t, n.Running())
	require.True(t, lib.IsCode(n.Stop(), lib.ConsensusModule, lib.CodeNotRunning))
	// the scheduler may be restarted
	h, err = n.Start(context.Background())
	require.NoError(t, err)
	h.Stop()
}

func TestStartContextCancel(t *testing.T) {
	db := newTestStore(t)
	defer db.Close()
	n := newTestNode(t, db, testValidatorIDs...)
	ctx, cancel := context.WithCancel(context.Background())
	h, err := n.Start(ctx)
	require.NoError(t, err)
	cancel()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("the scheduler didn't exit")
	}
	require.NoError(t, h.Err())
	require.Nil(t, n.Halted())
}

func TestPersistenceFailureHalts(t *testing.T) {
	db := newTestStore(t)
	defer db.Close()
	n := newTestNode(t, db, testValidatorIDs...)
	db.fail.Store(true)
	h, err := n.Start(context.Background())
	require.NoError(t, err)
	select {
	case <-h.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("the scheduler didn't halt")
	}
	require.True(t, lib.IsCode(h.Err(), lib.StorageModule, lib.CodePersistenceFailure))
	require.True(t, lib.IsCode(n.Halted(), lib.StorageModule, lib.CodePersistenceFailure))
	// every attempt failed, and at least one was retried
	require.GreaterOrEqual(t, db.appends.Load(), int64(2))
	height, _ := n.Head()
	require.Zero(t, height)
	// the registry changes weren't lost
	require.NotZero(t, n.Registry.PendingChanges())
	require.Len(t, n.Bus.Filter(lib.EventSchedulerHalted), 1)
	require.NotEmpty(t, n.GetState().Halted)
	// a halted node refuses to start until it recovers
	_, err = n.Start(context.Background())
	require.True(t, lib.IsCode(err, lib.ConsensusModule, lib.CodeHalted))
	db.fail.Store(false)
	_, err = n.RecoverFromCrash()
	require.NoError(t, err)
	require.Nil(t, n.Halted())
}

func TestRecoverFromCrash(t *testing.T) {
	db := newTestStore(t)
	defer db.Close()
	n := newTestNode(t, db, testValidatorIDs...)
	for i := 0; i < 3; i++ {
		require.NoError(t, n.runEpoch(context.Background()))
	}
	height, head := n.Head()
	require.EqualValues(t, 3, height)
	// epoch 2 was checkpointed
	cps, err := n.Checkpoints()
	require.NoError(t, err)
	require.Len(t, cps, 1)
	// a fresh node over the same store rebuilds the registry and the head
	restarted, err := New(newTestConfig(), db, nil, nil, lib.NewNullLogger())
	require.NoError(t, err)
	rec, err := restarted.RecoverFromCrash()
	require.NoError(t, err)
	require.NotNil(t, rec.Checkpoint)
	require.Equal(t, 1, rec.Replayed)
	gotHeight, gotHead := restarted.Head()
	require.Equal(t, height, gotHeight)
	require.Equal(t, head, gotHead)
	require.Equal(t, n.Registry.StateHash(head), restarted.Registry.StateHash(gotHead))
	require.EqualValues(t, 3, restarted.GetState().Epoch)
	// the validators rejoin with their keys and the chain continues
	for id, key := range n.keys {
		require.NoError(t, restarted.AttachKey(id, key))
		require.NoError(t, restarted.ReportScore(id, 90))
	}
	require.NoError(t, restarted.runEpoch(context.Background()))
	gotHeight, _ = restarted.Head()
	require.EqualValues(t, 4, gotHeight)
}

func TestRecoverWhileRunning(t *testing.T) {
	db := newTestStore(t)
	defer db.Close()
	n := newTestNode(t, db, testValidatorIDs...)
	h, err := n.Start(context.Background())
	require.NoError(t, err)
	defer h.Stop()
	_, err = n.RecoverFromCrash()
	require.True(t, lib.IsCode(err, lib.ConsensusModule, lib.CodeAlreadyRunning))
}

func TestSubmit(t *testing.T) {
	db := newTestStore(t)
	defer db.Close()
	n := newTestNode(t, db, testValidatorIDs...)
	tx := lib.NewTransaction("alice", "bob", 10, 1, nil)
	require.NoError(t, n.SubmitTransaction(tx))
	require.True(t, lib.IsCode(n.SubmitTransaction(tx), lib.MainModule, lib.CodeDuplicateTransaction))
	require.True(t, lib.IsCode(n.SubmitTransaction(nil), lib.MainModule, lib.CodeInvalidTransaction))
	require.True(t, lib.IsCode(n.SubmitProposal(nil), lib.MainModule, lib.CodeNilBlock))
	// messages outside of a round are refused
	commit := n.foreignCommit(t, 1, crypto.ZeroHash, 90, "alice", "bob", "carol", "dave")
	require.True(t, lib.IsCode(n.SubmitProposal(commit.Block), lib.ConsensusModule, lib.CodeNoActiveRound))
	require.True(t, lib.IsCode(n.SubmitVote(commit.Approvals[0]), lib.ConsensusModule, lib.CodeNoActiveRound))
}
