package checkpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/canopy-network/pulse/lib"
	"github.com/canopy-network/pulse/lib/crypto"
	"github.com/canopy-network/pulse/registry"
	"github.com/canopy-network/pulse/store"
	"github.com/stretchr/testify/require"
)

var testIDs = []string{"alice", "bob", "carol", "dave"}

// testSigner signs honestly unless told to fail or to sign garbage
type testSigner struct {
	id      string
	key     crypto.PrivateKeyI
	fail    bool
	garbage bool
}

func (s *testSigner) ID() string { return s.id }

func (s *testSigner) SignCheckpoint(ctx context.Context, cp *lib.Checkpoint) ([]byte, error) {
	switch {
	case s.fail:
		return nil, errors.New("offline")
	case s.garbage:
		return s.key.Sign([]byte("something else")), nil
	}
	return s.key.Sign(cp.SignBytes()), nil
}

type testEnv struct {
	config   lib.ConsensusConfig
	store    *store.Store
	registry *registry.Registry
	manager  *Manager
	events   *lib.EventBus
	keys     map[string]crypto.PrivateKeyI
	height   uint64
	head     []byte
}

// newTestEnv() registers the test validators with equal stake; the ids in `bls` get BLS keys
func newTestEnv(t *testing.T, bls ...string) *testEnv {
	s, err := store.NewStoreInMemory(lib.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	config := lib.DefaultConsensusConfig()
	env := &testEnv{
		config:   config,
		store:    s,
		registry: registry.New(config, lib.NewNullLogger()),
		events:   lib.NewEventBus(100),
		keys:     make(map[string]crypto.PrivateKeyI),
		head:     crypto.ZeroHash,
	}
	env.manager = NewManager(config, env.registry, s, env.events, nil, lib.NewNullLogger())
	isBLS := make(map[string]bool)
	for _, id := range bls {
		isBLS[id] = true
	}
	for _, id := range testIDs {
		var (
			key crypto.PrivateKeyI
			e   error
		)
		if isBLS[id] {
			key, e = crypto.NewBLS12381PrivateKey()
		} else {
			key, e = crypto.NewEd25519PrivateKey()
		}
		require.NoError(t, e)
		env.keys[id] = key
		require.NoError(t, env.registry.Register(&lib.Validator{ID: id, PublicKey: key.PublicKey().Bytes(), Stake: 10000, FitnessScore: 80}))
	}
	return env
}

// signers() returns honest signers for the ids
func (e *testEnv) signers(ids ...string) (out []SignerI) {
	for _, id := range ids {
		out = append(out, &testSigner{id: id, key: e.keys[id]})
	}
	return
}

// block() builds a signed block on top of the head
func (e *testEnv) block(t *testing.T, epoch uint64, previous []byte) *lib.Block {
	members := []lib.FitnessMember{{ID: "alice", Score: 80, Stake: 10000}, {ID: "bob", Score: 80, Stake: 10000}, {ID: "carol", Score: 80, Stake: 10000}}
	b := &lib.Block{
		Height:       e.height + 1,
		Epoch:        epoch,
		ProposerID:   "alice",
		PreviousHash: previous,
		Transactions: []*lib.Transaction{},
		FitnessProof: lib.NewFitnessProof(epoch, 0, 75, members, "alice", e.keys["alice"]),
		Time:         lib.NowMS(),
	}
	b.TxRoot = lib.TxRoot(b.Transactions)
	b.Sign(e.keys["alice"])
	return b
}

// commit() finalizes a block the way the controller does: drain the journal, hash the state and persist
func (e *testEnv) commit(t *testing.T, epoch uint64) *lib.Commit {
	b := e.block(t, epoch, e.head)
	c := &lib.Commit{Block: b, CommitteeSize: 3, Threshold: 67}
	for _, id := range []string{"alice", "bob", "carol"} {
		v := &lib.Vote{ValidatorID: id, BlockHash: b.Hash, Epoch: epoch, Approve: true, Time: lib.NowMS()}
		v.Sign(e.keys[id])
		c.Approvals = append(c.Approvals, v)
	}
	c.ApproveCount = uint64(len(c.Approvals))
	e.registry.SetEpoch(epoch)
	require.NoError(t, e.registry.UpdateScore("bob", 80+epoch%20))
	validators, changes := e.registry.SnapshotAndDrain()
	c.Changes, c.StateHash = changes, lib.StateHash(validators, b.Hash)
	require.NoError(t, e.store.AppendBlock(c))
	e.height, e.head = b.Height, b.Hash
	return c
}

func TestCreate(t *testing.T) {
	tests := []struct {
		name       string
		detail     string
		bls        []string
		signers    func(e *testEnv) []SignerI
		code       lib.ErrorCode
		signatures int
		aggregated []string
	}{
		{
			name:       "everyone signs",
			detail:     "every Active validator signs with ed25519",
			signers:    func(e *testEnv) []SignerI { return e.signers(testIDs...) },
			signatures: 4,
		},
		{
			name:       "mixed keys",
			detail:     "the BLS signers are additionally aggregated",
			bls:        []string{"bob", "dave"},
			signers:    func(e *testEnv) []SignerI { return e.signers(testIDs...) },
			signatures: 4,
			aggregated: []string{"bob", "dave"},
		},
		{
			name:       "three quarters",
			detail:     "75% of the stake meets the 67% threshold",
			bls:        []string{"carol"},
			signers:    func(e *testEnv) []SignerI { return e.signers("alice", "bob", "carol") },
			signatures: 3,
			aggregated: []string{"carol"},
		},
		{
			name:    "half",
			detail:  "50% of the stake is below the threshold",
			signers: func(e *testEnv) []SignerI { return e.signers("alice", "bob") },
			code:    lib.CodeCheckpointThreshold,
		},
		{
			name:   "bad signatures are dropped",
			detail: "a signature over other bytes doesn't count",
			signers: func(e *testEnv) []SignerI {
				return append(e.signers("alice", "bob", "carol"), &testSigner{id: "dave", key: e.keys["dave"], garbage: true})
			},
			signatures: 3,
		},
		{
			name:   "offline signers are dropped",
			detail: "a failing signer only costs its own stake",
			signers: func(e *testEnv) []SignerI {
				return append(e.signers("alice", "bob"), &testSigner{id: "carol", fail: true}, &testSigner{id: "dave", fail: true})
			},
			code: lib.CodeCheckpointThreshold,
		},
		{
			name:   "unknown signers are ignored",
			detail: "only Active validators may sign",
			signers: func(e *testEnv) []SignerI {
				key, _ := crypto.NewEd25519PrivateKey()
				return append(e.signers("alice", "bob", "carol"), &testSigner{id: "mallory", key: key})
			},
			signatures: 3,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			env := newTestEnv(t, test.bls...)
			env.commit(t, 10)
			cp, err := env.manager.Create(context.Background(), 10, env.height, env.head, test.signers(env))
			if test.code != 0 {
				require.Equal(t, test.code, err.Code())
				require.Nil(t, cp)
				latest, e := env.store.LoadLatestCheckpoint()
				require.NoError(t, e)
				require.Nil(t, latest)
				require.EqualValues(t, 1, env.manager.Stats().Failed)
				return
			}
			require.NoError(t, err)
			require.Len(t, cp.Signatures, test.signatures)
			require.EqualValues(t, uint64(test.signatures)*10000, cp.TotalStakeSigned)
			require.EqualValues(t, 40000, cp.TotalStake)
			require.Equal(t, lib.HexBytes(lib.StateHash(env.registry.Snapshot(), env.head)), cp.StateHash)
			if test.aggregated == nil {
				require.Empty(t, cp.AggregateSignature)
			} else {
				require.Equal(t, test.aggregated, cp.AggregateSigners)
				require.Len(t, cp.AggregateSignature, crypto.BLS12381SignatureSize)
			}
			// the stored checkpoint verifies
			stored, e := env.manager.Latest()
			require.NoError(t, e)
			require.EqualValues(t, 10, stored.Epoch)
			require.NoError(t, env.manager.Verify(stored))
			require.Len(t, env.events.Filter(lib.EventCheckpointCreated), 1)
			require.EqualValues(t, 1, env.manager.Stats().Created)
		})
	}
}

func TestCreateSkipsJailed(t *testing.T) {
	env := newTestEnv(t)
	env.commit(t, 1)
	removed, err := env.registry.Jail("dave", 20)
	require.NoError(t, err)
	require.False(t, removed)
	// the jailed stake doesn't count toward the total and dave's signature is ignored
	cp, err := env.manager.Create(context.Background(), 10, env.height, env.head, env.signers(testIDs...))
	require.NoError(t, err)
	require.Len(t, cp.Signatures, 3)
	require.EqualValues(t, 30000, cp.TotalStake)
	require.Len(t, cp.Validators, 4)
	require.NoError(t, env.manager.Verify(cp))
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name   string
		detail string
		mutate func(cp *lib.Checkpoint)
	}{
		{
			name:   "valid",
			detail: "an untouched checkpoint verifies",
			mutate: func(cp *lib.Checkpoint) {},
		},
		{
			name:   "tampered head",
			detail: "changing the signed fields invalidates the signatures",
			mutate: func(cp *lib.Checkpoint) { cp.Height++ },
		},
		{
			name:   "duplicate signature",
			detail: "a signer can't be counted twice",
			mutate: func(cp *lib.Checkpoint) { cp.Signatures = append(cp.Signatures, cp.Signatures[0]) },
		},
		{
			name:   "foreign signature",
			detail: "a signature from outside the snapshot is corrupt",
			mutate: func(cp *lib.Checkpoint) {
				cp.Signatures[0] = &lib.CheckpointSignature{ValidatorID: "mallory", Signature: cp.Signatures[0].Signature}
			},
		},
		{
			name:   "overstated signed stake",
			detail: "the declared signed stake must match the signatures",
			mutate: func(cp *lib.Checkpoint) { cp.TotalStakeSigned += 1 },
		},
		{
			name:   "understated total stake",
			detail: "the total stake must match the snapshot",
			mutate: func(cp *lib.Checkpoint) { cp.TotalStake = 10000 },
		},
		{
			name:   "below threshold",
			detail: "dropping signatures below the threshold is corrupt",
			mutate: func(cp *lib.Checkpoint) {
				cp.Signatures, cp.AggregateSignature, cp.TotalStakeSigned = cp.Signatures[:1], nil, 10000
			},
		},
		{
			name:   "bad aggregate",
			detail: "the aggregate must verify against the bitmap",
			mutate: func(cp *lib.Checkpoint) { cp.AggregateBitmap = []byte{0x01} },
		},
		{
			name:   "malformed hashes",
			detail: "the block and state hashes must be full hashes",
			mutate: func(cp *lib.Checkpoint) { cp.StateHash = cp.StateHash[:4] },
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			env := newTestEnv(t, "carol", "dave")
			env.commit(t, 10)
			cp, err := env.manager.Create(context.Background(), 10, env.height, env.head, env.signers(testIDs...))
			require.NoError(t, err)
			test.mutate(cp)
			err = env.manager.Verify(cp)
			if test.name == "valid" {
				require.NoError(t, err)
				return
			}
			require.Equal(t, lib.CodeCorruptCheckpoint, err.Code())
		})
	}
}

func TestPruneCheckpoints(t *testing.T) {
	env := newTestEnv(t)
	env.manager.config.MaxCheckpoints = 2
	for _, epoch := range []uint64{10, 20, 30} {
		env.commit(t, epoch)
		require.True(t, env.manager.Due(epoch))
		_, err := env.manager.Create(context.Background(), epoch, env.height, env.head, env.signers(testIDs...))
		require.NoError(t, err)
	}
	list, err := env.manager.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.EqualValues(t, 20, list[0].Epoch)
	require.EqualValues(t, 30, list[1].Epoch)
	cp, err := env.manager.Get(10)
	require.NoError(t, err)
	require.Nil(t, cp)
	require.False(t, env.manager.Due(0))
	require.False(t, env.manager.Due(15))
}

func TestRecover(t *testing.T) {
	tests := []struct {
		name       string
		detail     string
		checkpoint bool
		corrupt    func(t *testing.T, e *testEnv, cp *lib.Checkpoint)
		code       lib.ErrorCode
		replayed   int
	}{
		{
			name:       "checkpoint and replay",
			detail:     "the snapshot is restored and the commits after it replayed",
			checkpoint: true,
			replayed:   2,
		},
		{
			name:     "from genesis",
			detail:   "without a checkpoint every commit is replayed on an empty registry",
			replayed: 4,
		},
		{
			name:       "checkpoint below threshold",
			detail:     "a checkpoint that lost its signatures is corrupt",
			checkpoint: true,
			corrupt: func(t *testing.T, e *testEnv, cp *lib.Checkpoint) {
				cp.Signatures, cp.TotalStakeSigned = cp.Signatures[:2], 20000
				require.NoError(t, e.store.StoreCheckpoint(cp))
			},
			code: lib.CodeCorruptCheckpoint,
		},
		{
			name:       "snapshot doesn't match the state hash",
			detail:     "a snapshot modified after signing fails the state hash check",
			checkpoint: true,
			corrupt: func(t *testing.T, e *testEnv, cp *lib.Checkpoint) {
				cp.Validators[0].FitnessScore = 1
				require.NoError(t, e.store.StoreCheckpoint(cp))
			},
			code: lib.CodeCorruptState,
		},
		{
			name:       "tampered commit state",
			detail:     "a commit whose state hash doesn't match the replayed registry",
			checkpoint: true,
			corrupt: func(t *testing.T, e *testEnv, cp *lib.Checkpoint) {
				c, err := e.store.LoadCommit(3)
				require.NoError(t, err)
				c.StateHash = crypto.Hash([]byte("forged"))
				require.NoError(t, e.store.AppendBlock(c))
			},
			code: lib.CodeCorruptState,
		},
		{
			name:       "tampered commit changes",
			detail:     "a commit whose journaled changes were altered",
			checkpoint: true,
			corrupt: func(t *testing.T, e *testEnv, cp *lib.Checkpoint) {
				c, err := e.store.LoadCommit(4)
				require.NoError(t, err)
				c.Changes[0].Validator.Stake = 1
				require.NoError(t, e.store.AppendBlock(c))
			},
			code: lib.CodeCorruptState,
		},
		{
			name:       "broken linkage",
			detail:     "a commit that doesn't link to its parent",
			checkpoint: true,
			corrupt: func(t *testing.T, e *testEnv, cp *lib.Checkpoint) {
				c, err := e.store.LoadCommit(4)
				require.NoError(t, err)
				e.height = 3
				forged := e.block(t, c.Block.Epoch, crypto.Hash([]byte("elsewhere")))
				c.Block = forged
				for _, v := range c.Approvals {
					v.BlockHash = forged.Hash
				}
				require.NoError(t, e.store.AppendBlock(c))
			},
			code: lib.CodeCorruptState,
		},
		{
			name:       "missing height",
			detail:     "a gap in the persisted chain is corrupt",
			checkpoint: true,
			corrupt: func(t *testing.T, e *testEnv, cp *lib.Checkpoint) {
				c, err := e.store.LoadCommit(4)
				require.NoError(t, err)
				require.NoError(t, e.store.RewindTo(3))
				require.NoError(t, e.store.AppendBlock(c))
			},
			code: lib.CodeCorruptState,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			env := newTestEnv(t, "dave")
			env.commit(t, 1)
			env.commit(t, 2)
			var cp *lib.Checkpoint
			if test.checkpoint {
				var err lib.ErrorI
				cp, err = env.manager.Create(context.Background(), 10, env.height, env.head, env.signers(testIDs...))
				require.NoError(t, err)
			}
			env.commit(t, 3)
			env.commit(t, 4)
			expected, head := lib.StateHash(env.registry.Snapshot(), env.head), env.head
			if test.corrupt != nil {
				test.corrupt(t, env, cp)
			}
			// crash: a fresh registry over the same store
			reg := registry.New(env.config, lib.NewNullLogger())
			manager := NewManager(env.config, reg, env.store, env.events, nil, lib.NewNullLogger())
			rec, err := manager.Recover()
			if test.code != 0 {
				require.Equal(t, test.code, err.Code())
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.replayed, rec.Replayed)
			require.EqualValues(t, 4, rec.Height)
			require.EqualValues(t, 4, rec.Epoch)
			require.Equal(t, lib.HexBytes(head), rec.HeadHash)
			require.Equal(t, expected, reg.StateHash(rec.HeadHash))
			require.EqualValues(t, 1, manager.Stats().Recoveries)
			require.Len(t, env.events.Filter(lib.EventRecoveryCompleted), 1)
		})
	}
}

func TestRecoverNothingPersisted(t *testing.T) {
	env := newTestEnv(t)
	rec, err := env.manager.Recover()
	require.NoError(t, err)
	require.Zero(t, rec.Height)
	require.Zero(t, rec.Replayed)
	// the registry is left as it was
	require.Equal(t, 4, env.registry.Len())
}
