package registry

import (
	"sync"
	"testing"

	"github.com/canopy-network/pulse/lib"
	"github.com/canopy-network/pulse/lib/crypto"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return New(lib.DefaultConsensusConfig(), lib.NewNullLogger())
}

func newTestValidator(t *testing.T, id string, stake uint64) *lib.Validator {
	pk, err := crypto.NewEd25519PrivateKey()
	require.NoError(t, err)
	return &lib.Validator{ID: id, PublicKey: pk.PublicKey().Bytes(), Stake: stake, FitnessScore: 80}
}

func TestRegister(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Register(newTestValidator(t, "alice", 10000)))
	tests := []struct {
		name      string
		detail    string
		validator func() *lib.Validator
		code      lib.ErrorCode
	}{
		{
			name:      "below minimum stake",
			detail:    "registration requires the minimum stake",
			validator: func() *lib.Validator { return newTestValidator(t, "bob", 9999) },
			code:      lib.CodeInsufficientStake,
		},
		{
			name:      "duplicate id",
			detail:    "validator ids are unique",
			validator: func() *lib.Validator { return newTestValidator(t, "alice", 20000) },
			code:      lib.CodeValidatorExists,
		},
		{
			name:      "empty id",
			detail:    "a validator must be named",
			validator: func() *lib.Validator { return newTestValidator(t, "", 20000) },
			code:      lib.CodeEmptyValidatorID,
		},
		{
			name:   "bad key",
			detail: "the public key must parse",
			validator: func() *lib.Validator {
				v := newTestValidator(t, "carol", 20000)
				v.PublicKey = []byte{1, 2, 3}
				return v
			},
			code: lib.CodeInvalidPublicKey,
		},
		{
			name:   "identity key",
			detail: "the identity point is not a usable ed25519 key",
			validator: func() *lib.Validator {
				v := newTestValidator(t, "carol", 20000)
				v.PublicKey = append([]byte{1}, make([]byte, 31)...)
				return v
			},
			code: lib.CodeInvalidPublicKey,
		},
		{
			name:   "score out of range",
			detail: "fitness scores are bounded by 100",
			validator: func() *lib.Validator {
				v := newTestValidator(t, "carol", 20000)
				v.FitnessScore = 101
				return v
			},
			code: lib.CodeInvalidScore,
		},
		{
			name:   "commission too high",
			detail: "commission is bounded",
			validator: func() *lib.Validator {
				v := newTestValidator(t, "carol", 20000)
				v.Commission = lib.MaxCommission + 1
				return v
			},
			code: lib.CodeInvalidCommission,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := r.Register(test.validator())
			require.Error(t, err)
			require.Equal(t, test.code, err.Code())
		})
	}
	require.Equal(t, 1, r.Len())
}

func TestRegisterStartsClean(t *testing.T) {
	r := newTestRegistry()
	v := newTestValidator(t, "alice", 10000)
	v.Offenses, v.Rewards, v.Status = 5, 100, lib.ValidatorJailed
	require.NoError(t, r.Register(v))
	got, err := r.Get("alice")
	require.NoError(t, err)
	require.True(t, got.IsActive())
	require.Zero(t, got.Offenses)
	require.Zero(t, got.Rewards)
	require.EqualValues(t, lib.MaxScore, got.Reputation)
	// the caller's value is not retained
	v.Stake = 1
	got, _ = r.Get("alice")
	require.EqualValues(t, 10000, got.Stake)
}

func TestUnregister(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Register(newTestValidator(t, "alice", 10000)))
	require.NoError(t, r.Unregister("alice"))
	require.False(t, r.Exists("alice"))
	require.Equal(t, lib.CodeValidatorNotExists, r.Unregister("alice").Code())
}

func TestRevokeRewards(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Register(newTestValidator(t, "alice", 10000)))
	require.NoError(t, r.AddRewards("alice", 300))
	require.NoError(t, r.RevokeRewards("alice", 100))
	v, err := r.Get("alice")
	require.NoError(t, err)
	require.EqualValues(t, 200, v.Rewards)
	// never below zero
	require.NoError(t, r.RevokeRewards("alice", 500))
	v, err = r.Get("alice")
	require.NoError(t, err)
	require.Zero(t, v.Rewards)
	// registration, the credit and both revocations are journaled
	require.Equal(t, 4, r.PendingChanges())
	require.Equal(t, lib.CodeValidatorNotExists, r.RevokeRewards("bob", 1).Code())
}

func TestSlashJailRelease(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Register(newTestValidator(t, "alice", 20000)))
	// slash 15% and 20 reputation
	v, err := r.ApplySlash("alice", 3000, 20)
	require.NoError(t, err)
	require.EqualValues(t, 17000, v.Stake)
	require.EqualValues(t, 80, v.Reputation)
	require.EqualValues(t, 1, v.Offenses)
	// jail for 10 epochs
	removed, err := r.Jail("alice", 11)
	require.NoError(t, err)
	require.False(t, removed)
	require.Empty(t, r.Active())
	// not yet released
	require.Empty(t, r.ReleaseExpired(10))
	// released at the end of the sentence
	require.Equal(t, []string{"alice"}, r.ReleaseExpired(11))
	require.Len(t, r.Active(), 1)
}

func TestJailPolicyRemoval(t *testing.T) {
	tests := []struct {
		name     string
		detail   string
		slashes  int
		amount   uint64
		expected bool
	}{
		{
			name:    "first offense",
			detail:  "a single offense with enough stake left only jails",
			slashes: 1,
			amount:  1000,
		},
		{
			name:     "max offenses",
			detail:   "reaching the maximum number of offenses removes the validator",
			slashes:  3,
			amount:   100,
			expected: true,
		},
		{
			name:     "stake below minimum",
			detail:   "falling below the minimum stake removes the validator",
			slashes:  1,
			amount:   15000,
			expected: true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r := newTestRegistry()
			require.NoError(t, r.Register(newTestValidator(t, "alice", 20000)))
			for i := 0; i < test.slashes; i++ {
				_, err := r.ApplySlash("alice", test.amount, 5)
				require.NoError(t, err)
			}
			removed, err := r.Jail("alice", 20)
			require.NoError(t, err)
			require.Equal(t, test.expected, removed)
			require.Equal(t, !test.expected, r.Exists("alice"))
		})
	}
}

func TestJournalReplay(t *testing.T) {
	r := newTestRegistry()
	r.SetEpoch(1)
	require.NoError(t, r.Register(newTestValidator(t, "alice", 20000)))
	require.NoError(t, r.Register(newTestValidator(t, "bob", 20000)))
	// a checkpoint-like snapshot
	snapshot, changes := r.SnapshotAndDrain()
	require.Len(t, changes, 2)
	require.Zero(t, r.PendingChanges())
	// more mutations after the snapshot
	r.SetEpoch(2)
	require.NoError(t, r.UpdateScores(map[string]uint64{"alice": 90, "bob": 70}))
	_, err := r.ApplySlash("bob", 3000, 20)
	require.NoError(t, err)
	require.NoError(t, r.AddRewards("alice", 500))
	require.NoError(t, r.Register(newTestValidator(t, "carol", 30000)))
	require.NoError(t, r.Unregister("bob"))
	live, changes := r.SnapshotAndDrain()
	for _, c := range changes {
		require.EqualValues(t, 2, c.Epoch)
	}
	// replaying the journal on the snapshot reproduces the live registry
	restored := newTestRegistry()
	restored.Restore(snapshot)
	require.NoError(t, restored.ApplyChanges(changes))
	require.Equal(t, live.Hash(), restored.Snapshot().Hash())
	head := crypto.Hash([]byte("head"))
	require.Equal(t, r.StateHash(head), restored.StateHash(head))
	// replay doesn't journal
	require.Zero(t, restored.PendingChanges())
}

func TestRequeue(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Register(newTestValidator(t, "alice", 20000)))
	_, changes := r.SnapshotAndDrain()
	require.NoError(t, r.AddRewards("alice", 1))
	r.Requeue(changes)
	_, got := r.SnapshotAndDrain()
	require.Len(t, got, 2)
	require.Equal(t, "register", got[0].Reason)
	require.Equal(t, "reward", got[1].Reason)
}

func TestApplyChangesCorrupt(t *testing.T) {
	r := newTestRegistry()
	err := r.ApplyChanges([]*lib.RegistryChange{{Kind: lib.ChangeUpsert, ValidatorID: "alice"}})
	require.Equal(t, lib.CodeCorruptState, err.Code())
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	r := newTestRegistry()
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, r.Register(newTestValidator(t, id, 20000)))
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(score uint64) {
			defer wg.Done()
			_ = r.UpdateScores(map[string]uint64{"a": score, "b": score})
		}(uint64(70 + i))
		go func() {
			defer wg.Done()
			require.Len(t, r.Active(), 4)
		}()
	}
	wg.Wait()
}
