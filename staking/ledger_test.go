package staking

import (
	"testing"

	"github.com/canopy-network/pulse/lib"
	"github.com/canopy-network/pulse/lib/crypto"
	"github.com/canopy-network/pulse/registry"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T, stakes map[string]uint64) (*Ledger, *registry.Registry) {
	reg := registry.New(lib.DefaultConsensusConfig(), lib.NewNullLogger())
	for id, stake := range stakes {
		pk, err := crypto.NewEd25519PrivateKey()
		require.NoError(t, err)
		require.NoError(t, reg.Register(&lib.Validator{ID: id, PublicKey: pk.PublicKey().Bytes(), Stake: stake, FitnessScore: 80}))
	}
	return NewLedger(reg, lib.DefaultStakingConfig(), lib.NewNullLogger()), reg
}

func TestSlash(t *testing.T) {
	tests := []struct {
		name       string
		detail     string
		kind       lib.OffenseKind
		amount     uint64
		reputation uint64
	}{
		{
			name:       "double vote",
			detail:     "a double vote is critical and burns 15% of the stake",
			kind:       lib.OffenseDoubleVote,
			amount:     3000,
			reputation: 20,
		},
		{
			name:       "double sign",
			detail:     "a double sign is critical and burns 15% of the stake",
			kind:       lib.OffenseDoubleSign,
			amount:     3000,
			reputation: 20,
		},
		{
			name:       "equivocation",
			detail:     "equivocation is major and burns 5% of the stake",
			kind:       lib.OffenseEquivocation,
			amount:     1000,
			reputation: 10,
		},
		{
			name:       "invalid proposal",
			detail:     "an invalid proposal is minor and burns 1% of the stake",
			kind:       lib.OffenseInvalidProposal,
			amount:     200,
			reputation: 5,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ledger, reg := newTestLedger(t, map[string]uint64{"alice": 20000})
			rec, err := ledger.Slash("alice", test.kind, 7)
			require.NoError(t, err)
			require.Equal(t, test.amount, rec.Amount)
			require.Equal(t, test.reputation, rec.ReputationHit)
			require.Equal(t, test.kind.Severity(), rec.Severity)
			require.EqualValues(t, 7, rec.Epoch)
			v, err := reg.Get("alice")
			require.NoError(t, err)
			require.Equal(t, 20000-test.amount, v.Stake)
			require.Equal(t, rec.StakeAfter, v.Stake)
			require.EqualValues(t, 1, v.Offenses)
			require.Equal(t, Totals{Slashes: 1, Slashed: test.amount}, ledger.Totals())
		})
	}
}

func TestSlashErrors(t *testing.T) {
	ledger, _ := newTestLedger(t, map[string]uint64{"alice": 20000})
	_, err := ledger.Slash("bob", lib.OffenseDoubleVote, 1)
	require.Equal(t, lib.CodeSlashNonValidator, err.Code())
	_, err = ledger.Slash("alice", lib.OffenseKind(99), 1)
	require.Equal(t, lib.CodeUnknownOffense, err.Code())
	require.Empty(t, ledger.Slashes())
}

func TestFitnessMultiplier(t *testing.T) {
	tests := []struct {
		name     string
		detail   string
		score    uint64
		expected float64
	}{
		{name: "neutral", detail: "the neutral score pays the base reward", score: 75, expected: 1},
		{name: "perfect", detail: "a perfect score earns a 7.5% bonus", score: 100, expected: 1.075},
		{name: "low", detail: "a score of 25 loses 25%", score: 25, expected: 0.75},
		{name: "zero", detail: "a zero score loses 37.5%", score: 0, expected: 0.625},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.InDelta(t, test.expected, FitnessMultiplier(test.score), 1e-9)
		})
	}
}

func TestDistributeRewards(t *testing.T) {
	// equal stakes split the pool evenly before the multiplier
	ledger, reg := newTestLedger(t, map[string]uint64{"alice": 10000, "bob": 10000, "carol": 10000, "dave": 10000})
	v, err := reg.Get("bob")
	require.NoError(t, err)
	v.Commission = 10
	require.NoError(t, reg.Unregister("bob"))
	require.NoError(t, reg.Register(v))
	dist, err := ledger.DistributeRewards(3, map[string]uint64{"alice": 75, "bob": 75, "carol": 100, "dave": 25})
	require.NoError(t, err)
	require.EqualValues(t, 3, dist.Epoch)
	require.EqualValues(t, 100000, dist.Pool)
	require.Len(t, dist.Shares, 4)
	// shares are in id order
	expected := map[string]uint64{"alice": 25000, "bob": 25000, "carol": 26875, "dave": 18750}
	var sum uint64
	for i, id := range []string{"alice", "bob", "carol", "dave"} {
		share := dist.Shares[i]
		require.Equal(t, id, share.ValidatorID)
		require.Equal(t, expected[id], share.Total)
		require.Equal(t, share.Total, share.Commission+share.Delegators)
		got, e := reg.Get(id)
		require.NoError(t, e)
		require.Equal(t, share.Total, got.Rewards)
		sum += share.Total
	}
	require.EqualValues(t, 2500, dist.Shares[1].Commission)
	require.Equal(t, sum, dist.Distributed)
	require.Equal(t, Totals{Epochs: 1, Distributed: sum}, ledger.Totals())
	require.Len(t, ledger.Distributions(), 1)
}

func TestDistributeRewardsSkipsInactive(t *testing.T) {
	ledger, reg := newTestLedger(t, map[string]uint64{"alice": 40000, "bob": 10000})
	_, err := reg.Jail("bob", 10)
	require.NoError(t, err)
	dist, err := ledger.DistributeRewards(1, map[string]uint64{"alice": 75, "bob": 75, "ghost": 90})
	require.NoError(t, err)
	require.Len(t, dist.Shares, 1)
	require.Equal(t, "alice", dist.Shares[0].ValidatorID)
	require.EqualValues(t, 100000, dist.Shares[0].Total)
}

func TestDistributeRewardsEmpty(t *testing.T) {
	ledger, _ := newTestLedger(t, nil)
	dist, err := ledger.DistributeRewards(1, nil)
	require.NoError(t, err)
	require.Empty(t, dist.Shares)
	require.Zero(t, dist.Distributed)
}

func TestRevokeRewards(t *testing.T) {
	ledger, reg := newTestLedger(t, map[string]uint64{"alice": 10000, "bob": 10000})
	kept, err := ledger.DistributeRewards(1, map[string]uint64{"alice": 75, "bob": 75})
	require.NoError(t, err)
	revoked, err := ledger.DistributeRewards(2, map[string]uint64{"alice": 75, "bob": 75})
	require.NoError(t, err)
	require.NoError(t, ledger.RevokeRewards(revoked))
	// only the first epoch is paid
	for _, id := range []string{"alice", "bob"} {
		v, e := reg.Get(id)
		require.NoError(t, e)
		require.EqualValues(t, 50000, v.Rewards)
	}
	require.Equal(t, []*lib.RewardDistribution{kept}, ledger.Distributions())
	require.Equal(t, Totals{Epochs: 1, Distributed: kept.Distributed}, ledger.Totals())
	// nothing to take back
	require.NoError(t, ledger.RevokeRewards(nil))
}
