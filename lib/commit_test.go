package lib

import (
	"testing"

	"github.com/canopy-network/pulse/lib/crypto"
	"github.com/stretchr/testify/require"
)

// newTestCommit() builds a commit of a signed block approved by `approvals` of a 5 member committee
func newTestCommit(t *testing.T, approvals int) *Commit {
	pk := newTestKey(t)
	b := newTestBlock(t, pk)
	c := &Commit{Block: b, CommitteeSize: 5, Threshold: 67}
	for i, id := range []string{"alice", "bob", "carol", "dave", "erin"}[:approvals] {
		v := &Vote{ValidatorID: id, BlockHash: b.Hash, Epoch: b.Epoch, Round: b.Round, Approve: true, Time: uint64(i)}
		v.Sign(pk)
		c.Approvals = append(c.Approvals, v)
	}
	c.ApproveCount = uint64(approvals)
	return c
}

func TestCommitCheck(t *testing.T) {
	tests := []struct {
		name      string
		detail    string
		approvals int
		mutate    func(c *Commit)
		invalid   bool
	}{
		{
			name:      "unanimous",
			detail:    "5 of 5 approvals is a valid commit",
			approvals: 5,
			mutate:    func(c *Commit) {},
		},
		{
			name:      "quorum",
			detail:    "4 of 5 approvals meets 67%",
			approvals: 4,
			mutate:    func(c *Commit) {},
		},
		{
			name:      "below quorum",
			detail:    "3 of 5 approvals misses 67%",
			approvals: 3,
			mutate:    func(c *Commit) {},
			invalid:   true,
		},
		{
			name:      "count mismatch",
			detail:    "the declared approval count must match the evidence",
			approvals: 4,
			mutate:    func(c *Commit) { c.ApproveCount = 5 },
			invalid:   true,
		},
		{
			name:      "duplicate approval",
			detail:    "a validator approves once",
			approvals: 4,
			mutate:    func(c *Commit) { c.Approvals[3] = c.Approvals[0] },
			invalid:   true,
		},
		{
			name:      "approval for another block",
			detail:    "every approval references the committed block",
			approvals: 4,
			mutate:    func(c *Commit) { c.Approvals[1].BlockHash = crypto.Hash([]byte("other")) },
			invalid:   true,
		},
		{
			name:      "rejection as approval",
			detail:    "a reject vote cannot count toward quorum",
			approvals: 4,
			mutate:    func(c *Commit) { c.Approvals[2].Approve = false },
			invalid:   true,
		},
		{
			name:      "zero threshold",
			detail:    "a commit can't lower its own quorum to nothing",
			approvals: 0,
			mutate:    func(c *Commit) { c.Threshold = 0 },
			invalid:   true,
		},
		{
			name:      "minority threshold",
			detail:    "a quorum must be a strict majority",
			approvals: 2,
			mutate:    func(c *Commit) { c.Threshold = 40 },
			invalid:   true,
		},
		{
			name:      "empty committee",
			detail:    "zero approvals of a zero member committee is not a quorum",
			approvals: 0,
			mutate:    func(c *Commit) { c.CommitteeSize = 0 },
			invalid:   true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := newTestCommit(t, test.approvals)
			test.mutate(c)
			err := c.Check()
			if !test.invalid {
				require.NoError(t, err)
				require.EqualValues(t, 1, c.Height())
				return
			}
			require.Error(t, err)
			require.Equal(t, CodeInvalidBlock, err.Code())
		})
	}
}

func TestCommitHeightNil(t *testing.T) {
	var c *Commit
	require.Zero(t, c.Height())
	require.Equal(t, CodeNilBlock, c.Check().Code())
}
