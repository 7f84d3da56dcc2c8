package controller

import (
	"testing"

	"github.com/canopy-network/pulse/bft"
	"github.com/canopy-network/pulse/lib"
	"github.com/stretchr/testify/require"
)

func TestGradeHealth(t *testing.T) {
	tests := []struct {
		name     string
		detail   string
		issues   []HealthIssue
		expected NetworkHealth
	}{
		{
			name:     "healthy",
			detail:   "no issues",
			issues:   []HealthIssue{},
			expected: NetworkHealth{Status: HealthHealthy, Score: 100, Issues: []HealthIssue{}},
		},
		{
			name:     "degraded",
			detail:   "up to two issues degrade the network",
			issues:   []HealthIssue{IssueStaleChain, IssueTransactionBacklog},
			expected: NetworkHealth{Status: HealthDegraded, Score: 60, Issues: []HealthIssue{IssueStaleChain, IssueTransactionBacklog}},
		},
		{
			name:     "critical",
			detail:   "more than two issues are critical",
			issues:   []HealthIssue{IssueStaleChain, IssueTransactionBacklog, IssueLowConsensus},
			expected: NetworkHealth{Status: HealthCritical, Score: 40, Issues: []HealthIssue{IssueStaleChain, IssueTransactionBacklog, IssueLowConsensus}},
		},
		{
			name:   "floored",
			detail: "the score doesn't go below zero",
			issues: []HealthIssue{IssueLowConsensus, IssueLowParticipation, IssueStaleChain, IssueInsufficientValidators, IssueTransactionBacklog, IssueHighByzantineRate},
			expected: NetworkHealth{Status: HealthCritical, Score: 0, Issues: []HealthIssue{
				IssueLowConsensus, IssueLowParticipation, IssueStaleChain, IssueInsufficientValidators, IssueTransactionBacklog, IssueHighByzantineRate,
			}},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.expected, gradeHealth(test.issues), test.detail)
		})
	}
}

func TestStatsRecord(t *testing.T) {
	s := newStatsTracker()
	// finalized with a restart and a rejection
	s.record(&bft.RoundSummary{TxCount: 3, Evidence: 1, Restarts: 1, Rejections: 1, DurationMS: 100, Participation: 100}, nil)
	// aborted by the quorum
	s.record(&bft.RoundSummary{Rejections: 3, DurationMS: 300, Participation: 60}, bft.ErrQuorumNotReached(2, 5))
	// aborted by a timeout
	s.record(&bft.RoundSummary{DurationMS: 200, Participation: 20}, bft.ErrPhaseTimeout(bft.PhaseVote.String()))
	// never began
	s.record(nil, lib.ErrAlreadyRunning())
	s.fork()
	stats, last := s.snapshot()
	require.Equal(t, ConsensusStats{
		EpochsTotal:           4,
		EpochsSuccessful:      1,
		EpochsFailed:          3,
		AverageEpochMS:        200,
		Timeouts:              1,
		QuorumFailures:        1,
		ByzantineFailures:     1,
		RejectedVotes:         4,
		RejectedBlocks:        2,
		Forks:                 1,
		FinalizedBlocks:       1,
		TransactionsProcessed: 3,
		AverageParticipation:  60,
	}, stats)
	require.EqualValues(t, 200, last.DurationMS)
}

func TestStatsWindow(t *testing.T) {
	s := newStatsTracker()
	for i := 0; i < statsWindow; i++ {
		s.record(&bft.RoundSummary{DurationMS: 1000}, nil)
	}
	// the oldest samples fall out of the window
	for i := 0; i < statsWindow; i++ {
		s.record(&bft.RoundSummary{DurationMS: 10}, nil)
	}
	stats, _ := s.snapshot()
	require.Equal(t, float64(10), stats.AverageEpochMS)
	require.Len(t, s.durations, statsWindow)
}
