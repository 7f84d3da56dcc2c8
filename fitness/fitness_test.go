package fitness

import (
	"testing"

	"github.com/canopy-network/pulse/lib"
	"github.com/stretchr/testify/require"
)

func TestBook(t *testing.T) {
	b := NewBook()
	_, err := b.Score("alice")
	require.Equal(t, lib.CodeValidatorNotExists, err.Code())
	require.NoError(t, b.Report("alice", 80))
	score, err := b.Score("alice")
	require.NoError(t, err)
	require.EqualValues(t, 80, score)
	// the latest report wins
	require.NoError(t, b.Report("alice", 60))
	score, _ = b.Score("alice")
	require.EqualValues(t, 60, score)
	require.Equal(t, lib.CodeInvalidScore, b.Report("alice", 101).Code())
	require.Equal(t, lib.CodeEmptyValidatorID, b.Report("", 50).Code())
	require.Equal(t, 1, b.Len())
	b.Forget("alice")
	require.Zero(t, b.Len())
}

func TestRandomWalk(t *testing.T) {
	tests := []struct {
		name   string
		detail string
		start  uint64
		step   uint64
		min    uint64
		max    uint64
	}{
		{name: "wide", detail: "a wide walk stays within its bounds", start: 80, step: 10, min: 60, max: 100},
		{name: "narrow", detail: "a narrow walk stays within its bounds", start: 90, step: 3, min: 85, max: 95},
		{name: "start clamped", detail: "an out of range start is clamped", start: 10, step: 5, min: 70, max: 90},
		{name: "max clamped", detail: "the upper bound never exceeds the maximum score", start: 100, step: 5, min: 90, max: 200},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			w := NewRandomWalk(42, test.start, test.step, test.min, test.max)
			upper := test.max
			if upper > lib.MaxScore {
				upper = lib.MaxScore
			}
			for i := 0; i < 500; i++ {
				score, err := w.Score("alice")
				require.NoError(t, err)
				require.GreaterOrEqual(t, score, test.min)
				require.LessOrEqual(t, score, upper)
			}
		})
	}
}

func TestRandomWalkDeterministic(t *testing.T) {
	a, b := NewRandomWalk(7, 80, 5, 50, 100), NewRandomWalk(7, 80, 5, 50, 100)
	for i := 0; i < 100; i++ {
		sa, _ := a.Score("alice")
		sb, _ := b.Score("alice")
		require.Equal(t, sa, sb)
	}
}

func TestRandomWalkSet(t *testing.T) {
	w := NewRandomWalk(1, 80, 0, 0, 100)
	w.Set("alice", 30)
	score, err := w.Score("alice")
	require.NoError(t, err)
	require.EqualValues(t, 30, score)
}

func TestRandomWalkReport(t *testing.T) {
	w := NewRandomWalk(1, 80, 0, 0, 100)
	require.NoError(t, w.Report("alice", 55))
	score, err := w.Score("alice")
	require.NoError(t, err)
	require.EqualValues(t, 55, score)
	require.Equal(t, lib.CodeInvalidScore, w.Report("alice", 101).Code())
	require.Equal(t, lib.CodeEmptyValidatorID, w.Report("", 50).Code())
}
