package cli

import (
	"testing"

	"github.com/canopy-network/pulse/lib"
	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name     string
		detail   string
		word     string
		expected string
	}{
		{
			name:     "lowercase",
			detail:   "a plain word is kept",
			word:     "maple",
			expected: "maple",
		},
		{
			name:     "capitalized possessive",
			detail:   "upper case is lowered and punctuation dropped",
			word:     "Aaron's",
			expected: "aarons",
		},
		{
			name:     "non ascii",
			detail:   "letters outside ascii are dropped",
			word:     "café",
			expected: "caf",
		},
		{
			name:     "digits only",
			detail:   "a word without letters becomes empty",
			word:     "1234",
			expected: "",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.expected, sanitizeName(test.word), test.detail)
		})
	}
}

func TestValidatorNames(t *testing.T) {
	// more names than the built-in list forces suffixed duplicates without a dictionary
	names := validatorNames(3 * len(fallbackNames))
	require.Len(t, names, 3*len(fallbackNames))
	seen := make(map[string]struct{})
	for _, name := range names {
		require.NotEmpty(t, name)
		_, dup := seen[name]
		require.False(t, dup, name)
		seen[name] = struct{}{}
	}
}

func TestSimulationConfig(t *testing.T) {
	simValidators, simEpochMS, simEpochs = 3, 1, 2
	t.Cleanup(func() { simValidators, simEpochMS, simEpochs = 7, 200, 10 })
	c := simulationConfig(lib.DefaultConfig())
	require.True(t, c.InMemory)
	require.False(t, c.MetricsConfig.Enabled)
	require.EqualValues(t, 3, c.CommitteeSize)
	require.EqualValues(t, 3, c.MinCommitteeSize)
	require.EqualValues(t, 1, c.CheckpointIntervalEpochs)
	// timeouts never round down to zero
	require.EqualValues(t, 1, c.FinalityTimeoutMS)
	require.NoError(t, c.ConsensusConfig.Validate())
}
