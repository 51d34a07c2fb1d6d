package match

import (
	"testing"

	"github.com/stretchr/testify/require"

	"liveness-gate-go/internal/core/vision"
)

func descriptorOf(values ...float32) []float32 {
	d := make([]float32, vision.DescriptorLength)
	copy(d, values)
	return d
}

func TestScoreIdenticalDescriptors(t *testing.T) {
	d := descriptorOf(0.1, 0.2, 0.3, 0.4)

	// identical descriptors must score a perfect 100.00 for any
	// threshold up to 100
	for _, threshold := range []float64{0, 50, 80, 100} {
		result, err := Score(d, d, threshold)
		require.NoError(t, err)
		require.Equal(t, 100.0, result.RatePercent)
		require.True(t, result.IsMatch)
	}
}

func TestScoreSymmetry(t *testing.T) {
	a := descriptorOf(0.1, 0.5, 0.25)
	b := descriptorOf(0.3, 0.1, 0.75)

	ab, err := Score(a, b, 80)
	require.NoError(t, err)
	ba, err := Score(b, a, 80)
	require.NoError(t, err)

	require.Equal(t, ab.RatePercent, ba.RatePercent)
	require.Equal(t, ab.IsMatch, ba.IsMatch)
}

func TestScoreThresholdVerdict(t *testing.T) {
	a := descriptorOf()
	b := descriptorOf(0.3, 0.4) // distance 0.5 -> rate 50.00

	tests := []struct {
		name      string
		threshold float64
		isMatch   bool
	}{
		{"below threshold", 80, false},
		{"at threshold", 50, true},
		{"above rate", 50.01, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Score(a, b, tt.threshold)
			require.NoError(t, err)
			require.Equal(t, 50.0, result.RatePercent)
			require.Equal(t, tt.isMatch, result.IsMatch)
		})
	}
}

func TestScoreClampsLargeDistance(t *testing.T) {
	a := descriptorOf()
	b := descriptorOf(2.0) // distance 2 -> raw rate -100, clamped to 0

	result, err := Score(a, b, 80)
	require.NoError(t, err)
	require.Equal(t, 0.0, result.RatePercent)
	require.False(t, result.IsMatch)
}

func TestScoreRounding(t *testing.T) {
	a := descriptorOf()
	b := descriptorOf(0.1111) // distance 0.1111 -> rate 88.89

	result, err := Score(a, b, 80)
	require.NoError(t, err)
	require.Equal(t, 88.89, result.RatePercent)
	require.True(t, result.IsMatch)
}

func TestScoreRejectsMismatchedLengths(t *testing.T) {
	_, err := Score(make([]float32, 128), make([]float32, 64), 80)
	require.Error(t, err)

	_, err = Score(nil, nil, 80)
	require.Error(t, err)
}
