package scorer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize_SaturatesAtCap(t *testing.T) {
	require.Equal(t, Scale, Normalize(200, 100, Scale))
	require.Equal(t, int64(0), Normalize(-5, 100, Scale))
	require.Equal(t, Scale/2, Normalize(50, 100, Scale))
}

func TestInvert_LowerIsBetter(t *testing.T) {
	require.Equal(t, Scale, Invert(0, 100, Scale))
	require.Equal(t, int64(0), Invert(200, 100, Scale))
}

func TestDefault_EvalIsDeterministic(t *testing.T) {
	d := NewDefault()
	features := FeaturesFromMetrics(86_400_000, 0, 0, 500_000_000, 0, 500, 100_000)

	a := d.Eval(features, Scale)
	b := d.Eval(features, Scale)
	require.Equal(t, a, b)
	require.GreaterOrEqual(t, a, MinWeight)
	require.LessOrEqual(t, a, MaxWeight)
}

func TestDefault_WeightsSumTo100(t *testing.T) {
	var sum int64
	for _, w := range DefaultWeights {
		sum += w
	}
	require.Equal(t, int64(100), sum)
}

func TestClamp_Bounds(t *testing.T) {
	require.Equal(t, MinWeight, Clamp(-5))
	require.Equal(t, MaxWeight, Clamp(MaxWeight+1))
}
