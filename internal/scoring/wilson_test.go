package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWilson_UninformedPrior(t *testing.T) {
	require.Equal(t, UninformedPrior, Wilson(0, 0, DefaultZ))
}

func TestWilson_Bounds(t *testing.T) {
	cases := []struct {
		name    string
		success float64
		uses    float64
	}{
		{"all worked", 10, 10},
		{"none worked", 0, 10},
		{"mixed", 2.5, 4},
		{"single use", 1, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := Wilson(tc.success, tc.uses, DefaultZ)
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		})
	}
}

func TestWilson_MonotoneInSuccessRate(t *testing.T) {
	low := Wilson(1, 10, DefaultZ)
	high := Wilson(9, 10, DefaultZ)
	assert.Less(t, low, high)
}

func TestWilson_MoreEvidenceAtSameRateIncreasesConfidence(t *testing.T) {
	small := Wilson(8, 10, DefaultZ)
	large := Wilson(80, 100, DefaultZ)
	assert.Greater(t, large, small, "same observed rate with more uses should raise the lower bound")
}

func TestWilson_KnownValue(t *testing.T) {
	// S4 seed scenario: success_count=2.5, uses=4 -> wilson ~= 0.22 at z=1.96
	got := Wilson(2.5, 4, DefaultZ)
	assert.InDelta(t, 0.22, got, 0.01)
}

func TestWilson_DefaultsZWhenNonPositive(t *testing.T) {
	a := Wilson(5, 10, 0)
	b := Wilson(5, 10, DefaultZ)
	assert.Equal(t, a, b)
}

func TestWilson_NoNaN(t *testing.T) {
	v := Wilson(0, 1, DefaultZ)
	assert.False(t, math.IsNaN(v))
}
