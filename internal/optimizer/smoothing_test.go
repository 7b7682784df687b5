package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/898djh/scalewave/internal/domain"
)

func TestSmoothTrafficCapsChange(t *testing.T) {
	current := domain.TrafficSplit{"A": 80, "B": 20}
	proposal := domain.TrafficSplit{"A": 10, "B": 90}

	next := smoothTraffic(current, proposal, 0.25)

	assert.GreaterOrEqual(t, next["A"], 59)
	assert.LessOrEqual(t, next["B"], 41)
	assert.Equal(t, 100, next.Sum())
	for _, v := range next {
		assert.GreaterOrEqual(t, v, 0)
	}
}

func TestSmoothTrafficIdempotentWhenEqual(t *testing.T) {
	split := domain.TrafficSplit{"A": 60, "B": 40}
	next := smoothTraffic(split, split, 0.25)
	assert.Equal(t, split, next)
}

func TestSmoothTrafficRampUpFromZero(t *testing.T) {
	current := domain.TrafficSplit{"A": 100, "B": 0}
	proposal := domain.TrafficSplit{"A": 50, "B": 50}

	next := smoothTraffic(current, proposal, 0.25)
	assert.Equal(t, 100, next.Sum())
	assert.Greater(t, next["B"], 0)
}

func TestDampGPURedistributesReleasedShare(t *testing.T) {
	split := domain.TrafficSplit{"A": 40, "B": 20, "GPU": 40}

	next := dampGPU(split, "GPU", 8)

	assert.Equal(t, 5, next["GPU"])
	assert.Equal(t, 100, next.Sum())
	assert.Greater(t, next["A"], 40)
	assert.Greater(t, next["B"], 20)
}

func TestDampGPUAbsentRevisionNoOp(t *testing.T) {
	split := domain.TrafficSplit{"A": 60, "B": 40}
	next := dampGPU(split, "GPU", 8)
	assert.Equal(t, split, next)
}

func TestLargestRemainderSumsTo100(t *testing.T) {
	values := map[string]float64{"A": 33.34, "B": 33.33, "C": 33.33}
	out := largestRemainder(values)
	assert.Equal(t, 100, out.Sum())
}

func TestNormalizeTo100AllZeroSplitsEvenly(t *testing.T) {
	out := normalizeTo100(map[string]float64{"A": 0, "B": 0})
	assert.InDelta(t, 50, out["A"], 1e-9)
	assert.InDelta(t, 50, out["B"], 1e-9)
}
