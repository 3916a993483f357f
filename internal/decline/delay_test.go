package decline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDelayZeroIsIdentity(t *testing.T) {
	e := newTestEngine(t)
	base, err := e.Base()
	require.NoError(t, err)
	assert.Equal(t, base, e.ApplyDelay(base, 0))
}

func TestApplyDelayBeyondHorizonKeepsProtectedOnly(t *testing.T) {
	e := newTestEngine(t)
	base, err := e.Base()
	require.NoError(t, err)

	for _, d := range []float64{10, 12.5} {
		delayed := e.ApplyDelay(base, d)
		for i := range base {
			assert.InDelta(t, base[i]*e.ProtectedShare(), delayed[i], 1e-12)
		}
	}
}

func TestApplyDelayWholeYear(t *testing.T) {
	e := newTestEngine(t)
	base, err := e.Base()
	require.NoError(t, err)

	p := e.ProtectedShare()
	penalty := e.DelayPenalty(1)
	delayed := e.ApplyDelay(base, 1)

	assert.InDelta(t, base[0]*p, delayed[0], 1e-12)
	assert.InDelta(t, base[1]*p+base[0]*(1-p)/penalty, delayed[1], 1e-12)
	assert.InDelta(t, base[5]*p+base[4]*(1-p)/penalty, delayed[5], 1e-12)
}

func TestApplyDelayFractionalInterpolates(t *testing.T) {
	e := newTestEngine(t)
	base, err := e.Base()
	require.NoError(t, err)

	p := e.ProtectedShare()
	penalty := e.DelayPenalty(1.5)
	delayed := e.ApplyDelay(base, 1.5)

	assert.InDelta(t, base[0]*p, delayed[0], 1e-12)
	// transition year ramps halfway to the first deferred year
	assert.InDelta(t, base[1]*p+0.5*base[0]*(1-p)/penalty, delayed[1], 1e-12)
	// year 4 reads position 1.5 of the original curve
	want := base[3]*p + (0.5*base[1]+0.5*base[2])*(1-p)/penalty
	assert.InDelta(t, want, delayed[3], 1e-12)
}

func TestDelayPenaltyIncreasing(t *testing.T) {
	e := newTestEngine(t)
	prev := e.DelayPenalty(0)
	assert.Equal(t, 1.0, prev)
	for d := 0.25; d <= 10; d += 0.25 {
		next := e.DelayPenalty(d)
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestDelayedCurveSumNonIncreasing(t *testing.T) {
	e := newTestEngine(t)
	base, err := e.Base()
	require.NoError(t, err)

	prev := base.Sum()
	for d := 0.5; d <= 10; d += 0.5 {
		sum := e.ApplyDelay(base, d).Sum()
		assert.LessOrEqual(t, sum, prev+1e-12, "delay %.1f", d)
		prev = sum
	}
}
