package cashflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"royalty-risk/internal/config"
)

func newTestRootFinder(t *testing.T) RootFinder {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	return RootFinderFromConfig(cfg)
}

func TestROI(t *testing.T) {
	flat := Vector{-100, 20, 20, 20, 20, 20, 20, 20, 20, 20, 30}
	assert.InDelta(t, 2.10, ROI(flat), 1e-12)

	bumped := Vector{-100, 20, 20, 20, 20, 20, 20, 20, 20, 20, 50}
	assert.InDelta(t, 2.30, ROI(bumped), 1e-12)

	losing := Vector{-100, -5, -5}
	assert.Zero(t, ROI(losing))
}

func TestPaybackInterpolates(t *testing.T) {
	flows := Vector{-100, 20, 20, 20, 20, 30, 20, 20, 20, 20, 20}
	p := CalculatePayback(flows)
	require.True(t, p.Recovered)
	assert.InDelta(t, 4+20.0/30.0, p.Years, 1e-12)
	assert.Equal(t, "4.67y", p.String())
}

func TestPaybackNever(t *testing.T) {
	p := CalculatePayback(Vector{-100, 10, 10, 10})
	assert.False(t, p.Recovered)
	assert.Equal(t, "never", p.String())
}

func TestIRRZeroesNPV(t *testing.T) {
	rf := newTestRootFinder(t)
	vectors := []Vector{
		{-100, 20, 20, 20, 20, 20, 20, 20, 20, 20, 30},
		{-100, 60, 60},
		{-100, 5, 5, 5, 5, 5, 5, 5, 5, 5, 60},
		{-195, 10, 8, 6, 5, 4, 4, 3, 3, 3, 20},
	}
	for _, v := range vectors {
		irr := rf.IRR(v)
		require.True(t, irr.Converged, "%v", v)
		assert.InDelta(t, 0, NPV(v, irr.Rate), 1e-6)
	}

	irr := rf.IRR(Vector{-100, 110})
	require.True(t, irr.Converged)
	assert.InDelta(t, 0.10, irr.Rate, 1e-9)
}

func TestIRRNonConvergentIsMarked(t *testing.T) {
	rf := newTestRootFinder(t)

	// no sign change: NPV is negative at every rate
	irr := rf.IRR(Vector{-100, -10, -10})
	assert.False(t, irr.Converged)
	assert.Equal(t, "n/c", irr.String())

	rf.MaxIterations = 1
	irr = rf.IRR(Vector{-100, 20, 20, 20, 20, 20, 20, 20, 20, 20, 30})
	assert.False(t, irr.Converged)
	assert.Equal(t, 1, irr.Iterations)
}

func TestIRRStringFormatsPercent(t *testing.T) {
	assert.Equal(t, "16.95%", IRR{Rate: 0.16953, Converged: true}.String())
}
