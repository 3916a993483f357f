package cashflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"royalty-risk/internal/config"
	"royalty-risk/internal/decline"
	"royalty-risk/internal/pricesim"
	"royalty-risk/internal/rng"
)

type fixture struct {
	cfg    *config.Config
	curves *decline.Engine
	engine *Engine
	prices *pricesim.Simulator
	base   decline.YieldCurve
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	curves, err := decline.New(decline.OptionsFromConfig(cfg))
	require.NoError(t, err)
	engine, err := New(OptionsFromConfig(cfg), RootFinderFromConfig(cfg))
	require.NoError(t, err)
	prices, err := pricesim.New(pricesim.OptionsFromConfig(cfg))
	require.NoError(t, err)
	base, err := curves.Base()
	require.NoError(t, err)
	return fixture{cfg: cfg, curves: curves, engine: engine, prices: prices, base: base}
}

func TestBuildCashFlowsReferenceCase(t *testing.T) {
	f := newFixture(t)
	flows, err := f.engine.BuildCashFlows(f.base, pricesim.Constant(1, decline.Horizon), true)
	require.NoError(t, err)
	require.Len(t, flows, Length)

	assert.Equal(t, -195.0, flows[0])
	assert.InDelta(t, 195*0.269-195*0.0075, flows[1], 1e-9)
	terminal := 0.15 * 1052 * 0.95 * (195.0 / 710.0)
	assert.InDelta(t, 195*f.base[9]-195*0.0075+terminal, flows[10], 1e-9)

	m := f.engine.Evaluate(flows)
	require.True(t, m.IRR.Converged)
	assert.InDelta(t, 0.1695, m.IRR.Rate, 5e-4)
	assert.InDelta(t, 1.996, m.ROI, 5e-3)
	assert.InDelta(t, 0, NPV(flows, m.IRR.Rate), 1e-6)
	assert.True(t, m.Payback.Recovered)
	assert.Greater(t, m.Profit, 0.0)
}

func TestBuildCashFlowsWithoutGA(t *testing.T) {
	f := newFixture(t)
	path := pricesim.Constant(1, decline.Horizon)
	with, err := f.engine.BuildCashFlows(f.base, path, true)
	require.NoError(t, err)
	without, err := f.engine.BuildCashFlows(f.base, path, false)
	require.NoError(t, err)
	for i := 1; i < Length; i++ {
		assert.InDelta(t, 195*0.0075, without[i]-with[i], 1e-9)
	}
}

func TestBuildCashFlowsRejectsShortPath(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.BuildCashFlows(f.base, pricesim.Constant(1, 5), true)
	assert.ErrorIs(t, err, ErrShortPath)
}

func TestNAVMultipleBands(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		price float64
		want  float64
	}{
		{1.2, 0.95},
		{0.9, 0.95},
		{0.8999, 0.85},
		{0.7, 0.85},
		{0.6, 0.75},
		{0.5, 0.75},
		{0.49, 0.60},
		{0.2, 0.60},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, f.engine.NAVMultiple(tc.price), "price factor %.4f", tc.price)
	}
}

func TestIRRIsNonIncreasingInDelay(t *testing.T) {
	f := newFixture(t)
	paths := []pricesim.PricePath{
		pricesim.Constant(1, decline.Horizon),
		pricesim.Constant(0.6, decline.Horizon),
		f.prices.SimulatePath(rng.New(5, 0), decline.Horizon),
		f.prices.SimulatePath(rng.New(5, 1), decline.Horizon),
	}
	params := []decline.Params{
		{BFactor: 0.9, Di: 0.25},
		{BFactor: 0.5, Di: 0.30},
		{BFactor: 1.2, Di: 0.10},
		{BFactor: 0.3, Di: 0.45},
	}

	for _, p := range params {
		for pi, path := range paths {
			prev := 1.0e9
			for step := 0; step <= 10; step++ {
				p.DelayYears = float64(step) * 0.5
				curve, err := f.curves.Build(p, false)
				require.NoError(t, err)
				_, m, err := f.engine.Run(curve, path, true)
				require.NoError(t, err)
				require.True(t, m.IRR.Converged, "b=%.2f di=%.2f path=%d delay=%.1f", p.BFactor, p.Di, pi, p.DelayYears)
				assert.LessOrEqual(t, m.IRR.Rate, prev+1e-12, "b=%.2f di=%.2f path=%d delay=%.1f", p.BFactor, p.Di, pi, p.DelayYears)
				prev = m.IRR.Rate
			}
		}
	}
}
