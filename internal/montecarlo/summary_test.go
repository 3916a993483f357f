package montecarlo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"royalty-risk/internal/cashflow"
)

func syntheticBatch() *BatchResult {
	trials := []Trial{
		{Index: 0, BFactor: 0.9, AvgPrice: 1.0, Metrics: cashflow.Metrics{IRR: cashflow.IRR{Rate: 0.10, Converged: true}, Profit: 50, ROI: 1.5, Payback: cashflow.Payback{Years: 5, Recovered: true}}},
		{Index: 1, BFactor: 0.6, AvgPrice: 0.6, DelayYears: 2, Metrics: cashflow.Metrics{IRR: cashflow.IRR{Rate: -0.05, Converged: true}, Profit: -20, ROI: 0.9}},
		{Index: 2, BFactor: 0.9, AvgPrice: 0.9, Metrics: cashflow.Metrics{IRR: cashflow.IRR{}, Profit: -40, ROI: 0.8}},
		{Index: 3, BFactor: 1.1, AvgPrice: 1.2, Metrics: cashflow.Metrics{IRR: cashflow.IRR{Rate: 0.20, Converged: true}, Profit: 90, ROI: 1.9, Payback: cashflow.Payback{Years: 4, Recovered: true}}},
	}
	return aggregate(trials, Thresholds{PriceFactor: 0.8, DelayYears: 1, BFactor: 0.7}, 1)
}

func TestSummarizeDenominatorsAndExclusions(t *testing.T) {
	res := syntheticBatch()
	s := res.Summarize([]float64{50})

	assert.Equal(t, 4, s.Trials)
	assert.Equal(t, 1, s.NonConvergent)
	assert.Equal(t, 3, s.Converged)
	assert.Equal(t, 2, s.LossCount)
	assert.InDelta(t, 0.5, s.LossProbability, 1e-12)
	assert.InDelta(t, 30, s.MeanLoss, 1e-12)

	p50, ok := s.IRRAt(50)
	require.True(t, ok)
	// type 4 interpolation between -0.05 and 0.10
	assert.InDelta(t, 0.025, p50, 1e-12)
	_, ok = s.IRRAt(95)
	assert.False(t, ok)

	assert.Equal(t, 2, s.PaybackRecovered)
	assert.InDelta(t, 4, s.MedianPayback, 1e-12)

	assert.Equal(t, 1, s.Attribution[FactorCombined])
	assert.Equal(t, 1, s.Attribution[FactorPrice])
	assert.Equal(t, 0, s.Attribution[FactorTiming])
}

func TestPercentileInputRange(t *testing.T) {
	res := syntheticBatch()
	r := res.PercentileInputRange(0, 40)
	require.Equal(t, 1, r.Trials)
	assert.InDelta(t, 0.6, r.AvgPrice.Mean, 1e-12)
	assert.InDelta(t, 2, r.Delay.Max, 1e-12)

	assert.Equal(t, 3, res.PercentileInputRange(0, 100).Trials)
}
