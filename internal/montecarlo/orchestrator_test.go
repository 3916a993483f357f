package montecarlo

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"royalty-risk/internal/cashflow"
	"royalty-risk/internal/config"
	"royalty-risk/internal/decline"
	"royalty-risk/internal/pricesim"
)

func newTestOrchestrator(t *testing.T, mutate func(*Options)) *Orchestrator {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)

	curves, err := decline.New(decline.OptionsFromConfig(cfg))
	require.NoError(t, err)
	prices, err := pricesim.New(pricesim.OptionsFromConfig(cfg))
	require.NoError(t, err)
	flows, err := cashflow.New(cashflow.OptionsFromConfig(cfg), cashflow.RootFinderFromConfig(cfg))
	require.NoError(t, err)

	opts := OptionsFromConfig(cfg)
	if mutate != nil {
		mutate(&opts)
	}
	return New(curves, prices, flows, opts, zerolog.Nop())
}

func TestRunBatchReproducibleForSeed(t *testing.T) {
	o := newTestOrchestrator(t, func(o *Options) { o.Seed = 2024 })

	a, err := o.RunBatch(context.Background(), 2000)
	require.NoError(t, err)
	b, err := o.RunBatch(context.Background(), 2000)
	require.NoError(t, err)

	assert.Equal(t, a.Profit, b.Profit)
	assert.Equal(t, a.IRR, b.IRR)
	assert.Equal(t, a.LossCount, b.LossCount)

	c, err := o.WithSeed(2025).RunBatch(context.Background(), 2000)
	require.NoError(t, err)
	assert.NotEqual(t, a.Profit, c.Profit)
}

func TestRunBatchIndependentOfWorkerCount(t *testing.T) {
	serial := newTestOrchestrator(t, func(o *Options) { o.Workers = 1 })
	parallel := newTestOrchestrator(t, func(o *Options) { o.Workers = 7 })

	a, err := serial.RunBatch(context.Background(), 3001)
	require.NoError(t, err)
	b, err := parallel.RunBatch(context.Background(), 3001)
	require.NoError(t, err)

	assert.Equal(t, a.Profit, b.Profit)
	assert.Equal(t, a.Factor, b.Factor)
	assert.Equal(t, a.Attribution, b.Attribution)
}

func TestRunBatchSamplesAndAttribution(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	res, err := o.RunBatch(context.Background(), 5000)
	require.NoError(t, err)

	require.Equal(t, 5000, res.N())
	require.Len(t, res.IRR, 5000)
	require.Len(t, res.ROI, 5000)
	require.Len(t, res.Payback, 5000)

	attributed := 0
	for _, f := range Factors {
		attributed += res.Attribution[f]
	}
	assert.Equal(t, res.LossCount, attributed)

	for i, t2 := range res.Trials {
		assert.Equal(t, i, t2.Index)
		assert.GreaterOrEqual(t, res.ROI[i], 0.0)
		if t2.Loss() {
			assert.NotEmpty(t, res.Factor[i])
		} else {
			assert.Empty(t, res.Factor[i])
		}
	}
}

func TestRunTrialMatchesBatchSlot(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	res, err := o.RunBatch(context.Background(), 64)
	require.NoError(t, err)

	trial, err := o.RunTrial(41)
	require.NoError(t, err)
	assert.Equal(t, res.Trials[41], trial)
}

func TestFixedDelayStress(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	base, err := o.RunBatch(context.Background(), 1000)
	require.NoError(t, err)

	d := 3.0
	stressed, err := o.WithStress(Stress{FixedDelayYears: &d}).RunBatch(context.Background(), 1000)
	require.NoError(t, err)

	for i, tr := range stressed.Trials {
		assert.Equal(t, 3.0, tr.DelayYears)
		// same stream, same drivers
		assert.Equal(t, base.Trials[i].BFactor, tr.BFactor)
	}
	bs := base.Summarize([]float64{50})
	ss := stressed.Summarize([]float64{50})
	assert.Less(t, ss.IRR.Mean, bs.IRR.Mean)
	assert.GreaterOrEqual(t, ss.LossProbability, bs.LossProbability)
}

func TestRunBatchHonoursCancellation(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.RunBatch(ctx, 10000)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunBatchRejectsEmpty(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	_, err := o.RunBatch(context.Background(), 0)
	assert.Error(t, err)
}

func TestLossProbabilityStableAtScale(t *testing.T) {
	if testing.Short() {
		t.Skip("large batch")
	}
	o := newTestOrchestrator(t, func(o *Options) { o.Seed = 42 })

	a, err := o.RunBatch(context.Background(), 50000)
	require.NoError(t, err)
	b, err := o.RunBatch(context.Background(), 50000)
	require.NoError(t, err)
	pa := a.Summarize(nil).LossProbability
	assert.Equal(t, pa, b.Summarize(nil).LossProbability)

	c, err := o.WithSeed(43).RunBatch(context.Background(), 50000)
	require.NoError(t, err)
	pc := c.Summarize(nil).LossProbability
	// about four binomial standard errors
	assert.InDelta(t, pa, pc, 4*0.5/224+0.005)
}
