package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, 195.0, cfg.Deal.InvestmentMM)
	assert.InDelta(t, 195.0/710.0, cfg.Deal.OwnershipShare(), 1e-12)
	assert.InDelta(t, 1052.0, cfg.TotalNAV(), 1e-9)
	assert.InDelta(t, 691.0/1052.0, cfg.ProtectedShare(), 1e-12)
	assert.Len(t, cfg.Reserves, 5)
	assert.Equal(t, []float64{0.269, 0.266, 0.251}, cfg.Yield.Anchors)
	assert.Len(t, cfg.Terminal.NAVBands, 3)
	assert.Equal(t, uint64(42), cfg.Simulation.Seed)
	assert.Equal(t, 50000, cfg.Simulation.Trials)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
simulation:
  trials: 1234
  seed: 7
deal:
  ga_rate: 0.01
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1234, cfg.Simulation.Trials)
	assert.Equal(t, uint64(7), cfg.Simulation.Seed)
	assert.Equal(t, 0.01, cfg.Deal.GARate)
	assert.Equal(t, 195.0, cfg.Deal.InvestmentMM)
}

func TestResolveTrials(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.ResolveTrials(10))
	assert.Equal(t, cfg.Simulation.Trials, cfg.ResolveTrials(0))
}

func TestValidateRejectsBadConfiguration(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"not positive definite", func(c *Config) {
			c.Prices.Correlation = [][]float64{{1, 0.99, -0.99}, {0.99, 1, 0.99}, {-0.99, 0.99, 1}}
		}},
		{"asymmetric correlation", func(c *Config) {
			c.Prices.Correlation = [][]float64{{1, 0.3, 0.2}, {0.1, 1, 0.2}, {0.2, 0.2, 1}}
		}},
		{"wrong shape", func(c *Config) { c.Prices.Correlation = [][]float64{{1, 0}, {0, 1}} }},
		{"mix not summing to one", func(c *Config) { c.Prices.Mix.Oil = 0.5 }},
		{"negative inflation", func(c *Config) { c.Delay.InflationRate = -0.01 }},
		{"negative ga rate", func(c *Config) { c.Deal.GARate = -0.001 }},
		{"return shares not summing to one", func(c *Config) { c.Reserves[0].ReturnShare = 0.5 }},
		{"no protected category", func(c *Config) { c.Reserves[0].Protected = false }},
		{"zero yield floor", func(c *Config) { c.Yield.Floor = 0 }},
		{"infeasible target", func(c *Config) { c.Yield.TargetAverage = 0.05 }},
		{"unordered nav bands", func(c *Config) {
			c.Terminal.NAVBands[0], c.Terminal.NAVBands[1] = c.Terminal.NAVBands[1], c.Terminal.NAVBands[0]
		}},
		{"percentile out of range", func(c *Config) { c.Simulation.Percentiles = []float64{0, 50} }},
		{"zero trials", func(c *Config) { c.Simulation.Trials = 0 }},
		{"zero tolerance", func(c *Config) { c.Solver.IRRTolerance = 0 }},
		{"telegram without token", func(c *Config) { c.Alerting.Telegram.Enabled = true }},
		{"zero monitor interval", func(c *Config) { c.Monitor.Interval = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Default()
			require.NoError(t, err)
			tc.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid), "want ErrInvalid, got %v", err)
		})
	}
}

func TestValidateCorrelationAcceptsIdentity(t *testing.T) {
	assert.NoError(t, ValidateCorrelation([][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}))
}
