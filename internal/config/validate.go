package config

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrInvalid marks a configuration that cannot drive a run. It is fatal at
// startup and never raised per trial.
var ErrInvalid = errors.New("invalid configuration")

const (
	horizonYears = 10
	weightEps    = 1e-6
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate performs sanity checks on the configuration values.
func (c *Config) Validate() error {
	checks := []func() error{
		c.validateDeal,
		c.validateReserves,
		c.validateYield,
		c.validateDecline,
		c.validatePrices,
		c.validateTerminal,
		c.validateSimulation,
		c.validateSolver,
		c.validateAttribution,
		c.validateOutputs,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateDeal() error {
	d := c.Deal
	if d.InvestmentMM <= 0 {
		return invalidf("deal.investment_mm must be greater than zero")
	}
	if d.TotalEquityMM < d.InvestmentMM {
		return invalidf("deal.total_equity_mm must be at least deal.investment_mm")
	}
	if d.GARate < 0 {
		return invalidf("deal.ga_rate cannot be negative")
	}
	if d.StripOilPrice <= 0 {
		return invalidf("deal.strip_oil_price must be greater than zero")
	}
	return nil
}

func (c *Config) validateReserves() error {
	if len(c.Reserves) == 0 {
		return invalidf("at least one reserve category is required")
	}
	seen := make(map[string]bool, len(c.Reserves))
	shareSum := 0.0
	deferredShare := 0.0
	protected := 0
	for _, r := range c.Reserves {
		if r.Name == "" {
			return invalidf("reserve category name is required")
		}
		if seen[r.Name] {
			return invalidf("duplicate reserve category %q", r.Name)
		}
		seen[r.Name] = true
		if r.NAVMM < 0 {
			return invalidf("reserves[%s].nav_mm cannot be negative", r.Name)
		}
		if r.ReturnShare < 0 {
			return invalidf("reserves[%s].return_share cannot be negative", r.Name)
		}
		if r.DelayProbability < 0 || r.DelayProbability > 1 {
			return invalidf("reserves[%s].delay_probability must be within [0, 1]", r.Name)
		}
		if r.MaxDelayYears < 0 {
			return invalidf("reserves[%s].max_delay_years cannot be negative", r.Name)
		}
		shareSum += r.ReturnShare
		if r.Protected {
			protected++
		} else {
			deferredShare += r.ReturnShare
		}
	}
	if math.Abs(shareSum-1) > weightEps {
		return invalidf("reserve return shares must sum to 1, got %.6f", shareSum)
	}
	if protected == 0 {
		return invalidf("at least one reserve category must be protected")
	}
	if c.TotalNAV() <= 0 {
		return invalidf("total reserve NAV must be greater than zero")
	}
	if protected < len(c.Reserves) && deferredShare <= 0 {
		return invalidf("deferred reserve categories need a positive combined return share")
	}
	return nil
}

func (c *Config) validateYield() error {
	y := c.Yield
	if len(y.Anchors) == 0 || len(y.Anchors) >= horizonYears {
		return invalidf("yield.anchors must hold between 1 and %d values", horizonYears-1)
	}
	known := 0.0
	for i, a := range y.Anchors {
		if a < 0 {
			return invalidf("yield.anchors[%d] cannot be negative", i)
		}
		known += a
	}
	if y.Floor <= 0 {
		return invalidf("yield.floor must be greater than zero")
	}
	if y.TargetAverage <= 0 {
		return invalidf("yield.target_average must be greater than zero")
	}
	if y.TargetAverage*horizonYears <= known {
		return invalidf("yield.target_average leaves no room for the tail after anchors")
	}
	return nil
}

func (c *Config) validateDecline() error {
	d := c.Decline
	if d.BMin <= 0 || d.BMax < d.BMin {
		return invalidf("decline.b_min must be positive and not above decline.b_max")
	}
	if d.DiMin <= 0 || d.DiMax < d.DiMin {
		return invalidf("decline.di_min must be positive and not above decline.di_max")
	}
	if d.BaseBFactor < d.BMin || d.BaseBFactor > d.BMax {
		return invalidf("decline.base_b_factor must lie within [b_min, b_max]")
	}
	if d.BaseDi < d.DiMin || d.BaseDi > d.DiMax {
		return invalidf("decline.base_di must lie within [di_min, di_max]")
	}
	if d.BVolatility < 0 || d.DiVolatility < 0 {
		return invalidf("decline volatilities cannot be negative")
	}
	if c.Delay.InflationRate < 0 || c.Delay.OpportunityCostRate < 0 {
		return invalidf("delay rates cannot be negative")
	}
	return nil
}

func (c *Config) validatePrices() error {
	p := c.Prices
	for name, cc := range map[string]CommodityConfig{"oil": p.Oil, "gas": p.Gas, "ngl": p.NGL} {
		if cc.Theta < 0 || cc.Sigma < 0 {
			return invalidf("prices.%s theta and sigma cannot be negative", name)
		}
		if cc.Floor <= 0 {
			return invalidf("prices.%s.floor must be greater than zero", name)
		}
		if cc.Initial < cc.Floor {
			return invalidf("prices.%s.initial must not be below the floor", name)
		}
	}
	if p.Mix.Oil < 0 || p.Mix.Gas < 0 || p.Mix.NGL < 0 {
		return invalidf("prices.mix weights cannot be negative")
	}
	if sum := p.Mix.Oil + p.Mix.Gas + p.Mix.NGL; math.Abs(sum-1) > weightEps {
		return invalidf("prices.mix weights must sum to 1, got %.6f", sum)
	}
	if p.TimeStep <= 0 {
		return invalidf("prices.time_step must be greater than zero")
	}
	return ValidateCorrelation(p.Correlation)
}

// ValidateCorrelation checks that m is a symmetric 3x3 correlation matrix
// with a Cholesky factorization.
func ValidateCorrelation(m [][]float64) error {
	const n = 3
	if len(m) != n {
		return invalidf("prices.correlation must be %dx%d", n, n)
	}
	data := make([]float64, 0, n*n)
	for i, row := range m {
		if len(row) != n {
			return invalidf("prices.correlation must be %dx%d", n, n)
		}
		for j, v := range row {
			if i == j && math.Abs(v-1) > weightEps {
				return invalidf("prices.correlation diagonal must be 1")
			}
			if v < -1 || v > 1 {
				return invalidf("prices.correlation entries must lie within [-1, 1]")
			}
			if math.Abs(v-m[j][i]) > weightEps {
				return invalidf("prices.correlation must be symmetric")
			}
		}
		data = append(data, row...)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(mat.NewSymDense(n, data)); !ok {
		return invalidf("prices.correlation is not positive definite")
	}
	return nil
}

func (c *Config) validateTerminal() error {
	t := c.Terminal
	if t.RemainingReserveFraction < 0 || t.RemainingReserveFraction > 1 {
		return invalidf("terminal.remaining_reserve_fraction must lie within [0, 1]")
	}
	if t.FloorMultiple < 0 {
		return invalidf("terminal.floor_multiple cannot be negative")
	}
	prev := math.Inf(1)
	prevMultiple := math.Inf(1)
	for i, b := range t.NAVBands {
		if b.MinPriceFactor >= prev {
			return invalidf("terminal.nav_bands must be ordered by descending min_price_factor")
		}
		if b.Multiple < 0 || b.Multiple > prevMultiple {
			return invalidf("terminal.nav_bands[%d].multiple breaks the monotone step table", i)
		}
		prev = b.MinPriceFactor
		prevMultiple = b.Multiple
	}
	if t.FloorMultiple > prevMultiple {
		return invalidf("terminal.floor_multiple must not exceed the lowest band multiple")
	}
	return nil
}

func (c *Config) validateSimulation() error {
	s := c.Simulation
	if s.Trials <= 0 {
		return invalidf("simulation.trials must be greater than zero")
	}
	if s.Workers < 0 {
		return invalidf("simulation.workers cannot be negative")
	}
	for _, p := range s.Percentiles {
		if p <= 0 || p >= 100 {
			return invalidf("simulation.percentiles must lie strictly within (0, 100)")
		}
	}
	return nil
}

func (c *Config) validateSolver() error {
	s := c.Solver
	if s.IRRTolerance <= 0 {
		return invalidf("solver.irr_tolerance must be greater than zero")
	}
	if s.IRRMaxIterations <= 0 {
		return invalidf("solver.irr_max_iterations must be greater than zero")
	}
	if s.IRRMinRate <= -1 || s.IRRMaxRate <= s.IRRMinRate {
		return invalidf("solver IRR bounds must satisfy -1 < irr_min_rate < irr_max_rate")
	}
	if s.IRRGuess < s.IRRMinRate || s.IRRGuess > s.IRRMaxRate {
		return invalidf("solver.irr_guess must lie within the IRR bounds")
	}
	if s.BreakevenStep <= 0 || s.BreakevenStep >= 1 {
		return invalidf("solver.breakeven_step must lie within (0, 1)")
	}
	if s.BreakevenMaxSteps <= 0 {
		return invalidf("solver.breakeven_max_steps must be greater than zero")
	}
	return nil
}

func (c *Config) validateAttribution() error {
	a := c.Attribution
	if a.PriceFactor <= 0 || a.DelayYears <= 0 || a.BFactor <= 0 {
		return invalidf("attribution thresholds must be greater than zero")
	}
	return nil
}

func (c *Config) validateOutputs() error {
	if c.Monitor.Interval <= 0 {
		return invalidf("monitor.interval must be greater than zero")
	}
	if c.Monitor.StartupDelay < 0 || c.Monitor.Trials < 0 {
		return invalidf("monitor.startup_delay and monitor.trials cannot be negative")
	}
	if c.Export.HistogramBins <= 0 {
		return invalidf("export.histogram_bins must be greater than zero")
	}
	if c.Export.MaxSampleRows < 0 {
		return invalidf("export.max_sample_rows cannot be negative")
	}
	if c.Alerting.MaxLossProbability < 0 || c.Alerting.MaxLossProbability > 1 {
		return invalidf("alerting.max_loss_probability must lie within [0, 1]")
	}
	if c.Alerting.DownsidePercentile <= 0 || c.Alerting.DownsidePercentile >= 100 {
		return invalidf("alerting.downside_percentile must lie strictly within (0, 100)")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return invalidf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return invalidf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}
