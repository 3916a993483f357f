// Package solver runs deterministic searches and stress scenarios through
// the cash flow engine.
package solver

import (
	"errors"
	"fmt"

	"royalty-risk/internal/cashflow"
	"royalty-risk/internal/config"
	"royalty-risk/internal/decline"
	"royalty-risk/internal/pricesim"
)

// ErrNoBreakeven means even the 1.00 multiplier misses the target IRR.
var ErrNoBreakeven = errors.New("solver: target IRR not reached at strip prices")

// Options bound the multiplier search.
type Options struct {
	Step          float64
	MaxSteps      int
	IRRFloor      float64
	StripOilPrice float64
	IncludeGA     bool
}

// OptionsFromConfig maps the solver and deal sections.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Step:          cfg.Solver.BreakevenStep,
		MaxSteps:      cfg.Solver.BreakevenMaxSteps,
		IRRFloor:      cfg.Solver.IRRFloor,
		StripOilPrice: cfg.Deal.StripOilPrice,
		IncludeGA:     cfg.Simulation.IncludeGA,
	}
}

// Solver is stateless apart from its engines.
type Solver struct {
	curves *decline.Engine
	flows  *cashflow.Engine
	opts   Options
}

// New returns a Solver.
func New(curves *decline.Engine, flows *cashflow.Engine, opts Options) (*Solver, error) {
	if opts.Step <= 0 || opts.Step >= 1 {
		return nil, fmt.Errorf("solver: step must lie within (0, 1), got %v", opts.Step)
	}
	if opts.MaxSteps <= 0 {
		return nil, fmt.Errorf("solver: max steps must be positive, got %d", opts.MaxSteps)
	}
	return &Solver{curves: curves, flows: flows, opts: opts}, nil
}

// Breakeven is the result of a multiplier search. Factor is the last
// multiplier whose IRR still met the target. Crossed is false when the
// budget ran out before any multiplier failed.
type Breakeven struct {
	TargetIRR float64
	Factor    float64
	OilPrice  float64
	IRR       cashflow.IRR
	Steps     int
	Crossed   bool
}

// FindBreakevenPriceFactor finds the lowest flat price multiplier that
// keeps IRR at or above zero.
func (s *Solver) FindBreakevenPriceFactor(curve decline.YieldCurve) (Breakeven, error) {
	return s.FindPriceFactor(curve, 0)
}

// FindIRRFloor is FindPriceFactor for the configured hurdle rate.
func (s *Solver) FindIRRFloor(curve decline.YieldCurve) (Breakeven, error) {
	return s.FindPriceFactor(curve, s.opts.IRRFloor)
}

// FindPriceFactor steps a flat multiplier down from 1.00 by Step,
// m_k = 1 - k*Step, until the IRR drops below target. A non-convergent IRR
// counts as missing the target.
func (s *Solver) FindPriceFactor(curve decline.YieldCurve, target float64) (Breakeven, error) {
	res := Breakeven{TargetIRR: target}
	passed := false
	for k := 0; k <= s.opts.MaxSteps; k++ {
		m := 1 - float64(k)*s.opts.Step
		if m <= 0 {
			break
		}
		res.Steps = k + 1

		_, metrics, err := s.flows.Run(curve, pricesim.Constant(m, decline.Horizon), s.opts.IncludeGA)
		if err != nil {
			return Breakeven{}, err
		}
		if !metrics.IRR.Converged || metrics.IRR.Rate < target {
			if !passed {
				return Breakeven{}, fmt.Errorf("%w (target %.4f)", ErrNoBreakeven, target)
			}
			res.Crossed = true
			break
		}
		passed = true
		res.Factor = m
		res.IRR = metrics.IRR
	}
	res.OilPrice = res.Factor * s.opts.StripOilPrice
	return res, nil
}
