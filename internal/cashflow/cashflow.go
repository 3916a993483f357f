// Package cashflow turns a yield curve and a price path into an annual cash
// flow vector and derives investment metrics from it.
package cashflow

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"royalty-risk/internal/config"
	"royalty-risk/internal/decline"
	"royalty-risk/internal/pricesim"
)

// Length is the number of entries in a Vector: the year-0 outflow plus one
// flow per modelled year.
const Length = decline.Horizon + 1

var ErrShortPath = errors.New("cashflow: price path shorter than the yield curve")

// Vector is an annual cash flow series in $MM. Index 0 is the investment and
// is always negative.
type Vector []float64

// Profit is the undiscounted sum of all flows.
func (v Vector) Profit() float64 {
	return floats.Sum(v)
}

// NAVBand is one step of the terminal multiple table.
type NAVBand struct {
	MinPriceFactor float64
	Multiple       float64
}

// Options configure an Engine. Money amounts are in $MM.
type Options struct {
	Investment               float64
	GARate                   float64
	OwnershipShare           float64
	TotalAssetValue          float64
	RemainingReserveFraction float64
	NAVBands                 []NAVBand
	FloorMultiple            float64
}

// OptionsFromConfig maps runtime configuration onto engine options.
func OptionsFromConfig(cfg *config.Config) Options {
	bands := make([]NAVBand, len(cfg.Terminal.NAVBands))
	for i, b := range cfg.Terminal.NAVBands {
		bands[i] = NAVBand{MinPriceFactor: b.MinPriceFactor, Multiple: b.Multiple}
	}
	return Options{
		Investment:               cfg.Deal.InvestmentMM,
		GARate:                   cfg.Deal.GARate,
		OwnershipShare:           cfg.Deal.OwnershipShare(),
		TotalAssetValue:          cfg.TotalNAV(),
		RemainingReserveFraction: cfg.Terminal.RemainingReserveFraction,
		NAVBands:                 bands,
		FloorMultiple:            cfg.Terminal.FloorMultiple,
	}
}

// Engine builds cash flows and evaluates them. It is immutable and safe for
// concurrent use.
type Engine struct {
	opts   Options
	solver RootFinder
}

// New returns an Engine using solver for IRR.
func New(opts Options, solver RootFinder) (*Engine, error) {
	if opts.Investment <= 0 {
		return nil, fmt.Errorf("cashflow: investment must be positive, got %v", opts.Investment)
	}
	return &Engine{opts: opts, solver: solver}, nil
}

// Options returns the engine configuration.
func (e *Engine) Options() Options {
	return e.opts
}

// BuildCashFlows computes year 0..10 flows. Each year earns
// investment × yield × blended price, less G&A when includeGA is set; the
// final year also carries the terminal value.
func (e *Engine) BuildCashFlows(curve decline.YieldCurve, path pricesim.PricePath, includeGA bool) (Vector, error) {
	if path.Years() < decline.Horizon {
		return nil, fmt.Errorf("%w: %d years", ErrShortPath, path.Years())
	}

	flows := make(Vector, Length)
	flows[0] = -e.opts.Investment

	ga := 0.0
	if includeGA {
		ga = e.opts.Investment * e.opts.GARate
	}
	for t := 1; t < Length; t++ {
		flows[t] = e.opts.Investment*curve[t-1]*path.Blended[t-1] - ga
	}
	flows[Length-1] += e.TerminalValue(path.Blended[decline.Horizon-1])
	return flows, nil
}

// TerminalValue is the investor's share of the residual reserves sold at the
// end of the horizon at the given price factor.
func (e *Engine) TerminalValue(priceFactor float64) float64 {
	o := e.opts
	return o.RemainingReserveFraction * o.TotalAssetValue * e.NAVMultiple(priceFactor) * priceFactor * o.OwnershipShare
}

// NAVMultiple looks up the buyer multiple for a price factor. Bands are
// ordered by descending MinPriceFactor; below every band the floor applies.
func (e *Engine) NAVMultiple(priceFactor float64) float64 {
	for _, b := range e.opts.NAVBands {
		if priceFactor >= b.MinPriceFactor {
			return b.Multiple
		}
	}
	return e.opts.FloorMultiple
}

// Metrics summarises one cash flow vector.
type Metrics struct {
	IRR     IRR
	ROI     float64
	Payback Payback
	Profit  float64
}

// Evaluate computes every metric for flows.
func (e *Engine) Evaluate(flows Vector) Metrics {
	return Metrics{
		IRR:     e.solver.IRR(flows),
		ROI:     ROI(flows),
		Payback: CalculatePayback(flows),
		Profit:  flows.Profit(),
	}
}

// Run builds flows for curve and path and evaluates them.
func (e *Engine) Run(curve decline.YieldCurve, path pricesim.PricePath, includeGA bool) (Vector, Metrics, error) {
	flows, err := e.BuildCashFlows(curve, path, includeGA)
	if err != nil {
		return nil, Metrics{}, err
	}
	return flows, e.Evaluate(flows), nil
}
