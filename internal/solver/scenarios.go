package solver

import (
	"errors"
	"fmt"

	"royalty-risk/internal/cashflow"
	"royalty-risk/internal/decline"
	"royalty-risk/internal/pricesim"
)

// Group names a family of stress cases.
type Group string

const (
	GroupPrice    Group = "price"
	GroupDecline  Group = "decline"
	GroupCombined Group = "combined"
	GroupDelay    Group = "delay"
	GroupHaircut  Group = "haircut"
)

// Scenario is one deterministic stress case. A zero BFactor or Di means the
// reference value.
type Scenario struct {
	Group       Group
	Name        string
	PriceFactor float64
	BFactor     float64
	Di          float64
	DelayYears  float64
	Haircut     float64
}

// DefaultScenarios returns the standard comparison deck.
func DefaultScenarios() []Scenario {
	return []Scenario{
		{Group: GroupPrice, Name: "Strip (Base)", PriceFactor: 1.00},
		{Group: GroupPrice, Name: "Upside (+10%)", PriceFactor: 1.10},
		{Group: GroupPrice, Name: "Mild Stress (-15%)", PriceFactor: 0.85},
		{Group: GroupPrice, Name: "Severe Stress (-30%)", PriceFactor: 0.70},
		{Group: GroupPrice, Name: "Sustained Low ($50/bbl)", PriceFactor: 0.71},

		{Group: GroupDecline, Name: "Type Curve (Base)", PriceFactor: 1, BFactor: 0.9, Di: 0.25},
		{Group: GroupDecline, Name: "Slight Steepening", PriceFactor: 1, BFactor: 0.75, Di: 0.28},
		{Group: GroupDecline, Name: "Moderate Steepening", PriceFactor: 1, BFactor: 0.6, Di: 0.30},
		{Group: GroupDecline, Name: "Severe Steepening", PriceFactor: 1, BFactor: 0.45, Di: 0.35},
		{Group: GroupDecline, Name: "Near-Exponential", PriceFactor: 1, BFactor: 0.3, Di: 0.40},
		{Group: GroupDecline, Name: "Better Than Expected", PriceFactor: 1, BFactor: 1.1, Di: 0.18},

		{Group: GroupCombined, Name: "Moderate Price + Steep Decline", PriceFactor: 0.80, BFactor: 0.6},
		{Group: GroupCombined, Name: "Severe Price + Moderate Decline", PriceFactor: 0.70, BFactor: 0.7},
		{Group: GroupCombined, Name: "Severe Combined Stress", PriceFactor: 0.70, BFactor: 0.5},
		{Group: GroupCombined, Name: "Worst Case (All Risks)", PriceFactor: 0.60, BFactor: 0.4},
		{Group: GroupCombined, Name: "Upside Combined", PriceFactor: 1.15, BFactor: 1.0},

		{Group: GroupDelay, Name: "6-Month Delay", PriceFactor: 1, DelayYears: 0.5},
		{Group: GroupDelay, Name: "1-Year Delay", PriceFactor: 1, DelayYears: 1},
		{Group: GroupDelay, Name: "18-Month Delay", PriceFactor: 1, DelayYears: 1.5},
		{Group: GroupDelay, Name: "2-Year Delay", PriceFactor: 1, DelayYears: 2},
		{Group: GroupDelay, Name: "3-Year Delay", PriceFactor: 1, DelayYears: 3},

		{Group: GroupHaircut, Name: "Volume -10%", PriceFactor: 1, Haircut: 0.10},
		{Group: GroupHaircut, Name: "Volume -20%", PriceFactor: 1, Haircut: 0.20},
		{Group: GroupHaircut, Name: "Volume -20%, Price -20%", PriceFactor: 0.80, Haircut: 0.20},
	}
}

// ScenarioResult carries a scenario's metrics and its IRR change against
// the base case. DeltaIRR is valid only when both IRRs converged.
type ScenarioResult struct {
	Scenario Scenario
	Curve    decline.YieldCurve
	Flows    cashflow.Vector
	Metrics  cashflow.Metrics
	DeltaIRR float64
	DeltaOK  bool
	// Degenerate marks a curve left unscaled because its tail summed to zero.
	Degenerate bool
}

// Base evaluates the calibrated reference curve at strip prices. A
// degenerate tail still yields flows and metrics for the unscaled curve,
// returned together with decline.ErrDegenerateTail.
func (s *Solver) Base() (decline.YieldCurve, cashflow.Vector, cashflow.Metrics, error) {
	curve, warning := s.curves.Base()
	if warning != nil && !errors.Is(warning, decline.ErrDegenerateTail) {
		return curve, nil, cashflow.Metrics{}, warning
	}
	flows, metrics, err := s.flows.Run(curve, pricesim.Constant(1, decline.Horizon), s.opts.IncludeGA)
	if err != nil {
		return curve, nil, cashflow.Metrics{}, err
	}
	return curve, flows, metrics, warning
}

// RunScenario evaluates one stress case.
func (s *Solver) RunScenario(sc Scenario) (decline.YieldCurve, cashflow.Vector, cashflow.Metrics, error) {
	ref := s.curves.Reference()
	p := decline.Params{BFactor: ref.BFactor, Di: ref.Di, DelayYears: sc.DelayYears}
	if sc.BFactor > 0 {
		p.BFactor = sc.BFactor
	}
	if sc.Di > 0 {
		p.Di = sc.Di
	}
	curve, warning := s.curves.Build(p, false)
	if warning != nil {
		if !errors.Is(warning, decline.ErrDegenerateTail) {
			return curve, nil, cashflow.Metrics{}, fmt.Errorf("scenario %q: %w", sc.Name, warning)
		}
		warning = fmt.Errorf("scenario %q: %w", sc.Name, warning)
	}
	curve = s.curves.Haircut(curve, sc.Haircut)

	flows, metrics, err := s.flows.Run(curve, pricesim.Constant(sc.PriceFactor, decline.Horizon), s.opts.IncludeGA)
	if err != nil {
		return curve, nil, cashflow.Metrics{}, fmt.Errorf("scenario %q: %w", sc.Name, err)
	}
	return curve, flows, metrics, warning
}

// RunScenarios evaluates each scenario against the base case.
func (s *Solver) RunScenarios(scenarios []Scenario) ([]ScenarioResult, error) {
	_, _, base, err := s.Base()
	if err != nil && !errors.Is(err, decline.ErrDegenerateTail) {
		return nil, err
	}

	out := make([]ScenarioResult, 0, len(scenarios))
	for _, sc := range scenarios {
		curve, flows, metrics, err := s.RunScenario(sc)
		degenerate := errors.Is(err, decline.ErrDegenerateTail)
		if err != nil && !degenerate {
			return nil, err
		}
		r := ScenarioResult{Scenario: sc, Curve: curve, Flows: flows, Metrics: metrics, Degenerate: degenerate}
		if base.IRR.Converged && metrics.IRR.Converged {
			r.DeltaIRR = metrics.IRR.Rate - base.IRR.Rate
			r.DeltaOK = true
		}
		out = append(out, r)
	}
	return out, nil
}
