package cashflow

import (
	"math"

	"royalty-risk/internal/config"
)

// IRR is the outcome of a root find. Rate is meaningful only when Converged.
type IRR struct {
	Rate       float64
	Converged  bool
	Iterations int
}

func (r IRR) String() string {
	if !r.Converged {
		return "n/c"
	}
	return formatPct(r.Rate)
}

// RootFinder solves NPV(r) = 0 with Newton's method.
type RootFinder struct {
	Guess         float64
	Tolerance     float64
	MaxIterations int
	MinRate       float64
	MaxRate       float64
}

// RootFinderFromConfig maps solver configuration onto a RootFinder.
func RootFinderFromConfig(cfg *config.Config) RootFinder {
	s := cfg.Solver
	return RootFinder{
		Guess:         s.IRRGuess,
		Tolerance:     s.IRRTolerance,
		MaxIterations: s.IRRMaxIterations,
		MinRate:       s.IRRMinRate,
		MaxRate:       s.IRRMaxRate,
	}
}

// residualTolerance bounds |NPV| at an accepted root relative to the gross
// size of the flows, so a step that stalls on a clamp bound is rejected.
const residualTolerance = 1e-6

// IRR runs Newton iterations from the configured guess, clamping every
// candidate into [MinRate, MaxRate]. Exhausting the iteration budget, a flat
// derivative or a non-zero residual yields Converged=false.
func (f RootFinder) IRR(flows Vector) IRR {
	rate := f.clamp(f.Guess)
	for it := 1; it <= f.MaxIterations; it++ {
		npv, slope := npvAndSlope(flows, rate)
		if slope == 0 || math.IsNaN(slope) || math.IsNaN(npv) {
			return IRR{Rate: rate, Iterations: it}
		}
		next := f.clamp(rate - npv/slope)
		if math.Abs(next-rate) < f.Tolerance {
			return IRR{Rate: next, Iterations: it, Converged: residualOK(flows, next)}
		}
		rate = next
	}
	return IRR{Rate: rate, Iterations: f.MaxIterations}
}

func (f RootFinder) clamp(r float64) float64 {
	return math.Min(math.Max(r, f.MinRate), f.MaxRate)
}

func residualOK(flows Vector, rate float64) bool {
	gross := 0.0
	for _, cf := range flows {
		gross += math.Abs(cf)
	}
	return math.Abs(NPV(flows, rate)) <= residualTolerance*gross
}

func npvAndSlope(flows Vector, rate float64) (npv, slope float64) {
	base := 1 + rate
	for t, cf := range flows {
		disc := math.Pow(base, float64(t))
		npv += cf / disc
		if t > 0 {
			slope -= float64(t) * cf / (disc * base)
		}
	}
	return npv, slope
}

// NPV discounts flows at rate; index 0 is undiscounted.
func NPV(flows Vector, rate float64) float64 {
	npv, _ := npvAndSlope(flows, rate)
	return npv
}

// ROI is total inflow over the initial outlay, never below zero.
func ROI(flows Vector) float64 {
	if len(flows) == 0 || flows[0] == 0 {
		return 0
	}
	inflow := 0.0
	for _, cf := range flows[1:] {
		inflow += cf
	}
	return math.Max(0, inflow/math.Abs(flows[0]))
}

// Payback is the time to recover the outlay; Recovered=false means never.
type Payback struct {
	Years     float64
	Recovered bool
}

func (p Payback) String() string {
	if !p.Recovered {
		return "never"
	}
	return formatYears(p.Years)
}

// CalculatePayback finds the first year the cumulative flow turns
// non-negative and interpolates linearly within that year.
func CalculatePayback(flows Vector) Payback {
	if len(flows) == 0 {
		return Payback{}
	}
	cum := flows[0]
	if cum >= 0 {
		return Payback{Recovered: true}
	}
	for t := 1; t < len(flows); t++ {
		prev := cum
		cum += flows[t]
		if cum >= 0 {
			return Payback{Years: float64(t-1) + -prev/flows[t], Recovered: true}
		}
	}
	return Payback{}
}
