package montecarlo

import "royalty-risk/internal/config"

// Factor labels the driver of a losing trial.
type Factor string

const (
	FactorPrice    Factor = "price"
	FactorTiming   Factor = "timing"
	FactorDecline  Factor = "decline"
	FactorCombined Factor = "combined"
)

// Factors lists every attribution label in report order.
var Factors = []Factor{FactorPrice, FactorTiming, FactorDecline, FactorCombined}

// Thresholds are the attribution cutoffs. A trial trips price below
// PriceFactor, timing at or above DelayYears and decline below BFactor.
type Thresholds struct {
	PriceFactor float64
	DelayYears  float64
	BFactor     float64
}

// ThresholdsFromConfig maps the attribution section.
func ThresholdsFromConfig(cfg *config.Config) Thresholds {
	return Thresholds{
		PriceFactor: cfg.Attribution.PriceFactor,
		DelayYears:  cfg.Attribution.DelayYears,
		BFactor:     cfg.Attribution.BFactor,
	}
}

// Classify assigns exactly one factor. Two or more tripped cutoffs give
// FactorCombined. When none trips, the driver closest to its cutoff wins,
// measured as relative margin; ties go to price, then timing.
func (th Thresholds) Classify(avgPrice, delayYears, bFactor float64) Factor {
	price := avgPrice < th.PriceFactor
	timing := delayYears >= th.DelayYears
	decl := bFactor < th.BFactor

	tripped := 0
	for _, ok := range []bool{price, timing, decl} {
		if ok {
			tripped++
		}
	}
	switch {
	case tripped > 1:
		return FactorCombined
	case price:
		return FactorPrice
	case timing:
		return FactorTiming
	case decl:
		return FactorDecline
	}

	best, margin := FactorPrice, avgPrice/th.PriceFactor-1
	if m := 1 - delayYears/th.DelayYears; m < margin {
		best, margin = FactorTiming, m
	}
	if m := bFactor/th.BFactor - 1; m < margin {
		best = FactorDecline
	}
	return best
}
