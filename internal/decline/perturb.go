package decline

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"royalty-risk/internal/config"
)

// Perturbation describes the Monte Carlo shock applied to decline parameters.
type Perturbation struct {
	BaseB        float64
	BaseDi       float64
	BVolatility  float64
	DiVolatility float64
	BMin, BMax   float64
	DiMin, DiMax float64
}

// PerturbationFromConfig maps runtime configuration onto a Perturbation.
func PerturbationFromConfig(cfg *config.Config) Perturbation {
	d := cfg.Decline
	return Perturbation{
		BaseB:        d.BaseBFactor,
		BaseDi:       d.BaseDi,
		BVolatility:  d.BVolatility,
		DiVolatility: d.DiVolatility,
		BMin:         d.BMin,
		BMax:         d.BMax,
		DiMin:        d.DiMin,
		DiMax:        d.DiMax,
	}
}

// Draw shocks b then Di with normal noise and clips each to its band.
func (p Perturbation) Draw(src rand.Source) (bFactor, di float64) {
	bShock := distuv.Normal{Mu: 0, Sigma: p.BVolatility, Src: src}.Rand()
	diShock := distuv.Normal{Mu: 0, Sigma: p.DiVolatility, Src: src}.Rand()
	return clip(p.BaseB+bShock, p.BMin, p.BMax), clip(p.BaseDi+diShock, p.DiMin, p.DiMax)
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Regime labels the shape of a decline curve by its b-factor.
type Regime string

const (
	RegimeSevere    Regime = "Severe Steepening"
	RegimeModerate  Regime = "Moderate Steepening"
	RegimeTypeCurve Regime = "Near Type Curve"
	RegimeFlatter   Regime = "Flatter than Expected"
)

// Classify buckets b: below 0.5 is severe, below 0.7 moderate, above 1.0 flatter.
func Classify(bFactor float64) Regime {
	switch {
	case bFactor < 0.5:
		return RegimeSevere
	case bFactor < 0.7:
		return RegimeModerate
	case bFactor > 1.0:
		return RegimeFlatter
	default:
		return RegimeTypeCurve
	}
}
