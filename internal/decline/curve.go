// Package decline builds annual yield curves from anchored early yields and
// an Arps hyperbolic tail, and reshapes them for development delay.
package decline

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"royalty-risk/internal/config"
)

// Horizon is the number of modelled years.
const Horizon = 10

var (
	// ErrDegenerateTail means the generated tail sums to zero, so the curve
	// cannot be calibrated. The unscaled curve is returned alongside it.
	ErrDegenerateTail = errors.New("decline: tail yields sum to zero; calibration skipped")
	// ErrInvalidParams rejects non-physical curve parameters.
	ErrInvalidParams = errors.New("decline: invalid curve parameters")
)

// YieldCurve holds annual cash yields as a fraction of invested capital;
// index 0 is year 1.
type YieldCurve [Horizon]float64

// Sum returns the undiscounted total yield.
func (c YieldCurve) Sum() float64 {
	return floats.Sum(c[:])
}

// Mean returns the average annual yield.
func (c YieldCurve) Mean() float64 {
	return c.Sum() / Horizon
}

// Params is one set of decline-curve inputs.
type Params struct {
	BFactor    float64
	Di         float64
	DelayYears float64
}

// Options configure an Engine.
type Options struct {
	Anchors             []float64
	TargetAverage       float64
	Floor               float64
	ReferenceB          float64
	ReferenceDi         float64
	ProtectedShare      float64
	InflationRate       float64
	OpportunityCostRate float64
	RelativeScaling     bool
}

// OptionsFromConfig maps runtime configuration onto engine options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Anchors:             append([]float64(nil), cfg.Yield.Anchors...),
		TargetAverage:       cfg.Yield.TargetAverage,
		Floor:               cfg.Yield.Floor,
		ReferenceB:          cfg.Decline.BaseBFactor,
		ReferenceDi:         cfg.Decline.BaseDi,
		ProtectedShare:      cfg.ProtectedShare(),
		InflationRate:       cfg.Delay.InflationRate,
		OpportunityCostRate: cfg.Delay.OpportunityCostRate,
		RelativeScaling:     cfg.Decline.RelativeScaling,
	}
}

// Engine produces yield curves. It is immutable and safe for concurrent use.
type Engine struct {
	opts     Options
	refScale float64
}

// New validates options and precomputes the reference calibration scale.
func New(opts Options) (*Engine, error) {
	if len(opts.Anchors) == 0 || len(opts.Anchors) >= Horizon {
		return nil, fmt.Errorf("%w: need between 1 and %d anchors", ErrInvalidParams, Horizon-1)
	}
	if opts.Floor < 0 || opts.TargetAverage <= 0 {
		return nil, fmt.Errorf("%w: floor and target average", ErrInvalidParams)
	}
	if opts.ProtectedShare < 0 || opts.ProtectedShare > 1 {
		return nil, fmt.Errorf("%w: protected share %.4f", ErrInvalidParams, opts.ProtectedShare)
	}
	if opts.InflationRate < 0 || opts.OpportunityCostRate < 0 {
		return nil, fmt.Errorf("%w: negative delay rates", ErrInvalidParams)
	}
	if err := checkParams(opts.ReferenceB, opts.ReferenceDi, 0); err != nil {
		return nil, err
	}

	e := &Engine{opts: opts, refScale: 1}
	scale, err := e.calibrationScale(e.tail(opts.ReferenceB, opts.ReferenceDi))
	switch {
	case err == nil:
		e.refScale = scale
	case !errors.Is(err, ErrDegenerateTail):
		return nil, err
	}
	return e, nil
}

// ProtectedShare is the delay-immune fraction of every year's yield.
func (e *Engine) ProtectedShare() float64 {
	return e.opts.ProtectedShare
}

// Reference returns the unperturbed decline parameters.
func (e *Engine) Reference() Params {
	return Params{BFactor: e.opts.ReferenceB, Di: e.opts.ReferenceDi}
}

// Base returns the calibrated reference curve.
func (e *Engine) Base() (YieldCurve, error) {
	return e.BuildYieldCurve(e.opts.ReferenceB, e.opts.ReferenceDi, 0, true)
}

// Build is BuildYieldCurve for a Params value.
func (e *Engine) Build(p Params, calibrate bool) (YieldCurve, error) {
	return e.BuildYieldCurve(p.BFactor, p.Di, p.DelayYears, calibrate)
}

// BuildYieldCurve anchors the early years, generates the hyperbolic tail and
// applies delayYears of development delay. The tail is rescaled to hit the
// target average when calibrate is set or (b, Di) is the reference pair;
// years floored after scaling can leave the mean above target. Delay is
// applied to the calibrated curve, so a delayed reference curve is the base
// curve shifted. A degenerate tail returns the unscaled curve with
// ErrDegenerateTail.
func (e *Engine) BuildYieldCurve(bFactor, di, delayYears float64, calibrate bool) (YieldCurve, error) {
	if err := checkParams(bFactor, di, delayYears); err != nil {
		return YieldCurve{}, err
	}

	tail := e.tail(bFactor, di)
	reference := bFactor == e.opts.ReferenceB && di == e.opts.ReferenceDi

	var warning error
	switch {
	case calibrate || reference:
		scale, err := e.calibrationScale(tail)
		if err != nil {
			if !errors.Is(err, ErrDegenerateTail) {
				return YieldCurve{}, err
			}
			warning = err
			break
		}
		e.scaleTail(tail, scale)
	case e.opts.RelativeScaling:
		e.scaleTail(tail, e.refScale)
	}

	var curve YieldCurve
	n := copy(curve[:], e.opts.Anchors)
	copy(curve[n:], tail)

	if delayYears > 0 {
		curve = e.ApplyDelay(curve, delayYears)
	}
	return curve, warning
}

func checkParams(b, di, delay float64) error {
	if !(b > 0) || math.IsInf(b, 0) {
		return fmt.Errorf("%w: b-factor %v", ErrInvalidParams, b)
	}
	if !(di > 0) || math.IsInf(di, 0) {
		return fmt.Errorf("%w: initial decline %v", ErrInvalidParams, di)
	}
	if !(delay >= 0) || math.IsInf(delay, 0) {
		return fmt.Errorf("%w: delay %v", ErrInvalidParams, delay)
	}
	return nil
}

// tail evaluates q(t) = q_k / (1 + b*Di*t)^(1/b) from the last anchor.
func (e *Engine) tail(b, di float64) []float64 {
	last := e.opts.Anchors[len(e.opts.Anchors)-1]
	out := make([]float64, Horizon-len(e.opts.Anchors))
	for i := range out {
		t := float64(i + 1)
		q := last / math.Pow(1+b*di*t, 1/b)
		out[i] = math.Max(q, e.opts.Floor)
	}
	return out
}

func (e *Engine) calibrationScale(tail []float64) (float64, error) {
	remaining := e.opts.TargetAverage*Horizon - floats.Sum(e.opts.Anchors)
	if remaining < 0 {
		return 0, fmt.Errorf("%w: target average below anchored years", ErrInvalidParams)
	}
	tailSum := floats.Sum(tail)
	if tailSum <= 0 {
		return 1, ErrDegenerateTail
	}
	return remaining / tailSum, nil
}

// scaleTail rescales the tail and re-applies the floor. The floor wins over
// the target: when scaling pushes years below it, the calibrated mean ends
// above TargetAverage.
func (e *Engine) scaleTail(tail []float64, scale float64) {
	floats.Scale(scale, tail)
	for i, v := range tail {
		tail[i] = math.Max(v, e.opts.Floor)
	}
}

// Haircut applies a uniform volume reduction, e.g. 0.15 removes 15%.
func (e *Engine) Haircut(c YieldCurve, pct float64) YieldCurve {
	if pct <= 0 {
		return c
	}
	for i := range c {
		c[i] = math.Max(c[i]*(1-pct), e.opts.Floor)
	}
	return c
}
