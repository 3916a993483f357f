package decline

import "math"

// DelayPenalty compounds inflation and opportunity cost over delay years.
// It is strictly increasing in delay whenever either rate is positive.
func (e *Engine) DelayPenalty(delayYears float64) float64 {
	return math.Pow(1+e.opts.InflationRate, delayYears) * math.Pow(1+e.opts.OpportunityCostRate, delayYears)
}

// ApplyDelay shifts the deferred (undeveloped) share of c later by
// delayYears. The protected share keeps its original timing. Deferred yield
// is read from the undelayed curve at the shifted position and divided by
// DelayPenalty. Delays at or past the horizon leave only the protected share.
func (e *Engine) ApplyDelay(c YieldCurve, delayYears float64) YieldCurve {
	if !(delayYears > 0) {
		return c
	}

	var protected, deferred YieldCurve
	for i, v := range c {
		protected[i] = v * e.opts.ProtectedShare
		deferred[i] = v - protected[i]
	}

	var out YieldCurve
	if delayYears >= Horizon {
		for i, v := range protected {
			out[i] = math.Max(v, e.opts.Floor)
		}
		return out
	}

	penalty := e.DelayPenalty(delayYears)
	whole := int(math.Floor(delayYears))
	frac := delayYears - float64(whole)

	for i := range out {
		v := protected[i]
		switch {
		case i < whole:
			// still waiting on development
		case i == whole:
			v += (1 - frac) * deferred[0] / penalty
		default:
			v += interpolate(deferred, float64(i)-delayYears) / penalty
		}
		out[i] = math.Max(v, e.opts.Floor)
	}
	return out
}

// interpolate reads c at a fractional zero-based year position.
func interpolate(c YieldCurve, pos float64) float64 {
	if pos <= 0 {
		return c[0]
	}
	lo := int(math.Floor(pos))
	if lo >= Horizon-1 {
		return c[Horizon-1]
	}
	w := pos - float64(lo)
	return c[lo]*(1-w) + c[lo+1]*w
}
