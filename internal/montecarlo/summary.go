package montecarlo

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"royalty-risk/internal/decline"
	"royalty-risk/internal/pricesim"
)

// Percentile is one point of the IRR distribution; P is in (0, 100).
type Percentile struct {
	P     float64
	Value float64
}

// Distribution summarises one sample.
type Distribution struct {
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

func describe(x []float64) Distribution {
	if len(x) == 0 {
		return Distribution{}
	}
	d := Distribution{Min: math.Inf(1), Max: math.Inf(-1)}
	d.Mean, d.StdDev = stat.MeanStdDev(x, nil)
	if len(x) == 1 {
		d.StdDev = 0
	}
	for _, v := range x {
		d.Min = math.Min(d.Min, v)
		d.Max = math.Max(d.Max, v)
	}
	return d
}

// Summary is the aggregate view of a batch. Probabilities use every trial
// as denominator; IRR statistics use converged trials only.
type Summary struct {
	Trials        int
	Converged     int
	NonConvergent int
	Degenerate    int

	LossCount       int
	LossProbability float64
	// MeanLoss is the mean shortfall of losing trials in $MM, positive.
	MeanLoss   float64
	MeanProfit float64

	IRR            Distribution
	IRRPercentiles []Percentile
	ROI            Distribution

	PaybackRecovered int
	MedianPayback    float64

	Attribution map[Factor]int

	BFactor    Distribution
	Di         Distribution
	Delay      Distribution
	Regimes    map[decline.Regime]int
	Blended    Distribution
	Commodity  [3]Distribution
	DelayedPct float64
}

// IRRAt returns the value for percentile p when it was requested and at
// least one trial converged.
func (s Summary) IRRAt(p float64) (float64, bool) {
	for _, q := range s.IRRPercentiles {
		if q.P == p {
			return q.Value, true
		}
	}
	return 0, false
}

// ConvergedIRRs returns the converged IRR rates, sorted ascending.
func (r *BatchResult) ConvergedIRRs() []float64 {
	out := make([]float64, 0, len(r.IRR))
	for _, irr := range r.IRR {
		if irr.Converged {
			out = append(out, irr.Rate)
		}
	}
	sort.Float64s(out)
	return out
}

// Summarize computes the aggregate statistics for the requested IRR
// percentiles.
func (r *BatchResult) Summarize(percentiles []float64) Summary {
	n := r.N()
	s := Summary{
		Trials:        n,
		NonConvergent: r.NonConvergent,
		Converged:     n - r.NonConvergent,
		Degenerate:    r.Degenerate,
		LossCount:     r.LossCount,
		Attribution:   make(map[Factor]int, len(r.Attribution)),
		Regimes:       make(map[decline.Regime]int),
	}
	for f, c := range r.Attribution {
		s.Attribution[f] = c
	}
	if n == 0 {
		return s
	}

	s.LossProbability = float64(r.LossCount) / float64(n)
	s.MeanProfit = stat.Mean(r.Profit, nil)
	if r.LossCount > 0 {
		total := 0.0
		for _, p := range r.Profit {
			if p < 0 {
				total -= p
			}
		}
		s.MeanLoss = total / float64(r.LossCount)
	}

	irrs := r.ConvergedIRRs()
	s.IRR = describe(irrs)
	if len(irrs) > 0 {
		for _, p := range percentiles {
			s.IRRPercentiles = append(s.IRRPercentiles, Percentile{
				P:     p,
				Value: stat.Quantile(p/100, stat.LinInterp, irrs, nil),
			})
		}
	}
	s.ROI = describe(r.ROI)

	paybacks := make([]float64, 0, n)
	for _, p := range r.Payback {
		if p.Recovered {
			paybacks = append(paybacks, p.Years)
		}
	}
	s.PaybackRecovered = len(paybacks)
	if len(paybacks) > 0 {
		sort.Float64s(paybacks)
		s.MedianPayback = stat.Quantile(0.5, stat.LinInterp, paybacks, nil)
	}

	b := make([]float64, n)
	di := make([]float64, n)
	delay := make([]float64, n)
	blended := make([]float64, n)
	var commodity [3][]float64
	for c := range commodity {
		commodity[c] = make([]float64, n)
	}
	delayed := 0
	for i, t := range r.Trials {
		b[i], di[i], delay[i], blended[i] = t.BFactor, t.Di, t.DelayYears, t.AvgPrice
		for _, c := range pricesim.Commodities {
			commodity[c][i] = t.CommodityAvg[c]
		}
		if t.DelayYears > 0 {
			delayed++
		}
		s.Regimes[decline.Classify(t.BFactor)]++
	}
	s.BFactor = describe(b)
	s.Di = describe(di)
	s.Delay = describe(delay)
	s.Blended = describe(blended)
	for c := range commodity {
		s.Commodity[c] = describe(commodity[c])
	}
	s.DelayedPct = float64(delayed) / float64(n)
	return s
}

// InputRange describes the risk drivers of trials in an IRR band.
type InputRange struct {
	Trials   int
	AvgPrice Distribution
	BFactor  Distribution
	Delay    Distribution
}

// PercentileInputRange reports the drivers of converged trials whose IRR
// lies between the lo and hi percentiles (inclusive), for example 0 and 5
// to explain the downside tail.
func (r *BatchResult) PercentileInputRange(lo, hi float64) InputRange {
	irrs := r.ConvergedIRRs()
	if len(irrs) == 0 || hi < lo {
		return InputRange{}
	}
	from := stat.Quantile(lo/100, stat.LinInterp, irrs, nil)
	to := stat.Quantile(hi/100, stat.LinInterp, irrs, nil)

	var price, b, delay []float64
	for i, t := range r.Trials {
		irr := r.IRR[i]
		if !irr.Converged || irr.Rate < from || irr.Rate > to {
			continue
		}
		price = append(price, t.AvgPrice)
		b = append(b, t.BFactor)
		delay = append(delay, t.DelayYears)
	}
	return InputRange{
		Trials:   len(price),
		AvgPrice: describe(price),
		BFactor:  describe(b),
		Delay:    describe(delay),
	}
}
