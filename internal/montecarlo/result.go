package montecarlo

import (
	"royalty-risk/internal/cashflow"
)

// BatchResult holds per-trial samples in trial order plus loss counts. It
// is read-only once RunBatch returns.
type BatchResult struct {
	Seed   uint64
	Trials []Trial

	IRR     []cashflow.IRR
	ROI     []float64
	Profit  []float64
	Payback []cashflow.Payback

	// Factor is the attribution of each losing trial, empty otherwise.
	Factor []Factor

	LossCount     int
	NonConvergent int
	Degenerate    int
	Attribution   map[Factor]int
}

// N is the number of trials in the batch.
func (r *BatchResult) N() int {
	return len(r.Trials)
}

func aggregate(trials []Trial, th Thresholds, seed uint64) *BatchResult {
	n := len(trials)
	res := &BatchResult{
		Seed:        seed,
		Trials:      trials,
		IRR:         make([]cashflow.IRR, n),
		ROI:         make([]float64, n),
		Profit:      make([]float64, n),
		Payback:     make([]cashflow.Payback, n),
		Factor:      make([]Factor, n),
		Attribution: make(map[Factor]int, len(Factors)),
	}
	for _, f := range Factors {
		res.Attribution[f] = 0
	}

	for i, t := range trials {
		res.IRR[i] = t.Metrics.IRR
		res.ROI[i] = t.Metrics.ROI
		res.Profit[i] = t.Metrics.Profit
		res.Payback[i] = t.Metrics.Payback
		if !t.Metrics.IRR.Converged {
			res.NonConvergent++
		}
		if t.Degenerate {
			res.Degenerate++
		}
		if t.Loss() {
			res.LossCount++
			f := th.Classify(t.AvgPrice, t.DelayYears, t.BFactor)
			res.Factor[i] = f
			res.Attribution[f]++
		}
	}
	return res
}
