package app

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"royalty-risk/internal/cashflow"
	"royalty-risk/internal/decline"
	"royalty-risk/internal/montecarlo"
	"royalty-risk/internal/pricesim"
	"royalty-risk/internal/service"
	"royalty-risk/internal/solver"
	"royalty-risk/internal/storage"
)

var regimeOrder = []decline.Regime{
	decline.RegimeSevere,
	decline.RegimeModerate,
	decline.RegimeTypeCurve,
	decline.RegimeFlatter,
}

func (a *App) table() *tabwriter.Writer {
	return tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
}

func (a *App) printReport(r *service.Report) error {
	out := a.Out
	sum := r.Summary

	fmt.Fprintf(out, "Run %q  seed=%d  trials=%d  workers=%d  elapsed=%s\n\n",
		r.Label, r.Seed, r.Trials, r.Workers, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))

	fmt.Fprintln(out, "Base case (strip pricing, type curve)")
	a.printFlows(r.BaseCurve, r.BaseFlows)
	fmt.Fprintf(out, "IRR %s  ROI %s  payback %s  profit %s\n\n",
		r.BaseMetrics.IRR, formatMultiple(r.BaseMetrics.ROI), r.BaseMetrics.Payback, formatMM(r.BaseMetrics.Profit))

	w := a.table()
	fmt.Fprintln(w, "Metric\tValue")
	fmt.Fprintf(w, "Loss probability\t%s (%d/%d)\n", formatPct(sum.LossProbability), sum.LossCount, sum.Trials)
	fmt.Fprintf(w, "Mean loss when losing\t%s\n", formatMM(sum.MeanLoss))
	fmt.Fprintf(w, "Mean profit\t%s\n", formatMM(sum.MeanProfit))
	fmt.Fprintf(w, "Mean IRR\t%s\n", formatPct(sum.IRR.Mean))
	fmt.Fprintf(w, "IRR std dev\t%s\n", formatPct(sum.IRR.StdDev))
	for _, p := range sum.IRRPercentiles {
		fmt.Fprintf(w, "IRR P%s\t%s\n", decimal.NewFromFloat(p.P).String(), formatPct(p.Value))
	}
	fmt.Fprintf(w, "Mean ROI\t%s\n", formatMultiple(sum.ROI.Mean))
	fmt.Fprintf(w, "Median payback\t%s (%d recovered)\n", formatYears(sum.MedianPayback), sum.PaybackRecovered)
	fmt.Fprintf(w, "Non-convergent IRR\t%d\n", sum.NonConvergent)
	fmt.Fprintf(w, "Degenerate tails\t%d\n", sum.Degenerate)
	if err := w.Flush(); err != nil {
		return err
	}

	if sum.LossCount > 0 {
		fmt.Fprintln(out, "\nLoss attribution")
		w = a.table()
		fmt.Fprintln(w, "Driver\tTrials\tShare")
		for _, f := range montecarlo.Factors {
			n := sum.Attribution[f]
			fmt.Fprintf(w, "%s\t%d\t%s\n", f, n, formatPct(float64(n)/float64(sum.LossCount)))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "\nSampled inputs")
	w = a.table()
	fmt.Fprintln(w, "Input\tMean\tStd\tMin\tMax")
	writeDistribution(w, "b-factor", sum.BFactor, 3)
	writeDistribution(w, "Di", sum.Di, 3)
	writeDistribution(w, "Delay (years)", sum.Delay, 2)
	writeDistribution(w, "Blended price factor", sum.Blended, 3)
	for _, c := range pricesim.Commodities {
		writeDistribution(w, c.String()+" price factor", sum.Commodity[c], 3)
	}
	fmt.Fprintf(w, "Delayed trials\t%s\t\t\t\n", formatPct(sum.DelayedPct))
	for _, regime := range regimeOrder {
		fmt.Fprintf(w, "%s\t%d\t\t\t\n", regime, sum.Regimes[regime])
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if r.Downside.Trials > 0 {
		fmt.Fprintf(out, "\nDownside tail (P0-P%s, %d trials): avg price %s, b %s, delay %s\n",
			decimal.NewFromFloat(r.Limits.DownsidePercentile).String(), r.Downside.Trials,
			formatFactor(r.Downside.AvgPrice.Mean), formatFactor(r.Downside.BFactor.Mean), formatYears(r.Downside.Delay.Mean))
	}

	fmt.Fprintln(out)
	writeBreakevenLine(out, "Breakeven (IRR 0%)", r.Breakeven)
	writeBreakevenLine(out, "IRR floor", r.IRRFloor)

	if len(r.Breaches) > 0 {
		fmt.Fprintf(out, "\nLIMIT BREACH: %s\n", strings.Join(r.Breaches, ", "))
	}
	if r.Run != nil {
		fmt.Fprintf(out, "\nPersisted as run #%d\n", r.Run.ID)
	}
	return nil
}

func (a *App) printFlows(curve decline.YieldCurve, flows cashflow.Vector) {
	w := a.table()
	fmt.Fprintln(w, "Year\tYield\tCash flow ($MM)")
	for i, cf := range flows {
		yield := ""
		if i > 0 && i <= len(curve) {
			yield = formatPct(curve[i-1])
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", i, yield, decimal.NewFromFloat(cf).StringFixed(2))
	}
	w.Flush()
}

func (a *App) printScenarios(results []solver.ScenarioResult) error {
	w := a.table()
	fmt.Fprintln(w, "Group\tScenario\tIRR\tΔIRR\tROI\tPayback\tProfit")
	for _, res := range results {
		delta := "n/a"
		if res.DeltaOK {
			delta = formatSignedPct(res.DeltaIRR)
		}
		name := res.Scenario.Name
		if res.Degenerate {
			name += " (uncalibrated)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			res.Scenario.Group, name, res.Metrics.IRR, delta,
			formatMultiple(res.Metrics.ROI), res.Metrics.Payback, formatMM(res.Metrics.Profit))
	}
	return w.Flush()
}

func (a *App) printBreakeven(curve decline.YieldCurve, flows cashflow.Vector, base cashflow.Metrics, zero solver.Breakeven, zeroErr error, floor solver.Breakeven, floorErr error) error {
	fmt.Fprintln(a.Out, "Base case")
	a.printFlows(curve, flows)
	fmt.Fprintf(a.Out, "IRR %s  ROI %s\n\n", base.IRR, formatMultiple(base.ROI))

	for _, item := range []struct {
		name string
		be   solver.Breakeven
		err  error
	}{
		{"Breakeven (IRR 0%)", zero, zeroErr},
		{"IRR floor", floor, floorErr},
	} {
		if item.err != nil {
			fmt.Fprintf(a.Out, "%s: %v\n", item.name, item.err)
			continue
		}
		writeBreakevenLine(a.Out, item.name, &item.be)
	}
	return nil
}

func writeBreakevenLine(out io.Writer, name string, be *solver.Breakeven) {
	if be == nil {
		fmt.Fprintf(out, "%s: not found\n", name)
		return
	}
	suffix := ""
	if !be.Crossed {
		suffix = " (search budget exhausted)"
	}
	fmt.Fprintf(out, "%s: price factor %s  oil $%s/bbl  IRR %s  target %s%s\n",
		name, formatFactor(be.Factor), decimal.NewFromFloat(be.OilPrice).StringFixed(2),
		be.IRR, formatPct(be.TargetIRR), suffix)
}

func (a *App) printDelays(rows []service.DelayRow) error {
	w := a.table()
	fmt.Fprintln(w, "Delay\tBase IRR\tBase ROI\tMean IRR\tP50 IRR\tLoss prob\tMean loss")
	for _, row := range rows {
		median := "n/a"
		if v, ok := row.Summary.IRRAt(50); ok {
			median = formatPct(v)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			formatYears(row.DelayYears), row.Deterministic.IRR, formatMultiple(row.Deterministic.ROI),
			formatPct(row.Summary.IRR.Mean), median,
			formatPct(row.Summary.LossProbability), formatMM(row.Summary.MeanLoss))
	}
	return w.Flush()
}

func (a *App) printHistory(runs []storage.RunRecord) error {
	if len(runs) == 0 {
		fmt.Fprintln(a.Out, "no runs found")
		return nil
	}

	w := a.table()
	fmt.Fprintln(w, "ID\tFinished (UTC)\tLabel\tSeed\tTrials\tLoss prob\tMedian IRR\tDownside IRR\tBreakeven\tAlerted")
	for _, run := range runs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\t%s\t%s\t%s\t%t\n",
			run.ID,
			run.FinishedAt.UTC().Format(time.RFC3339),
			sanitizeInline(run.Label),
			run.Seed,
			run.Trials,
			formatPct(run.LossProbability.InexactFloat64()),
			formatNullPct(run.MedianIRR),
			formatNullPct(run.DownsideIRR),
			formatNullDecimal(run.BreakevenFactor, 2),
			run.Alerted,
		)
	}
	return w.Flush()
}

func (a *App) printRun(run storage.RunRecord) error {
	w := a.table()
	fmt.Fprintln(w, "Field\tValue")
	fmt.Fprintf(w, "ID\t%d\n", run.ID)
	fmt.Fprintf(w, "Label\t%s\n", sanitizeInline(run.Label))
	fmt.Fprintf(w, "Seed\t%d\n", run.Seed)
	fmt.Fprintf(w, "Trials\t%d (workers %d)\n", run.Trials, run.Workers)
	fmt.Fprintf(w, "Started (UTC)\t%s\n", run.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "Duration\t%s\n", run.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "Loss probability\t%s\n", formatPct(run.LossProbability.InexactFloat64()))
	fmt.Fprintf(w, "Mean loss\t%s\n", formatMM(run.MeanLossMM.InexactFloat64()))
	fmt.Fprintf(w, "Mean IRR\t%s\n", formatNullPct(run.MeanIRR))
	fmt.Fprintf(w, "Median IRR\t%s\n", formatNullPct(run.MedianIRR))
	fmt.Fprintf(w, "P%s IRR\t%s\n", run.DownsidePercentile.String(), formatNullPct(run.DownsideIRR))
	fmt.Fprintf(w, "Base IRR\t%s\n", formatNullPct(run.BaseIRR))
	fmt.Fprintf(w, "Breakeven factor\t%s\n", formatNullDecimal(run.BreakevenFactor, 2))
	fmt.Fprintf(w, "Non-convergent IRR\t%d\n", run.NonConvergent)
	for _, f := range montecarlo.Factors {
		fmt.Fprintf(w, "Losses: %s\t%d\n", f, run.Attribution[string(f)])
	}
	fmt.Fprintf(w, "Alerted\t%t\n", run.Alerted)
	return w.Flush()
}

func writeDistribution(w io.Writer, name string, d montecarlo.Distribution, places int32) {
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", name,
		formatFloat(d.Mean, places), formatFloat(d.StdDev, places),
		formatFloat(d.Min, places), formatFloat(d.Max, places))
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatFloat(v float64, places int32) string {
	return formatDecimal(decimal.NewFromFloat(v), places)
}

func formatPct(v float64) string {
	return formatFloat(v*100, 2) + "%"
}

func formatSignedPct(v float64) string {
	s := formatPct(v)
	if v >= 0 {
		return "+" + s
	}
	return s
}

func formatMM(v float64) string {
	return "$" + formatFloat(v, 2) + "MM"
}

func formatMultiple(v float64) string {
	return formatFloat(v, 2) + "x"
}

func formatFactor(v float64) string {
	return formatFloat(v, 2)
}

func formatYears(v float64) string {
	return formatFloat(v, 2) + "y"
}

func formatNullPct(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return formatPct(d.Decimal.InexactFloat64())
}

func formatNullDecimal(d decimal.NullDecimal, places int32) string {
	if !d.Valid {
		return "-"
	}
	return formatDecimal(d.Decimal, places)
}
