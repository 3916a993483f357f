package app

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"royalty-risk/internal/config"
	"royalty-risk/internal/decline"
	"royalty-risk/internal/montecarlo"
	"royalty-risk/internal/service"
)

// curveDelays are the development delays drawn next to the base curve.
var curveDelays = []float64{1, 2, 3}

// writeTrialsCSV dumps per-trial samples. maxRows <= 0 writes every trial.
func writeTrialsCSV(path string, batch *montecarlo.BatchResult, maxRows int) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"trial", "irr", "irr_converged", "roi", "profit_mm", "payback_years", "payback_recovered",
		"b_factor", "di", "delay_years", "avg_price_factor", "oil_factor", "gas_factor", "ngl_factor",
		"loss", "driver", "degenerate",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	rows := batch.N()
	if maxRows > 0 && rows > maxRows {
		rows = maxRows
	}
	for i := range rows {
		t := batch.Trials[i]
		m := t.Metrics
		record := []string{
			strconv.Itoa(t.Index),
			formatFloat(m.IRR.Rate, 6),
			strconv.FormatBool(m.IRR.Converged),
			formatFloat(m.ROI, 6),
			formatFloat(m.Profit, 4),
			formatFloat(m.Payback.Years, 4),
			strconv.FormatBool(m.Payback.Recovered),
			formatFloat(t.BFactor, 6),
			formatFloat(t.Di, 6),
			formatFloat(t.DelayYears, 6),
			formatFloat(t.AvgPrice, 6),
			formatFloat(t.CommodityAvg[0], 6),
			formatFloat(t.CommodityAvg[1], 6),
			formatFloat(t.CommodityAvg[2], 6),
			strconv.FormatBool(t.Loss()),
			string(batch.Factor[i]),
			strconv.FormatBool(t.Degenerate),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

// histogram bins the sorted sample into n equal-width buckets.
func histogram(sorted []float64, n int) (counts, dividers []float64) {
	lo, hi := sorted[0], sorted[len(sorted)-1]
	// the last divider must lie strictly above the max value
	hi += 1e-9 * (1 + hi - lo)
	dividers = floats.Span(make([]float64, n+1), lo, hi)
	counts = stat.Histogram(nil, dividers, sorted, nil)
	return counts, dividers
}

// writeHistogramPNG renders the converged IRR distribution as a bar chart.
func writeHistogramPNG(path string, report *service.Report, cfg config.ExportConfig) error {
	irrs := report.Batch.ConvergedIRRs()
	if len(irrs) == 0 {
		return errors.New("no converged trials to chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	counts, dividers := histogram(irrs, cfg.HistogramBins)
	labelEvery := max(1, len(counts)/10)
	bars := make([]chart.Value, len(counts))
	for i, c := range counts {
		bars[i] = chart.Value{Value: c}
		if i%labelEvery == 0 {
			bars[i].Label = formatFloat(dividers[i]*100, 0) + "%"
		}
	}

	width, height := chartSize(cfg)
	graph := chart.BarChart{
		Title:  fmt.Sprintf("IRR distribution (%d trials, seed %d)", report.Batch.N(), report.Seed),
		Width:  width,
		Height: height,
		Background: chart.Style{
			Padding: chart.Box{Top: 40},
		},
		BarWidth:   max(2, width/(len(bars)+2)-2),
		BarSpacing: 2,
		Bars:       bars,
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

// writeCurvePNG draws the calibrated base yield curve alongside delayed
// copies of it.
func writeCurvePNG(path string, curves *decline.Engine, cfg config.ExportConfig) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	ref := curves.Reference()
	years := make([]float64, decline.Horizon)
	for i := range years {
		years[i] = float64(i + 1)
	}

	series := make([]chart.Series, 0, len(curveDelays)+1)
	for _, d := range append([]float64{0}, curveDelays...) {
		ref.DelayYears = d
		curve, err := curves.Build(ref, true)
		if err != nil && !errors.Is(err, decline.ErrDegenerateTail) {
			return err
		}
		name := "Base"
		if d > 0 {
			name = formatYears(d) + " delay"
		}
		series = append(series, chart.ContinuousSeries{
			Name:    name,
			XValues: years,
			YValues: percentValues(curve[:]),
		})
	}

	width, height := chartSize(cfg)
	graph := chart.Chart{
		Width:  width,
		Height: height,
		XAxis: chart.XAxis{
			Name:           "Year",
			ValueFormatter: func(v interface{}) string { return chart.FloatValueFormatterWithFormat(v, "%.0f") },
		},
		YAxis: chart.YAxis{
			Name:           "Yield (%)",
			ValueFormatter: func(v interface{}) string { return chart.FloatValueFormatterWithFormat(v, "%.1f") },
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func percentValues(v []float64) []float64 {
	out := make([]float64, len(v))
	floats.ScaleTo(out, 100, v)
	return out
}

func chartSize(cfg config.ExportConfig) (int, int) {
	width, height := cfg.ChartWidth, cfg.ChartHeight
	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 720
	}
	return width, height
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
