package cashflow

import "github.com/shopspring/decimal"

func formatPct(v float64) string {
	return decimal.NewFromFloat(v*100).StringFixed(2) + "%"
}

func formatYears(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2) + "y"
}
