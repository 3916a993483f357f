package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunRecord is the persisted summary of one Monte Carlo run.
type RunRecord struct {
	ID                 int64
	Label              string
	Seed               uint64
	Trials             int
	Workers            int
	LossProbability    decimal.Decimal
	MeanLossMM         decimal.Decimal
	MeanIRR            decimal.NullDecimal
	MedianIRR          decimal.NullDecimal
	DownsidePercentile decimal.Decimal
	DownsideIRR        decimal.NullDecimal
	BaseIRR            decimal.NullDecimal
	BreakevenFactor    decimal.NullDecimal
	NonConvergent      int
	Attribution        map[string]int
	Alerted            bool
	StartedAt          time.Time
	FinishedAt         time.Time
	CreatedAt          time.Time
}

// Duration is the wall time the run took.
func (r RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
