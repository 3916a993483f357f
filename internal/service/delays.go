package service

import (
	"context"
	"errors"
	"fmt"

	"royalty-risk/internal/cashflow"
	"royalty-risk/internal/decline"
	"royalty-risk/internal/montecarlo"
	"royalty-risk/internal/pricesim"
)

// DelayRow is one line of the delay sensitivity table.
type DelayRow struct {
	DelayYears float64
	// Deterministic is the base curve, delayed, at strip prices.
	Deterministic cashflow.Metrics
	Summary       montecarlo.Summary
}

// DefaultDelays are the delay sensitivity points in years.
var DefaultDelays = []float64{0, 0.5, 1, 1.5, 2, 3, 5}

// DelaySensitivity fixes the development delay at each value and reruns the
// batch on the same seed, so rows differ only by delay.
func (s *Service) DelaySensitivity(ctx context.Context, delays []float64, trials int) ([]DelayRow, error) {
	if len(delays) == 0 {
		delays = DefaultDelays
	}
	if trials <= 0 {
		trials = s.trials
	}

	ref := s.engines.Curves.Reference()
	rows := make([]DelayRow, 0, len(delays))
	for _, d := range delays {
		if d < 0 {
			return nil, fmt.Errorf("delay must not be negative, got %v", d)
		}

		curve, err := s.engines.Curves.BuildYieldCurve(ref.BFactor, ref.Di, d, true)
		if err != nil {
			if !errors.Is(err, decline.ErrDegenerateTail) {
				return nil, fmt.Errorf("delay %.2f: %w", d, err)
			}
			s.logger.Warn().Err(err).Float64("delay_years", d).Msg("delayed base curve not calibrated")
		}
		_, metrics, err := s.engines.Flows.Run(curve, pricesim.Constant(1, decline.Horizon), s.engines.Batch.Options().IncludeGA)
		if err != nil {
			return nil, fmt.Errorf("delay %.2f: %w", d, err)
		}

		fixed := d
		res, err := s.engines.Batch.WithStress(montecarlo.Stress{FixedDelayYears: &fixed}).RunBatch(ctx, trials)
		if err != nil {
			return nil, fmt.Errorf("delay %.2f: %w", d, err)
		}

		rows = append(rows, DelayRow{
			DelayYears:    d,
			Deterministic: metrics,
			Summary:       res.Summarize(s.percentiles),
		})
		s.logger.Debug().Float64("delay_years", d).Float64("loss_probability", rows[len(rows)-1].Summary.LossProbability).Msg("delay row complete")
	}
	return rows, nil
}
