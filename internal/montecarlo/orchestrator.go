// Package montecarlo runs independent risk trials through the curve, price
// and cash flow engines and aggregates them into loss statistics.
package montecarlo

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"royalty-risk/internal/cashflow"
	"royalty-risk/internal/config"
	"royalty-risk/internal/decline"
	"royalty-risk/internal/pricesim"
	"royalty-risk/internal/rng"
)

// maxChunk caps how many consecutive trials one worker task owns.
const maxChunk = 1024

// Stress forces deterministic overlays on every trial.
type Stress struct {
	// FixedDelayYears replaces the drawn delay when set. The delay draws
	// are still made.
	FixedDelayYears *float64
	// Haircut removes a fraction of every year's yield.
	Haircut float64
}

// Options configure an Orchestrator.
type Options struct {
	Seed         uint64
	Workers      int
	IncludeGA    bool
	Perturbation decline.Perturbation
	Delay        DelayModel
	Thresholds   Thresholds
	Stress       Stress
}

// OptionsFromConfig maps the simulation, decline, reserve and attribution
// sections onto orchestrator options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Seed:         cfg.Simulation.Seed,
		Workers:      cfg.Simulation.Workers,
		IncludeGA:    cfg.Simulation.IncludeGA,
		Perturbation: decline.PerturbationFromConfig(cfg),
		Delay:        DelayModelFromConfig(cfg),
		Thresholds:   ThresholdsFromConfig(cfg),
	}
}

// Trial is the full record of one simulated outcome.
type Trial struct {
	Index          int
	BFactor        float64
	Di             float64
	DelayYears     float64
	CategoryDelays []float64
	AvgPrice       float64
	CommodityAvg   [3]float64
	Metrics        cashflow.Metrics
	Degenerate     bool
}

// Loss reports whether the undiscounted profit is negative.
func (t Trial) Loss() bool {
	return t.Metrics.Profit < 0
}

// Orchestrator owns the engines shared read-only by every trial.
type Orchestrator struct {
	curves *decline.Engine
	prices *pricesim.Simulator
	flows  *cashflow.Engine
	opts   Options
	logger zerolog.Logger
}

// New wires the three engines into an orchestrator.
func New(curves *decline.Engine, prices *pricesim.Simulator, flows *cashflow.Engine, opts Options, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		curves: curves,
		prices: prices,
		flows:  flows,
		opts:   opts,
		logger: logger.With().Str("component", "montecarlo").Logger(),
	}
}

// WithStress returns a copy of o applying s to every trial.
func (o *Orchestrator) WithStress(s Stress) *Orchestrator {
	cp := *o
	cp.opts.Stress = s
	return &cp
}

// WithSeed returns a copy of o drawing from seed.
func (o *Orchestrator) WithSeed(seed uint64) *Orchestrator {
	cp := *o
	cp.opts.Seed = seed
	return &cp
}

// WithWorkers returns a copy of o using n workers; n <= 0 means GOMAXPROCS.
func (o *Orchestrator) WithWorkers(n int) *Orchestrator {
	cp := *o
	cp.opts.Workers = n
	return &cp
}

// Options returns the orchestrator configuration.
func (o *Orchestrator) Options() Options {
	return o.opts
}

// RunTrial evaluates trial i. Draw order on stream (seed, i) is price path,
// b-factor, Di, then one delay pair per deferred category.
func (o *Orchestrator) RunTrial(i int) (Trial, error) {
	r := rng.New(o.opts.Seed, uint64(i))

	path := o.prices.SimulatePath(r, decline.Horizon)
	b, di := o.opts.Perturbation.Draw(r)
	perCategory := make([]float64, len(o.opts.Delay.Categories))
	delay := o.opts.Delay.Draw(r, perCategory)
	if o.opts.Stress.FixedDelayYears != nil {
		delay = *o.opts.Stress.FixedDelayYears
	}

	trial := Trial{
		Index:          i,
		BFactor:        b,
		Di:             di,
		DelayYears:     delay,
		CategoryDelays: perCategory,
		AvgPrice:       path.AverageBlended(),
	}
	for _, c := range pricesim.Commodities {
		trial.CommodityAvg[c] = path.Average(c)
	}

	curve, err := o.curves.BuildYieldCurve(b, di, delay, false)
	if err != nil {
		if !errors.Is(err, decline.ErrDegenerateTail) {
			return Trial{}, fmt.Errorf("trial %d: %w", i, err)
		}
		trial.Degenerate = true
	}
	curve = o.curves.Haircut(curve, o.opts.Stress.Haircut)

	_, metrics, err := o.flows.Run(curve, path, o.opts.IncludeGA)
	if err != nil {
		return Trial{}, fmt.Errorf("trial %d: %w", i, err)
	}
	trial.Metrics = metrics
	return trial, nil
}

// Workers is the effective worker count for a batch.
func (o *Orchestrator) Workers() int {
	if o.opts.Workers > 0 {
		return o.opts.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// RunBatch runs numTrials trials across the worker pool. Each worker owns a
// disjoint index range and writes only its own slots; aggregation happens
// after every trial has finished, so results do not depend on the worker
// count. Cancelling ctx abandons the remaining trials and returns ctx.Err().
func (o *Orchestrator) RunBatch(ctx context.Context, numTrials int) (*BatchResult, error) {
	if numTrials <= 0 {
		return nil, fmt.Errorf("montecarlo: trial count must be positive, got %d", numTrials)
	}

	workers := o.Workers()
	chunk := (numTrials + workers - 1) / workers
	chunk = max(1, min(chunk, maxChunk))

	o.logger.Debug().
		Int("trials", numTrials).
		Int("workers", workers).
		Uint64("seed", o.opts.Seed).
		Msg("batch started")

	trials := make([]Trial, numTrials)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < numTrials; start += chunk {
		end := min(start+chunk, numTrials)
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				t, err := o.RunTrial(i)
				if err != nil {
					return err
				}
				trials[i] = t
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := aggregate(trials, o.opts.Thresholds, o.opts.Seed)
	if res.Degenerate > 0 {
		o.logger.Warn().Int("trials", res.Degenerate).Msg("degenerate yield tail; unscaled curves used")
	}
	o.logger.Debug().
		Int("losses", res.LossCount).
		Int("non_convergent", res.NonConvergent).
		Msg("batch finished")
	return res, nil
}
