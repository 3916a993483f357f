// Package service runs the full risk evaluation: base case, Monte Carlo
// batch, breakeven search, persistence and alerting.
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"royalty-risk/internal/alerting"
	"royalty-risk/internal/cashflow"
	"royalty-risk/internal/config"
	"royalty-risk/internal/decline"
	"royalty-risk/internal/montecarlo"
	"royalty-risk/internal/pricesim"
	"royalty-risk/internal/solver"
	"royalty-risk/internal/storage"
)

// Breach names reported when a run exceeds a risk limit.
const (
	BreachLossProbability = "loss_probability"
	BreachDownsideIRR     = "downside_irr"
)

// ErrBucketSkipped is returned by EvaluateBucket when another instance holds
// the monitor lock or the bucket already has a stored run.
var ErrBucketSkipped = errors.New("service: bucket handled elsewhere")

// Engines bundles the model components built from one configuration.
type Engines struct {
	Curves *decline.Engine
	Prices *pricesim.Simulator
	Flows  *cashflow.Engine
	Batch  *montecarlo.Orchestrator
	Solver *solver.Solver
}

// NewEngines builds every engine from cfg. Errors here are configuration
// errors and are fatal at startup.
func NewEngines(cfg *config.Config, logger zerolog.Logger) (*Engines, error) {
	curves, err := decline.New(decline.OptionsFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	prices, err := pricesim.New(pricesim.OptionsFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	flows, err := cashflow.New(cashflow.OptionsFromConfig(cfg), cashflow.RootFinderFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	sv, err := solver.New(curves, flows, solver.OptionsFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	batch := montecarlo.New(curves, prices, flows, montecarlo.OptionsFromConfig(cfg), logger)
	return &Engines{Curves: curves, Prices: prices, Flows: flows, Batch: batch, Solver: sv}, nil
}

// Limits are the alerting thresholds.
type Limits struct {
	MaxLossProbability float64
	DownsidePercentile float64
	MinDownsideIRR     float64
}

// Service orchestrates evaluation, persistence, and alerting.
type Service struct {
	engines  *Engines
	store    storage.RunStore
	notifier alerting.Notifier
	logger   zerolog.Logger
	locker   storage.AdvisoryLocker
	lockKey  int64

	limits      Limits
	percentiles []float64
	channels    []string
	alertsOn    bool
	trials      int
}

// New constructs the evaluation service. store and notifier may be nil.
func New(cfg *config.Config, engines *Engines, store storage.RunStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	percentiles := slices.Clone(cfg.Simulation.Percentiles)
	if !slices.Contains(percentiles, cfg.Alerting.DownsidePercentile) {
		percentiles = append(percentiles, cfg.Alerting.DownsidePercentile)
		slices.Sort(percentiles)
	}
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}
	return &Service{
		engines:  engines,
		store:    store,
		notifier: notifier,
		logger:   logger.With().Str("component", "service").Logger(),
		locker:   locker,
		lockKey:  cfg.Monitor.AdvisoryLockKey,
		limits: Limits{
			MaxLossProbability: cfg.Alerting.MaxLossProbability,
			DownsidePercentile: cfg.Alerting.DownsidePercentile,
			MinDownsideIRR:     cfg.Alerting.MinDownsideIRR,
		},
		percentiles: percentiles,
		channels:    cfg.Alerting.Channels,
		alertsOn:    cfg.Alerting.Enabled,
		trials:      cfg.Simulation.Trials,
	}
}

// Engines exposes the model components.
func (s *Service) Engines() *Engines {
	return s.engines
}

// Request parameterises one evaluation.
type Request struct {
	Label   string
	Trials  int
	Seed    *uint64
	Workers int
	Stress  montecarlo.Stress
	Persist bool
	Alert   bool
}

// Report is everything one evaluation produced.
type Report struct {
	Label      string
	Seed       uint64
	Trials     int
	Workers    int
	StartedAt  time.Time
	FinishedAt time.Time

	BaseCurve   decline.YieldCurve
	BaseFlows   cashflow.Vector
	BaseMetrics cashflow.Metrics

	Batch    *montecarlo.BatchResult
	Summary  montecarlo.Summary
	Downside montecarlo.InputRange

	Breakeven *solver.Breakeven
	IRRFloor  *solver.Breakeven

	Limits   Limits
	Breaches []string
	Run      *storage.RunRecord
	Alerted  bool
}

// Evaluate runs the base case, the Monte Carlo batch and the breakeven
// searches, then persists and alerts as requested.
func (s *Service) Evaluate(ctx context.Context, req Request) (*Report, error) {
	trials := req.Trials
	if trials <= 0 {
		trials = s.trials
	}
	batch := s.engines.Batch.WithStress(req.Stress)
	if req.Seed != nil {
		batch = batch.WithSeed(*req.Seed)
	}
	if req.Workers > 0 {
		batch = batch.WithWorkers(req.Workers)
	}

	report := &Report{
		Label:     req.Label,
		Seed:      batch.Options().Seed,
		Trials:    trials,
		Workers:   batch.Workers(),
		StartedAt: time.Now().UTC(),
		Limits:    s.limits,
	}

	curve, flows, metrics, err := s.engines.Solver.Base()
	if err != nil {
		if !errors.Is(err, decline.ErrDegenerateTail) {
			return nil, fmt.Errorf("base case: %w", err)
		}
		s.logger.Warn().Err(err).Msg("base curve not calibrated")
	}
	report.BaseCurve, report.BaseFlows, report.BaseMetrics = curve, flows, metrics

	res, err := batch.RunBatch(ctx, trials)
	if err != nil {
		return nil, fmt.Errorf("run batch: %w", err)
	}
	report.Batch = res
	report.Summary = res.Summarize(s.percentiles)
	report.Downside = res.PercentileInputRange(0, s.limits.DownsidePercentile)

	report.Breakeven = s.search(func() (solver.Breakeven, error) { return s.engines.Solver.FindBreakevenPriceFactor(curve) })
	report.IRRFloor = s.search(func() (solver.Breakeven, error) { return s.engines.Solver.FindIRRFloor(curve) })

	report.Breaches = CheckLimits(report.Summary, s.limits)
	report.FinishedAt = time.Now().UTC()

	s.logger.Info().
		Str("label", req.Label).
		Int("trials", trials).
		Uint64("seed", report.Seed).
		Float64("loss_probability", report.Summary.LossProbability).
		Int("non_convergent", report.Summary.NonConvergent).
		Dur("elapsed", report.FinishedAt.Sub(report.StartedAt)).
		Msg("evaluation complete")

	if req.Persist && s.store != nil {
		rec, err := s.store.InsertRun(ctx, report.Record())
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to persist run")
		} else {
			report.Run = &rec
		}
	}

	if req.Alert && len(report.Breaches) > 0 {
		s.dispatch(ctx, report)
	}
	return report, nil
}

// BucketLabel names the run recorded for a monitor bucket.
func BucketLabel(bucket time.Time) string {
	return "monitor " + bucket.UTC().Format(time.RFC3339)
}

// EvaluateBucket evaluates one monitor bucket while holding the advisory
// lock, so instances sharing a database handle each bucket once. An empty
// label defaults to BucketLabel(bucket).
func (s *Service) EvaluateBucket(ctx context.Context, bucket time.Time, req Request) (*Report, error) {
	if req.Label == "" {
		req.Label = BucketLabel(bucket)
	}

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil, ErrBucketSkipped
	}
	if unlock != nil {
		defer unlock()
	}

	if req.Persist && s.store != nil {
		prev, err := s.store.FindRunByLabel(ctx, req.Label)
		switch {
		case err == nil:
			s.logger.Debug().Time("bucket", bucket).Int64("run_id", prev.ID).Msg("skip bucket because it is already recorded")
			return nil, ErrBucketSkipped
		case !errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("check bucket run: %w", err)
		}
	}
	return s.Evaluate(ctx, req)
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func (s *Service) search(find func() (solver.Breakeven, error)) *solver.Breakeven {
	be, err := find()
	if err != nil {
		s.logger.Warn().Err(err).Msg("price factor search found no passing multiplier")
		return nil
	}
	return &be
}

func (s *Service) dispatch(ctx context.Context, report *Report) {
	if !s.alertsOn || s.notifier == nil {
		s.logger.Warn().Strs("breaches", report.Breaches).Msg("risk limits breached; alerting disabled")
		return
	}

	note := report.Notification(s.channels)
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Msg("failed to dispatch alert")
		return
	}
	report.Alerted = true
	if report.Run != nil && s.store != nil {
		if err := s.store.MarkRunAlerted(ctx, report.Run.ID); err != nil {
			s.logger.Error().Err(err).Int64("run_id", report.Run.ID).Msg("failed to mark run alerted")
		}
	}
}

// CheckLimits lists the breached limits. A downside percentile with no
// converged trials counts as breached.
func CheckLimits(sum montecarlo.Summary, limits Limits) []string {
	var breaches []string
	if sum.LossProbability > limits.MaxLossProbability {
		breaches = append(breaches, BreachLossProbability)
	}
	if v, ok := sum.IRRAt(limits.DownsidePercentile); !ok || v < limits.MinDownsideIRR {
		breaches = append(breaches, BreachDownsideIRR)
	}
	return breaches
}

// Record converts the report to its persisted form.
func (r *Report) Record() storage.RunRecord {
	rec := storage.RunRecord{
		Label:              r.Label,
		Seed:               r.Seed,
		Trials:             r.Trials,
		Workers:            r.Workers,
		LossProbability:    decimal.NewFromFloat(r.Summary.LossProbability),
		MeanLossMM:         decimal.NewFromFloat(r.Summary.MeanLoss),
		DownsidePercentile: decimal.NewFromFloat(r.Limits.DownsidePercentile),
		NonConvergent:      r.Summary.NonConvergent,
		Attribution:        make(map[string]int, len(r.Summary.Attribution)),
		StartedAt:          r.StartedAt,
		FinishedAt:         r.FinishedAt,
	}
	for f, n := range r.Summary.Attribution {
		rec.Attribution[string(f)] = n
	}
	if r.Summary.Converged > 0 {
		rec.MeanIRR = nullFloat(r.Summary.IRR.Mean, true)
	}
	if v, ok := r.Summary.IRRAt(50); ok {
		rec.MedianIRR = nullFloat(v, true)
	}
	if v, ok := r.Summary.IRRAt(r.Limits.DownsidePercentile); ok {
		rec.DownsideIRR = nullFloat(v, true)
	}
	rec.BaseIRR = nullFloat(r.BaseMetrics.IRR.Rate, r.BaseMetrics.IRR.Converged)
	if r.Breakeven != nil {
		rec.BreakevenFactor = nullFloat(r.Breakeven.Factor, true)
	}
	return rec
}

// Notification builds the alert payload for the report.
func (r *Report) Notification(channels []string) alerting.Notification {
	note := alerting.Notification{
		Label:              r.Label,
		Seed:               r.Seed,
		Trials:             r.Trials,
		GeneratedAt:        r.FinishedAt,
		LossProbability:    decimal.NewFromFloat(r.Summary.LossProbability),
		MaxLossProbability: decimal.NewFromFloat(r.Limits.MaxLossProbability),
		DownsidePercentile: decimal.NewFromFloat(r.Limits.DownsidePercentile),
		MinDownsideIRR:     decimal.NewFromFloat(r.Limits.MinDownsideIRR),
		Breaches:           r.Breaches,
		Channels:           channels,
	}
	if r.Run != nil {
		note.RunID = r.Run.ID
	}
	if v, ok := r.Summary.IRRAt(r.Limits.DownsidePercentile); ok {
		note.DownsideIRR = nullFloat(v, true)
	}
	return note
}

func nullFloat(v float64, ok bool) decimal.NullDecimal {
	if !ok {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromFloat(v).Round(8))
}
