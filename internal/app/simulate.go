package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"royalty-risk/internal/decline"
	"royalty-risk/internal/service"
	"royalty-risk/internal/solver"
	"royalty-risk/internal/storage"
)

// Simulate runs one full evaluation and prints the risk report.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	var runStore storage.RunStore
	if !opts.NoPersist {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			a.Logger.Warn().Msg("database.dsn not configured; run will not be persisted")
		} else {
			defer closeStore()
			runStore = store
		}
	}

	svc, err := a.newService(runStore)
	if err != nil {
		return err
	}

	report, err := svc.Evaluate(ctx, service.Request{
		Label:   opts.Label,
		Trials:  a.Config.ResolveTrials(opts.Trials),
		Seed:    opts.Seed,
		Workers: opts.Workers,
		Stress:  opts.Stress,
		Persist: runStore != nil,
		Alert:   true,
	})
	if err != nil {
		return err
	}

	if err := a.printReport(report); err != nil {
		return err
	}

	if opts.CSVPath != "" {
		if err := writeTrialsCSV(opts.CSVPath, report.Batch, a.Config.Export.MaxSampleRows); err != nil {
			return err
		}
		a.Logger.Info().Str("path", opts.CSVPath).Msg("trial samples exported")
	}
	if opts.PNGPath != "" {
		if err := writeHistogramPNG(opts.PNGPath, report, a.Config.Export); err != nil {
			return err
		}
		a.Logger.Info().Str("path", opts.PNGPath).Msg("IRR histogram exported")
	}
	return nil
}

// Scenarios prints the deterministic stress table.
func (a *App) Scenarios(ctx context.Context) error {
	svc, err := a.newService(nil)
	if err != nil {
		return err
	}
	results, err := svc.Engines().Solver.RunScenarios(solver.DefaultScenarios())
	if err != nil {
		return err
	}
	return a.printScenarios(results)
}

// Breakeven prints the zero-IRR and hurdle-rate price factors, optionally
// charting the base curve.
func (a *App) Breakeven(ctx context.Context, pngPath string) error {
	svc, err := a.newService(nil)
	if err != nil {
		return err
	}
	engines := svc.Engines()
	curve, flows, metrics, err := engines.Solver.Base()
	if err != nil {
		if !errors.Is(err, decline.ErrDegenerateTail) {
			return err
		}
		a.Logger.Warn().Err(err).Msg("base curve not calibrated")
	}
	zero, zeroErr := engines.Solver.FindBreakevenPriceFactor(curve)
	floor, floorErr := engines.Solver.FindIRRFloor(curve)
	if err := a.printBreakeven(curve, flows, metrics, zero, zeroErr, floor, floorErr); err != nil {
		return err
	}

	if pngPath != "" {
		if err := writeCurvePNG(pngPath, engines.Curves, a.Config.Export); err != nil {
			return err
		}
		a.Logger.Info().Str("path", pngPath).Msg("yield curve chart exported")
	}
	return nil
}

// Delays prints the delay sensitivity table.
func (a *App) Delays(ctx context.Context, opts DelayOptions) error {
	svc, err := a.newService(nil)
	if err != nil {
		return err
	}
	rows, err := svc.DelaySensitivity(ctx, opts.Delays, a.Config.ResolveTrials(opts.Trials))
	if err != nil {
		return err
	}
	return a.printDelays(rows)
}

// History prints recent persisted runs.
func (a *App) History(ctx context.Context, opts HistoryOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show history")
	}
	defer closeStore()
	return a.history(ctx, store, opts)
}

func (a *App) history(ctx context.Context, store storage.RunStore, opts HistoryOptions) error {
	if opts.Prune > 0 {
		cutoff := time.Now().UTC().Add(-opts.Prune)
		removed, err := store.DeleteRunsBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		a.Logger.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("pruned old runs")
		fmt.Fprintf(a.Out, "pruned %d runs created before %s\n", removed, cutoff.Format(time.RFC3339))
	}

	if opts.ID > 0 {
		run, err := store.GetRun(ctx, opts.ID)
		if err != nil {
			return fmt.Errorf("run %d: %w", opts.ID, err)
		}
		return a.printRun(run)
	}

	runs, err := store.ListRecentRuns(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return a.printHistory(runs)
}
