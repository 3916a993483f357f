package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"royalty-risk/internal/config"
	"royalty-risk/internal/scheduler"
	"royalty-risk/internal/service"
	"royalty-risk/internal/storage"
)

// MonitorOptions configure the run command.
type MonitorOptions struct {
	// Once evaluates a single bucket immediately and exits.
	Once bool
}

// Run executes the long-running monitoring loop: each bucket re-runs the
// full evaluation, persists it and alerts on limit breaches.
func (a *App) Run(ctx context.Context, opts MonitorOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	var runStore storage.RunStore
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; runs kept in memory for this process only")
		runStore = a.memoryStore()
	} else {
		defer closeStore()
		runStore = store
	}

	mon := a.Config.Monitor
	schedOpts := scheduler.Options{
		Interval:     mon.Interval,
		AlignToStart: mon.AlignToBucket,
		StartupDelay: mon.StartupDelay,
	}
	if opts.Once {
		schedOpts.StartupDelay = 0
		schedOpts.RunImmediately = true
		schedOpts.MaxTicks = 1
	}
	sched, err := scheduler.New(schedOpts, a.Logger)
	if err != nil {
		return err
	}

	a.Logger.Info().Dur("interval", mon.Interval).Msg("starting monitoring service")
	err = sched.Run(ctx, func(ctx context.Context, bucket time.Time) error {
		return a.evaluateBucket(ctx, bucket, runStore)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

func (a *App) evaluateBucket(ctx context.Context, bucket time.Time, store storage.RunStore) error {
	a.reloadConfig()
	cfg := a.Config

	tickApp := &App{Config: cfg, Logger: a.Logger, Out: a.Out}
	svc, err := tickApp.newService(store)
	if err != nil {
		return err
	}

	req := service.Request{
		Trials:  cfg.Monitor.Trials,
		Persist: true,
		Alert:   true,
	}
	if cfg.Monitor.RotateSeed {
		seed := scheduler.SeedForBucket(cfg.Simulation.Seed, bucket, cfg.Monitor.Interval)
		req.Seed = &seed
	}

	report, err := svc.EvaluateBucket(ctx, bucket, req)
	if errors.Is(err, service.ErrBucketSkipped) {
		a.Logger.Info().Time("bucket", bucket).Msg("时间桶已由其他实例处理，跳过")
		return nil
	}
	if err != nil {
		return fmt.Errorf("evaluate bucket: %w", err)
	}

	level := zerolog.InfoLevel
	if len(report.Breaches) > 0 {
		level = zerolog.WarnLevel
	}
	a.Logger.WithLevel(level).
		Strs("breaches", report.Breaches).
		Uint64("seed", report.Seed).
		Int("trials", report.Trials).
		Float64("loss_probability", report.Summary.LossProbability).
		Float64("mean_irr", report.Summary.IRR.Mean).
		Bool("alerted", report.Alerted).
		Msg("评估完成")
	return nil
}

// reloadConfig swaps in a freshly loaded configuration when reloading is
// enabled. A broken file keeps the previous configuration.
func (a *App) reloadConfig() {
	if !a.Config.Monitor.ReloadConfig || a.configPath == "" {
		return
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		a.Logger.Error().Err(err).Str("path", a.configPath).Msg("配置重载失败，继续使用上一版本")
		return
	}
	a.Config = cfg
}
