// Package scheduler drives periodic re-evaluation of the risk model.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per evaluation bucket.
type TickFunc func(ctx context.Context, bucket time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	// RunImmediately fires one tick before waiting for the first bucket.
	RunImmediately bool
	// MaxTicks stops the loop after that many ticks; zero runs until ctx ends.
	MaxTicks int
}

// Scheduler drives aligned execution of evaluation runs.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Interval <= 0 {
		return nil, errors.New("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}, nil
}

// Run blocks, invoking tick at each aligned interval until ctx is cancelled
// or MaxTicks is reached. A failing tick is logged and the loop continues;
// a bounded run returns the joined errors of its failed ticks.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	ticks := 0
	var failed []error
	fire := func(bucket time.Time) bool {
		s.logger.Info().Time("bucket", bucket).Msg("executing scheduled evaluation")
		if err := tick(ctx, bucket); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("evaluation failed")
			if s.opts.MaxTicks > 0 {
				failed = append(failed, err)
			}
		}
		ticks++
		return s.opts.MaxTicks > 0 && ticks >= s.opts.MaxTicks
	}

	if s.opts.RunImmediately {
		if fire(s.bucketStart(time.Now().UTC())) {
			return errors.Join(failed...)
		}
	}

	next := s.nextTick(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextTick(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_bucket", next).Msg("waiting for next bucket")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		if fire(s.bucketStart(next)) {
			return errors.Join(failed...)
		}
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}

// SeedForBucket derives a per-bucket seed so rotating runs stay
// reproducible: the same bucket always maps to the same seed.
func SeedForBucket(base uint64, bucket time.Time, interval time.Duration) uint64 {
	if interval <= 0 {
		return base
	}
	return base + uint64(bucket.UTC().UnixNano()/int64(interval))
}
