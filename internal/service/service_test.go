package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"royalty-risk/internal/alerting"
	"royalty-risk/internal/config"
	"royalty-risk/internal/montecarlo"
	"royalty-risk/internal/pricesim"
	"royalty-risk/internal/storage"
)

type recordingNotifier struct {
	notes []alerting.Notification
	err   error
}

func (r *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	r.notes = append(r.notes, note)
	return r.err
}

func newTestService(t *testing.T, mutate func(*config.Config)) (*Service, *storage.MemoryStore, *recordingNotifier) {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Simulation.Trials = 1500
	if mutate != nil {
		mutate(cfg)
	}
	engines, err := NewEngines(cfg, zerolog.Nop())
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	notifier := &recordingNotifier{}
	return New(cfg, engines, store, notifier, zerolog.Nop()), store, notifier
}

func TestEvaluatePersistsRun(t *testing.T) {
	svc, store, notifier := newTestService(t, nil)

	report, err := svc.Evaluate(context.Background(), Request{Label: "test", Persist: true})
	require.NoError(t, err)

	assert.Equal(t, 1500, report.Trials)
	assert.Equal(t, uint64(42), report.Seed)
	require.NotNil(t, report.Batch)
	assert.Equal(t, 1500, report.Batch.N())
	assert.True(t, report.BaseMetrics.IRR.Converged)
	require.NotNil(t, report.Breakeven)
	assert.InDelta(t, 0.54, report.Breakeven.Factor, 1e-9)
	require.NotNil(t, report.IRRFloor)

	_, ok := report.Summary.IRRAt(5)
	assert.True(t, ok)

	require.NotNil(t, report.Run)
	saved, err := store.GetRun(context.Background(), report.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, "test", saved.Label)
	assert.True(t, saved.BreakevenFactor.Valid)
	assert.Empty(t, notifier.notes)
}

func TestEvaluateAlertsOnBreach(t *testing.T) {
	svc, store, notifier := newTestService(t, func(c *config.Config) {
		c.Alerting.Enabled = true
		c.Alerting.MaxLossProbability = 0
		c.Alerting.MinDownsideIRR = 0.5
	})

	seed := uint64(7)
	report, err := svc.Evaluate(context.Background(), Request{Seed: &seed, Persist: true, Alert: true})
	require.NoError(t, err)

	assert.Contains(t, report.Breaches, BreachDownsideIRR)
	assert.True(t, report.Alerted)
	require.Len(t, notifier.notes, 1)
	assert.Equal(t, report.Run.ID, notifier.notes[0].RunID)
	assert.Equal(t, uint64(7), notifier.notes[0].Seed)

	saved, err := store.GetRun(context.Background(), report.Run.ID)
	require.NoError(t, err)
	assert.True(t, saved.Alerted)
}

func TestEvaluateNotifierFailureIsNotFatal(t *testing.T) {
	svc, _, notifier := newTestService(t, func(c *config.Config) {
		c.Alerting.Enabled = true
		c.Alerting.MinDownsideIRR = 0.5
	})
	notifier.err = errors.New("boom")

	report, err := svc.Evaluate(context.Background(), Request{Alert: true})
	require.NoError(t, err)
	assert.False(t, report.Alerted)
	assert.Nil(t, report.Run)
}

func TestCheckLimits(t *testing.T) {
	limits := Limits{MaxLossProbability: 0.1, DownsidePercentile: 5, MinDownsideIRR: 0}

	ok := montecarlo.Summary{LossProbability: 0.05, IRRPercentiles: []montecarlo.Percentile{{P: 5, Value: 0.02}}}
	assert.Empty(t, CheckLimits(ok, limits))

	bad := montecarlo.Summary{LossProbability: 0.2, IRRPercentiles: []montecarlo.Percentile{{P: 5, Value: -0.01}}}
	assert.Equal(t, []string{BreachLossProbability, BreachDownsideIRR}, CheckLimits(bad, limits))

	missing := montecarlo.Summary{LossProbability: 0.0}
	assert.Equal(t, []string{BreachDownsideIRR}, CheckLimits(missing, limits))
}

func TestDelaySensitivityIsMonotone(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	rows, err := svc.DelaySensitivity(context.Background(), []float64{0, 1, 2, 3}, 800)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	for i := 1; i < len(rows); i++ {
		assert.LessOrEqual(t, rows[i].Deterministic.IRR.Rate, rows[i-1].Deterministic.IRR.Rate)
		assert.Less(t, rows[i].Summary.IRR.Mean, rows[i-1].Summary.IRR.Mean)
	}
	assert.Equal(t, 0.0, rows[0].Summary.Delay.Max)

	_, err = svc.DelaySensitivity(context.Background(), []float64{-1}, 10)
	assert.Error(t, err)
}

func TestNewEnginesRejectsIndefiniteCorrelation(t *testing.T) {
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Prices.Correlation = [][]float64{{1, 0.9, -0.9}, {0.9, 1, 0.9}, {-0.9, 0.9, 1}}

	_, err = NewEngines(cfg, zerolog.Nop())
	assert.ErrorIs(t, err, config.ErrInvalid)
	assert.ErrorIs(t, err, pricesim.ErrNotPositiveDefinite)
}

// heldLockStore reports the monitor lock as held by another instance.
type heldLockStore struct {
	*storage.MemoryStore
	attempts int
}

func (h *heldLockStore) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	h.attempts++
	return nil, false, nil
}

func newBucketService(t *testing.T, store storage.RunStore, lockKey int64) (*Service, *recordingNotifier) {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Simulation.Trials = 300
	cfg.Monitor.AdvisoryLockKey = lockKey
	cfg.Alerting.Enabled = true
	cfg.Alerting.MinDownsideIRR = 0.5
	engines, err := NewEngines(cfg, zerolog.Nop())
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	return New(cfg, engines, store, notifier, zerolog.Nop()), notifier
}

func TestEvaluateBucketSkipsWhenLockHeld(t *testing.T) {
	store := &heldLockStore{MemoryStore: storage.NewMemoryStore()}
	svc, notifier := newBucketService(t, store, 99)
	bucket := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	report, err := svc.EvaluateBucket(context.Background(), bucket, Request{Persist: true, Alert: true})
	assert.ErrorIs(t, err, ErrBucketSkipped)
	assert.Nil(t, report)
	assert.Equal(t, 1, store.attempts)
	assert.Empty(t, notifier.notes, "锁被占用时不应发送告警")

	runs, err := store.ListRecentRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestEvaluateBucketWithoutLockKeySkipsLocking(t *testing.T) {
	store := &heldLockStore{MemoryStore: storage.NewMemoryStore()}
	svc, _ := newBucketService(t, store, 0)

	report, err := svc.EvaluateBucket(context.Background(), time.Now(), Request{})
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Zero(t, store.attempts)
}

func TestEvaluateBucketRecordsEachBucketOnce(t *testing.T) {
	store := storage.NewMemoryStore()
	svc, notifier := newBucketService(t, store, 99)
	ctx := context.Background()
	bucket := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	report, err := svc.EvaluateBucket(ctx, bucket, Request{Persist: true, Alert: true})
	require.NoError(t, err)
	require.NotNil(t, report.Run)
	assert.Equal(t, BucketLabel(bucket), report.Run.Label)
	require.Len(t, notifier.notes, 1)

	_, err = svc.EvaluateBucket(ctx, bucket, Request{Persist: true, Alert: true})
	assert.ErrorIs(t, err, ErrBucketSkipped)
	assert.Len(t, notifier.notes, 1, "同一时间桶不应重复告警")

	// the lock was released, so the next bucket runs
	next, err := svc.EvaluateBucket(ctx, bucket.Add(24*time.Hour), Request{Persist: true})
	require.NoError(t, err)
	require.NotNil(t, next.Run)

	runs, err := store.ListRecentRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
