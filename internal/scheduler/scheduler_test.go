package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsZeroInterval(t *testing.T) {
	_, err := New(Options{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestRunStopsAfterMaxTicks(t *testing.T) {
	s, err := New(Options{Interval: 10 * time.Millisecond, RunImmediately: true, MaxTicks: 3}, zerolog.Nop())
	require.NoError(t, err)

	var buckets []time.Time
	err = s.Run(context.Background(), func(_ context.Context, bucket time.Time) error {
		buckets = append(buckets, bucket)
		if len(buckets) == 2 {
			return errors.New("transient")
		}
		return nil
	})
	assert.EqualError(t, err, "transient")
	assert.Len(t, buckets, 3)
}

func TestRunSingleTickReturnsItsError(t *testing.T) {
	s, err := New(Options{Interval: time.Hour, RunImmediately: true, MaxTicks: 1}, zerolog.Nop())
	require.NoError(t, err)

	boom := errors.New("evaluate bucket: boom")
	err = s.Run(context.Background(), func(context.Context, time.Time) error { return boom })
	assert.ErrorIs(t, err, boom)

	err = s.Run(context.Background(), func(context.Context, time.Time) error { return nil })
	assert.NoError(t, err)
}

func TestRunHonoursCancellation(t *testing.T) {
	s, err := New(Options{Interval: time.Hour, StartupDelay: time.Hour}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = s.Run(ctx, func(context.Context, time.Time) error {
		t.Fatal("tick must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAlignedBuckets(t *testing.T) {
	s, err := New(Options{Interval: time.Hour, AlignToStart: true}, zerolog.Nop())
	require.NoError(t, err)

	now := time.Date(2026, 5, 1, 10, 20, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC), s.nextTick(now))
	assert.Equal(t, time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC), s.bucketStart(now))
}

func TestSeedForBucket(t *testing.T) {
	day := 24 * time.Hour
	a := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	b := a.Add(day)
	assert.Equal(t, SeedForBucket(42, a, day)+1, SeedForBucket(42, b, day))
	assert.Equal(t, SeedForBucket(42, a, day), SeedForBucket(42, a.Add(time.Hour), day))
	assert.Equal(t, uint64(42), SeedForBucket(42, a, 0))
}
