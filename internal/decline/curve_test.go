package decline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"royalty-risk/internal/config"
	"royalty-risk/internal/rng"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	e, err := New(OptionsFromConfig(cfg))
	require.NoError(t, err)
	return e
}

func TestBuildYieldCurveRespectsFloor(t *testing.T) {
	e := newTestEngine(t)
	for b := 0.3; b <= 1.2001; b += 0.1 {
		for di := 0.10; di <= 0.4501; di += 0.05 {
			curve, err := e.BuildYieldCurve(b, di, 0, false)
			require.NoError(t, err)
			require.Len(t, curve, Horizon)
			for year, y := range curve {
				assert.GreaterOrEqual(t, y, e.opts.Floor, "b=%.2f di=%.2f year=%d", b, di, year+1)
			}
		}
	}
}

func TestBaseCurveHitsTargetAverage(t *testing.T) {
	e := newTestEngine(t)
	base, err := e.Base()
	require.NoError(t, err)

	assert.InDelta(t, 0.186, base.Mean(), 1e-12)
	assert.Equal(t, 0.269, base[0])
	assert.Equal(t, 0.266, base[1])
	assert.Equal(t, 0.251, base[2])
	for i := 3; i < Horizon; i++ {
		assert.Less(t, base[i], base[i-1], "tail must decline at year %d", i+1)
	}
}

func TestReferenceParamsCalibrateAutomatically(t *testing.T) {
	e := newTestEngine(t)
	base, err := e.Base()
	require.NoError(t, err)

	ref := e.Reference()
	auto, err := e.BuildYieldCurve(ref.BFactor, ref.Di, 0, false)
	require.NoError(t, err)
	assert.Equal(t, base, auto)
}

func TestPerturbedCurveIsNotCalibrated(t *testing.T) {
	e := newTestEngine(t)
	steep, err := e.BuildYieldCurve(0.6, 0.25, 0, false)
	require.NoError(t, err)
	assert.Less(t, steep.Mean(), 0.186)

	calibrated, err := e.BuildYieldCurve(0.6, 0.25, 0, true)
	require.NoError(t, err)
	assert.InDelta(t, 0.186, calibrated.Mean(), 1e-12)
}

func TestRelativeScalingKeepsReferenceScale(t *testing.T) {
	cfg, err := config.Default()
	require.NoError(t, err)
	opts := OptionsFromConfig(cfg)

	plain, err := New(opts)
	require.NoError(t, err)
	opts.RelativeScaling = true
	relative, err := New(opts)
	require.NoError(t, err)

	a, err := plain.BuildYieldCurve(0.8, 0.3, 0, false)
	require.NoError(t, err)
	b, err := relative.BuildYieldCurve(0.8, 0.3, 0, false)
	require.NoError(t, err)

	assert.Equal(t, a[0], b[0])
	assert.Greater(t, b[5], a[5])
	assert.InDelta(t, relative.refScale, b[5]/a[5], 1e-12)
}

func TestBuildYieldCurveRejectsInvalidParams(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.BuildYieldCurve(0, 0.25, 0, false)
	assert.ErrorIs(t, err, ErrInvalidParams)
	_, err = e.BuildYieldCurve(0.9, -0.1, 0, false)
	assert.ErrorIs(t, err, ErrInvalidParams)
	_, err = e.BuildYieldCurve(0.9, 0.25, -1, false)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestDegenerateTailFallsBackToUnscaled(t *testing.T) {
	e, err := New(Options{
		Anchors:       []float64{0.4, 0.2, 0},
		TargetAverage: 0.1,
		Floor:         0,
		ReferenceB:    0.9,
		ReferenceDi:   0.25,
	})
	require.NoError(t, err)

	curve, err := e.BuildYieldCurve(0.9, 0.25, 0, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDegenerateTail))
	assert.Equal(t, 0.4, curve[0])
	for i := 3; i < Horizon; i++ {
		assert.Zero(t, curve[i])
	}
}

func TestHaircutReducesEveryYear(t *testing.T) {
	e := newTestEngine(t)
	base, err := e.Base()
	require.NoError(t, err)

	cut := e.Haircut(base, 0.15)
	for i := range base {
		assert.InDelta(t, base[i]*0.85, cut[i], 1e-12)
	}
	assert.Equal(t, base, e.Haircut(base, 0))
}

func TestPerturbationDrawStaysInBand(t *testing.T) {
	cfg, err := config.Default()
	require.NoError(t, err)
	p := PerturbationFromConfig(cfg)
	src := rng.New(1, 0)
	for i := 0; i < 5000; i++ {
		b, di := p.Draw(src)
		require.GreaterOrEqual(t, b, p.BMin)
		require.LessOrEqual(t, b, p.BMax)
		require.GreaterOrEqual(t, di, p.DiMin)
		require.LessOrEqual(t, di, p.DiMax)
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, RegimeSevere, Classify(0.45))
	assert.Equal(t, RegimeModerate, Classify(0.6))
	assert.Equal(t, RegimeTypeCurve, Classify(0.9))
	assert.Equal(t, RegimeFlatter, Classify(1.1))
}

func TestCalibrationKeepsFloorOverTarget(t *testing.T) {
	e, err := New(Options{
		Anchors:       []float64{0.30, 0.28, 0.25},
		TargetAverage: 0.10,
		Floor:         0.03,
		ReferenceB:    0.9,
		ReferenceDi:   0.25,
	})
	require.NoError(t, err)

	curve, err := e.Base()
	require.NoError(t, err)
	for year, y := range curve {
		assert.GreaterOrEqual(t, y, 0.03, "year=%d", year+1)
	}
	assert.Equal(t, 0.03, curve[Horizon-1])
	assert.Greater(t, curve.Mean(), 0.10)
}
