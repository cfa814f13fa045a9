package predict

import (
	"testing"

	"github.com/banshee-data/precog/internal/estimator"
	"github.com/banshee-data/precog/internal/geom"
	"github.com/banshee-data/precog/internal/tracking"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stateAt(x, y, vx, vy float64) estimator.State {
	return estimator.State{Mean: [4]float64{x, y, vx, vy}}
}

func mustPredictor(t *testing.T, cfg Config) *Predictor {
	t.Helper()
	p, err := New(cfg)
	require.NoError(t, err)
	return p
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero horizon", Config{Horizon: 0, Model: ModelLinear}},
		{"negative horizon", Config{Horizon: -3, Model: ModelLinear}},
		{"unknown model", Config{Horizon: 10, Model: "spline"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.cfg)
			assert.Error(t, err)
		})
	}
}

func TestLinearPath(t *testing.T) {
	t.Parallel()

	p := mustPredictor(t, Config{Horizon: 4, Model: ModelLinear})
	got := p.Predict(stateAt(0, 300, 5, 0), 1)

	want := Path{geom.Pt(5, 300), geom.Pt(10, 300), geom.Pt(15, 300), geom.Pt(20, 300)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("path mismatch (-want +got):\n%s", diff)
	}
}

func TestPathScalesWithDt(t *testing.T) {
	t.Parallel()

	p := mustPredictor(t, Config{Horizon: 3, Model: ModelLinear})
	got := p.Predict(stateAt(10, 10, 2, -4), 0.5)

	want := Path{geom.Pt(11, 8), geom.Pt(12, 6), geom.Pt(13, 4)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("path mismatch (-want +got):\n%s", diff)
	}
}

func TestQuadraticUsesAcceleration(t *testing.T) {
	t.Parallel()

	s := stateAt(0, 0, 1, 0)
	s.Accel = geom.Pt(2, -2)

	quad := mustPredictor(t, Config{Horizon: 3, Model: ModelQuadratic}).Predict(s, 1)
	want := Path{geom.Pt(2, -1), geom.Pt(6, -4), geom.Pt(12, -9)}
	if diff := cmp.Diff(want, quad, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("quadratic mismatch (-want +got):\n%s", diff)
	}

	lin := mustPredictor(t, Config{Horizon: 3, Model: ModelLinear}).Predict(s, 1)
	want = Path{geom.Pt(1, 0), geom.Pt(2, 0), geom.Pt(3, 0)}
	if diff := cmp.Diff(want, lin); diff != "" {
		t.Errorf("linear must ignore acceleration (-want +got):\n%s", diff)
	}
}

func TestQuadraticFallsBackWithoutEstimate(t *testing.T) {
	t.Parallel()

	s := stateAt(3, 4, 1, 1)
	quad := mustPredictor(t, Config{Horizon: 5, Model: ModelQuadratic}).Predict(s, 1)
	lin := mustPredictor(t, Config{Horizon: 5, Model: ModelLinear}).Predict(s, 1)
	assert.Empty(t, cmp.Diff(lin, quad))
}

func TestPredictIsDeterministic(t *testing.T) {
	t.Parallel()

	p := mustPredictor(t, DefaultConfig())
	s := stateAt(12.5, -3.25, 0.7, 1.9)
	first := p.Predict(s, 1.3)
	second := p.Predict(s, 1.3)

	assert.Len(t, first, 40)
	assert.Empty(t, cmp.Diff(first, second))
	assert.Equal(t, [4]float64{12.5, -3.25, 0.7, 1.9}, s.Mean)
}

func TestNonPositiveDtHoldsPosition(t *testing.T) {
	t.Parallel()

	p := mustPredictor(t, Config{Horizon: 3, Model: ModelLinear})
	for _, dt := range []float64{0, -1} {
		got := p.Predict(stateAt(7, 8, 5, 5), dt)
		for _, pt := range got {
			assert.Equal(t, geom.Pt(7, 8), pt)
		}
	}
}

func TestPathAt(t *testing.T) {
	t.Parallel()

	path := Path{geom.Pt(1, 1), geom.Pt(2, 2)}
	pt, ok := path.At(2)
	assert.True(t, ok)
	assert.Equal(t, geom.Pt(2, 2), pt)
	_, ok = path.At(0)
	assert.False(t, ok)
	_, ok = path.At(3)
	assert.False(t, ok)
}

func TestPredictAllCoversLiveTracks(t *testing.T) {
	t.Parallel()

	f, err := estimator.New(estimator.DefaultConfig())
	require.NoError(t, err)
	m, err := tracking.NewManager(tracking.DefaultConfig(), f)
	require.NoError(t, err)

	snap := m.Update([]tracking.Observation{
		{Centroid: geom.Pt(0, 0)},
		{Centroid: geom.Pt(400, 400)},
	}, 1)

	p := mustPredictor(t, Config{Horizon: 6, Model: ModelLinear})
	paths := p.PredictAll(snap, 1)
	require.Len(t, paths, 2)
	for _, id := range snap.IDs() {
		assert.Len(t, paths[id], 6)
	}

	// Coasting tracks still get a full path; removed ones get none.
	for i := 0; i < tracking.DefaultConfig().MissThreshold; i++ {
		snap = m.Update(nil, 1)
	}
	assert.Len(t, p.PredictAll(snap, 1), 2)
	snap = m.Update(nil, 1)
	assert.Empty(t, p.PredictAll(snap, 1))
}
