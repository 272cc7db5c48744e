package fid

import (
	"context"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"ganflow/data"
	"ganflow/flow"
)

func gaussian(seed int64, n, d int, shift float64) *flow.Tensor {
	x := flow.NewTensor(n, d)
	x.FillNormal(shift, 1, rand.New(rand.NewSource(seed)))
	return x
}

func TestScoreOfIdenticalSetsIsZero(t *testing.T) {
	x := gaussian(1, 200, 6, 0)
	s, err := Score(x, x)
	if err != nil {
		t.Fatal(err)
	}
	if s != 0 {
		t.Fatalf("expected 0, got %g", s)
	}
}

func TestScoreIsSymmetric(t *testing.T) {
	a := gaussian(1, 300, 5, 0)
	b := gaussian(2, 250, 5, 0.5)
	ab, err := Score(a, b)
	if err != nil {
		t.Fatal(err)
	}
	ba, err := Score(b, a)
	if err != nil {
		t.Fatal(err)
	}
	if ab <= 0 {
		t.Fatalf("expected a positive distance, got %g", ab)
	}
	if math.Abs(ab-ba) > 1e-8*math.Max(1, ab) {
		t.Fatalf("asymmetric scores %g and %g", ab, ba)
	}
}

func TestScoreOfShiftedSet(t *testing.T) {
	const shift = 0.7
	x := gaussian(3, 150, 4, 0)
	y := x.Clone()
	for i := range y.Data {
		y.Data[i] += shift
	}
	s, err := Score(x, y)
	if err != nil {
		t.Fatal(err)
	}
	// equal covariances leave only the mean term
	if want := 4 * shift * shift; math.Abs(s-want) > 1e-6 {
		t.Fatalf("expected %g, got %g", want, s)
	}
}

func TestScoreErrors(t *testing.T) {
	cases := []struct {
		name string
		a, b *flow.Tensor
		kind flow.ErrorKind
	}{
		{"too few samples", gaussian(1, 5, 5, 0), gaussian(2, 50, 5, 0), flow.KindDimension},
		{"width mismatch", gaussian(1, 50, 5, 0), gaussian(2, 50, 4, 0), flow.KindDimension},
		{"nan", func() *flow.Tensor {
			x := gaussian(1, 50, 3, 0)
			x.Data[7] = math.NaN()
			return x
		}(), gaussian(2, 50, 3, 0), flow.KindNumerical},
	}
	for _, c := range cases {
		if _, err := Score(c.a, c.b); !flow.IsKind(err, c.kind) {
			t.Errorf("%s: expected a %v error, got %v", c.name, c.kind, err)
		}
	}
}

// constantSampler generates from a fixed distribution.
type constantSampler struct {
	rng   *rand.Rand
	shift float64
	dim   int
}

func (s *constantSampler) Noise(n int) *flow.Tensor { return flow.NewTensor(n, 1) }

func (s *constantSampler) Sample(z *flow.Tensor, labels []int) (*flow.Tensor, error) {
	x := flow.NewTensor(z.Rows(), s.dim)
	x.FillNormal(s.shift, 0.1, s.rng)
	return x, nil
}

func syntheticLoader(t *testing.T, samples int) *data.Loader {
	t.Helper()
	ds, err := data.Synthetic(data.SyntheticConfig{
		Samples: samples, Classes: 4,
		Shape: data.ImageShape{Channels: 1, Height: 2, Width: 4},
		Noise: 0.1, Seed: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	l, err := data.NewLoader(ds, data.LoaderConfig{BatchSize: 32, Shuffle: true, Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestEvaluatorRanksGenerators(t *testing.T) {
	l := syntheticLoader(t, 256)
	e := NewEvaluator(nil)
	e.Chunk = 50
	near, err := e.Evaluate(context.Background(), l, &constantSampler{rng: rand.New(rand.NewSource(1)), shift: -0.4, dim: 8}, 200)
	if err != nil {
		t.Fatal(err)
	}
	far, err := e.Evaluate(context.Background(), l, &constantSampler{rng: rand.New(rand.NewSource(1)), shift: 3, dim: 8}, 200)
	if err != nil {
		t.Fatal(err)
	}
	if near >= far {
		t.Fatalf("expected the closer generator to score lower: %g vs %g", near, far)
	}
}

func TestEvaluatorStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEvaluator(nil).Evaluate(ctx, syntheticLoader(t, 64), &constantSampler{rng: rand.New(rand.NewSource(1)), dim: 8}, 32)
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTrainClassifierAndReload(t *testing.T) {
	ds, err := data.Synthetic(data.SyntheticConfig{
		Samples: 400, Classes: 4,
		Shape: data.ImageShape{Channels: 1, Height: 4, Width: 4},
		Noise: 0.2, Seed: 3,
	})
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultClassifierConfig()
	cfg.Hidden = []int{32}
	cfg.FeatureDim = 8
	cfg.Epochs = 20
	cfg.BatchSize = 32
	cfg.LR = 5e-3
	cfg.LRDecay = 0.95
	cfg.Patience = 0
	c, err := TrainClassifier(ds, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if w := c.Net.LayerOutputSize(c.layers); w != cfg.FeatureDim {
		t.Fatalf("feature layer has width %d, want %d", w, cfg.FeatureDim)
	}
	if c.Accuracy < 0.9 {
		t.Fatalf("expected training accuracy >= 0.9, got %.3f", c.Accuracy)
	}

	path := filepath.Join(t.TempDir(), "classifier.json")
	if err := c.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadExtractor(path, ds.Images.Cols(), ds.Classes, cfg)
	if err != nil {
		t.Fatal(err)
	}
	x := ds.Images.Clone()
	want, err := c.Features(x)
	if err != nil {
		t.Fatal(err)
	}
	want = want.Clone()
	got, err := loaded.Features(x)
	if err != nil {
		t.Fatal(err)
	}
	if got.Cols() != cfg.FeatureDim {
		t.Fatalf("expected %d features, got %d", cfg.FeatureDim, got.Cols())
	}
	for i := range want.Data {
		if math.Abs(want.Data[i]-got.Data[i]) > 1e-12 {
			t.Fatalf("feature %d differs after reload: %g vs %g", i, want.Data[i], got.Data[i])
		}
	}
}

func TestNetworkFeaturesRejectsBadLayer(t *testing.T) {
	c, err := buildClassifier(8, 2, DefaultClassifierConfig())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NetworkFeatures(c.Net, 0); !flow.IsKind(err, flow.KindConfig) {
		t.Fatalf("expected a config error, got %v", err)
	}
	if _, err := NetworkFeatures(c.Net, c.Net.NumLayers()); err != nil {
		t.Fatal(err)
	}
}
