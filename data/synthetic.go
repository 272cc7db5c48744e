package data

import (
	"math"
	"math/rand"

	"ganflow/flow"
)

// SyntheticConfig - ALL fields required
type SyntheticConfig struct {
	Samples int
	Classes int
	Shape   ImageShape
	Noise   float64 // per-pixel Gaussian standard deviation
	Seed    int64
}

// Synthetic builds a perfectly separable toy set: class k lights up the
// k-th band of pixels at +0.8 and holds the rest at -0.8, plus noise.
// Labels cycle through the classes so every class is equally represented.
func Synthetic(config SyntheticConfig) (*Dataset, error) {
	if config.Samples <= 0 {
		return nil, flow.ConfigError("Synthetic", "samples must be > 0, got %d", config.Samples)
	}
	size := config.Shape.Size()
	if config.Classes <= 0 || config.Classes > size {
		return nil, flow.ConfigError("Synthetic", "classes must be in [1, %d], got %d", size, config.Classes)
	}
	rng := rand.New(rand.NewSource(config.Seed))
	band := size / config.Classes

	ds := &Dataset{
		Name:    "synthetic",
		Images:  flow.NewTensor(config.Samples, size),
		Labels:  make([]int, config.Samples),
		Classes: config.Classes,
		Shape:   config.Shape,
	}
	for i := 0; i < config.Samples; i++ {
		k := i % config.Classes
		ds.Labels[i] = k
		row := ds.Images.Row(i)
		for j := range row {
			v := -0.8
			if j/band == k {
				v = 0.8
			}
			v += config.Noise * rng.NormFloat64()
			row[j] = math.Max(-1, math.Min(1, v))
		}
	}
	return ds, nil
}
