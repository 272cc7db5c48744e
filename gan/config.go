package gan

import (
	"ganflow/data"
	"ganflow/flow"
)

// CodeLayout partitions InfoGAN's latent code.
type CodeLayout struct {
	Discrete   int // categories of the one-hot code, 0 for none
	Continuous int // U(-1, 1) code dimensions
}

// Size is the total width of the code.
func (c CodeLayout) Size() int { return c.Discrete + c.Continuous }

// Config holds every hyperparameter a strategy may read. DefaultConfig
// fills the values each variant expects; fields a variant does not use are
// ignored.
type Config struct {
	Shape    data.ImageShape
	NoiseDim int
	Classes  int
	Codes    CodeLayout
	Hidden   []int
	// EmbedDim is the bottleneck width of autoencoding discriminators.
	EmbedDim int

	Optimizer string // "adam", "rmsprop" or "sgd"
	LRG       float64
	LRD       float64
	Beta1     float64
	Beta2     float64
	Init      string // "normal" (N(0, 0.02)), "xavier" or "xavier_uniform"
	Prior     string // "uniform" on [0, 1) or "gaussian"

	// CriticIters is the number of discriminator steps per generator step.
	CriticIters int

	ClipBound    float64 // WGAN
	Lambda       float64 // gradient penalty weight
	PerturbScale float64 // DRAGAN
	Margin       float64 // EBGAN
	PTWeight     float64 // EBGAN pulling-away term
	Gamma        float64 // BEGAN
	LambdaK      float64 // BEGAN
	InfoWeight   float64 // InfoGAN
	Supervised   bool    // InfoGAN
	AdvWeight    float64 // AAE

	Seed int64
}

// ImageDim is the number of values per sample.
func (c Config) ImageDim() int { return c.Shape.Size() }

// Validate checks the fields shared by every variant.
func (c Config) Validate() error {
	if c.ImageDim() <= 0 {
		return flow.ConfigError("gan", "image shape %v is empty", c.Shape)
	}
	if c.NoiseDim <= 0 {
		return flow.ConfigError("gan", "noise dimension must be > 0, got %d", c.NoiseDim)
	}
	if len(c.Hidden) == 0 {
		return flow.ConfigError("gan", "at least one hidden layer is required")
	}
	for i, h := range c.Hidden {
		if h <= 0 {
			return flow.ConfigError("gan", "hidden layer %d has width %d", i, h)
		}
	}
	if c.LRG <= 0 || c.LRD <= 0 {
		return flow.ConfigError("gan", "learning rates must be > 0, got G=%g D=%g", c.LRG, c.LRD)
	}
	if c.CriticIters < 1 {
		return flow.ConfigError("gan", "critic iterations must be >= 1, got %d", c.CriticIters)
	}
	switch c.Optimizer {
	case "adam", "rmsprop", "sgd":
	default:
		return flow.ConfigError("gan", "unknown optimizer %q", c.Optimizer)
	}
	switch c.Prior {
	case "uniform", "gaussian":
	default:
		return flow.ConfigError("gan", "unknown prior %q", c.Prior)
	}
	switch c.Init {
	case "normal", "xavier", "xavier_uniform":
	default:
		return flow.ConfigError("gan", "unknown initializer %q", c.Init)
	}
	return nil
}

func (c Config) requireClasses(variant string) error {
	if c.Classes < 2 {
		return flow.ConfigError(variant, "needs at least 2 classes, got %d", c.Classes)
	}
	return nil
}

func baseConfig() Config {
	return Config{
		Shape:       data.ImageShape{Channels: 1, Height: 28, Width: 28},
		NoiseDim:    62,
		Classes:     10,
		Hidden:      []int{256, 256},
		EmbedDim:    32,
		Optimizer:   "adam",
		LRG:         2e-4,
		LRD:         2e-4,
		Beta1:       0.5,
		Beta2:       0.999,
		Init:        "normal",
		Prior:       "uniform",
		CriticIters: 1,
		Seed:        0,
	}
}

var defaults = map[string]func(*Config){
	"GAN":   func(c *Config) {},
	"LSGAN": func(c *Config) {},
	"WGAN": func(c *Config) {
		c.Optimizer = "rmsprop"
		c.LRG, c.LRD = 5e-5, 5e-5
		c.ClipBound = 0.01
		c.CriticIters = 5
	},
	"WGAN_GP": func(c *Config) {
		c.Lambda = 10
		c.CriticIters = 5
	},
	"DRAGAN": func(c *Config) {
		c.Lambda = 0.25
		c.PerturbScale = 0.5
	},
	"EBGAN": func(c *Config) {
		c.Margin = 1
		c.PTWeight = 0.1
	},
	"BEGAN": func(c *Config) {
		c.Gamma = 0.5
		c.LambdaK = 0.001
	},
	"CGAN":  func(c *Config) {},
	"ACGAN": func(c *Config) {},
	"InfoGAN": func(c *Config) {
		c.Codes = CodeLayout{Discrete: 10, Continuous: 2}
		c.InfoWeight = 1
	},
	"AAE": func(c *Config) {
		c.Prior = "gaussian"
		c.NoiseDim = 8
		c.AdvWeight = 1
	},
}

// DefaultConfig returns the hyperparameters the named variant is usually
// trained with.
func DefaultConfig(name string) (Config, error) {
	apply, ok := defaults[name]
	if !ok {
		return Config{}, unknownVariant(name)
	}
	c := baseConfig()
	apply(&c)
	return c, nil
}
