// Package gan implements the adversarial training strategies. Every
// variant owns its networks and optimizers and advances them by one
// iteration per Step call.
package gan

import (
	"sort"

	"ganflow/data"
	"ganflow/flow"
)

// Losses reported by one Step.
type Losses struct {
	D float64
	// G is the generator loss of the most recent generator step.
	G float64
	// GStepped reports whether this Step updated the generator.
	GStepped bool
	// Extra holds variant-specific diagnostics such as kt or auxiliary
	// classification losses.
	Extra map[string]float64
}

// Strategy is one adversarial training algorithm.
type Strategy interface {
	Name() string
	// Step runs one training iteration on a real batch.
	Step(real data.Batch) (Losses, error)
	// Sample runs the generator in inference mode. labels conditions the
	// variants that take a class and is ignored by the others; nil picks
	// classes round-robin.
	Sample(z *flow.Tensor, labels []int) (*flow.Tensor, error)
	// Noise draws n generator inputs from the variant's prior.
	Noise(n int) *flow.Tensor
	NoiseDim() int
	// Networks returns every trainable network by role.
	Networks() map[string]*flow.Network
}

type constructor func(cfg Config) (Strategy, error)

var registry = map[string]constructor{
	"GAN":     func(cfg Config) (Strategy, error) { return NewGAN(cfg) },
	"LSGAN":   func(cfg Config) (Strategy, error) { return NewLSGAN(cfg) },
	"WGAN":    func(cfg Config) (Strategy, error) { return NewWGAN(cfg) },
	"WGAN_GP": func(cfg Config) (Strategy, error) { return NewWGANGP(cfg) },
	"DRAGAN":  func(cfg Config) (Strategy, error) { return NewDRAGAN(cfg) },
	"EBGAN":   func(cfg Config) (Strategy, error) { return NewEBGAN(cfg) },
	"BEGAN":   func(cfg Config) (Strategy, error) { return NewBEGAN(cfg) },
	"CGAN":    func(cfg Config) (Strategy, error) { return NewCGAN(cfg) },
	"ACGAN":   func(cfg Config) (Strategy, error) { return NewACGAN(cfg) },
	"InfoGAN": func(cfg Config) (Strategy, error) { return NewInfoGAN(cfg) },
	"AAE":     func(cfg Config) (Strategy, error) { return NewAAE(cfg) },
}

// Variants lists the registered variant names.
func Variants() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// New builds the named variant.
func New(name string, cfg Config) (Strategy, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, unknownVariant(name)
	}
	return ctor(cfg)
}

func unknownVariant(name string) error {
	return flow.ConfigError("gan", "there is no option for %q, expected one of %v", name, Variants())
}
