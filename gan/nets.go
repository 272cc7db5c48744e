package gan

import (
	"math/rand"

	"github.com/pkg/errors"

	"ganflow/flow"
)

// norm selects the normalization used between hidden layers.
type norm int

const (
	noNorm norm = iota
	batchNorm
	layerNorm
)

const (
	bnEpsilon  = 1e-5
	bnMomentum = 0.9
	lnEpsilon  = 1e-5
	leakSlope  = 0.2
)

// mlpSpec describes a multilayer perceptron.
type mlpSpec struct {
	In     int
	Hidden []int
	Out    int
	// Generator networks use ReLU hidden units and normalize every hidden
	// layer; discriminators use LeakyReLU and leave the first one raw.
	Generator bool
	Norm      norm
	OutAct    flow.Activation
	// NoOutBias drops the output layer's bias. A critic scored on a
	// difference of means gets no gradient for it.
	NoOutBias bool
	Init      string
	Seed      int64
}

func (s mlpSpec) initializer() flow.Initializer {
	switch s.Init {
	case "xavier":
		return flow.XavierNormal(1.0)
	case "xavier_uniform":
		return flow.XavierUniform(1.0)
	}
	return flow.RandomNormal(0, 0.02)
}

func buildMLP(s mlpSpec) (*flow.Network, error) {
	b := flow.NewNetwork(flow.NetworkConfig{Seed: s.Seed})
	for i, h := range s.Hidden {
		var act flow.Activation = flow.LeakyReLU(leakSlope)
		if s.Generator {
			act = flow.ReLU()
		}
		normed := s.Norm != noNorm && (s.Generator || i > 0)
		if !normed {
			b.AddLayer(flow.Dense(h).
				WithActivation(act).
				WithInitializer(s.initializer()).
				WithBiasInitializer(flow.Zeros()).
				WithBias(true).
				Build())
			continue
		}
		// the normalization's shift replaces the bias
		b.AddLayer(flow.Dense(h).
			WithActivation(flow.Linear()).
			WithInitializer(s.initializer()).
			WithBias(false).
			Build())
		if s.Norm == batchNorm {
			b.AddLayer(flow.BatchNorm(bnEpsilon, bnMomentum).Build())
		} else {
			b.AddLayer(flow.LayerNorm(lnEpsilon).Build())
		}
		b.AddLayer(flow.Activate(act).Build())
	}
	out := s.OutAct
	if out == nil {
		out = flow.Linear()
	}
	head := flow.Dense(s.Out).
		WithActivation(out).
		WithInitializer(s.initializer())
	if s.NoOutBias {
		head = head.WithBias(false)
	} else {
		head = head.WithBiasInitializer(flow.Zeros()).WithBias(true)
	}
	b.AddLayer(head.Build())
	return b.Build([]int{s.In})
}

func newOptimizer(kind string, lr, beta1, beta2 float64) flow.Optimizer {
	switch kind {
	case "rmsprop":
		return flow.RMSprop(flow.RMSpropConfig{LR: lr, Alpha: 0.99, Epsilon: 1e-8})
	case "sgd":
		return flow.SGD(flow.SGDConfig{LR: lr, Momentum: beta1})
	}
	return flow.Adam(flow.AdamConfig{LR: lr, Beta1: beta1, Beta2: beta2, Epsilon: 1e-8})
}

// networkBuilder builds and compiles the networks of one strategy with
// distinct, reproducible seeds.
type networkBuilder struct {
	cfg  Config
	next int64
	err  error
}

func (nb *networkBuilder) build(role string, s mlpSpec, lr float64) *flow.Network {
	if nb.err != nil {
		return nil
	}
	nb.next++
	s.Init = nb.cfg.Init
	s.Seed = nb.cfg.Seed*31 + nb.next
	net, err := buildMLP(s)
	if err != nil {
		nb.err = errors.Wrapf(err, "gan: build %s", role)
		return nil
	}
	err = net.Compile(flow.CompileConfig{
		Optimizer:    newOptimizer(nb.cfg.Optimizer, lr, nb.cfg.Beta1, nb.cfg.Beta2),
		Regularizer:  flow.NoReg(),
		GradientClip: flow.NoClip(),
	})
	if err != nil {
		nb.err = errors.Wrapf(err, "gan: compile %s", role)
		return nil
	}
	return net
}

// generator maps in values to an image in [-1, 1].
func (nb *networkBuilder) generator(in int) *flow.Network {
	return nb.build("generator", mlpSpec{
		In:        in,
		Hidden:    nb.cfg.Hidden,
		Out:       nb.cfg.ImageDim(),
		Generator: true,
		Norm:      batchNorm,
		OutAct:    flow.Tanh(),
	}, nb.cfg.LRG)
}

// discriminator maps in values to out linear scores.
func (nb *networkBuilder) discriminator(in, out int, n norm) *flow.Network {
	return nb.build("discriminator", mlpSpec{
		In:     in,
		Hidden: nb.cfg.Hidden,
		Out:    out,
		Norm:   n,
	}, nb.cfg.LRD)
}

// critic maps in values to one unbounded score with no output bias.
func (nb *networkBuilder) critic(in int, n norm) *flow.Network {
	return nb.build("critic", mlpSpec{
		In:        in,
		Hidden:    nb.cfg.Hidden,
		Out:       1,
		Norm:      n,
		NoOutBias: true,
	}, nb.cfg.LRD)
}

// rng returns the strategy's sampling source.
func (nb *networkBuilder) rng() *rand.Rand {
	return rand.New(rand.NewSource(nb.cfg.Seed))
}
