package gan

import (
	"math"
	"math/rand"

	"ganflow/data"
	"ganflow/flow"
)

// infogan maximises a variational bound on the mutual information between
// a structured latent code and the generated sample. Q recovers the code
// from G's output; G and Q minimise the reconstruction of the code
// alongside G's adversarial loss.
type infogan struct {
	cfg     Config
	g, d, q *flow.Network
	rng     *rand.Rand
}

// NewInfoGAN builds InfoGAN. In supervised mode the discrete code is the
// real batch's label, so Codes.Discrete must equal Classes.
func NewInfoGAN(cfg Config) (Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Codes.Size() == 0 || cfg.Codes.Discrete < 0 || cfg.Codes.Continuous < 0 {
		return nil, flow.ConfigError("InfoGAN", "latent code %+v is empty", cfg.Codes)
	}
	if cfg.InfoWeight < 0 {
		return nil, flow.ConfigError("InfoGAN", "info weight must be >= 0, got %g", cfg.InfoWeight)
	}
	if cfg.Supervised && cfg.Codes.Discrete != cfg.Classes {
		return nil, flow.ConfigError("InfoGAN", "supervised mode needs %d discrete categories, got %d",
			cfg.Classes, cfg.Codes.Discrete)
	}
	nb := &networkBuilder{cfg: cfg}
	s := &infogan{
		cfg: cfg,
		g:   nb.generator(cfg.NoiseDim + cfg.Codes.Size()),
		d:   nb.discriminator(cfg.ImageDim(), 1, batchNorm),
		q:   nb.discriminator(cfg.ImageDim(), cfg.Codes.Size(), batchNorm),
		rng: nb.rng(),
	}
	if nb.err != nil {
		return nil, nb.err
	}
	return s, nil
}

func (s *infogan) Name() string { return "InfoGAN" }

// NoiseDim is the width of the incompressible noise, without the code.
func (s *infogan) NoiseDim() int { return s.cfg.NoiseDim }

func (s *infogan) Noise(n int) *flow.Tensor {
	return noise(s.rng, s.cfg.Prior, n, s.cfg.NoiseDim)
}

func (s *infogan) Networks() map[string]*flow.Network {
	return map[string]*flow.Network{"G": s.g, "D": s.d, "Q": s.q}
}

// input assembles G's input [z ‖ onehot(discrete) ‖ continuous].
func (s *infogan) input(z *flow.Tensor, discrete []int, continuous *flow.Tensor) (*flow.Tensor, error) {
	parts := []*flow.Tensor{z}
	if s.cfg.Codes.Discrete > 0 {
		parts = append(parts, flow.OneHot(discrete, s.cfg.Codes.Discrete))
	}
	if s.cfg.Codes.Continuous > 0 {
		parts = append(parts, continuous)
	}
	return flow.ConcatCols(parts...)
}

// Sample generates with the discrete code taken from labels and every
// continuous code at the centre of its range.
func (s *infogan) Sample(z *flow.Tensor, labels []int) (*flow.Tensor, error) {
	var discrete []int
	if s.cfg.Codes.Discrete > 0 {
		var err error
		if discrete, err = cycleLabels(labels, z.Rows(), s.cfg.Codes.Discrete); err != nil {
			return nil, err
		}
	}
	in, err := s.input(z, discrete, flow.NewTensor(z.Rows(), s.cfg.Codes.Continuous))
	if err != nil {
		return nil, err
	}
	return s.g.Forward(in, false)
}

// infoLoss is softmax cross entropy on the discrete code plus the
// unit-variance Gaussian negative log-likelihood of the continuous code,
// averaged over its N·C entries. It returns the two terms, the gradient
// with respect to out, and the accuracy on the discrete code.
func (s *infogan) infoLoss(out *flow.Tensor, discrete []int, continuous *flow.Tensor) (disc, cont float64, grad *flow.Tensor, acc float64) {
	k, c := s.cfg.Codes.Discrete, s.cfg.Codes.Continuous
	grad = flow.NewTensor(out.Shape...)
	if k > 0 {
		logits := flow.SliceCols(out, 0, k)
		onehot := flow.OneHot(discrete, k)
		disc = sce.Compute(logits, onehot)
		flow.PutCols(grad, sce.Gradient(logits, onehot), 0)
		acc = flow.ClassAccuracy(logits, discrete)
	}
	if c > 0 {
		mu := flow.SliceCols(out, k, k+c)
		g := flow.NewTensor(mu.Shape...)
		count := float64(mu.Size())
		for i, m := range mu.Data {
			d := m - continuous.Data[i]
			cont += 0.5*d*d + 0.5*math.Log(2*math.Pi)
			g.Data[i] = d / count
		}
		cont /= count
		flow.PutCols(grad, g, k)
	}
	return disc, cont, grad, acc
}

func (s *infogan) Step(real data.Batch) (Losses, error) {
	if err := checkBatch("InfoGAN", s.cfg, real.Images, real.Labels); err != nil {
		return Losses{}, err
	}
	x := real.Images
	n := x.Rows()
	var discrete []int
	if s.cfg.Codes.Discrete > 0 {
		if s.cfg.Supervised {
			discrete = real.Labels
		} else {
			discrete = randomLabels(s.rng, n, s.cfg.Codes.Discrete)
		}
	}
	continuous := flow.NewTensor(n, s.cfg.Codes.Continuous)
	continuous.FillUniform(-1, 1, s.rng)
	gIn, err := s.input(s.Noise(n), discrete, continuous)
	if err != nil {
		return Losses{}, err
	}

	// discriminator
	s.d.ZeroGrad()
	outReal, err := s.d.Forward(x, true)
	if err != nil {
		return Losses{}, err
	}
	lossReal, _, err := lossBackward(s.d, bce, outReal, flow.Targets(outReal, 1))
	if err != nil {
		return Losses{}, err
	}
	fake, err := s.g.Forward(gIn, true)
	if err != nil {
		return Losses{}, err
	}
	outFake, err := s.d.Forward(fake, true)
	if err != nil {
		return Losses{}, err
	}
	lossFake, _, err := lossBackward(s.d, bce, outFake, flow.Targets(outFake, 0))
	if err != nil {
		return Losses{}, err
	}
	losses := Losses{D: lossReal + lossFake}
	if err := stepAll("InfoGAN", "discriminator", losses.D, s.d); err != nil {
		return Losses{}, err
	}

	// generator and code recovery
	zeroAll(s.g, s.q)
	adv, gx, err := throughFrozen(s.d, fake, lossGrad(bce, 1))
	if err != nil {
		return Losses{}, err
	}
	qOut, err := s.q.Forward(fake, true)
	if err != nil {
		return Losses{}, err
	}
	disc, cont, qGrad, acc := s.infoLoss(qOut, discrete, continuous)
	qGrad.Scale(s.cfg.InfoWeight)
	qx, err := s.q.Backward(qGrad)
	if err != nil {
		return Losses{}, err
	}
	gx.AddScaled(qx, 1)
	if _, err := s.g.Backward(gx); err != nil {
		return Losses{}, err
	}
	info := disc + cont
	gLoss := adv + s.cfg.InfoWeight*info
	if err := stepAll("InfoGAN", "generator", gLoss, s.g, s.q); err != nil {
		return Losses{}, err
	}
	losses.G = gLoss
	losses.GStepped = true
	losses.Extra = map[string]float64{
		"info":          info,
		"info_discrete": disc,
		"info_gaussian": cont,
		"code_accuracy": acc,
	}
	return losses, nil
}
