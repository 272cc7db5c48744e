package gan

import (
	"math/rand"

	"ganflow/data"
	"ganflow/flow"
)

// acgan is the auxiliary classifier GAN. G takes noise and a one-hot class;
// D outputs one real/fake logit followed by Classes class logits, and both
// players also minimise the classification loss.
type acgan struct {
	cfg  Config
	g, d *flow.Network
	rng  *rand.Rand
}

// NewACGAN builds the auxiliary classifier GAN.
func NewACGAN(cfg Config) (Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.requireClasses("ACGAN"); err != nil {
		return nil, err
	}
	nb := &networkBuilder{cfg: cfg}
	s := &acgan{
		cfg: cfg,
		g:   nb.generator(cfg.NoiseDim + cfg.Classes),
		d:   nb.discriminator(cfg.ImageDim(), 1+cfg.Classes, batchNorm),
		rng: nb.rng(),
	}
	if nb.err != nil {
		return nil, nb.err
	}
	return s, nil
}

func (s *acgan) Name() string  { return "ACGAN" }
func (s *acgan) NoiseDim() int { return s.cfg.NoiseDim }

func (s *acgan) Noise(n int) *flow.Tensor {
	return noise(s.rng, s.cfg.Prior, n, s.cfg.NoiseDim)
}

func (s *acgan) Networks() map[string]*flow.Network {
	return map[string]*flow.Network{"G": s.g, "D": s.d}
}

func (s *acgan) Sample(z *flow.Tensor, labels []int) (*flow.Tensor, error) {
	ls, err := cycleLabels(labels, z.Rows(), s.cfg.Classes)
	if err != nil {
		return nil, err
	}
	in, err := conditioned(z, ls, s.cfg.Classes)
	if err != nil {
		return nil, err
	}
	return s.g.Forward(in, false)
}

// Classify returns D's class logits for x.
func (s *acgan) Classify(x *flow.Tensor) (*flow.Tensor, error) {
	out, err := s.d.Forward(x, false)
	if err != nil {
		return nil, err
	}
	return flow.SliceCols(out, 1, 1+s.cfg.Classes), nil
}

// heads scores D's two heads: the adversarial logit against target and
// the class logits against labels. It returns both losses and the
// gradient with respect to out.
func (s *acgan) heads(out *flow.Tensor, labels []int, target float64) (adv, cls float64, grad *flow.Tensor) {
	k := s.cfg.Classes
	advOut := flow.SliceCols(out, 0, 1)
	clsOut := flow.SliceCols(out, 1, 1+k)
	t := flow.Targets(advOut, target)
	onehot := flow.OneHot(labels, k)

	grad = flow.NewTensor(out.Shape...)
	flow.PutCols(grad, bce.Gradient(advOut, t), 0)
	flow.PutCols(grad, sce.Gradient(clsOut, onehot), 1)
	return bce.Compute(advOut, t), sce.Compute(clsOut, onehot), grad
}

func (s *acgan) Step(real data.Batch) (Losses, error) {
	if err := checkBatch("ACGAN", s.cfg, real.Images, real.Labels); err != nil {
		return Losses{}, err
	}
	x := real.Images
	n := x.Rows()
	fakeLabels := randomLabels(s.rng, n, s.cfg.Classes)
	gIn, err := conditioned(s.Noise(n), fakeLabels, s.cfg.Classes)
	if err != nil {
		return Losses{}, err
	}

	// discriminator
	s.d.ZeroGrad()
	outReal, err := s.d.Forward(x, true)
	if err != nil {
		return Losses{}, err
	}
	advReal, clsReal, grad := s.heads(outReal, real.Labels, 1)
	if _, err := s.d.Backward(grad); err != nil {
		return Losses{}, err
	}
	accuracy := flow.ClassAccuracy(flow.SliceCols(outReal, 1, 1+s.cfg.Classes), real.Labels)

	fake, err := s.g.Forward(gIn, true)
	if err != nil {
		return Losses{}, err
	}
	outFake, err := s.d.Forward(fake, true)
	if err != nil {
		return Losses{}, err
	}
	advFake, clsFake, grad := s.heads(outFake, fakeLabels, 0)
	if _, err := s.d.Backward(grad); err != nil {
		return Losses{}, err
	}
	losses := Losses{
		D: advReal + clsReal + advFake + clsFake,
		Extra: map[string]float64{
			"class_real":     clsReal,
			"class_fake":     clsFake,
			"class_accuracy": accuracy,
		},
	}
	if err := stepAll("ACGAN", "discriminator", losses.D, s.d); err != nil {
		return Losses{}, err
	}

	// generator
	s.g.ZeroGrad()
	var clsG float64
	gLoss, gx, err := throughFrozen(s.d, fake, func(out *flow.Tensor) (float64, *flow.Tensor) {
		adv, cls, grad := s.heads(out, fakeLabels, 1)
		clsG = cls
		return adv + cls, grad
	})
	if err != nil {
		return Losses{}, err
	}
	if _, err := s.g.Backward(gx); err != nil {
		return Losses{}, err
	}
	if err := stepAll("ACGAN", "generator", gLoss, s.g); err != nil {
		return Losses{}, err
	}
	losses.G = gLoss
	losses.GStepped = true
	losses.Extra["class_generator"] = clsG
	return losses, nil
}
