package flow

// Regularizer applies regularization to weights
type Regularizer interface {
	loss(weights *Tensor) float64
	gradient(weights *Tensor, grad *Tensor)
	name() string
}

// L2Regularizer - Ridge regularization
type L2Regularizer struct {
	Lambda float64
}

func L2(lambda float64) Regularizer {
	return &L2Regularizer{Lambda: lambda}
}

func (l *L2Regularizer) loss(weights *Tensor) float64 {
	sum := 0.0
	for _, v := range weights.Data {
		sum += v * v
	}
	return 0.5 * l.Lambda * sum
}

func (l *L2Regularizer) gradient(weights *Tensor, grad *Tensor) {
	for i, v := range weights.Data {
		grad.Data[i] += l.Lambda * v
	}
}

func (l *L2Regularizer) name() string { return "l2" }

// NoRegularizer - no regularization
type NoRegularizer struct{}

func NoReg() Regularizer { return &NoRegularizer{} }

func (n *NoRegularizer) loss(weights *Tensor) float64           { return 0 }
func (n *NoRegularizer) gradient(weights *Tensor, grad *Tensor) {}
func (n *NoRegularizer) name() string                           { return "none" }
