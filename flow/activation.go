package flow

import "math"

// Activation represents an element-wise (or row-wise) activation function
type Activation interface {
	forward(x *Tensor, out *Tensor)
	// backward writes dL/dx given the pre-activation x, the activated
	// output y and dL/dy.
	backward(x, y, gradOut, gradIn *Tensor)
	name() string
}

// ReLUActivation - Rectified Linear Unit
type ReLUActivation struct{}

func ReLU() Activation { return &ReLUActivation{} }

func (r *ReLUActivation) forward(x *Tensor, out *Tensor) {
	for i, v := range x.Data {
		if v > 0 {
			out.Data[i] = v
		} else {
			out.Data[i] = 0
		}
	}
}

func (r *ReLUActivation) backward(x, y, gradOut, gradIn *Tensor) {
	for i, v := range x.Data {
		if v > 0 {
			gradIn.Data[i] = gradOut.Data[i]
		} else {
			gradIn.Data[i] = 0
		}
	}
}

func (r *ReLUActivation) name() string { return "relu" }

// LeakyReLUActivation - Leaky ReLU with configurable negative slope
type LeakyReLUActivation struct {
	NegativeSlope float64
}

func LeakyReLU(negativeSlope float64) Activation {
	return &LeakyReLUActivation{NegativeSlope: negativeSlope}
}

func (l *LeakyReLUActivation) forward(x *Tensor, out *Tensor) {
	for i, v := range x.Data {
		if v > 0 {
			out.Data[i] = v
		} else {
			out.Data[i] = v * l.NegativeSlope
		}
	}
}

func (l *LeakyReLUActivation) backward(x, y, gradOut, gradIn *Tensor) {
	for i, v := range x.Data {
		if v > 0 {
			gradIn.Data[i] = gradOut.Data[i]
		} else {
			gradIn.Data[i] = gradOut.Data[i] * l.NegativeSlope
		}
	}
}

func (l *LeakyReLUActivation) name() string { return "leaky_relu" }

// ELUActivation - Exponential Linear Unit, used by the BEGAN autoencoders
type ELUActivation struct {
	Alpha float64
}

func ELU(alpha float64) Activation {
	return &ELUActivation{Alpha: alpha}
}

func (e *ELUActivation) forward(x *Tensor, out *Tensor) {
	for i, v := range x.Data {
		if v > 0 {
			out.Data[i] = v
		} else {
			// exp(-700) is tiny but representable
			out.Data[i] = e.Alpha * (math.Exp(math.Max(v, -700)) - 1)
		}
	}
}

func (e *ELUActivation) backward(x, y, gradOut, gradIn *Tensor) {
	for i, v := range x.Data {
		if v > 0 {
			gradIn.Data[i] = gradOut.Data[i]
		} else {
			gradIn.Data[i] = gradOut.Data[i] * (y.Data[i] + e.Alpha)
		}
	}
}

func (e *ELUActivation) name() string { return "elu" }

// SigmoidActivation
type SigmoidActivation struct{}

func Sigmoid() Activation { return &SigmoidActivation{} }

func (s *SigmoidActivation) forward(x *Tensor, out *Tensor) {
	for i, v := range x.Data {
		out.Data[i] = sigmoid(v)
	}
}

func (s *SigmoidActivation) backward(x, y, gradOut, gradIn *Tensor) {
	for i, sig := range y.Data {
		gradIn.Data[i] = gradOut.Data[i] * sig * (1 - sig)
	}
}

func (s *SigmoidActivation) name() string { return "sigmoid" }

// TanhActivation
type TanhActivation struct{}

func Tanh() Activation { return &TanhActivation{} }

func (t *TanhActivation) forward(x *Tensor, out *Tensor) {
	for i, v := range x.Data {
		out.Data[i] = math.Tanh(v)
	}
}

func (t *TanhActivation) backward(x, y, gradOut, gradIn *Tensor) {
	for i, th := range y.Data {
		gradIn.Data[i] = gradOut.Data[i] * (1 - th*th)
	}
}

func (t *TanhActivation) name() string { return "tanh" }

// SoftmaxActivation - operates on the last dimension. Its backward pass is
// the identity: pair it with CrossEntropy, whose gradient is already taken
// with respect to the logits.
type SoftmaxActivation struct{}

func Softmax() Activation { return &SoftmaxActivation{} }

func (s *SoftmaxActivation) forward(x *Tensor, out *Tensor) {
	rows := x.Rows()
	cols := x.Cols()
	for r := 0; r < rows; r++ {
		softmaxRow(x.Data[r*cols:(r+1)*cols], out.Data[r*cols:(r+1)*cols])
	}
}

func (s *SoftmaxActivation) backward(x, y, gradOut, gradIn *Tensor) {
	copy(gradIn.Data, gradOut.Data)
}

func (s *SoftmaxActivation) name() string { return "softmax" }

// LinearActivation - identity
type LinearActivation struct{}

func Linear() Activation { return &LinearActivation{} }

func (l *LinearActivation) forward(x *Tensor, out *Tensor) {
	copy(out.Data, x.Data)
}

func (l *LinearActivation) backward(x, y, gradOut, gradIn *Tensor) {
	copy(gradIn.Data, gradOut.Data)
}

func (l *LinearActivation) name() string { return "linear" }

// sigmoid is the numerically stable logistic function.
func sigmoid(v float64) float64 {
	if v >= 0 {
		return 1.0 / (1.0 + math.Exp(-v))
	}
	e := math.Exp(v)
	return e / (1.0 + e)
}

func softmaxRow(in, out []float64) {
	maxV := in[0]
	for _, v := range in[1:] {
		if v > maxV {
			maxV = v
		}
	}
	sum := 0.0
	for i, v := range in {
		out[i] = math.Exp(v - maxV)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
}
