package flow

import (
	"math"
	"math/rand"
	"testing"
)

func TestLossGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	pred := randomTensor(rng, 4, 3)
	binary := NewTensor(4, 3)
	for i := range binary.Data {
		binary.Data[i] = float64(rng.Intn(2))
	}
	labels := OneHot([]int{0, 2, 1, 2}, 3)

	cases := []struct {
		loss   Loss
		target *Tensor
	}{
		{MSE(MSEConfig{Reduction: "mean"}), binary},
		{MSE(MSEConfig{Reduction: "sum"}), binary},
		{MAE(MAEConfig{Reduction: "mean"}), binary},
		{BCEWithLogits(BCEWithLogitsConfig{Reduction: "mean"}), binary},
		{SoftmaxCrossEntropy(), labels},
	}
	const h = 1e-6
	for _, c := range cases {
		grad := c.loss.Gradient(pred, c.target)
		for i := range pred.Data {
			old := pred.Data[i]
			pred.Data[i] = old + h
			plus := c.loss.Compute(pred, c.target)
			pred.Data[i] = old - h
			minus := c.loss.Compute(pred, c.target)
			pred.Data[i] = old
			expected := (plus - minus) / (2 * h)
			if math.Abs(expected-grad.Data[i]) > 1e-5 {
				t.Errorf("%s entry %d: expected gradient %f but got %f", c.loss.Name(), i, expected, grad.Data[i])
			}
		}
	}
}

func TestBCEWithLogitsStable(t *testing.T) {
	pred := NewTensor(2, 1)
	pred.Data[0], pred.Data[1] = 800, -800
	target := NewTensor(2, 1)
	target.Data[0], target.Data[1] = 0, 1
	l := BCEWithLogits(BCEWithLogitsConfig{Reduction: "mean"})
	if v := l.Compute(pred, target); math.IsInf(v, 0) || math.IsNaN(v) || math.Abs(v-800) > 1e-9 {
		t.Fatalf("expected 800 but got %f", v)
	}
	g := l.Gradient(pred, target)
	if math.Abs(g.Data[0]-0.5) > 1e-9 || math.Abs(g.Data[1]+0.5) > 1e-9 {
		t.Fatalf("unexpected saturated gradient %v", g.Data)
	}
}

func TestCrossEntropyMatchesSoftmaxCrossEntropy(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	logits := randomTensor(rng, 3, 4)
	probs := NewTensor(3, 4)
	Softmax().forward(logits, probs)
	labels := OneHot([]int{3, 0, 1}, 4)

	a := CrossEntropy(CrossEntropyConfig{}).Compute(probs, labels)
	b := SoftmaxCrossEntropy().Compute(logits, labels)
	if math.Abs(a-b) > 1e-9 {
		t.Fatalf("expected equal losses, got %f and %f", a, b)
	}
	ga := CrossEntropy(CrossEntropyConfig{}).Gradient(probs, labels)
	gb := SoftmaxCrossEntropy().Gradient(logits, labels)
	for i := range ga.Data {
		if math.Abs(ga.Data[i]-gb.Data[i]) > 1e-9 {
			t.Fatalf("gradient %d: %f vs %f", i, ga.Data[i], gb.Data[i])
		}
	}
}
