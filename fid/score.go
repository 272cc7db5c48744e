// Package fid scores generated samples by the Fréchet distance between
// Gaussians fitted to real and generated feature vectors.
package fid

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"ganflow/flow"
)

const (
	// EigenClamp is the floor applied to eigenvalues before taking square
	// roots. Covariance products are positive semi-definite in exact
	// arithmetic; rounding can push small eigenvalues below zero.
	EigenClamp = 0.0
	// ScoreTolerance is the relative rounding noise below which a score is
	// reported as 0. Scores below -ScoreTolerance are numerical errors.
	ScoreTolerance = 1e-9
)

// Statistics are the mean and covariance of a feature set.
type Statistics struct {
	Mean []float64
	Cov  *mat.SymDense
}

// Dim is the feature width.
func (s Statistics) Dim() int { return len(s.Mean) }

// Compute fits Statistics to the rows of x. It needs more samples than
// features so the covariance can be full rank.
func Compute(x *flow.Tensor) (Statistics, error) {
	n, d := x.Rows(), x.Cols()
	if d == 0 {
		return Statistics{}, flow.DimensionError("fid", "features are empty")
	}
	if n <= d {
		return Statistics{}, flow.DimensionError("fid", "%d samples for %d features, need more samples than features", n, d)
	}
	if err := flow.ValidateTensor(x, "fid", "statistics"); err != nil {
		return Statistics{}, err
	}
	m := mat.NewDense(n, d, x.Data)
	mean := make([]float64, d)
	col := make([]float64, n)
	for j := range mean {
		mat.Col(col, j, m)
		mean[j] = stat.Mean(col, nil)
	}
	cov := mat.NewSymDense(d, nil)
	stat.CovarianceMatrix(cov, m, nil)
	return Statistics{Mean: mean, Cov: cov}, nil
}

// Score is the Fréchet distance between the feature distributions of real
// and generated.
func Score(real, generated *flow.Tensor) (float64, error) {
	if real.Cols() != generated.Cols() {
		return 0, flow.DimensionError("fid", "real features have width %d, generated %d", real.Cols(), generated.Cols())
	}
	r, err := Compute(real)
	if err != nil {
		return 0, err
	}
	g, err := Compute(generated)
	if err != nil {
		return 0, err
	}
	return Distance(r, g)
}

// Distance is ‖μa − μb‖² + Tr(Σa + Σb − 2(Σa·Σb)^½). The trace of the
// matrix square root is taken as Tr((√Σa·Σb·√Σa)^½), which is symmetric
// and has the same eigenvalues.
func Distance(a, b Statistics) (float64, error) {
	d := a.Dim()
	if b.Dim() != d {
		return 0, flow.DimensionError("fid", "statistics have widths %d and %d", d, b.Dim())
	}
	diff := make([]float64, d)
	floats.SubTo(diff, a.Mean, b.Mean)
	meanTerm := floats.Dot(diff, diff)

	rootA, err := sqrtSym(a.Cov)
	if err != nil {
		return 0, err
	}
	var tmp, prod mat.Dense
	tmp.Mul(rootA, b.Cov)
	prod.Mul(&tmp, rootA)
	values, err := eigenvalues(symmetrize(&prod))
	if err != nil {
		return 0, err
	}
	crossTrace := 0.0
	for _, v := range values {
		crossTrace += math.Sqrt(math.Max(v, EigenClamp))
	}

	traces := mat.Trace(a.Cov) + mat.Trace(b.Cov)
	score := meanTerm + traces - 2*crossTrace
	if err := flow.CheckFinite("fid", "score", score); err != nil {
		return 0, err
	}
	tol := ScoreTolerance * math.Max(1, meanTerm+traces)
	if score < -tol {
		return 0, flow.NumericalError("fid", "score", "negative distance %g", score)
	}
	if score < tol {
		return 0, nil
	}
	return score, nil
}

func eigenvalues(s *mat.SymDense) ([]float64, error) {
	var eig mat.EigenSym
	if ok := eig.Factorize(s, false); !ok {
		return nil, flow.NumericalError("fid", "eigen", "decomposition did not converge")
	}
	return eig.Values(nil), nil
}

// sqrtSym returns the positive semi-definite square root V·diag(√λ)·Vᵀ.
func sqrtSym(s *mat.SymDense) (*mat.Dense, error) {
	var eig mat.EigenSym
	if ok := eig.Factorize(s, true); !ok {
		return nil, flow.NumericalError("fid", "eigen", "decomposition did not converge")
	}
	values := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	for i, v := range values {
		values[i] = math.Sqrt(math.Max(v, EigenClamp))
	}
	var scaled, root mat.Dense
	scaled.Mul(&vecs, mat.NewDiagDense(len(values), values))
	root.Mul(&scaled, vecs.T())
	return &root, nil
}

// symmetrize returns (m + mᵀ)/2.
func symmetrize(m *mat.Dense) *mat.SymDense {
	n, _ := m.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return s
}
