package flow

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// Tensor is a dense row-major array. Batches are stored with the sample
// index as the first dimension.
type Tensor struct {
	Data  []float64
	Shape []int
}

// NewTensor allocates a zeroed tensor with the given shape.
func NewTensor(shape ...int) *Tensor {
	size := 1
	for _, s := range shape {
		if s < 0 {
			s = 0
		}
		size *= s
	}
	return &Tensor{
		Data:  make([]float64, size),
		Shape: append([]int(nil), shape...),
	}
}

// FromRows copies a slice of equally sized rows into a [len(rows), cols] tensor.
func FromRows(rows [][]float64) (*Tensor, error) {
	if len(rows) == 0 {
		return nil, errors.New("flow: FromRows needs at least one row")
	}
	cols := len(rows[0])
	t := NewTensor(len(rows), cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, errorf("row %d has %d values, expected %d", i, len(r), cols)
		}
		copy(t.Data[i*cols:], r)
	}
	return t, nil
}

// Size returns the number of elements.
func (t *Tensor) Size() int { return len(t.Data) }

// Rows returns the leading (batch) dimension.
func (t *Tensor) Rows() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[0]
}

// Cols returns the number of elements per row.
func (t *Tensor) Cols() int {
	r := t.Rows()
	if r == 0 {
		return 0
	}
	return len(t.Data) / r
}

// Row returns a view of row i.
func (t *Tensor) Row(i int) []float64 {
	c := t.Cols()
	return t.Data[i*c : (i+1)*c]
}

// At returns the element at (row, col) of a 2D view.
func (t *Tensor) At(row, col int) float64 {
	return t.Data[row*t.Cols()+col]
}

// Set writes the element at (row, col) of a 2D view.
func (t *Tensor) Set(row, col int, v float64) {
	t.Data[row*t.Cols()+col] = v
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	nt := NewTensor(t.Shape...)
	copy(nt.Data, t.Data)
	return nt
}

// Fill sets every element to value.
func (t *Tensor) Fill(value float64) {
	for i := range t.Data {
		t.Data[i] = value
	}
}

// FillNormal fills with N(mean, std²) samples.
func (t *Tensor) FillNormal(mean, std float64, rng *rand.Rand) {
	for i := range t.Data {
		t.Data[i] = rng.NormFloat64()*std + mean
	}
}

// FillUniform fills with U(low, high) samples.
func (t *Tensor) FillUniform(low, high float64, rng *rand.Rand) {
	for i := range t.Data {
		t.Data[i] = rng.Float64()*(high-low) + low
	}
}

// Scale multiplies every element by s in place.
func (t *Tensor) Scale(s float64) {
	for i := range t.Data {
		t.Data[i] *= s
	}
}

// AddScaled adds s*o to t in place.
func (t *Tensor) AddScaled(o *Tensor, s float64) {
	for i := range t.Data {
		t.Data[i] += s * o.Data[i]
	}
}

// Mean of all elements.
func (t *Tensor) Mean() float64 {
	if len(t.Data) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range t.Data {
		sum += v
	}
	return sum / float64(len(t.Data))
}

// MaxAbs returns the largest absolute element.
func (t *Tensor) MaxAbs() float64 {
	m := 0.0
	for _, v := range t.Data {
		if a := math.Abs(v); a > m {
			m = a
		}
	}
	return m
}

// ConcatCols joins 2D tensors with equal row counts side by side.
func ConcatCols(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, errors.New("flow: ConcatCols needs at least one tensor")
	}
	rows := ts[0].Rows()
	total := 0
	for i, t := range ts {
		if t.Rows() != rows {
			return nil, errorf("ConcatCols: tensor %d has %d rows, expected %d", i, t.Rows(), rows)
		}
		total += t.Cols()
	}
	out := NewTensor(rows, total)
	for r := 0; r < rows; r++ {
		off := r * total
		for _, t := range ts {
			off += copy(out.Data[off:], t.Row(r))
		}
	}
	return out, nil
}

// SliceCols copies columns [from, to) of a 2D tensor.
func SliceCols(t *Tensor, from, to int) *Tensor {
	rows, cols := t.Rows(), t.Cols()
	width := to - from
	out := NewTensor(rows, width)
	for r := 0; r < rows; r++ {
		copy(out.Data[r*width:(r+1)*width], t.Data[r*cols+from:r*cols+to])
	}
	return out
}

// PutCols writes src into columns starting at from of dst.
func PutCols(dst, src *Tensor, from int) {
	rows, cols, width := dst.Rows(), dst.Cols(), src.Cols()
	for r := 0; r < rows; r++ {
		copy(dst.Data[r*cols+from:r*cols+from+width], src.Row(r))
	}
}

// OneHot encodes integer labels as a [len(labels), classes] tensor.
func OneHot(labels []int, classes int) *Tensor {
	out := NewTensor(len(labels), classes)
	for i, label := range labels {
		if label >= 0 && label < classes {
			out.Data[i*classes+label] = 1.0
		}
	}
	return out
}

// Argmax returns the index of the largest value in each row.
func Argmax(t *Tensor) []int {
	rows := t.Rows()
	out := make([]int, rows)
	for r := 0; r < rows; r++ {
		row := t.Row(r)
		best := 0
		for j := 1; j < len(row); j++ {
			if row[j] > row[best] {
				best = j
			}
		}
		out[r] = best
	}
	return out
}

// Matrix kernels. Shapes are assumed valid; callers check them.
func matmul(a, b, out *Tensor) {
	m := a.Shape[0]
	k := a.Cols()
	n := b.Cols()

	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			sum := 0.0
			for l := 0; l < k; l++ {
				sum += a.Data[i*k+l] * b.Data[l*n+j]
			}
			out.Data[i*n+j] = sum
		}
	}
}

// matmulTransAAcc accumulates aᵀ·b into out.
func matmulTransAAcc(a, b, out *Tensor) {
	k := a.Shape[0]
	m := a.Cols()
	n := b.Cols()

	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			sum := 0.0
			for l := 0; l < k; l++ {
				sum += a.Data[l*m+i] * b.Data[l*n+j]
			}
			out.Data[i*n+j] += sum
		}
	}
}

func matmulTransB(a, b, out *Tensor) {
	m := a.Shape[0]
	k := a.Cols()
	n := b.Shape[0]

	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			sum := 0.0
			for l := 0; l < k; l++ {
				sum += a.Data[i*k+l] * b.Data[j*k+l]
			}
			out.Data[i*n+j] = sum
		}
	}
}

func addRowVec(a *Tensor, b *Tensor) {
	n := len(b.Data)
	for i := range a.Data {
		a.Data[i] += b.Data[i%n]
	}
}

// sumRowsAcc accumulates column sums of a into out.
func sumRowsAcc(a *Tensor, out *Tensor) {
	rows := a.Shape[0]
	cols := a.Cols()
	for j := 0; j < cols; j++ {
		sum := 0.0
		for i := 0; i < rows; i++ {
			sum += a.Data[i*cols+j]
		}
		out.Data[j] += sum
	}
}

func clip(a *Tensor, min, max float64) {
	for i := range a.Data {
		if a.Data[i] < min {
			a.Data[i] = min
		} else if a.Data[i] > max {
			a.Data[i] = max
		}
	}
}

func l2Norm(a *Tensor) float64 {
	sum := 0.0
	for _, v := range a.Data {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func validateShape(expected, got []int) error {
	if len(expected) != len(got) {
		return errors.New("flow: shape mismatch - different dimensions")
	}
	for i := range expected {
		if expected[i] != got[i] {
			return errors.New("flow: shape mismatch")
		}
	}
	return nil
}
