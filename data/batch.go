// Package data produces the ordered batches the training strategies
// consume: in-memory datasets, loaders for the supported image corpora,
// batching and asynchronous prefetch.
package data

import (
	"github.com/pkg/errors"

	"ganflow/flow"
)

// ErrEndOfEpoch is returned by Source.Next once every full batch of the
// current epoch has been delivered.
var ErrEndOfEpoch = errors.New("data: end of epoch")

// Batch is one step's worth of samples. Images has one row per sample in
// channel-major order, scaled to [-1, 1]. Labels is always populated.
type Batch struct {
	Images *flow.Tensor
	Labels []int
}

// Size is the number of samples in the batch.
func (b Batch) Size() int { return len(b.Labels) }

// Source is an ordered, restartable producer of batches.
type Source interface {
	// Next blocks until the next batch is available.
	Next() (Batch, error)
	// Reset starts a new epoch.
	Reset() error
	BatchSize() int
	// Len is the number of batches per epoch.
	Len() int
}

// ImageShape describes a sample as channels x height x width.
type ImageShape struct {
	Channels int
	Height   int
	Width    int
}

// Size is the number of values per sample.
func (s ImageShape) Size() int { return s.Channels * s.Height * s.Width }

// Dataset is a labelled set of samples held in memory.
type Dataset struct {
	Name    string
	Images  *flow.Tensor
	Labels  []int
	Classes int
	Shape   ImageShape
}

// Len is the number of samples.
func (d *Dataset) Len() int { return len(d.Labels) }

// Validate checks that images, labels and shape agree.
func (d *Dataset) Validate() error {
	if d.Images == nil || d.Images.Rows() == 0 {
		return flow.DimensionError("Dataset", "%s has no samples", d.Name)
	}
	if d.Images.Rows() != len(d.Labels) {
		return flow.DimensionError("Dataset", "%s has %d images but %d labels", d.Name, d.Images.Rows(), len(d.Labels))
	}
	if d.Images.Cols() != d.Shape.Size() {
		return flow.DimensionError("Dataset", "%s samples have %d values, shape %v needs %d",
			d.Name, d.Images.Cols(), d.Shape, d.Shape.Size())
	}
	for i, l := range d.Labels {
		if l < 0 || l >= d.Classes {
			return flow.DimensionError("Dataset", "%s label %d at %d outside [0, %d)", d.Name, l, i, d.Classes)
		}
	}
	return nil
}

// Subset copies the samples at idx.
func (d *Dataset) Subset(idx []int) *Dataset {
	cols := d.Images.Cols()
	out := &Dataset{
		Name:    d.Name,
		Images:  flow.NewTensor(len(idx), cols),
		Labels:  make([]int, len(idx)),
		Classes: d.Classes,
		Shape:   d.Shape,
	}
	for i, j := range idx {
		copy(out.Images.Row(i), d.Images.Row(j))
		out.Labels[i] = d.Labels[j]
	}
	return out
}

// Head returns the first n samples, or d itself when n covers it.
func (d *Dataset) Head(n int) *Dataset {
	if n <= 0 || n >= d.Len() {
		return d
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return d.Subset(idx)
}
