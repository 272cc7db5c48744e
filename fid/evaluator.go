package fid

import (
	"context"

	"github.com/pkg/errors"

	"ganflow/data"
	"ganflow/flow"
)

// Sampler produces generated samples. Every gan.Strategy is one.
type Sampler interface {
	Noise(n int) *flow.Tensor
	Sample(z *flow.Tensor, labels []int) (*flow.Tensor, error)
}

// Evaluator scores a generator against a real data source.
type Evaluator struct {
	Extractor Extractor
	// Chunk bounds how many samples are generated and featurised at once.
	Chunk int
}

// NewEvaluator returns an evaluator using extractor, or raw pixels when it
// is nil.
func NewEvaluator(extractor Extractor) *Evaluator {
	if extractor == nil {
		extractor = Identity()
	}
	return &Evaluator{Extractor: extractor, Chunk: 256}
}

// Evaluate draws up to n real samples from src and n generated samples from
// s and returns their Fréchet distance in feature space. src is reset
// first. Cancellation is checked between chunks.
func (e *Evaluator) Evaluate(ctx context.Context, src data.Source, s Sampler, n int) (float64, error) {
	if n <= 0 {
		return 0, flow.ConfigError("fid", "sample count must be > 0, got %d", n)
	}
	real, err := e.realFeatures(ctx, src, n)
	if err != nil {
		return 0, err
	}
	fake, err := e.generatedFeatures(ctx, s, real.Rows())
	if err != nil {
		return 0, err
	}
	return Score(real, fake)
}

func (e *Evaluator) chunk() int {
	if e.Chunk <= 0 {
		return 256
	}
	return e.Chunk
}

func (e *Evaluator) realFeatures(ctx context.Context, src data.Source, n int) (*flow.Tensor, error) {
	if err := src.Reset(); err != nil {
		return nil, err
	}
	var rows [][]float64
	for len(rows) < n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := src.Next()
		if errors.Cause(err) == data.ErrEndOfEpoch {
			break
		}
		if err != nil {
			return nil, err
		}
		f, err := e.Extractor.Features(b.Images)
		if err != nil {
			return nil, err
		}
		for i := 0; i < f.Rows() && len(rows) < n; i++ {
			rows = append(rows, append([]float64(nil), f.Row(i)...))
		}
	}
	if len(rows) == 0 {
		return nil, flow.DimensionError("fid", "the data source produced no samples")
	}
	return flow.FromRows(rows)
}

func (e *Evaluator) generatedFeatures(ctx context.Context, s Sampler, n int) (*flow.Tensor, error) {
	var parts []*flow.Tensor
	for done := 0; done < n; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		k := e.chunk()
		if n-done < k {
			k = n - done
		}
		x, err := s.Sample(s.Noise(k), nil)
		if err != nil {
			return nil, err
		}
		f, err := e.Extractor.Features(x)
		if err != nil {
			return nil, err
		}
		parts = append(parts, f.Clone())
		done += k
	}
	return stackRows(parts), nil
}

func stackRows(parts []*flow.Tensor) *flow.Tensor {
	rows, cols := 0, parts[0].Cols()
	for _, p := range parts {
		rows += p.Rows()
	}
	out := flow.NewTensor(rows, cols)
	off := 0
	for _, p := range parts {
		copy(out.Data[off:], p.Data)
		off += len(p.Data)
	}
	return out
}
