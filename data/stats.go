package data

import (
	"gonum.org/v1/gonum/stat"

	"ganflow/flow"
)

// StdDev is the sample standard deviation over every value of t.
func StdDev(t *flow.Tensor) float64 {
	if t.Size() < 2 {
		return 0
	}
	return stat.StdDev(t.Data, nil)
}

// ColumnMeans returns the per-feature mean of a [N, D] tensor.
func ColumnMeans(t *flow.Tensor) []float64 {
	rows, cols := t.Rows(), t.Cols()
	out := make([]float64, cols)
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			col[i] = t.Data[i*cols+j]
		}
		out[j] = stat.Mean(col, nil)
	}
	return out
}
