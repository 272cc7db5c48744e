package flow

import (
	"math/rand"

	"github.com/pkg/errors"
)

// shuffleRows shuffles input and target rows in-place with the same permutation
func shuffleRows(inputs, targets *Tensor, rng *rand.Rand) {
	n := inputs.Rows()
	inputCols := inputs.Cols()
	targetCols := targets.Cols()

	for i := n - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		for k := 0; k < inputCols; k++ {
			inputs.Data[i*inputCols+k], inputs.Data[j*inputCols+k] =
				inputs.Data[j*inputCols+k], inputs.Data[i*inputCols+k]
		}
		for k := 0; k < targetCols; k++ {
			targets.Data[i*targetCols+k], targets.Data[j*targetCols+k] =
				targets.Data[j*targetCols+k], targets.Data[i*targetCols+k]
		}
	}
}

// getBatch copies rows [start, start+batchSize) of data
func getBatch(data *Tensor, start, batchSize int) *Tensor {
	totalSamples := data.Rows()
	end := start + batchSize
	if end > totalSamples {
		end = totalSamples
	}
	shape := append([]int{end - start}, data.Shape[1:]...)
	batch := NewTensor(shape...)

	perSample := data.Cols()
	copy(batch.Data, data.Data[start*perSample:end*perSample])
	return batch
}

// splitRows splits data into train and validation sets
func splitRows(inputs, targets *Tensor, valSplit float64) (*Tensor, *Tensor, *Tensor, *Tensor) {
	n := inputs.Rows()
	valSize := int(float64(n) * valSplit)
	trainSize := n - valSize

	trainX := getBatch(inputs, 0, trainSize)
	trainY := getBatch(targets, 0, trainSize)
	valX := getBatch(inputs, trainSize, valSize)
	valY := getBatch(targets, trainSize, valSize)
	return trainX, trainY, valX, valY
}

// errorf creates a formatted error
func errorf(format string, args ...interface{}) error {
	return errors.Errorf("flow: "+format, args...)
}
