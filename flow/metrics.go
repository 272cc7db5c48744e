package flow

// Metric computes evaluation metrics
type Metric interface {
	reset()
	update(pred, target *Tensor)
	result() float64
	name() string
}

// AccuracyMetric - classification accuracy
type AccuracyMetric struct {
	correct int
	total   int
}

func Accuracy() Metric {
	return &AccuracyMetric{}
}

func (a *AccuracyMetric) reset() {
	a.correct = 0
	a.total = 0
}

func (a *AccuracyMetric) update(pred, target *Tensor) {
	if pred.Cols() == 1 {
		// Binary classification
		for i := range pred.Data {
			predClass := 0
			if pred.Data[i] >= 0.5 {
				predClass = 1
			}
			if predClass == int(target.Data[i]) {
				a.correct++
			}
			a.total++
		}
		return
	}
	predClasses := Argmax(pred)
	targetClasses := Argmax(target)
	for i := range predClasses {
		if predClasses[i] == targetClasses[i] {
			a.correct++
		}
		a.total++
	}
}

func (a *AccuracyMetric) result() float64 {
	if a.total == 0 {
		return 0
	}
	return float64(a.correct) / float64(a.total)
}

func (a *AccuracyMetric) name() string { return "accuracy" }

// ClassAccuracy is the fraction of rows of scores whose argmax equals the
// label at the same index.
func ClassAccuracy(scores *Tensor, labels []int) float64 {
	if len(labels) == 0 {
		return 0
	}
	pred := Argmax(scores)
	correct := 0
	for i, l := range labels {
		if pred[i] == l {
			correct++
		}
	}
	return float64(correct) / float64(len(labels))
}
