package flow

import (
	"math"
	"sort"

	"github.com/sirupsen/logrus"
)

// Callback is called during Network.Train at various points
type Callback interface {
	onTrainBegin(logs map[string]float64)
	onTrainEnd(logs map[string]float64)
	onEpochBegin(epoch int, logs map[string]float64)
	onEpochEnd(epoch int, logs map[string]float64) bool // return true to stop training
	onBatchEnd(batch int, logs map[string]float64)
	name() string
}

// EarlyStoppingCallback stops training when metric stops improving
type EarlyStoppingCallback struct {
	Monitor      string
	MinDelta     float64
	Patience     int
	Mode         string // "min" or "max"
	bestValue    float64
	wait         int
	stoppedEpoch int
}

type EarlyStoppingConfig struct {
	Monitor  string
	MinDelta float64
	Patience int
	Mode     string
}

func EarlyStopping(config EarlyStoppingConfig) Callback {
	e := &EarlyStoppingCallback{
		Monitor:  config.Monitor,
		MinDelta: config.MinDelta,
		Patience: config.Patience,
		Mode:     config.Mode,
	}
	e.resetBest()
	return e
}

func (e *EarlyStoppingCallback) resetBest() {
	e.wait = 0
	e.stoppedEpoch = -1
	if e.Mode == "max" {
		e.bestValue = math.Inf(-1)
	} else {
		e.bestValue = math.Inf(1)
	}
}

func (e *EarlyStoppingCallback) onTrainBegin(logs map[string]float64) { e.resetBest() }

func (e *EarlyStoppingCallback) onTrainEnd(logs map[string]float64) {}

func (e *EarlyStoppingCallback) onEpochBegin(epoch int, logs map[string]float64) {}

func (e *EarlyStoppingCallback) onEpochEnd(epoch int, logs map[string]float64) bool {
	current, ok := logs[e.Monitor]
	if !ok {
		return false
	}

	improved := false
	if e.Mode == "max" {
		improved = current > e.bestValue+e.MinDelta
	} else {
		improved = current < e.bestValue-e.MinDelta
	}

	if improved {
		e.bestValue = current
		e.wait = 0
		return false
	}
	e.wait++
	if e.wait >= e.Patience {
		e.stoppedEpoch = epoch
		return true
	}
	return false
}

func (e *EarlyStoppingCallback) onBatchEnd(batch int, logs map[string]float64) {}
func (e *EarlyStoppingCallback) name() string                                  { return "early_stopping" }

// StoppedEpoch returns the epoch training stopped at, or -1.
func (e *EarlyStoppingCallback) StoppedEpoch() int { return e.stoppedEpoch }

// LogProgressCallback writes epoch logs through a logrus logger
type LogProgressCallback struct {
	Logger     *logrus.Logger
	PrintEvery int
}

type LogProgressConfig struct {
	Logger     *logrus.Logger
	PrintEvery int
}

func LogProgress(config LogProgressConfig) Callback {
	logger := config.Logger
	if logger == nil {
		logger = logrus.New()
	}
	every := config.PrintEvery
	if every <= 0 {
		every = 1
	}
	return &LogProgressCallback{Logger: logger, PrintEvery: every}
}

func (p *LogProgressCallback) onTrainBegin(logs map[string]float64) {
	p.Logger.Debug("flow: training started")
}

func (p *LogProgressCallback) onTrainEnd(logs map[string]float64) {
	p.Logger.WithFields(fields(logs)).Debug("flow: training complete")
}

func (p *LogProgressCallback) onEpochBegin(epoch int, logs map[string]float64) {}

func (p *LogProgressCallback) onEpochEnd(epoch int, logs map[string]float64) bool {
	if (epoch+1)%p.PrintEvery == 0 {
		f := fields(logs)
		f["epoch"] = epoch + 1
		p.Logger.WithFields(f).Info("flow: epoch finished")
	}
	return false
}

func (p *LogProgressCallback) onBatchEnd(batch int, logs map[string]float64) {}
func (p *LogProgressCallback) name() string                                  { return "log_progress" }

func fields(logs map[string]float64) logrus.Fields {
	keys := make([]string, 0, len(logs))
	for k := range logs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	f := make(logrus.Fields, len(keys))
	for _, k := range keys {
		f[k] = logs[k]
	}
	return f
}

// HistoryCallback records training history
type HistoryCallback struct {
	History map[string][]float64
}

func History() *HistoryCallback {
	return &HistoryCallback{
		History: make(map[string][]float64),
	}
}

func (h *HistoryCallback) onTrainBegin(logs map[string]float64) {
	h.History = make(map[string][]float64)
}

func (h *HistoryCallback) onTrainEnd(logs map[string]float64) {}

func (h *HistoryCallback) onEpochBegin(epoch int, logs map[string]float64) {}

func (h *HistoryCallback) onEpochEnd(epoch int, logs map[string]float64) bool {
	for k, v := range logs {
		h.History[k] = append(h.History[k], v)
	}
	return false
}

func (h *HistoryCallback) onBatchEnd(batch int, logs map[string]float64) {}
func (h *HistoryCallback) name() string                                  { return "history" }

// LRSchedulerCallback applies a learning rate schedule at each epoch start
type LRSchedulerCallback struct {
	Schedule *Schedule
}

func LRScheduler(schedule *Schedule) Callback {
	return &LRSchedulerCallback{Schedule: schedule}
}

func (l *LRSchedulerCallback) onTrainBegin(logs map[string]float64) {}
func (l *LRSchedulerCallback) onTrainEnd(logs map[string]float64)   {}

func (l *LRSchedulerCallback) onEpochBegin(epoch int, logs map[string]float64) {
	logs["lr"] = l.Schedule.Apply(epoch)
}

func (l *LRSchedulerCallback) onEpochEnd(epoch int, logs map[string]float64) bool { return false }
func (l *LRSchedulerCallback) onBatchEnd(batch int, logs map[string]float64)      {}
func (l *LRSchedulerCallback) name() string                                       { return "lr_scheduler" }
