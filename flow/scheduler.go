package flow

import "math"

// Scheduler maps an epoch index to a learning rate derived from the
// initial one. Schedules are stateless so they can be replayed after a
// restart.
type Scheduler interface {
	rate(epoch int, initialLR float64) float64
	name() string
}

// StepDecayScheduler - drops LR by factor every N epochs
type StepDecayScheduler struct {
	StepSize int
	Gamma    float64
}

type StepDecayConfig struct {
	StepSize int
	Gamma    float64
}

func StepDecay(config StepDecayConfig) Scheduler {
	return &StepDecayScheduler{
		StepSize: config.StepSize,
		Gamma:    config.Gamma,
	}
}

func (s *StepDecayScheduler) rate(epoch int, initialLR float64) float64 {
	if s.StepSize <= 0 {
		return initialLR
	}
	return initialLR * math.Pow(s.Gamma, float64(epoch/s.StepSize))
}

func (s *StepDecayScheduler) name() string { return "step_decay" }

// ExponentialDecayScheduler - exponential decay each epoch
type ExponentialDecayScheduler struct {
	Gamma float64
}

type ExponentialDecayConfig struct {
	Gamma float64
}

func ExponentialDecay(config ExponentialDecayConfig) Scheduler {
	return &ExponentialDecayScheduler{Gamma: config.Gamma}
}

func (e *ExponentialDecayScheduler) rate(epoch int, initialLR float64) float64 {
	return initialLR * math.Pow(e.Gamma, float64(epoch))
}

func (e *ExponentialDecayScheduler) name() string { return "exponential_decay" }

// LinearDecayScheduler - linear decay from the initial rate to EndLR
type LinearDecayScheduler struct {
	EndLR       float64
	TotalEpochs int
}

type LinearDecayConfig struct {
	EndLR       float64
	TotalEpochs int
}

func LinearDecay(config LinearDecayConfig) Scheduler {
	return &LinearDecayScheduler{
		EndLR:       config.EndLR,
		TotalEpochs: config.TotalEpochs,
	}
}

func (l *LinearDecayScheduler) rate(epoch int, initialLR float64) float64 {
	if epoch >= l.TotalEpochs {
		return l.EndLR
	}
	return initialLR + (l.EndLR-initialLR)*float64(epoch)/float64(l.TotalEpochs)
}

func (l *LinearDecayScheduler) name() string { return "linear_decay" }

// Schedule binds a Scheduler to one network's optimizer.
type Schedule struct {
	Scheduler Scheduler
	Network   *Network
	InitialLR float64
}

// NewSchedule records the network's current learning rate as the base.
func NewSchedule(s Scheduler, n *Network) *Schedule {
	return &Schedule{Scheduler: s, Network: n, InitialLR: n.LearningRate()}
}

// Apply sets the learning rate for epoch and returns it.
func (s *Schedule) Apply(epoch int) float64 {
	lr := s.Scheduler.rate(epoch, s.InitialLR)
	s.Network.SetLearningRate(lr)
	return lr
}

// Name of the underlying scheduler.
func (s *Schedule) Name() string { return s.Scheduler.name() }
