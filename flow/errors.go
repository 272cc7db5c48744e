package flow

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// =============================================================================
// FLOW ERROR TYPES
// Concise, informative error messages with location and context
// =============================================================================

// ErrorKind classifies failures so callers can decide which ones are fatal.
type ErrorKind int

const (
	KindUnknown   ErrorKind = iota
	KindConfig              // invalid configuration, reported before training
	KindNumerical           // NaN/Inf or non-convergent numerics
	KindDimension           // incompatible or rank-deficient shapes
	KindIO                  // file system or encoding failure
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindNumerical:
		return "numerical"
	case KindDimension:
		return "dimension"
	case KindIO:
		return "io"
	}
	return "unknown"
}

// TensorInfo captures tensor state for error reporting
type TensorInfo struct {
	Shape      []int
	Size       int
	NaNCount   int
	InfCount   int
	MinValue   float64
	MaxValue   float64
	BadIndices []int // First 10 corrupted indices
}

// Format returns a compact string representation
func (t *TensorInfo) Format() string {
	s := fmt.Sprintf("%v size=%d", t.Shape, t.Size)
	if t.NaNCount > 0 || t.InfCount > 0 {
		s += fmt.Sprintf(" (corrupt: %d NaN, %d Inf)", t.NaNCount, t.InfCount)
	} else {
		s += fmt.Sprintf(" range=[%.4f, %.4f]", t.MinValue, t.MaxValue)
	}
	return s
}

// FlowError is the standard error type for Flow
type FlowError struct {
	Kind      ErrorKind
	Component string      // "Adam", "Dense", "WGAN", "fid"
	ErrorType string      // "NaN detected", "singular covariance"
	Phase     string      // "forward", "backward", "step", "build"
	Info      *TensorInfo // nil if not relevant
	Cause     string      // human-readable cause
	Err       error       // underlying error, if any
}

// Error implements the error interface
func (e *FlowError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "flow: %s %s", e.Component, e.ErrorType)
	if e.Phase != "" {
		fmt.Fprintf(&b, " during %s", e.Phase)
	}
	if e.Info != nil {
		fmt.Fprintf(&b, " [%s]", e.Info.Format())
	}
	if e.Cause != "" {
		fmt.Fprintf(&b, ": %s", e.Cause)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes the underlying error.
func (e *FlowError) Unwrap() error { return e.Err }

// IsKind reports whether any FlowError in err's chain has kind k.
func IsKind(err error, k ErrorKind) bool {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Kind == k
	}
	return false
}

// KindOf returns the kind of the first FlowError in err's chain.
func KindOf(err error) ErrorKind {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// ConfigError reports an invalid configuration value.
func ConfigError(component, format string, args ...interface{}) error {
	return &FlowError{
		Kind:      KindConfig,
		Component: component,
		ErrorType: "invalid configuration",
		Cause:     fmt.Sprintf(format, args...),
	}
}

// DimensionError reports incompatible or rank-deficient shapes.
func DimensionError(component, format string, args ...interface{}) error {
	return &FlowError{
		Kind:      KindDimension,
		Component: component,
		ErrorType: "dimension mismatch",
		Cause:     fmt.Sprintf(format, args...),
	}
}

// NumericalError reports a non-finite or non-convergent computation.
func NumericalError(component, phase, format string, args ...interface{}) error {
	return &FlowError{
		Kind:      KindNumerical,
		Component: component,
		ErrorType: "numerical failure",
		Phase:     phase,
		Cause:     fmt.Sprintf(format, args...),
	}
}

// IOError wraps a file system failure.
func IOError(component, phase string, err error) error {
	return &FlowError{
		Kind:      KindIO,
		Component: component,
		ErrorType: "i/o failure",
		Phase:     phase,
		Err:       err,
	}
}

// CheckFinite fails with a numerical error when v is NaN or Inf.
func CheckFinite(component, phase string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return NumericalError(component, phase, "loss is %v", v)
	}
	return nil
}

// ScanTensor checks for NaN/Inf and collects stats
func ScanTensor(t *Tensor) *TensorInfo {
	if t == nil {
		return nil
	}

	info := &TensorInfo{
		Shape:      t.Shape,
		Size:       len(t.Data),
		MinValue:   math.Inf(1),
		MaxValue:   math.Inf(-1),
		BadIndices: make([]int, 0, 10),
	}

	for i, v := range t.Data {
		if math.IsNaN(v) {
			info.NaNCount++
			if len(info.BadIndices) < 10 {
				info.BadIndices = append(info.BadIndices, i)
			}
		} else if math.IsInf(v, 0) {
			info.InfCount++
			if len(info.BadIndices) < 10 {
				info.BadIndices = append(info.BadIndices, i)
			}
		} else {
			if v < info.MinValue {
				info.MinValue = v
			}
			if v > info.MaxValue {
				info.MaxValue = v
			}
		}
	}

	// Handle empty or all-corrupt tensors
	if math.IsInf(info.MinValue, 1) {
		info.MinValue = 0
	}
	if math.IsInf(info.MaxValue, -1) {
		info.MaxValue = 0
	}

	return info
}

// ValidateTensor returns a numerical error if t holds NaN or Inf values.
func ValidateTensor(t *Tensor, component, phase string) error {
	info := ScanTensor(t)
	if info == nil {
		return &FlowError{
			Kind:      KindNumerical,
			Component: component,
			ErrorType: "nil tensor",
			Phase:     phase,
		}
	}
	if info.NaNCount > 0 {
		return &FlowError{
			Kind:      KindNumerical,
			Component: component,
			ErrorType: "NaN detected",
			Phase:     phase,
			Info:      info,
			Cause:     fmt.Sprintf("%d NaN values at indices %v", info.NaNCount, info.BadIndices),
		}
	}
	if info.InfCount > 0 {
		return &FlowError{
			Kind:      KindNumerical,
			Component: component,
			ErrorType: "Inf detected",
			Phase:     phase,
			Info:      info,
			Cause:     fmt.Sprintf("%d Inf values at indices %v - likely overflow", info.InfCount, info.BadIndices),
		}
	}
	return nil
}
