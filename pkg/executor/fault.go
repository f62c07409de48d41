package executor

import (
	"errors"
	"fmt"
)

var ErrTimeout = errors.New("feature execution timed out")

type FaultKind string

const (
	FaultCompile FaultKind = "compile"
	FaultRuntime FaultKind = "runtime"
	FaultTimeout FaultKind = "timeout"
	FaultCrash   FaultKind = "crash"
	FaultResult  FaultKind = "result"
)

// Fault is a failure attributable to the feature itself. Callers treat any
// Fault as a rejected feature, never as an infrastructure error.
type Fault struct {
	Kind    FaultKind `json:"kind"`
	Message string    `json:"message"`
	Trace   string    `json:"trace,omitempty"`
}

func (f *Fault) Error() string {
	return fmt.Sprintf("feature %s error: %s", f.Kind, f.Message)
}

func (f *Fault) Is(target error) bool {
	return target == ErrTimeout && f.Kind == FaultTimeout
}

// Detail is the text shown back to the submitter.
func (f *Fault) Detail() string {
	if f.Trace != "" {
		return f.Trace
	}
	return f.Error()
}

// AsFault reports whether err carries a Fault.
func AsFault(err error) (*Fault, bool) {
	var fault *Fault
	if errors.As(err, &fault) {
		return fault, true
	}
	return nil, false
}
