package executor

import (
	"context"
	"time"

	"github.com/featurehub-ai/platform/pkg/dataset"
)

// Runner executes one feature against one dataset. A returned *Fault is a
// feature failure; any other error is an infrastructure failure.
type Runner interface {
	Run(ctx context.Context, feature Feature, ds *dataset.Dataset) (*Result, error)
}

type Result struct {
	// Values is the raw return value decoded to Go: nil, bool, float64,
	// string, []interface{} or map[string]interface{}.
	Values interface{}
	// Fingerprint is taken over the executor's own dataset copy after the
	// call returned, so in-place mutation by the feature is observable.
	Fingerprint string
	Steps       uint64
	Elapsed     time.Duration
}

// Limits bound a single execution.
type Limits struct {
	Timeout  time.Duration
	MaxSteps uint64
}

func (l Limits) timeout() time.Duration {
	if l.Timeout <= 0 {
		return time.Minute
	}
	return l.Timeout
}
