package executor

import (
	"context"
	"time"

	"github.com/featurehub-ai/platform/pkg/dataset"
)

// InlineRunner executes features on a goroutine of the calling process. The
// dataset is still deep-copied and the timeout is enforced by cancelling the
// interpreter, but memory is shared with the caller. Use it where spawning a
// worker is not possible; the server path uses ProcessRunner.
type InlineRunner struct {
	Limits Limits
}

func NewInlineRunner(limits Limits) *InlineRunner {
	return &InlineRunner{Limits: limits}
}

func (r *InlineRunner) Run(ctx context.Context, feature Feature, ds *dataset.Dataset) (*Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.Limits.timeout())
	defer cancel()

	start := time.Now()
	exec, err := execute(runCtx, feature, ds.Clone(), r.Limits.MaxSteps)
	if err != nil {
		return nil, err
	}
	return &Result{
		Values:      exec.values,
		Fingerprint: dataset.Fingerprint(exec.after),
		Steps:       exec.steps,
		Elapsed:     time.Since(start),
	}, nil
}
