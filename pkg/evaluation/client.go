package evaluation

import (
	"context"
	"errors"

	"github.com/featurehub-ai/platform/pkg/dataset"
	"github.com/featurehub-ai/platform/pkg/executor"
	"github.com/featurehub-ai/platform/pkg/modeling"
)

type Options struct {
	Observers []Observer
	Folds     int
	Seed      int64
}

// ClientEvaluator scores features on a problem's training data with
// cross-validation and persists nothing. The training tables are loaded
// once and reused across calls.
type ClientEvaluator struct {
	problem   *Problem
	user      string
	runner    executor.Runner
	engine    *modeling.Engine
	train     *split
	observers []Observer
}

func NewClientEvaluator(problem *Problem, user string, runner executor.Runner, opts Options) (*ClientEvaluator, error) {
	if len(problem.Train) == 0 {
		return nil, errors.New("problem has no training tables")
	}
	engine, err := problem.engine(opts.Folds, opts.Seed)
	if err != nil {
		return nil, err
	}
	return &ClientEvaluator{
		problem:   problem,
		user:      user,
		runner:    runner,
		engine:    engine,
		train:     newSplit("train", problem.Train),
		observers: opts.Observers,
	}, nil
}

func (c *ClientEvaluator) Problem() *Problem {
	return c.problem
}

// Sample returns the first n rows of every training table, loading the
// split on first use. The result is a copy the caller may modify.
func (c *ClientEvaluator) Sample(ctx context.Context, n int) (*dataset.Dataset, error) {
	ds, _, err := c.train.load(ctx)
	if err != nil {
		return nil, err
	}
	return ds.Head(n), nil
}

// Evaluate runs one feature end to end. A rejected feature returns a
// *FeatureError.
func (c *ClientEvaluator) Evaluate(ctx context.Context, feature executor.Feature) (modeling.MetricList, error) {
	p := NewPipeline(c.problem, c.user, ModeCrossValidated, c.runner, c.observers)
	parts, err := p.build(ctx, feature, c.train)
	if err != nil {
		p.finish(statusFor(err), err)
		return nil, err
	}
	part := parts[0]
	metrics, err := c.engine.CrossValidate(ctx, part.x, part.target)
	if err != nil {
		p.finish(StatusServerError, err)
		return nil, err
	}
	p.advance(StageMetricsComputed)
	p.finish(StatusOkay, nil)
	return metrics, nil
}

// statusFor maps a pipeline error to its protocol status.
func statusFor(err error) StatusCode {
	var featureErr *FeatureError
	if errors.As(err, &featureErr) {
		return StatusBadFeature
	}
	return StatusServerError
}
