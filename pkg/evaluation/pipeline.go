package evaluation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/featurehub-ai/platform/pkg/common/logger"
	"github.com/featurehub-ai/platform/pkg/dataset"
	"github.com/featurehub-ai/platform/pkg/executor"
	"github.com/featurehub-ai/platform/pkg/validation"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

type Mode string

const (
	ModeCrossValidated Mode = "cross_validated"
	ModeTrainTest      Mode = "train_test"
)

// FeatureError rejects a feature: it failed to run, or its values did not
// validate. The message is meant for the feature's author.
type FeatureError struct {
	Reasons []string
	Fault   *executor.Fault
}

func (e *FeatureError) Error() string {
	if e.Fault != nil {
		return e.Fault.Error()
	}
	return "feature values are invalid: " + strings.Join(e.Reasons, "; ")
}

func (e *FeatureError) Unwrap() error {
	if e.Fault == nil {
		return nil
	}
	return e.Fault
}

// Detail is the full text shown to the submitter, including any trace.
func (e *FeatureError) Detail() string {
	if e.Fault != nil {
		return e.Fault.Detail()
	}
	return e.Error()
}

// Pipeline carries one evaluation through its stages. It is created per
// request and never shared.
type Pipeline struct {
	ID        string
	Problem   *Problem
	User      string
	Mode      Mode
	Runner    executor.Runner
	Observers []Observer

	stage Stage
	mark  time.Time
}

func NewPipeline(problem *Problem, user string, mode Mode, runner executor.Runner, observers []Observer) *Pipeline {
	return &Pipeline{
		ID:        uuid.NewString(),
		Problem:   problem,
		User:      user,
		Mode:      mode,
		Runner:    runner,
		Observers: observers,
		stage:     StageIdle,
		mark:      time.Now(),
	}
}

func (p *Pipeline) Stage() Stage {
	return p.stage
}

func (p *Pipeline) advance(to Stage) {
	p.emit(to, "", nil)
}

// finish moves to Done on okay and to Rejected otherwise.
func (p *Pipeline) finish(status StatusCode, err error) {
	to := StageRejected
	if status == StatusOkay {
		to = StageDone
	}
	p.emit(to, status, err)
}

func (p *Pipeline) emit(to Stage, status StatusCode, err error) {
	now := time.Now()
	event := StageEvent{
		Evaluation: p.ID,
		Problem:    p.Problem.Name,
		User:       p.User,
		Mode:       string(p.Mode),
		From:       p.stage,
		To:         to,
		Elapsed:    now.Sub(p.mark),
		Status:     status,
		Err:        err,
	}
	p.stage, p.mark = to, now
	for _, o := range p.Observers {
		o.Observe(event)
	}
}

// partition is one split of the problem as it moves through the stages.
type partition struct {
	split  *split
	ds     *dataset.Dataset
	fp     string
	result *executor.Result
	table  *validation.Table
	target []float64
	x      *mat.Dense
}

// build takes the pipeline from Idle to MatrixBuilt for every split. A
// *FeatureError means the feature is rejected; any other error is an
// infrastructure failure.
func (p *Pipeline) build(ctx context.Context, feature executor.Feature, splits ...*split) ([]*partition, error) {
	parts := make([]*partition, len(splits))
	for i, s := range splits {
		ds, fp, err := s.load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load %s dataset: %w", s.name, err)
		}
		parts[i] = &partition{split: s, ds: ds, fp: fp}
	}
	p.advance(StageDatasetReady)

	for _, part := range parts {
		res, err := p.Runner.Run(ctx, feature, part.ds)
		if err != nil {
			if fault, ok := executor.AsFault(err); ok {
				return nil, &FeatureError{Fault: fault}
			}
			return nil, fmt.Errorf("run feature on %s dataset: %w", part.split.name, err)
		}
		part.result = res
	}
	p.advance(StageFeaturesExtracted)

	for _, part := range parts {
		if part.result.Fingerprint == part.fp {
			continue
		}
		logger.WithSubmission(p.ID, p.Problem.Name, p.User).WithFields(logrus.Fields{
			"split":    part.split.name,
			"expected": part.fp,
			"actual":   part.result.Fingerprint,
		}).Warn("Feature modified its dataset; reloading")
		ds, fp, err := part.split.reload(ctx)
		if err != nil {
			return nil, fmt.Errorf("reload %s dataset: %w", part.split.name, err)
		}
		part.ds, part.fp = ds, fp
	}
	p.advance(StageIntegrityVerified)

	sets := make([]*dataset.Dataset, len(parts))
	for i, part := range parts {
		sets[i] = part.ds
	}
	cols, err := labelColumns(p.Problem.TargetTable, p.Problem.TargetColumn, sets...)
	if err != nil {
		return nil, err
	}
	targets, err := encodeTargets(p.Problem.Task, cols)
	if err != nil {
		return nil, err
	}
	var reasons []string
	for i, part := range parts {
		part.target = targets[i]
		res := validation.Validate(part.result.Values, len(part.target))
		if !res.Valid() {
			for _, r := range res.Reasons {
				if len(parts) > 1 {
					r = part.split.name + " set: " + r
				}
				reasons = append(reasons, r)
			}
			continue
		}
		part.table = res.Table
	}
	if len(reasons) > 0 {
		return nil, &FeatureError{Reasons: reasons}
	}
	p.advance(StageValidated)

	for _, part := range parts {
		entity, err := entityColumns(part.ds, p.Problem.EntitiesFeaturizedTable, len(part.target))
		if err != nil {
			return nil, err
		}
		feature := make([][]float64, part.table.Shape.Cols)
		for j := range feature {
			feature[j] = part.table.Column(j)
		}
		part.x = designMatrix(len(part.target), entity, feature)
	}
	p.advance(StageMatrixBuilt)
	return parts, nil
}
