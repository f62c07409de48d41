package modeling

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/featurehub-ai/platform/pkg/common/logger"
	"gonum.org/v1/gonum/mat"
)

const DefaultFolds = 5

type Config struct {
	Task         Task
	Estimator    string
	ExtraMetrics []string
	Folds        int
	Seed         int64
}

// Engine fits the problem's estimator on a feature matrix and scores it.
type Engine struct {
	Task      Task
	Metrics   []MetricKind
	Estimator Factory
	Folds     int
	Seed      int64
}

func NewEngine(cfg Config) (*Engine, error) {
	kinds, err := ResolveMetrics(cfg.Task, cfg.ExtraMetrics)
	if err != nil {
		return nil, err
	}
	factory, err := NewFactory(cfg.Task, cfg.Estimator)
	if err != nil {
		return nil, err
	}
	folds := cfg.Folds
	if folds <= 0 {
		folds = DefaultFolds
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = RandomState
	}
	return &Engine{Task: cfg.Task, Metrics: kinds, Estimator: factory, Folds: folds, Seed: seed}, nil
}

// ScoringError reports the metric that failed in train/test mode.
type ScoringError struct {
	Metric string
	Err    error
}

func (e *ScoringError) Error() string {
	return fmt.Sprintf("compute %s: %v", e.Metric, e.Err)
}

func (e *ScoringError) Unwrap() error { return e.Err }

// CrossValidate scores the estimator over shuffled folds. A metric that
// fails on a fold is left out of that fold's average; a metric that fails on
// every fold is returned without a value.
func (e *Engine) CrossValidate(ctx context.Context, x mat.Matrix, y []float64) (MetricList, error) {
	rows, _ := x.Dims()
	if rows != len(y) {
		return nil, fmt.Errorf("matrix has %d rows but target has %d", rows, len(y))
	}
	var folds []Fold
	var err error
	if e.Task == Classification {
		folds, err = StratifiedKFold(y, e.Folds, true, e.Seed)
	} else {
		folds, err = KFold(rows, e.Folds, true, e.Seed)
	}
	if err != nil {
		return nil, err
	}

	sums := make([]float64, len(e.Metrics))
	counts := make([]int, len(e.Metrics))
	for fi, fold := range folds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		yTrain := takeValues(y, fold.Train)
		f := e.fit(takeRows(x, fold.Train), yTrain)
		xTest, yTest := takeRows(x, fold.Test), takeValues(y, fold.Test)
		binary := isBinary(yTrain)
		for mi, kind := range e.Metrics {
			score, err := f.score(kind, xTest, yTest, binary)
			if err != nil {
				logger.Log.WithFields(map[string]interface{}{
					"fold":   fi,
					"metric": kind.Scoring(),
					"error":  err.Error(),
				}).Debug("metric unavailable for fold")
				continue
			}
			sums[mi] += score
			counts[mi]++
		}
	}

	out := make(MetricList, 0, len(e.Metrics))
	for mi, kind := range e.Metrics {
		m := Metric{Name: kind.Name(), Scoring: kind.Scoring()}
		if counts[mi] > 0 {
			v := sums[mi] / float64(counts[mi])
			m.Value = &v
		}
		out = append(out, m)
	}
	return out, nil
}

// TrainTest fits once on the training rows and scores the held-out rows.
// The first failing metric aborts the evaluation.
func (e *Engine) TrainTest(ctx context.Context, xTrain mat.Matrix, yTrain []float64, xTest mat.Matrix, yTest []float64) (MetricList, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f := e.fit(xTrain, yTrain)
	if f.err != nil {
		return nil, fmt.Errorf("fit %s estimator: %w", e.Task, f.err)
	}
	binary := isBinary(yTrain)
	out := make(MetricList, 0, len(e.Metrics))
	for _, kind := range e.Metrics {
		score, err := f.score(kind, xTest, yTest, binary)
		if err != nil {
			return nil, &ScoringError{Metric: kind.Name(), Err: err}
		}
		out = append(out, NewMetric(kind.Name(), kind.Scoring(), score))
	}
	return out, nil
}

// isBinary reports whether the training labels hold exactly two classes.
func isBinary(yTrain []float64) bool {
	return len(distinct(yTrain)) == 2
}

// fittedModel caches predictions so several metrics of the same predictor
// kind share one pass over the test rows.
type fittedModel struct {
	est     Estimator
	classes []float64
	err     error

	xTest  mat.Matrix
	labels []float64
	proba  *mat.Dense
}

func (e *Engine) fit(x mat.Matrix, y []float64) *fittedModel {
	est := e.Estimator()
	f := &fittedModel{est: est}
	if e.Task == Classification {
		f.classes = distinct(y)
	}
	f.err = est.Fit(x, y)
	return f
}

func (f *fittedModel) predict(kind predictorKind, x mat.Matrix) (prediction, error) {
	if f.err != nil {
		return prediction{}, f.err
	}
	if f.xTest != x {
		f.xTest, f.labels, f.proba = x, nil, nil
	}
	switch kind {
	case predictProba:
		clf, ok := f.est.(Classifier)
		if !ok {
			return prediction{}, errors.New("estimator does not provide class probabilities")
		}
		if f.proba == nil {
			proba, err := clf.PredictProba(x)
			if err != nil {
				return prediction{}, err
			}
			f.proba = proba
		}
		return prediction{proba: f.proba, classes: clf.Classes()}, nil
	default:
		if f.labels == nil {
			labels, err := f.est.Predict(x)
			if err != nil {
				return prediction{}, err
			}
			f.labels = labels
		}
		return prediction{labels: f.labels, classes: f.classes}, nil
	}
}

func (f *fittedModel) score(kind MetricKind, x mat.Matrix, y []float64, binary bool) (float64, error) {
	spec, ok := kindSpecs[kind]
	if !ok {
		return 0, fmt.Errorf("unknown metric kind %d", int(kind))
	}
	p, err := f.predict(spec.predictor, x)
	if err != nil {
		return 0, err
	}
	t := target{labels: y, classes: f.classes, binary: binary}
	if spec.transform == binarize {
		t.onehot = oneHot(y, p.classes)
	}
	v, err := spec.score(t, p)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s is not finite", spec.scoring)
	}
	return v, nil
}

// oneHot encodes y against classes. Labels outside classes get an all-zero
// row.
func oneHot(y, classes []float64) *mat.Dense {
	if len(y) == 0 || len(classes) == 0 {
		return nil
	}
	idx := classIndex(classes)
	out := mat.NewDense(len(y), len(classes), nil)
	for i, v := range y {
		if j, ok := idx[v]; ok {
			out.Set(i, j, 1)
		}
	}
	return out
}
