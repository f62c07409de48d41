package modeling

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

type Task string

const (
	Classification Task = "classification"
	Regression     Task = "regression"
)

func ParseTask(s string) (Task, error) {
	switch Task(strings.ToLower(strings.TrimSpace(s))) {
	case Classification:
		return Classification, nil
	case Regression:
		return Regression, nil
	}
	return "", fmt.Errorf("unsupported problem type %q", s)
}

type MetricKind int

const (
	Accuracy MetricKind = iota
	Precision
	Recall
	ROCAUC
	MeanSquaredError
	RSquared
	NDCG
	NDCGLinear
	RMSLE
)

type predictorKind int

const (
	predictLabels predictorKind = iota
	predictProba
)

type transformKind int

const (
	identity transformKind = iota
	binarize
)

// target is the ground truth as a scorer sees it after its transform.
type target struct {
	labels  []float64
	onehot  *mat.Dense
	classes []float64
	binary  bool
}

// prediction holds whichever estimator output the scorer asked for. proba
// columns follow classes.
type prediction struct {
	labels  []float64
	proba   *mat.Dense
	classes []float64
}

type scorerFunc func(t target, p prediction) (float64, error)

type kindSpec struct {
	name      string
	scoring   string
	task      Task
	predictor predictorKind
	transform transformKind
	score     scorerFunc
}

var kindSpecs = map[MetricKind]kindSpec{
	Accuracy:         {"Accuracy", "accuracy", Classification, predictLabels, identity, accuracyScore},
	Precision:        {"Precision", "precision", Classification, predictLabels, identity, precisionScore},
	Recall:           {"Recall", "recall", Classification, predictLabels, identity, recallScore},
	ROCAUC:           {"ROC AUC", "roc_auc", Classification, predictProba, binarize, rocAUCScore},
	NDCG:             {"NDCG", "ndcg", Classification, predictProba, identity, ndcgScorer(exponentialGain)},
	NDCGLinear:       {"NDCG (linear gain)", "ndcg_linear", Classification, predictProba, identity, ndcgScorer(linearGain)},
	MeanSquaredError: {"Mean Squared Error", "mean_squared_error", Regression, predictLabels, identity, meanSquaredErrorScore},
	RSquared:         {"R-squared", "r2", Regression, predictLabels, identity, r2Score},
	RMSLE:            {"Root Mean Squared Log Error", "rmsle", Regression, predictLabels, identity, rmsleScore},
}

var defaultKinds = map[Task][]MetricKind{
	Classification: {Accuracy, Precision, Recall, ROCAUC},
	Regression:     {MeanSquaredError, RSquared},
}

// DefaultMetrics returns the metrics computed for every problem of the task.
func DefaultMetrics(task Task) []MetricKind {
	return append([]MetricKind(nil), defaultKinds[task]...)
}

func (k MetricKind) Name() string    { return kindSpecs[k].name }
func (k MetricKind) Scoring() string { return kindSpecs[k].scoring }
func (k MetricKind) Task() Task      { return kindSpecs[k].task }

func (k MetricKind) String() string {
	if spec, ok := kindSpecs[k]; ok {
		return spec.scoring
	}
	return fmt.Sprintf("MetricKind(%d)", int(k))
}

// ParseMetricKind accepts a scoring key or a display name.
func ParseMetricKind(s string) (MetricKind, error) {
	for kind, spec := range kindSpecs {
		if strings.EqualFold(s, spec.scoring) || s == spec.name {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown metric %q", s)
}

// NameToScoring maps a display name to its scoring key, or "" when the name
// is unknown.
func NameToScoring(name string) string {
	for _, spec := range kindSpecs {
		if spec.name == name {
			return spec.scoring
		}
	}
	return ""
}

// ResolveMetrics builds the metric set for a problem: the task defaults plus
// any extras, deduplicated and checked against the task.
func ResolveMetrics(task Task, extras []string) ([]MetricKind, error) {
	kinds := DefaultMetrics(task)
	if kinds == nil {
		return nil, fmt.Errorf("unsupported problem type %q", task)
	}
	seen := make(map[MetricKind]bool, len(kinds))
	for _, k := range kinds {
		seen[k] = true
	}
	for _, extra := range extras {
		k, err := ParseMetricKind(extra)
		if err != nil {
			return nil, err
		}
		if k.Task() != task {
			return nil, fmt.Errorf("metric %q does not apply to %s problems", extra, task)
		}
		if !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}
	return kinds, nil
}
