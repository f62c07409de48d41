package modeling

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

const (
	EstimatorDecisionTree = "decision_tree"
	EstimatorLogistic     = "logistic"
)

var ErrNotFitted = errors.New("estimator is not fitted")

// Estimator is a supervised model over a dense feature matrix.
type Estimator interface {
	Fit(x mat.Matrix, y []float64) error
	Predict(x mat.Matrix) ([]float64, error)
}

// Classifier is an Estimator that also scores every class. Probability
// columns follow Classes.
type Classifier interface {
	Estimator
	PredictProba(x mat.Matrix) (*mat.Dense, error)
	Classes() []float64
}

// Factory returns a fresh, unfitted estimator.
type Factory func() Estimator

// NewFactory selects the estimator for a problem. An empty name picks the
// decision tree.
func NewFactory(task Task, name string) (Factory, error) {
	switch name {
	case "", EstimatorDecisionTree:
		switch task {
		case Classification:
			return func() Estimator { return NewDecisionTreeClassifier(TreeOptions{}) }, nil
		case Regression:
			return func() Estimator { return NewDecisionTreeRegressor(TreeOptions{}) }, nil
		}
	case EstimatorLogistic:
		if task == Classification {
			return func() Estimator { return NewLogisticRegression(LogisticOptions{}) }, nil
		}
		return nil, fmt.Errorf("estimator %q only supports classification", name)
	default:
		return nil, fmt.Errorf("unknown estimator %q", name)
	}
	return nil, fmt.Errorf("unsupported problem type %q", task)
}

func checkFit(x mat.Matrix, y []float64) (int, int, error) {
	r, c := x.Dims()
	if r == 0 || c == 0 {
		return 0, 0, errors.New("cannot fit on an empty matrix")
	}
	if r != len(y) {
		return 0, 0, fmt.Errorf("matrix has %d rows but target has %d", r, len(y))
	}
	return r, c, nil
}

func checkPredict(x mat.Matrix, features int) (int, error) {
	r, c := x.Dims()
	if c != features {
		return 0, fmt.Errorf("matrix has %d columns, estimator was fitted on %d", c, features)
	}
	return r, nil
}

// distinct returns the sorted distinct values of y.
func distinct(y []float64) []float64 {
	seen := make(map[float64]bool, len(y))
	var out []float64
	for _, v := range y {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}

func classIndex(classes []float64) map[float64]int {
	idx := make(map[float64]int, len(classes))
	for i, c := range classes {
		idx[c] = i
	}
	return idx
}
