package modeling

import (
	"math"

	"github.com/featurehub-ai/platform/pkg/ml/linear"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

type LogisticOptions struct {
	Epochs       int
	LearningRate float64
	L2           float64
}

// LogisticRegression is a one-vs-rest logistic classifier over standardized
// features. With two classes a single model scores the larger label.
type LogisticRegression struct {
	opts    LogisticOptions
	classes []float64
	models  []linear.Weights
	mean    []float64
	scale   []float64
}

func NewLogisticRegression(opts LogisticOptions) *LogisticRegression {
	if opts.Epochs <= 0 {
		opts.Epochs = 300
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = 0.5
	}
	if opts.L2 <= 0 {
		opts.L2 = 1
	}
	return &LogisticRegression{opts: opts}
}

func (l *LogisticRegression) Classes() []float64 {
	return append([]float64(nil), l.classes...)
}

func (l *LogisticRegression) Fit(x mat.Matrix, y []float64) error {
	rows, cols, err := checkFit(x, y)
	if err != nil {
		return err
	}
	l.classes = distinct(y)
	l.mean = make([]float64, cols)
	l.scale = make([]float64, cols)
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, x)
		mean, std := stat.MeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		l.mean[j], l.scale[j] = mean, std
	}
	z := l.standardize(x)

	opts := linear.Options{Epochs: l.opts.Epochs, LearningRate: l.opts.LearningRate, L2: l.opts.L2}
	targets := l.classes
	if len(l.classes) == 2 {
		targets = l.classes[1:]
	}
	l.models = make([]linear.Weights, 0, len(targets))
	binary := make([]float64, rows)
	for _, class := range targets {
		for i, v := range y {
			binary[i] = 0
			if v == class {
				binary[i] = 1
			}
		}
		w, _ := linear.TrainLogistic(z, binary, opts)
		l.models = append(l.models, w)
	}
	return nil
}

func (l *LogisticRegression) standardize(x mat.Matrix) *mat.Dense {
	r, c := x.Dims()
	z := mat.NewDense(r, c, nil)
	z.Apply(func(i, j int, v float64) float64 {
		return (v - l.mean[j]) / l.scale[j]
	}, x)
	return z
}

func (l *LogisticRegression) PredictProba(x mat.Matrix) (*mat.Dense, error) {
	if l.models == nil {
		return nil, ErrNotFitted
	}
	rows, err := checkPredict(x, len(l.mean))
	if err != nil {
		return nil, err
	}
	z := l.standardize(x)
	out := mat.NewDense(rows, len(l.classes), nil)
	scores := make([]float64, len(l.classes))
	for i := 0; i < rows; i++ {
		row := z.RawRowView(i)
		if len(l.classes) == 1 {
			out.Set(i, 0, 1)
			continue
		}
		if len(l.models) == 1 {
			p := linear.Predict(l.models[0], row)
			out.Set(i, 0, 1-p)
			out.Set(i, 1, p)
			continue
		}
		for k, w := range l.models {
			scores[k] = linear.Predict(w, row)
		}
		if sum := floats.Sum(scores); sum > 0 {
			floats.Scale(1/sum, scores)
		} else {
			for k := range scores {
				scores[k] = 1 / float64(len(scores))
			}
		}
		out.SetRow(i, scores)
	}
	return out, nil
}

func (l *LogisticRegression) Predict(x mat.Matrix) ([]float64, error) {
	proba, err := l.PredictProba(x)
	if err != nil {
		return nil, err
	}
	rows, _ := proba.Dims()
	out := make([]float64, rows)
	for i := range out {
		out[i] = l.classes[floats.MaxIdx(proba.RawRowView(i))]
	}
	return out, nil
}
