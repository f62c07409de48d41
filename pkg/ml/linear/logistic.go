package linear

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

type Options struct {
	Epochs       int
	LearningRate float64
	// L2 is the ridge penalty applied to the coefficients, not the bias.
	L2 float64
}

type Weights struct {
	Bias         float64   `json:"bias"`
	Coefficients []float64 `json:"coefficients"`
}

type Metrics struct {
	Loss     float64
	Accuracy float64
}

// TrainLogistic fits a binary logistic model by full-batch gradient descent.
// labels must be 0 or 1.
func TrainLogistic(x mat.Matrix, labels []float64, opts Options) (Weights, Metrics) {
	if opts.Epochs <= 0 {
		opts.Epochs = 200
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = 0.1
	}

	n, featureCount := x.Dims()
	if n == 0 {
		return Weights{}, Metrics{}
	}
	y := mat.NewVecDense(n, labels)
	weights := mat.NewVecDense(featureCount, nil)
	var bias float64

	z := mat.NewVecDense(n, nil)
	residual := mat.NewVecDense(n, nil)
	grad := mat.NewVecDense(featureCount, nil)
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		z.MulVec(x, weights)
		for i := 0; i < n; i++ {
			residual.SetVec(i, sigmoid(z.AtVec(i)+bias))
		}
		residual.SubVec(residual, y)

		grad.MulVec(x.T(), residual)
		grad.ScaleVec(1/float64(n), grad)
		if opts.L2 > 0 {
			grad.AddScaledVec(grad, opts.L2/float64(n), weights)
		}
		weights.AddScaledVec(weights, -opts.LearningRate, grad)
		bias -= opts.LearningRate * floats.Sum(residual.RawVector().Data) / float64(n)
	}

	coefficients := make([]float64, featureCount)
	copy(coefficients, weights.RawVector().Data)
	w := Weights{Bias: bias, Coefficients: coefficients}
	loss, accuracy := evaluate(w, x, labels)
	return w, Metrics{Loss: loss, Accuracy: accuracy}
}

// Predict returns the positive-class probability for one sample.
func Predict(weights Weights, sample []float64) float64 {
	return sigmoid(floats.Dot(weights.Coefficients, sample) + weights.Bias)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func evaluate(w Weights, x mat.Matrix, labels []float64) (float64, float64) {
	n, c := x.Dims()
	row := make([]float64, c)
	var loss float64
	var correct int
	for i := 0; i < n; i++ {
		mat.Row(row, i, x)
		p := Predict(w, row)
		loss += -labels[i]*math.Log(p+1e-9) - (1-labels[i])*math.Log(1-p+1e-9)
		if (p >= 0.5 && labels[i] == 1) || (p < 0.5 && labels[i] == 0) {
			correct++
		}
	}
	return loss / float64(n), float64(correct) / float64(n)
}
