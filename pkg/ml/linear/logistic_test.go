package linear

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestTrainLogisticSeparable(t *testing.T) {
	x := mat.NewDense(8, 1, []float64{-2, -1.5, -1, -0.5, 0.5, 1, 1.5, 2})
	y := []float64{0, 0, 0, 0, 1, 1, 1, 1}

	w, m := TrainLogistic(x, y, Options{Epochs: 500, LearningRate: 0.5})

	assert.Equal(t, 1.0, m.Accuracy)
	assert.Greater(t, w.Coefficients[0], 0.0)
	assert.Less(t, Predict(w, []float64{-3}), 0.5)
	assert.Greater(t, Predict(w, []float64{3}), 0.5)
}

func TestTrainLogisticEmpty(t *testing.T) {
	w, m := TrainLogistic(&mat.Dense{}, nil, Options{})
	assert.Empty(t, w.Coefficients)
	assert.Zero(t, m.Loss)
}
