package modeling

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// threeClasses returns 150 rows in three balanced classes separable on a
// single column.
func threeClasses() (*mat.Dense, []float64) {
	x := mat.NewDense(150, 1, nil)
	y := make([]float64, 150)
	for i := 0; i < 150; i++ {
		class := float64(i % 3)
		y[i] = class
		x.Set(i, 0, class*10+float64(i%7)/10)
	}
	return x, y
}

func TestNDCGReferenceVectors(t *testing.T) {
	truth := []float64{1, 0, 2}
	classes := []float64{0, 1, 2}
	cases := []struct {
		name  string
		proba []float64
		k     int
		want  float64
	}{
		{"all top ranked", []float64{.15, .55, .2, .7, .2, .1, .06, .04, .9}, 2, 1.0},
		{"one miss", []float64{.9, .5, .8, .7, .2, .1, .06, .04, .9}, 2, 0.666666},
		{"deeper ranks", []float64{.9, .5, .8, .1, .7, .2, .04, .9, .06}, 3, 0.543643},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, gain := range []gainFunc{exponentialGain, linearGain} {
				got, err := ndcg(truth, mat.NewDense(3, 3, tc.proba), classes, tc.k, gain)
				require.NoError(t, err)
				assert.InDelta(t, tc.want, got, 1e-6)
			}
		})
	}
}

func TestRMSLE(t *testing.T) {
	got, err := rmsle([]float64{3, 5, 2.5, 7}, []float64{2.5, 5, 4, 8})
	require.NoError(t, err)
	assert.InDelta(t, 0.199, got, 1e-3)

	_, err = rmsle([]float64{-2}, []float64{1})
	assert.Error(t, err)
}

func TestClassificationScorers(t *testing.T) {
	truth := target{labels: []float64{0, 1, 1, 0}, classes: []float64{0, 1}, binary: true}
	pred := prediction{labels: []float64{0, 1, 0, 0}}

	acc, err := accuracyScore(truth, pred)
	require.NoError(t, err)
	assert.Equal(t, 0.75, acc)

	precision, err := precisionScore(truth, pred)
	require.NoError(t, err)
	assert.Equal(t, 1.0, precision)

	recall, err := recallScore(truth, pred)
	require.NoError(t, err)
	assert.Equal(t, 0.5, recall)
}

func TestMacroPrecisionCountsUnpredictedLabels(t *testing.T) {
	truth := target{labels: []float64{0, 1, 2}, classes: []float64{0, 1, 2}}
	pred := prediction{labels: []float64{0, 0, 0}}

	precision, err := precisionScore(truth, pred)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/9, precision, 1e-12)
}

func TestROCAUC(t *testing.T) {
	labels := []float64{0, 0, 1, 1}
	proba := mat.NewDense(4, 2, []float64{0.9, 0.1, 0.6, 0.4, 0.65, 0.35, 0.2, 0.8})
	classes := []float64{0, 1}

	auc, err := rocAUCScore(
		target{labels: labels, onehot: oneHot(labels, classes), classes: classes, binary: true},
		prediction{proba: proba, classes: classes},
	)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, auc, 1e-12)

	_, err = binaryAUC([]float64{1, 1}, []float64{0.2, 0.4})
	assert.Error(t, err)
}

func TestRegressionScorers(t *testing.T) {
	truth := target{labels: []float64{3, -0.5, 2, 7}}
	pred := prediction{labels: []float64{2.5, 0, 2, 8}}

	mse, err := meanSquaredErrorScore(truth, pred)
	require.NoError(t, err)
	assert.InDelta(t, 0.375, mse, 1e-12)

	r2, err := r2Score(truth, pred)
	require.NoError(t, err)
	assert.InDelta(t, 0.948608, r2, 1e-6)

	constant, err := r2Score(target{labels: []float64{1, 1}}, prediction{labels: []float64{1, 1}})
	require.NoError(t, err)
	assert.Equal(t, 1.0, constant)
}

func TestStratifiedKFoldBalancesLabels(t *testing.T) {
	_, y := threeClasses()
	folds, err := StratifiedKFold(y, 5, true, RandomState)
	require.NoError(t, err)
	require.Len(t, folds, 5)

	seen := make(map[int]int)
	for _, f := range folds {
		assert.Len(t, f.Test, 30)
		assert.Len(t, f.Train, 120)
		perClass := make(map[float64]int)
		for _, i := range f.Test {
			perClass[y[i]]++
			seen[i]++
		}
		for _, c := range []float64{0, 1, 2} {
			assert.Equal(t, 10, perClass[c])
		}
	}
	assert.Len(t, seen, 150)

	again, err := StratifiedKFold(y, 5, true, RandomState)
	require.NoError(t, err)
	assert.Equal(t, folds, again)
}

func TestKFoldSizes(t *testing.T) {
	folds, err := KFold(7, 3, false, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, folds[0].Test)
	assert.Equal(t, []int{3, 4}, folds[1].Test)
	assert.Equal(t, []int{5, 6}, folds[2].Test)

	_, err = KFold(2, 5, true, 1)
	assert.Error(t, err)
}

func TestDecisionTreeClassifier(t *testing.T) {
	x, y := threeClasses()
	tree := NewDecisionTreeClassifier(TreeOptions{})
	require.NoError(t, tree.Fit(x, y))

	pred, err := tree.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, y, pred)

	proba, err := tree.PredictProba(mat.NewDense(1, 1, []float64{20}))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 1}, proba.RawRowView(0))

	_, err = tree.Predict(mat.NewDense(1, 2, nil))
	assert.Error(t, err)
}

func TestDecisionTreeRegressor(t *testing.T) {
	x := mat.NewDense(6, 1, []float64{1, 2, 3, 10, 11, 12})
	y := []float64{1, 1, 1, 5, 5, 5}
	tree := NewDecisionTreeRegressor(TreeOptions{MaxDepth: 1})
	require.NoError(t, tree.Fit(x, y))

	pred, err := tree.Predict(mat.NewDense(2, 1, []float64{0, 20}))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 5}, pred)
}

func TestDecisionTreeToleratesNonFiniteInputs(t *testing.T) {
	nan := math.NaN()
	x := mat.NewDense(6, 1, []float64{nan, 1, 2, 10, 11, math.Inf(1)})
	y := []float64{0, 0, 0, 1, 1, 1}
	tree := NewDecisionTreeClassifier(TreeOptions{})
	require.NoError(t, tree.Fit(x, y))
	pred, err := tree.Predict(mat.NewDense(2, 1, []float64{1.5, 10.5}))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1}, pred)

	allNaN := mat.NewDense(3, 1, []float64{nan, nan, nan})
	require.NoError(t, tree.Fit(allNaN, []float64{0, 1, 0}))
	proba, err := tree.PredictProba(mat.NewDense(1, 1, []float64{0}))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2.0 / 3, 1.0 / 3}, proba.RawRowView(0), 1e-9)
}

func TestUnfittedEstimator(t *testing.T) {
	_, err := NewDecisionTreeClassifier(TreeOptions{}).Predict(mat.NewDense(1, 1, nil))
	assert.ErrorIs(t, err, ErrNotFitted)
	_, err = NewLogisticRegression(LogisticOptions{}).PredictProba(mat.NewDense(1, 1, nil))
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestLogisticRegressionSeparatesClasses(t *testing.T) {
	x, y := threeClasses()
	clf := NewLogisticRegression(LogisticOptions{Epochs: 1000})
	require.NoError(t, clf.Fit(x, y))

	proba, err := clf.PredictProba(x)
	require.NoError(t, err)
	r, c := proba.Dims()
	assert.Equal(t, 150, r)
	assert.Equal(t, 3, c)
	for i := 0; i < r; i++ {
		var sum float64
		for j := 0; j < c; j++ {
			sum += proba.At(i, j)
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}

	pred, err := clf.Predict(mat.NewDense(2, 1, []float64{0, 20.3}))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 2}, pred)
}

func TestCrossValidateClassification(t *testing.T) {
	x, y := threeClasses()
	engine, err := NewEngine(Config{Task: Classification})
	require.NoError(t, err)

	metrics, err := engine.CrossValidate(context.Background(), x, y)
	require.NoError(t, err)
	require.Len(t, metrics, 4)
	for _, m := range metrics {
		require.True(t, m.Present(), m.Name)
		assert.InDelta(t, 1.0, *m.Value, 1e-9, m.Name)
	}
	assert.Equal(t, []string{"Accuracy", "Precision", "Recall", "ROC AUC"}, names(metrics))
}

func TestCrossValidateIsDeterministic(t *testing.T) {
	x := mat.NewDense(60, 2, nil)
	y := make([]float64, 60)
	for i := 0; i < 60; i++ {
		x.Set(i, 0, math.Sin(float64(i)))
		x.Set(i, 1, float64(i%4))
		y[i] = float64(i % 2)
	}
	engine, err := NewEngine(Config{Task: Classification})
	require.NoError(t, err)

	first, err := engine.CrossValidate(context.Background(), x, y)
	require.NoError(t, err)
	second, err := engine.CrossValidate(context.Background(), x, y)
	require.NoError(t, err)
	assert.True(t, first.Equal(second))
}

func TestCrossValidateMissingWhenEveryFoldFails(t *testing.T) {
	// A single-valued target leaves every fold with one class, so ROC AUC
	// cannot be computed anywhere.
	x := mat.NewDense(20, 1, nil)
	y := make([]float64, 20)
	for i := range y {
		x.Set(i, 0, float64(i))
	}
	engine, err := NewEngine(Config{Task: Classification})
	require.NoError(t, err)

	metrics, err := engine.CrossValidate(context.Background(), x, y)
	require.NoError(t, err)
	auc, ok := metrics.Get("ROC AUC")
	require.True(t, ok)
	assert.False(t, auc.Present())
	acc, _ := metrics.Get("Accuracy")
	assert.True(t, acc.Present())
}

func TestTrainTestAbortsOnScoringError(t *testing.T) {
	xTrain := mat.NewDense(4, 1, []float64{0, 1, 2, 3})
	yTrain := []float64{0, 0, 1, 1}
	xTest := mat.NewDense(2, 1, []float64{0, 1})
	yTest := []float64{0, 0}

	engine, err := NewEngine(Config{Task: Classification})
	require.NoError(t, err)
	_, err = engine.TrainTest(context.Background(), xTrain, yTrain, xTest, yTest)
	var scoring *ScoringError
	require.ErrorAs(t, err, &scoring)
	assert.Equal(t, "ROC AUC", scoring.Metric)
}

func TestTrainTestRegression(t *testing.T) {
	xTrain := mat.NewDense(6, 1, []float64{1, 2, 3, 10, 11, 12})
	yTrain := []float64{1, 1, 1, 5, 5, 5}
	xTest := mat.NewDense(2, 1, []float64{2, 11})
	yTest := []float64{1, 5}

	engine, err := NewEngine(Config{Task: Regression, ExtraMetrics: []string{"rmsle"}})
	require.NoError(t, err)
	metrics, err := engine.TrainTest(context.Background(), xTrain, yTrain, xTest, yTest)
	require.NoError(t, err)
	assert.Equal(t, []string{"Mean Squared Error", "R-squared", "Root Mean Squared Log Error"}, names(metrics))
	mse, _ := metrics.Get("Mean Squared Error")
	assert.Equal(t, 0.0, *mse.Value)
}

func TestResolveMetricsRejectsWrongTask(t *testing.T) {
	_, err := ResolveMetrics(Regression, []string{"ndcg"})
	assert.Error(t, err)
	_, err = ResolveMetrics(Classification, []string{"nope"})
	assert.Error(t, err)

	kinds, err := ResolveMetrics(Classification, []string{"ndcg", "accuracy"})
	require.NoError(t, err)
	assert.Equal(t, []MetricKind{Accuracy, Precision, Recall, ROCAUC, NDCG}, kinds)
}

func TestNewFactory(t *testing.T) {
	_, err := NewFactory(Regression, EstimatorLogistic)
	assert.Error(t, err)
	_, err = NewFactory(Classification, "forest")
	assert.Error(t, err)

	factory, err := NewFactory(Classification, EstimatorLogistic)
	require.NoError(t, err)
	assert.IsType(t, &LogisticRegression{}, factory())
	assert.NotSame(t, factory(), factory())
}

func TestMetricListForms(t *testing.T) {
	metrics := MetricList{
		NewMetric("Accuracy", "accuracy", 0.5),
		{Name: "ROC AUC", Scoring: "roc_auc"},
	}

	user := metrics.ToUser()
	assert.Equal(t, 0.5, *user["Accuracy"])
	assert.Nil(t, user["ROC AUC"])
	assert.True(t, FromUser(user).Equal(metrics))
	assert.True(t, FromDB(metrics.ToDB()).Equal(metrics))

	reversed := MetricList{metrics[1], metrics[0]}
	assert.True(t, metrics.Equal(reversed))
	assert.False(t, metrics.Equal(metrics[:1]))

	assert.Equal(t, "Feature evaluation metrics: \n    Accuracy: 0.5\n    ROC AUC: None\n", metrics.String())
	assert.Equal(t, "Feature evaluation metrics: \n    <no metrics returned>\n", MetricList{}.String())
}

func TestParseUserJSON(t *testing.T) {
	metrics, err := ParseUserJSON([]byte(`{"Accuracy": 0.9, "Mystery": null}`))
	require.NoError(t, err)
	acc, _ := metrics.Get("Accuracy")
	assert.Equal(t, "accuracy", acc.Scoring)
	mystery, _ := metrics.Get("Mystery")
	assert.Empty(t, mystery.Scoring)
	assert.False(t, mystery.Present())

	_, err = ParseUserJSON([]byte(`[1]`))
	assert.Error(t, err)
}

func names(l MetricList) []string {
	out := make([]string, 0, len(l))
	for _, m := range l {
		out = append(out, m.Name)
	}
	return out
}

func TestFoldBinaryUsesTrainingLabels(t *testing.T) {
	y := []float64{0, 1, 0, 1, 2, 0, 1}
	assert.False(t, isBinary(y))
	assert.True(t, isBinary(takeValues(y, []int{0, 1, 2, 3, 5, 6})))
	assert.False(t, isBinary(takeValues(y, []int{0, 2, 5})))
}
