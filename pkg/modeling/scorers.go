package modeling

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const ndcgDepth = 5

var errEmptyTarget = errors.New("empty target")

func accuracyScore(t target, p prediction) (float64, error) {
	if err := checkLabels(t.labels, p.labels); err != nil {
		return 0, err
	}
	var correct float64
	for i, y := range t.labels {
		if p.labels[i] == y {
			correct++
		}
	}
	return correct / float64(len(t.labels)), nil
}

func precisionScore(t target, p prediction) (float64, error) {
	return averagedScore(t, p, func(tp, fp, fn float64) float64 { return ratio(tp, tp+fp) })
}

func recallScore(t target, p prediction) (float64, error) {
	return averagedScore(t, p, func(tp, fp, fn float64) float64 { return ratio(tp, tp+fn) })
}

// averagedScore scores the positive class (the larger label) of a binary
// problem, and the unweighted mean over observed labels otherwise.
func averagedScore(t target, p prediction, per func(tp, fp, fn float64) float64) (float64, error) {
	if err := checkLabels(t.labels, p.labels); err != nil {
		return 0, err
	}
	if t.binary && len(t.classes) == 2 {
		tp, fp, fn := confusion(t.labels, p.labels, t.classes[1])
		return per(tp, fp, fn), nil
	}
	labels := unionLabels(t.labels, p.labels)
	var sum float64
	for _, label := range labels {
		tp, fp, fn := confusion(t.labels, p.labels, label)
		sum += per(tp, fp, fn)
	}
	return sum / float64(len(labels)), nil
}

func confusion(truth, pred []float64, label float64) (tp, fp, fn float64) {
	for i, y := range truth {
		switch {
		case pred[i] == label && y == label:
			tp++
		case pred[i] == label:
			fp++
		case y == label:
			fn++
		}
	}
	return tp, fp, fn
}

// ratio treats an empty denominator as a zero score.
func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func unionLabels(a, b []float64) []float64 {
	seen := make(map[float64]bool)
	var out []float64
	for _, s := range [][]float64{a, b} {
		for _, v := range s {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	sort.Float64s(out)
	return out
}

// rocAUCScore macro-averages one-vs-rest AUCs. Binary targets score the
// positive class column only.
func rocAUCScore(t target, p prediction) (float64, error) {
	if p.proba == nil {
		return 0, errors.New("roc_auc requires class probabilities")
	}
	if t.onehot == nil {
		return 0, errors.New("roc_auc requires binarized labels")
	}
	n, k := p.proba.Dims()
	if n != len(t.labels) {
		return 0, fmt.Errorf("prediction length %d does not match target length %d", n, len(t.labels))
	}
	if t.binary && k == 2 {
		return binaryAUC(mat.Col(nil, 1, t.onehot), mat.Col(nil, 1, p.proba))
	}
	var sum float64
	for j := 0; j < k; j++ {
		auc, err := binaryAUC(mat.Col(nil, j, t.onehot), mat.Col(nil, j, p.proba))
		if err != nil {
			return 0, fmt.Errorf("class %g: %w", p.classes[j], err)
		}
		sum += auc
	}
	return sum / float64(k), nil
}

// binaryAUC is the area under the ROC curve of score against a 0/1
// indicator, with tied scores sharing a single cutoff.
func binaryAUC(indicator, score []float64) (float64, error) {
	if len(score) == 0 {
		return 0, errEmptyTarget
	}
	y := append([]float64(nil), score...)
	classes := make([]bool, len(indicator))
	var positives int
	for i, v := range indicator {
		classes[i] = v == 1
		if classes[i] {
			positives++
		}
	}
	if positives == 0 || positives == len(classes) {
		return 0, errors.New("only one class present in y_true; ROC AUC is not defined")
	}
	stat.SortWeightedLabeled(y, classes, nil)
	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	return integrate.Trapezoidal(fpr, tpr), nil
}

type gainFunc func(relevance float64) float64

func exponentialGain(rel float64) float64 { return math.Pow(2, rel) - 1 }
func linearGain(rel float64) float64      { return rel }

// ndcgScorer ranks classes by predicted probability and scores the rank of
// the true class. There is exactly one relevant class per row, so the ideal
// DCG is the gain of a single hit at the top.
func ndcgScorer(gain gainFunc) scorerFunc {
	return func(t target, p prediction) (float64, error) {
		if p.proba == nil {
			return 0, errors.New("ndcg requires class probabilities")
		}
		return ndcg(t.labels, p.proba, p.classes, ndcgDepth, gain)
	}
}

func ndcg(truth []float64, proba mat.Matrix, classes []float64, k int, gain gainFunc) (float64, error) {
	n, c := proba.Dims()
	if n == 0 {
		return 0, errEmptyTarget
	}
	if n != len(truth) {
		return 0, fmt.Errorf("prediction length %d does not match target length %d", n, len(truth))
	}
	if k > c {
		k = c
	}
	ideal := gain(1)
	row := make([]float64, c)
	order := make([]int, c)
	scores := make([]float64, n)
	for i := 0; i < n; i++ {
		mat.Row(row, i, proba)
		rankDescending(row, order)
		for pos := 0; pos < k; pos++ {
			if classes[order[pos]] == truth[i] {
				scores[i] = gain(1) / math.Log2(float64(pos)+2) / ideal
				break
			}
		}
	}
	return stat.Mean(scores, nil), nil
}

// rankDescending fills order with column indices from highest to lowest
// score. Ties go to the higher index.
func rankDescending(scores []float64, order []int) {
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] < scores[order[b]]
	})
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
}

func meanSquaredErrorScore(t target, p prediction) (float64, error) {
	if err := checkLabels(t.labels, p.labels); err != nil {
		return 0, err
	}
	return meanSquaredError(t.labels, p.labels), nil
}

func meanSquaredError(truth, pred []float64) float64 {
	diff := make([]float64, len(truth))
	floats.SubTo(diff, truth, pred)
	return floats.Dot(diff, diff) / float64(len(diff))
}

// r2Score follows the usual convention for a constant target: 1 for a
// perfect fit, 0 otherwise.
func r2Score(t target, p prediction) (float64, error) {
	if err := checkLabels(t.labels, p.labels); err != nil {
		return 0, err
	}
	if len(t.labels) < 2 {
		return 0, errors.New("r2 is not defined for fewer than two samples")
	}
	mean := stat.Mean(t.labels, nil)
	var ssRes, ssTot float64
	for i, y := range t.labels {
		ssRes += (y - p.labels[i]) * (y - p.labels[i])
		ssTot += (y - mean) * (y - mean)
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1, nil
		}
		return 0, nil
	}
	return 1 - ssRes/ssTot, nil
}

func rmsleScore(t target, p prediction) (float64, error) {
	if err := checkLabels(t.labels, p.labels); err != nil {
		return 0, err
	}
	return rmsle(t.labels, p.labels)
}

func rmsle(truth, pred []float64) (float64, error) {
	logTruth := make([]float64, len(truth))
	logPred := make([]float64, len(pred))
	for i := range truth {
		if truth[i] <= -1 || pred[i] <= -1 {
			return 0, errors.New("rmsle is not defined for values at or below -1")
		}
		logTruth[i] = math.Log1p(truth[i])
		logPred[i] = math.Log1p(pred[i])
	}
	return math.Sqrt(meanSquaredError(logTruth, logPred)), nil
}

func checkLabels(truth, pred []float64) error {
	if len(truth) == 0 {
		return errEmptyTarget
	}
	if len(truth) != len(pred) {
		return fmt.Errorf("prediction length %d does not match target length %d", len(pred), len(truth))
	}
	return nil
}
