package modeling

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// TreeOptions bound tree growth. Zero values mean unlimited depth, a minimum
// of two samples to split and one sample per leaf.
type TreeOptions struct {
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
}

func (o TreeOptions) normalized() TreeOptions {
	if o.MinSamplesSplit < 2 {
		o.MinSamplesSplit = 2
	}
	if o.MinSamplesLeaf < 1 {
		o.MinSamplesLeaf = 1
	}
	return o
}

type treeNode struct {
	feature     int
	threshold   float64
	left, right *treeNode
	// value is the leaf mean for regression.
	value float64
	// dist is the leaf class distribution for classification.
	dist []float64
}

func (n *treeNode) leaf() bool { return n.left == nil }

// DecisionTree is a CART tree: gini impurity for classification, squared
// error for regression. Splits sit halfway between adjacent distinct values
// and features are scanned in column order, so fitting is deterministic.
type DecisionTree struct {
	task     Task
	opts     TreeOptions
	root     *treeNode
	classes  []float64
	features int
}

func NewDecisionTreeClassifier(opts TreeOptions) *DecisionTree {
	return &DecisionTree{task: Classification, opts: opts.normalized()}
}

func NewDecisionTreeRegressor(opts TreeOptions) *DecisionTree {
	return &DecisionTree{task: Regression, opts: opts.normalized()}
}

func (t *DecisionTree) Classes() []float64 {
	return append([]float64(nil), t.classes...)
}

func (t *DecisionTree) Fit(x mat.Matrix, y []float64) error {
	rows, cols, err := checkFit(x, y)
	if err != nil {
		return err
	}
	b := &treeBuilder{x: x, y: y, opts: t.opts, task: t.task, cols: cols}
	if t.task == Classification {
		t.classes = distinct(y)
		b.classes = classIndex(t.classes)
		b.labels = make([]int, rows)
		for i, v := range y {
			b.labels[i] = b.classes[v]
		}
		b.nClasses = len(t.classes)
	}
	idx := make([]int, rows)
	for i := range idx {
		idx[i] = i
	}
	t.features = cols
	t.root = b.grow(idx, 0)
	return nil
}

func (t *DecisionTree) Predict(x mat.Matrix) ([]float64, error) {
	if t.root == nil {
		return nil, ErrNotFitted
	}
	rows, err := checkPredict(x, t.features)
	if err != nil {
		return nil, err
	}
	out := make([]float64, rows)
	row := make([]float64, t.features)
	for i := range out {
		mat.Row(row, i, x)
		n := t.find(row)
		if t.task == Classification {
			out[i] = t.classes[floats.MaxIdx(n.dist)]
		} else {
			out[i] = n.value
		}
	}
	return out, nil
}

func (t *DecisionTree) PredictProba(x mat.Matrix) (*mat.Dense, error) {
	if t.root == nil {
		return nil, ErrNotFitted
	}
	rows, err := checkPredict(x, t.features)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(rows, len(t.classes), nil)
	row := make([]float64, t.features)
	for i := 0; i < rows; i++ {
		mat.Row(row, i, x)
		out.SetRow(i, t.find(row).dist)
	}
	return out, nil
}

func (t *DecisionTree) find(row []float64) *treeNode {
	n := t.root
	for !n.leaf() {
		if row[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n
}

type treeBuilder struct {
	x    mat.Matrix
	y    []float64
	opts TreeOptions
	task Task
	cols int

	classes  map[float64]int
	labels   []int
	nClasses int
}

func (b *treeBuilder) grow(idx []int, depth int) *treeNode {
	node := b.leafFor(idx)
	if len(idx) < b.opts.MinSamplesSplit || (b.opts.MaxDepth > 0 && depth >= b.opts.MaxDepth) || b.pure(idx) {
		return node
	}
	feature, threshold, ok := b.bestSplit(idx)
	if !ok {
		return node
	}
	var left, right []int
	for _, i := range idx {
		if b.x.At(i, feature) <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return node
	}
	node.feature = feature
	node.threshold = threshold
	node.left = b.grow(left, depth+1)
	node.right = b.grow(right, depth+1)
	return node
}

func (b *treeBuilder) leafFor(idx []int) *treeNode {
	if b.task == Classification {
		dist := make([]float64, b.nClasses)
		for _, i := range idx {
			dist[b.labels[i]]++
		}
		floats.Scale(1/float64(len(idx)), dist)
		return &treeNode{dist: dist}
	}
	var sum float64
	for _, i := range idx {
		sum += b.y[i]
	}
	return &treeNode{value: sum / float64(len(idx))}
}

func (b *treeBuilder) pure(idx []int) bool {
	for _, i := range idx[1:] {
		if b.y[i] != b.y[idx[0]] {
			return false
		}
	}
	return true
}

// bestSplit returns the split with the lowest weighted child impurity. A
// split that does not reduce impurity is still taken when it is the only
// one available.
func (b *treeBuilder) bestSplit(idx []int) (int, float64, bool) {
	n := len(idx)
	minLeaf := b.opts.MinSamplesLeaf
	best := math.Inf(1)
	bestFeature, bestThreshold, found := -1, 0.0, false

	sorted := make([]int, n)
	for f := 0; f < b.cols; f++ {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, c int) bool { return b.x.At(sorted[a], f) < b.x.At(sorted[c], f) })

		acc := b.newAccumulator(sorted)
		for pos := 0; pos < n-1; pos++ {
			acc.move(sorted[pos])
			lo, hi := b.x.At(sorted[pos], f), b.x.At(sorted[pos+1], f)
			if lo == hi || math.IsNaN(lo) || math.IsNaN(hi) || pos+1 < minLeaf || n-pos-1 < minLeaf {
				continue
			}
			score := acc.impurity()
			if score < best-1e-12 {
				best = score
				bestFeature = f
				bestThreshold = lo + (hi-lo)/2
				if bestThreshold == hi {
					bestThreshold = lo
				}
				found = true
			}
		}
	}
	return bestFeature, bestThreshold, found
}

// splitAccumulator tracks left and right child statistics while rows move
// from right to left in sorted order.
type splitAccumulator struct {
	b              *treeBuilder
	nLeft, nRight  float64
	countL, countR []float64
	sumL, sumR     float64
	sqL, sqR       float64
}

func (b *treeBuilder) newAccumulator(idx []int) *splitAccumulator {
	acc := &splitAccumulator{b: b, nRight: float64(len(idx))}
	if b.task == Classification {
		acc.countL = make([]float64, b.nClasses)
		acc.countR = make([]float64, b.nClasses)
		for _, i := range idx {
			acc.countR[b.labels[i]]++
		}
		return acc
	}
	for _, i := range idx {
		acc.sumR += b.y[i]
		acc.sqR += b.y[i] * b.y[i]
	}
	return acc
}

func (a *splitAccumulator) move(i int) {
	a.nLeft++
	a.nRight--
	if a.b.task == Classification {
		a.countL[a.b.labels[i]]++
		a.countR[a.b.labels[i]]--
		return
	}
	v := a.b.y[i]
	a.sumL += v
	a.sumR -= v
	a.sqL += v * v
	a.sqR -= v * v
}

// impurity is the sample-weighted impurity of both children.
func (a *splitAccumulator) impurity() float64 {
	total := a.nLeft + a.nRight
	if a.b.task == Classification {
		return (a.nLeft*gini(a.countL, a.nLeft) + a.nRight*gini(a.countR, a.nRight)) / total
	}
	return (sse(a.sumL, a.sqL, a.nLeft) + sse(a.sumR, a.sqR, a.nRight)) / total
}

func gini(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	g := 1.0
	for _, c := range counts {
		p := c / n
		g -= p * p
	}
	return g
}

func sse(sum, sq, n float64) float64 {
	if n == 0 {
		return 0
	}
	return sq - sum*sum/n
}
