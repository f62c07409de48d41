package modeling

import (
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// RandomState seeds every shuffle so repeated evaluations of the same
// feature produce the same folds.
const RandomState = 1754

type Fold struct {
	Train []int
	Test  []int
}

// KFold splits n rows into k contiguous folds after an optional shuffle.
// The first n%k folds hold one extra row.
func KFold(n, k int, shuffle bool, seed int64) ([]Fold, error) {
	if err := checkFolds(n, k); err != nil {
		return nil, err
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if shuffle {
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	assignment := make([]int, n)
	start := 0
	for f := 0; f < k; f++ {
		size := n / k
		if f < n%k {
			size++
		}
		for _, i := range order[start : start+size] {
			assignment[i] = f
		}
		start += size
	}
	return foldsFrom(assignment, k), nil
}

// StratifiedKFold keeps each label's share roughly equal across folds.
// Rows of each label are shuffled and dealt round-robin, continuing the
// rotation from one label to the next so fold sizes stay balanced.
func StratifiedKFold(y []float64, k int, shuffle bool, seed int64) ([]Fold, error) {
	if err := checkFolds(len(y), k); err != nil {
		return nil, err
	}
	byLabel := make(map[float64][]int)
	for i, v := range y {
		byLabel[v] = append(byLabel[v], i)
	}
	labels := distinct(y)

	rng := rand.New(rand.NewSource(seed))
	assignment := make([]int, len(y))
	next := 0
	for _, label := range labels {
		rows := byLabel[label]
		if shuffle {
			rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
		}
		for _, i := range rows {
			assignment[i] = next
			next = (next + 1) % k
		}
	}
	return foldsFrom(assignment, k), nil
}

func checkFolds(n, k int) error {
	if k < 2 {
		return fmt.Errorf("need at least 2 folds, got %d", k)
	}
	if k > n {
		return fmt.Errorf("cannot split %d rows into %d folds", n, k)
	}
	return nil
}

func foldsFrom(assignment []int, k int) []Fold {
	folds := make([]Fold, k)
	for i, f := range assignment {
		for j := range folds {
			if j == f {
				folds[j].Test = append(folds[j].Test, i)
			} else {
				folds[j].Train = append(folds[j].Train, i)
			}
		}
	}
	for j := range folds {
		sort.Ints(folds[j].Test)
		sort.Ints(folds[j].Train)
	}
	return folds
}

// takeRows copies the given rows of x into a new matrix.
func takeRows(x mat.Matrix, rows []int) *mat.Dense {
	_, c := x.Dims()
	out := mat.NewDense(len(rows), c, nil)
	buf := make([]float64, c)
	for i, r := range rows {
		mat.Row(buf, r, x)
		out.SetRow(i, buf)
	}
	return out
}

func takeValues(y []float64, rows []int) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = y[r]
	}
	return out
}
