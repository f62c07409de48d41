package evaluation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/featurehub-ai/platform/pkg/dataset"
	"github.com/featurehub-ai/platform/pkg/modeling"
	"github.com/featurehub-ai/platform/pkg/registry"
	"gonum.org/v1/gonum/mat"
)

// Problem is everything an evaluation needs to know about a prediction task.
type Problem struct {
	ID                      uint
	Name                    string
	Task                    modeling.Task
	Estimator               string
	ExtraMetrics            []string
	Train                   []dataset.TableSpec
	Test                    []dataset.TableSpec
	TargetTable             string
	TargetColumn            string
	EntitiesFeaturizedTable string
}

// FromRecord builds a Problem from its stored record. The test split is
// left empty when the record has no test directory.
func FromRecord(p *registry.Problem) (*Problem, error) {
	task, err := modeling.ParseTask(p.ProblemType)
	if err != nil {
		return nil, err
	}
	train, err := dataset.SpecsFromDir(p.DataDirTrain, p.Files, p.TableNames)
	if err != nil {
		return nil, fmt.Errorf("problem %s train tables: %w", p.Name, err)
	}
	var test []dataset.TableSpec
	if p.DataDirTest != "" {
		if test, err = dataset.SpecsFromDir(p.DataDirTest, p.Files, p.TableNames); err != nil {
			return nil, fmt.Errorf("problem %s test tables: %w", p.Name, err)
		}
	}
	return &Problem{
		ID:                      p.ID,
		Name:                    p.Name,
		Task:                    task,
		Estimator:               p.Estimator(),
		ExtraMetrics:            p.ExtraMetrics(),
		Train:                   train,
		Test:                    test,
		TargetTable:             p.TargetTable,
		TargetColumn:            p.TargetColumn,
		EntitiesFeaturizedTable: p.EntitiesFeaturizedTable,
	}, nil
}

func (p *Problem) engine(folds int, seed int64) (*modeling.Engine, error) {
	return modeling.NewEngine(modeling.Config{
		Task:         p.Task,
		Estimator:    p.Estimator,
		ExtraMetrics: p.ExtraMetrics,
		Folds:        folds,
		Seed:         seed,
	})
}

// split caches one data directory of a problem together with the
// fingerprint of the cached copy.
type split struct {
	name  string
	store *dataset.Store

	mu          sync.Mutex
	ds          *dataset.Dataset
	fingerprint string
}

func newSplit(name string, specs []dataset.TableSpec) *split {
	return &split{name: name, store: dataset.NewStore(specs)}
}

func (s *split) load(ctx context.Context) (*dataset.Dataset, string, error) {
	ds, err := s.store.Load(ctx)
	if err != nil {
		return nil, "", err
	}
	return s.remember(ds), s.fingerprint, nil
}

func (s *split) reload(ctx context.Context) (*dataset.Dataset, string, error) {
	ds, err := s.store.Reload(ctx)
	if err != nil {
		return nil, "", err
	}
	return s.remember(ds), s.fingerprint, nil
}

func (s *split) remember(ds *dataset.Dataset) *dataset.Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ds != s.ds {
		s.ds = ds
		s.fingerprint = dataset.Fingerprint(ds)
	}
	return ds
}

// labelColumns returns the target column of every dataset.
func labelColumns(table, column string, sets ...*dataset.Dataset) ([]*dataset.Column, error) {
	out := make([]*dataset.Column, 0, len(sets))
	for _, ds := range sets {
		t, ok := ds.Table(table)
		if !ok {
			return nil, fmt.Errorf("target table %q not loaded", table)
		}
		c, ok := t.Column(column)
		if !ok {
			return nil, fmt.Errorf("target column %q not found in table %q", column, table)
		}
		if len(c.Values) == 0 {
			return nil, fmt.Errorf("target column %q is empty", column)
		}
		out = append(out, c)
	}
	return out, nil
}

// encodeTargets turns label columns into numeric vectors. Regression
// targets must be numeric. Classification targets that are not all numeric
// are encoded by the position of their text in the sorted set of labels
// across every column, so train and test share one encoding.
func encodeTargets(task modeling.Task, cols []*dataset.Column) ([][]float64, error) {
	out := make([][]float64, len(cols))
	numeric := true
	for i, c := range cols {
		y, err := c.Floats()
		if err != nil {
			numeric = false
			break
		}
		out[i] = y
	}
	if numeric {
		return out, nil
	}
	if task != modeling.Classification {
		return nil, errors.New("regression target is not numeric")
	}

	text := func(v dataset.Value) (string, error) {
		switch v.Kind {
		case dataset.KindString:
			return v.Str, nil
		case dataset.KindNumber:
			return fmt.Sprintf("%g", v.Num), nil
		}
		return "", errors.New("target has missing labels")
	}
	seen := make(map[string]bool)
	for _, c := range cols {
		for _, v := range c.Values {
			s, err := text(v)
			if err != nil {
				return nil, err
			}
			seen[s] = true
		}
	}
	labels := make([]string, 0, len(seen))
	for s := range seen {
		labels = append(labels, s)
	}
	sort.Strings(labels)
	index := make(map[string]float64, len(labels))
	for i, s := range labels {
		index[s] = float64(i)
	}
	for i, c := range cols {
		out[i] = make([]float64, len(c.Values))
		for j, v := range c.Values {
			s, _ := text(v)
			out[i][j] = index[s]
		}
	}
	return out, nil
}

// entityColumns returns the fully numeric columns of the precomputed entity
// feature table. Columns with text or missing cells are skipped.
func entityColumns(ds *dataset.Dataset, table string, rows int) ([][]float64, error) {
	if table == "" {
		return nil, nil
	}
	t, ok := ds.Table(table)
	if !ok {
		return nil, fmt.Errorf("entity feature table %q not loaded", table)
	}
	if n := t.NumRows(); n != rows {
		return nil, fmt.Errorf("entity feature table %q has %d rows, target has %d", table, n, rows)
	}
	var out [][]float64
	for i := range t.Columns {
		values, err := t.Columns[i].Floats()
		if err != nil {
			continue
		}
		out = append(out, values)
	}
	return out, nil
}

// designMatrix places the entity columns first and the feature columns
// after them.
func designMatrix(rows int, entity [][]float64, feature [][]float64) *mat.Dense {
	cols := append(append([][]float64(nil), entity...), feature...)
	x := mat.NewDense(rows, len(cols), nil)
	for j, col := range cols {
		x.SetCol(j, col)
	}
	return x
}
