package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func sampleDataset() *Dataset {
	users := &Table{Name: "users", Columns: []Column{
		{Name: "id", Values: []Value{Number(1), Number(2), Number(3)}},
		{Name: "country", Values: []Value{String("US"), String("FR"), Missing()}},
	}}
	sessions := &Table{Name: "sessions", Columns: []Column{
		{Name: "user_id", Values: []Value{Number(1), Number(1), Number(3)}},
		{Name: "secs", Values: []Value{Number(10.5), Number(3), Number(0)}},
	}}
	return New(users, sessions)
}

func TestParseCell(t *testing.T) {
	assert.Equal(t, Missing(), ParseCell(""))
	assert.Equal(t, Number(3.25), ParseCell("3.25"))
	assert.Equal(t, Number(-2), ParseCell("-2"))
	assert.Equal(t, String("NDF"), ParseCell("NDF"))
	assert.Equal(t, Missing(), ParseCell("NaN"))
	assert.Equal(t, String("inf"), ParseCell("inf"))
}

func TestValueJSONRoundTrip(t *testing.T) {
	in := []Value{Number(1.5), String("x"), Missing(), String("")}
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `[1.5,"x",null,""]`, string(raw))

	var out []Value
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in, out)
}

func TestFingerprintDeterministic(t *testing.T) {
	d := sampleDataset()
	first := Fingerprint(d)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Fingerprint(d))
	}
	assert.Equal(t, first, Fingerprint(d.Clone()))
	assert.Len(t, first, 16)
}

func TestFingerprintIndependentOfInsertionOrder(t *testing.T) {
	a := sampleDataset()
	b := New(a.Tables["sessions"].Clone(), a.Tables["users"].Clone())
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintSensitiveToSingleCellMutation(t *testing.T) {
	rng := rand.New(rand.NewSource(1754))
	base := sampleDataset()
	want := Fingerprint(base)

	for trial := 0; trial < 200; trial++ {
		d := base.Clone()
		names := d.Names()
		tbl := d.Tables[names[rng.Intn(len(names))]]
		col := &tbl.Columns[rng.Intn(len(tbl.Columns))]
		row := rng.Intn(len(col.Values))
		switch col.Values[row].Kind {
		case KindNumber:
			col.Values[row].Num += rng.Float64() + 1e-6
		case KindString:
			col.Values[row].Str += "!"
		default:
			col.Values[row] = Number(0)
		}
		assert.NotEqual(t, want, Fingerprint(d), "trial %d", trial)
	}
}

func TestFingerprintDistinguishesTypes(t *testing.T) {
	a := New(&Table{Name: "t", Columns: []Column{{Name: "c", Values: []Value{Number(1)}}}})
	b := New(&Table{Name: "t", Columns: []Column{{Name: "c", Values: []Value{String("1")}}}})
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestCloneIsDeep(t *testing.T) {
	d := sampleDataset()
	c := d.Clone()
	c.Tables["users"].Columns[0].Values[0] = Number(99)
	assert.Equal(t, Number(1), d.Tables["users"].Columns[0].Values[0])
}

func TestHeadCopiesLeadingRows(t *testing.T) {
	d := sampleDataset()
	h := d.Head(2)
	assert.Equal(t, []string{"sessions", "users"}, h.Names())
	assert.Equal(t, 2, h.Tables["users"].NumRows())
	assert.Equal(t, []Value{Number(10.5), Number(3)}, h.Tables["sessions"].Columns[1].Values)

	h.Tables["users"].Columns[0].Values[0] = Number(99)
	assert.Equal(t, Number(1), d.Tables["users"].Columns[0].Values[0])

	assert.Equal(t, 3, d.Head(0).Tables["users"].NumRows())
	assert.Equal(t, 3, d.Head(50).Tables["users"].NumRows())
}

func TestStoreLoadIsCachedUntilReload(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "users.csv", "id,age\n1,30\n2,\n3,41\n")
	writeFile(t, dir, "labels.csv", "id,country_destination\n1,US\n2,FR\n3,NDF\n")

	specs, err := SpecsFromDir(dir, []string{"users.csv", "labels.csv"}, nil)
	require.NoError(t, err)
	store := NewStore(specs)

	ctx := context.Background()
	first, err := store.Load(ctx)
	require.NoError(t, err)
	second, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.EqualValues(t, 1, store.Reads())

	users, ok := first.Table("users")
	require.True(t, ok)
	assert.Equal(t, 3, users.NumRows())
	age, ok := users.Column("age")
	require.True(t, ok)
	assert.Equal(t, Missing(), age.Values[1])

	reloaded, err := store.Reload(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, reloaded)
	assert.Equal(t, Fingerprint(first), Fingerprint(reloaded))
	assert.EqualValues(t, 2, store.Reads())
}

func TestStoreConcurrentLoadsReadOnce(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.csv", "x\n1\n2\n")
	store := NewStore([]TableSpec{{Name: "a", Path: filepath.Join(dir, "a.csv")}})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Load(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, store.Reads())
}

func TestStoreMissingFileIsFatal(t *testing.T) {
	store := NewStore([]TableSpec{{Name: "gone", Path: filepath.Join(t.TempDir(), "gone.csv")}})
	_, err := store.Load(context.Background())
	require.Error(t, err)

	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, "gone", loadErr.Table)
	assert.ErrorIs(t, err, ErrMissingFile)
}

func TestReadCSVRejectsRaggedRows(t *testing.T) {
	_, err := ReadCSV("t", strings.NewReader("a,b\n1,2\n3\n"))
	assert.Error(t, err)
}

func TestSpecsFromDirValidatesNames(t *testing.T) {
	_, err := SpecsFromDir("/data", []string{"a.csv", "b.csv"}, []string{"a"})
	assert.Error(t, err)

	_, err = SpecsFromDir("/data", []string{"x/a.csv", "y/a.csv"}, nil)
	assert.Error(t, err)

	specs, err := SpecsFromDir("/data", []string{"users.csv"}, []string{"entities"})
	require.NoError(t, err)
	assert.Equal(t, []TableSpec{{Name: "entities", Path: "/data/users.csv"}}, specs)
}

func TestColumnFloats(t *testing.T) {
	c := Column{Name: "y", Values: []Value{Number(1), Number(0)}}
	got, err := c.Floats()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, got)

	c.Values = append(c.Values, String("maybe"))
	_, err = c.Floats()
	assert.Error(t, err)
}
