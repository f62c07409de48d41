package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/featurehub-ai/platform/pkg/common/logger"
	"golang.org/x/sync/singleflight"
)

// ErrMissingFile is wrapped by LoadError when a backing file does not exist.
var ErrMissingFile = errors.New("dataset file not found")

// LoadError is fatal for the evaluation that triggered the load.
type LoadError struct {
	Table string
	Path  string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load table %q from %s: %v", e.Table, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

type TableSpec struct {
	Name string
	Path string
}

// SpecsFromDir pairs each file under dir with a table name. When names is
// empty the file's base name without extension is used.
func SpecsFromDir(dir string, files, names []string) ([]TableSpec, error) {
	if len(names) > 0 && len(names) != len(files) {
		return nil, fmt.Errorf("got %d table names for %d files", len(names), len(files))
	}
	specs := make([]TableSpec, 0, len(files))
	seen := make(map[string]bool, len(files))
	for i, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		if len(names) > 0 {
			name = names[i]
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate table name %q", name)
		}
		seen[name] = true
		specs = append(specs, TableSpec{Name: name, Path: filepath.Join(dir, file)})
	}
	return specs, nil
}

// Store lazily loads a fixed set of tables and caches them. Concurrent
// loads of the same store collapse into one read.
type Store struct {
	specs []TableSpec
	group singleflight.Group

	mu     sync.RWMutex
	cached *Dataset
	reads  atomic.Int64
}

func NewStore(specs []TableSpec) *Store {
	return &Store{specs: specs}
}

// Load returns the cached dataset, reading backing files only on first use.
// The returned value is the store's own copy; callers that hand it to user
// code must Clone it first.
func (s *Store) Load(ctx context.Context) (*Dataset, error) {
	s.mu.RLock()
	cached := s.cached
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, err, _ := s.group.Do("load", func() (interface{}, error) {
		s.mu.RLock()
		if s.cached != nil {
			defer s.mu.RUnlock()
			return s.cached, nil
		}
		s.mu.RUnlock()

		ds, err := s.read()
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cached = ds
		s.mu.Unlock()
		return ds, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Dataset), nil
}

// Reload discards the cache and reads the backing files again.
func (s *Store) Reload(ctx context.Context) (*Dataset, error) {
	s.Invalidate()
	return s.Load(ctx)
}

func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// Reads reports how many times the backing files were read.
func (s *Store) Reads() int64 {
	return s.reads.Load()
}

func (s *Store) read() (*Dataset, error) {
	s.reads.Add(1)
	ds := &Dataset{Tables: make(map[string]*Table, len(s.specs))}
	for _, spec := range s.specs {
		t, err := ReadCSVFile(spec.Name, spec.Path)
		if err != nil {
			return nil, err
		}
		ds.Tables[spec.Name] = t
	}
	logger.Log.WithFields(map[string]interface{}{
		"tables": len(ds.Tables),
	}).Debug("dataset loaded")
	return ds, nil
}

func ReadCSVFile(name, path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = ErrMissingFile
		}
		return nil, &LoadError{Table: name, Path: path, Err: err}
	}
	defer f.Close()

	t, err := ReadCSV(name, f)
	if err != nil {
		return nil, &LoadError{Table: name, Path: path, Err: err}
	}
	return t, nil
}

// ReadCSV parses a header-first CSV stream into a table. Row order is the
// file order, which keeps row identity stable across reloads.
func ReadCSV(name string, r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty file")
	}
	if err != nil {
		return nil, err
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	t := &Table{Name: name, Columns: make([]Column, len(header))}
	for i, h := range header {
		t.Columns[i].Name = h
	}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		for i, raw := range record {
			t.Columns[i].Values = append(t.Columns[i].Values, ParseCell(raw))
		}
	}
	return t, nil
}
