package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"
)

type ProblemSpec struct {
	Name                    string                 `yaml:"name" json:"name"`
	ProblemType             string                 `yaml:"problem_type" json:"problem_type"`
	ProblemTypeDetails      map[string]interface{} `yaml:"problem_type_details" json:"problem_type_details"`
	DataDirTrain            string                 `yaml:"data_dir_train" json:"data_dir_train"`
	DataDirTest             string                 `yaml:"data_dir_test" json:"data_dir_test"`
	Files                   []string               `yaml:"files" json:"files"`
	TableNames              []string               `yaml:"table_names" json:"table_names"`
	EntitiesTable           string                 `yaml:"entities_table" json:"entities_table"`
	EntitiesFeaturizedTable string                 `yaml:"entities_featurized_table" json:"entities_featurized_table"`
	TargetTable             string                 `yaml:"target_table" json:"target_table"`
	TargetColumn            string                 `yaml:"target_column" json:"target_column"`
}

// Manifest seeds problems and users, typically at deploy time.
type Manifest struct {
	Problems []ProblemSpec `yaml:"problems" json:"problems"`
	Users    []string      `yaml:"users" json:"users"`
}

// LoadManifest reads a manifest file. Relative data directories are
// resolved against the manifest's own directory.
func LoadManifest(path string) (Manifest, error) {
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Manifest{}, err
	}
	m, err := ParseManifest(content)
	if err != nil {
		return Manifest{}, fmt.Errorf("%s: %w", path, err)
	}
	base := filepath.Dir(path)
	for i := range m.Problems {
		m.Problems[i].DataDirTrain = resolve(base, m.Problems[i].DataDirTrain)
		m.Problems[i].DataDirTest = resolve(base, m.Problems[i].DataDirTest)
	}
	return m, nil
}

func ParseManifest(content []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(content, &m); err != nil {
		return Manifest{}, err
	}
	if len(m.Problems) == 0 && len(m.Users) == 0 {
		return Manifest{}, errors.New("manifest declares no problems or users")
	}
	for _, p := range m.Problems {
		if err := p.validate(); err != nil {
			return Manifest{}, err
		}
	}
	return m, nil
}

func resolve(base, dir string) string {
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(base, dir)
}

func (p ProblemSpec) validate() error {
	switch {
	case p.Name == "":
		return errors.New("problem without a name")
	case p.ProblemType != "classification" && p.ProblemType != "regression":
		return fmt.Errorf("problem %s: unsupported problem_type %q", p.Name, p.ProblemType)
	case len(p.Files) == 0:
		return fmt.Errorf("problem %s: no files", p.Name)
	case len(p.TableNames) != 0 && len(p.TableNames) != len(p.Files):
		return fmt.Errorf("problem %s: %d table names for %d files", p.Name, len(p.TableNames), len(p.Files))
	case p.TargetTable == "" || p.TargetColumn == "":
		return fmt.Errorf("problem %s: target_table and target_column are required", p.Name)
	}
	return nil
}

func (p ProblemSpec) Model() *Problem {
	return &Problem{
		Name:                    p.Name,
		ProblemType:             p.ProblemType,
		ProblemTypeDetails:      datatypes.JSONMap(p.ProblemTypeDetails),
		DataDirTrain:            p.DataDirTrain,
		DataDirTest:             p.DataDirTest,
		Files:                   datatypes.NewJSONSlice(p.Files),
		TableNames:              datatypes.NewJSONSlice(p.TableNames),
		EntitiesTable:           p.EntitiesTable,
		EntitiesFeaturizedTable: p.EntitiesFeaturizedTable,
		TargetTable:             p.TargetTable,
		TargetColumn:            p.TargetColumn,
	}
}

// Spec is the inverse of ProblemSpec.Model; the server hands it to
// clients that evaluate locally.
func (p *Problem) Spec() ProblemSpec {
	return ProblemSpec{
		Name:                    p.Name,
		ProblemType:             p.ProblemType,
		ProblemTypeDetails:      map[string]interface{}(p.ProblemTypeDetails),
		DataDirTrain:            p.DataDirTrain,
		DataDirTest:             p.DataDirTest,
		Files:                   []string(p.Files),
		TableNames:              []string(p.TableNames),
		EntitiesTable:           p.EntitiesTable,
		EntitiesFeaturizedTable: p.EntitiesFeaturizedTable,
		TargetTable:             p.TargetTable,
		TargetColumn:            p.TargetColumn,
	}
}

// Apply writes every problem and user in the manifest.
func (r *Repository) Apply(ctx context.Context, m Manifest) error {
	for _, spec := range m.Problems {
		if err := r.SaveProblem(ctx, spec.Model()); err != nil {
			return fmt.Errorf("save problem %s: %w", spec.Name, err)
		}
	}
	for _, name := range m.Users {
		if _, _, err := r.CreateUser(ctx, name); err != nil {
			return fmt.Errorf("create user %s: %w", name, err)
		}
	}
	return nil
}
