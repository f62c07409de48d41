package registry

import (
	"fmt"
	"time"

	"github.com/featurehub-ai/platform/pkg/common/models"
	"gorm.io/datatypes"
)

type User struct {
	ID        uint      `gorm:"primaryKey;column:id"`
	Name      string    `gorm:"column:name;size:100;uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (User) TableName() string {
	return "users"
}

// Problem describes one prediction task: where its train and test tables
// live and which column holds the label.
type Problem struct {
	ID                      uint                        `gorm:"primaryKey;column:id"`
	Name                    string                      `gorm:"column:name;size:100;uniqueIndex;not null"`
	ProblemType             string                      `gorm:"column:problem_type;size:100;not null"`
	ProblemTypeDetails      datatypes.JSONMap           `gorm:"column:problem_type_details"`
	DataDirTrain            string                      `gorm:"column:data_dir_train;size:200"`
	DataDirTest             string                      `gorm:"column:data_dir_test;size:200"`
	Files                   datatypes.JSONSlice[string] `gorm:"column:files"`
	TableNames              datatypes.JSONSlice[string] `gorm:"column:table_names"`
	EntitiesTable           string                      `gorm:"column:entities_table_name;size:100"`
	EntitiesFeaturizedTable string                      `gorm:"column:entities_featurized_table_name;size:100"`
	TargetTable             string                      `gorm:"column:target_table_name;size:100"`
	TargetColumn            string                      `gorm:"column:target_column;size:100"`
	CreatedAt               time.Time                   `gorm:"column:created_at"`
}

func (Problem) TableName() string {
	return "problems"
}

// Estimator is the estimator named in the problem details, if any.
func (p *Problem) Estimator() string {
	if v, ok := p.ProblemTypeDetails["estimator"].(string); ok {
		return v
	}
	return ""
}

// ExtraMetrics lists the optional metrics named in the problem details.
func (p *Problem) ExtraMetrics() []string {
	raw, ok := p.ProblemTypeDetails["metrics"].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		out = append(out, fmt.Sprint(v))
	}
	return out
}

// Feature is immutable once created.
type Feature struct {
	ID          uint      `gorm:"primaryKey;column:id"`
	UserID      uint      `gorm:"column:user_id;not null;uniqueIndex:idx_feature_identity,priority:2"`
	ProblemID   uint      `gorm:"column:problem_id;not null;uniqueIndex:idx_feature_identity,priority:1"`
	Code        string    `gorm:"column:code;type:text;not null"`
	MD5         string    `gorm:"column:md5;size:32;not null;uniqueIndex:idx_feature_identity,priority:3"`
	Description string    `gorm:"column:description;size:1000"`
	CreatedAt   time.Time `gorm:"column:created_at"`

	User    User     `gorm:"foreignKey:UserID"`
	Problem Problem  `gorm:"foreignKey:ProblemID"`
	Metrics []Metric `gorm:"foreignKey:FeatureID;constraint:OnDelete:CASCADE"`
}

func (Feature) TableName() string {
	return "features"
}

type Metric struct {
	ID        uint     `gorm:"primaryKey;column:id"`
	FeatureID uint     `gorm:"column:feature_id;not null;index"`
	Name      string   `gorm:"column:name;size:100;not null"`
	Scoring   string   `gorm:"column:scoring;size:100"`
	Value     *float64 `gorm:"column:value"`
}

func (Metric) TableName() string {
	return "metrics"
}

// EvaluationAttempt records a client-side evaluation, successful or not.
type EvaluationAttempt struct {
	ID        uint      `gorm:"primaryKey;column:id"`
	UserID    uint      `gorm:"column:user_id;not null;index"`
	ProblemID uint      `gorm:"column:problem_id;not null;index"`
	Code      string    `gorm:"column:code;type:text"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (EvaluationAttempt) TableName() string {
	return "evaluation_attempts"
}

type RegisterInput struct {
	ProblemID   uint
	UserID      uint
	Code        string
	MD5         string
	Description string
	Metrics     []models.MetricEntry
}

type FeatureQuery struct {
	ProblemID     uint
	CodeContains  string
	ExcludeUserID uint
	// OnlyUserID restricts the listing to one author.
	OnlyUserID uint
	Limit      int
}

func metricEntries(metrics []Metric) []models.MetricEntry {
	out := make([]models.MetricEntry, 0, len(metrics))
	for _, m := range metrics {
		out = append(out, models.MetricEntry{Name: m.Name, Scoring: m.Scoring, Value: m.Value})
	}
	return out
}

// Registered converts a stored feature, with its user, problem and metrics
// loaded, to the summary carried on the event bus.
func (f *Feature) Registered() models.RegisteredFeature {
	return models.RegisteredFeature{
		FeatureID:   f.ID,
		ProblemID:   f.ProblemID,
		ProblemName: f.Problem.Name,
		UserName:    f.User.Name,
		Description: f.Description,
		Code:        f.Code,
		MD5:         f.MD5,
		Metrics:     metricEntries(f.Metrics),
		CreatedAt:   f.CreatedAt,
	}
}

func (f *Feature) Summary() models.FeatureSummary {
	return models.FeatureSummary{
		ID:          f.ID,
		UserName:    f.User.Name,
		Description: f.Description,
		Code:        f.Code,
		MD5:         f.MD5,
		Metrics:     metricEntries(f.Metrics),
		CreatedAt:   f.CreatedAt,
	}
}
