package models

import (
	"time"
)

// Event bus envelope
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // feature.registered, evaluation.attempted
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

const (
	EventFeatureRegistered   = "feature.registered"
	EventEvaluationAttempted = "evaluation.attempted"
)

// Hub identity as returned by the auth service
type HubUser struct {
	Name   string   `json:"name"`
	Admin  bool     `json:"admin,omitempty"`
	Groups []string `json:"groups,omitempty"`
	Kind   string   `json:"kind,omitempty"`
}

// Feature registration summary carried on the event bus and to the forum
type RegisteredFeature struct {
	FeatureID   uint          `json:"feature_id"`
	ProblemID   uint          `json:"problem_id"`
	ProblemName string        `json:"problem_name"`
	UserName    string        `json:"user_name"`
	Description string        `json:"description"`
	Code        string        `json:"code"`
	MD5         string        `json:"md5"`
	Metrics     []MetricEntry `json:"metrics"`
	CreatedAt   time.Time     `json:"created_at"`
}

// MetricEntry is the "db" shape of a metric: name, scoring key and nullable value.
type MetricEntry struct {
	Name    string   `json:"name"`
	Scoring string   `json:"scoring"`
	Value   *float64 `json:"value"`
}

// Feature discovery
type FeatureSummary struct {
	ID          uint          `json:"id"`
	UserName    string        `json:"user_name"`
	Description string        `json:"description"`
	Code        string        `json:"code"`
	MD5         string        `json:"md5"`
	Metrics     []MetricEntry `json:"metrics"`
	CreatedAt   time.Time     `json:"created_at"`
}
