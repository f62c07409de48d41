package modeling

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/featurehub-ai/platform/pkg/common/models"
)

// Metric is one scored quality measure. A nil Value means the score could
// not be computed.
type Metric struct {
	Name    string   `json:"name"`
	Scoring string   `json:"scoring"`
	Value   *float64 `json:"value"`
}

func NewMetric(name, scoring string, value float64) Metric {
	return Metric{Name: name, Scoring: scoring, Value: &value}
}

// Present reports whether the metric carries a value.
func (m Metric) Present() bool {
	return m.Value != nil
}

func (m Metric) valueString() string {
	if m.Value == nil {
		return "None"
	}
	return formatFloat(*m.Value)
}

type MetricList []Metric

// ToUser renders the list as the name -> value mapping shown to users and
// carried in protocol responses.
func (l MetricList) ToUser() map[string]*float64 {
	out := make(map[string]*float64, len(l))
	for _, m := range l {
		out[m.Name] = m.Value
	}
	return out
}

// FromUser rebuilds a list from its user form. Scoring keys are recovered
// from the known metric names; unknown names keep an empty scoring key.
func FromUser(values map[string]*float64) MetricList {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(MetricList, 0, len(names))
	for _, name := range names {
		out = append(out, Metric{Name: name, Scoring: NameToScoring(name), Value: values[name]})
	}
	return out
}

// ParseUserJSON decodes the user-form JSON object produced by ToUser.
func ParseUserJSON(data []byte) (MetricList, error) {
	if len(data) == 0 || string(data) == "null" {
		return MetricList{}, nil
	}
	var values map[string]*float64
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("decode metrics: %w", err)
	}
	return FromUser(values), nil
}

func (l MetricList) ToDB() []models.MetricEntry {
	out := make([]models.MetricEntry, 0, len(l))
	for _, m := range l {
		out = append(out, models.MetricEntry{Name: m.Name, Scoring: m.Scoring, Value: m.Value})
	}
	return out
}

func FromDB(entries []models.MetricEntry) MetricList {
	out := make(MetricList, 0, len(entries))
	for _, e := range entries {
		out = append(out, Metric{Name: e.Name, Scoring: e.Scoring, Value: e.Value})
	}
	return out
}

// Get returns the metric with the given name.
func (l MetricList) Get(name string) (Metric, bool) {
	for _, m := range l {
		if m.Name == name {
			return m, true
		}
	}
	return Metric{}, false
}

// Equal compares two lists by name regardless of order.
func (l MetricList) Equal(other MetricList) bool {
	if len(l) != len(other) {
		return false
	}
	byName := make(map[string]Metric, len(l))
	for _, m := range l {
		byName[m.Name] = m
	}
	for _, o := range other {
		m, ok := byName[o.Name]
		if !ok || m.Scoring != o.Scoring || !sameValue(m.Value, o.Value) {
			return false
		}
	}
	return true
}

func sameValue(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (l MetricList) String() string {
	var b strings.Builder
	b.WriteString("Feature evaluation metrics: \n")
	if len(l) == 0 {
		b.WriteString("    <no metrics returned>\n")
		return b.String()
	}
	for _, m := range l {
		fmt.Fprintf(&b, "    %s: %s\n", m.Name, m.valueString())
	}
	return b.String()
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%g", v)
}
