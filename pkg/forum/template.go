package forum

import (
	"fmt"
	"strings"

	"github.com/featurehub-ai/platform/pkg/common/models"
)

const postTemplate = `
## A new feature was submitted!

* _Problem name_: %s
* _Feature description_: %s
* _Feature code_:

%s
* _Feature metrics_:
%s

What do you think? What do you like about this feature? How could it be improved? Leave your comments below, or get to work with your ideas!

----------

(submitted by user %s)
`

// Title is the topic title of a feature post.
func Title(f models.RegisteredFeature) string {
	return "[New Feature] " + f.Description
}

// Render formats the markdown body of a feature post.
func Render(f models.RegisteredFeature) string {
	metrics := make([]string, 0, len(f.Metrics))
	for _, m := range f.Metrics {
		value := "None"
		if m.Value != nil {
			value = fmt.Sprintf("%g", *m.Value)
		}
		metrics = append(metrics, fmt.Sprintf(" * %s: %s", m.Name, value))
	}
	return fmt.Sprintf(postTemplate,
		f.ProblemName,
		f.Description,
		indent(f.Code, "    "),
		strings.Join(metrics, "\n"),
		EscapeUserName(f.UserName),
	)
}

// EscapeUserName keeps underscores in user names from turning into
// markdown emphasis.
func EscapeUserName(name string) string {
	return strings.ReplaceAll(name, "_", "&lowbar;")
}

// indent prefixes every non-blank line.
func indent(text, prefix string) string {
	lines := strings.SplitAfter(text, "\n")
	var b strings.Builder
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			b.WriteString(prefix)
		}
		b.WriteString(line)
	}
	return b.String()
}
