package database

import (
	"testing"

	"github.com/featurehub-ai/platform/pkg/common/config"
	"github.com/stretchr/testify/assert"
)

func TestDialectorSelection(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"sqlite::memory:", "sqlite"},
		{"sqlite:///tmp/featurehub.db", "sqlite"},
		{"postgres://fh:fh@db:5432/featurehub", "postgres"},
		{"", "postgres"},
	}
	for _, tc := range cases {
		_, name := Dialector(&config.Config{DatabaseURL: tc.url})
		assert.Equal(t, tc.want, name, tc.url)
	}
}
