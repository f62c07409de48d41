package forum

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/featurehub-ai/platform/pkg/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFeature() models.RegisteredFeature {
	acc, auc := 0.75, 0.5
	return models.RegisteredFeature{
		FeatureID:   7,
		ProblemName: "airbnb",
		UserName:    "jane_doe",
		Description: "age bucket",
		Code:        "def age(dataset):\n    return [a for a in dataset[\"users\"][\"age\"]]\n",
		Metrics: []models.MetricEntry{
			{Name: "Accuracy", Scoring: "accuracy", Value: &acc},
			{Name: "ROC AUC", Scoring: "roc_auc", Value: &auc},
			{Name: "Recall", Scoring: "recall"},
		},
	}
}

func TestRender(t *testing.T) {
	body := Render(sampleFeature())
	assert.True(t, strings.HasPrefix(body, "\n## A new feature was submitted!\n"))
	assert.Contains(t, body, "* _Problem name_: airbnb\n")
	assert.Contains(t, body, "* _Feature description_: age bucket\n")
	assert.Contains(t, body, "\n    def age(dataset):\n        return [a for a")
	assert.Contains(t, body, " * Accuracy: 0.75\n * ROC AUC: 0.5\n * Recall: None\n")
	assert.True(t, strings.HasSuffix(body, "(submitted by user jane&lowbar;doe)\n"))
	assert.Equal(t, "[New Feature] age bucket", Title(sampleFeature()))
}

func TestIndentSkipsBlankLines(t *testing.T) {
	assert.Equal(t, "  a\n\n  b", indent("a\n\nb", "  "))
}

func newDiscourse(t *testing.T, posts *atomic.Int32, fail bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/categories.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"category_list":{"categories":[{"id":3,"name":"Uncategorized","slug":"uncategorized"},{"id":5,"name":"Features","slug":"features"}]}}`))
	})
	mux.HandleFunc("/posts.json", func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		if r.Header.Get("Api-Key") != "key" || r.Header.Get("Api-Username") != "bot" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if fail {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		var req createPostRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Category != 5 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"id":11,"topic_id":42,"topic_slug":"new-feature-age-bucket"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDiscoursePostFeature(t *testing.T) {
	var posts atomic.Int32
	srv := newDiscourse(t, &posts, false)
	d, err := NewDiscourseClient(srv.URL, "bot", "key", "features")
	require.NoError(t, err)

	url, err := d.PostFeature(context.Background(), sampleFeature())
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/t/new-feature-age-bucket/42", url)
	assert.Equal(t, 5, d.categoryID)
}

func TestDiscourseErrors(t *testing.T) {
	var posts atomic.Int32
	srv := newDiscourse(t, &posts, true)
	d, err := NewDiscourseClient(srv.URL, "bot", "key", "features")
	require.NoError(t, err)
	_, err = d.PostFeature(context.Background(), sampleFeature())
	assert.Error(t, err)
	assert.Equal(t, int32(1), posts.Load(), "client errors are not retried")

	d, err = NewDiscourseClient(srv.URL, "bot", "key", "missing")
	require.NoError(t, err)
	_, err = d.PostFeature(context.Background(), sampleFeature())
	assert.ErrorContains(t, err, "not found")

	_, err = NewDiscourseClient("", "bot", "key", "")
	assert.Error(t, err)
}

type stubPoster struct {
	posted []models.RegisteredFeature
	err    error
}

func (s *stubPoster) PostFeature(_ context.Context, f models.RegisteredFeature) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.posted = append(s.posted, f)
	return "https://forum/t/1", nil
}

func featureEvent(t *testing.T, f models.RegisteredFeature) models.Event {
	t.Helper()
	raw, err := json.Marshal(f)
	require.NoError(t, err)
	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &data))
	return models.Event{ID: "e1", Type: models.EventFeatureRegistered, Data: data}
}

func TestNotifierHandleEvent(t *testing.T) {
	poster := &stubPoster{}
	n := &Notifier{Poster: poster, DemoProblem: "demo"}
	ctx := context.Background()

	require.NoError(t, n.HandleEvent(ctx, featureEvent(t, sampleFeature())))
	require.Len(t, poster.posted, 1)
	assert.Equal(t, "jane_doe", poster.posted[0].UserName)

	demo := sampleFeature()
	demo.ProblemName = "demo"
	require.NoError(t, n.HandleEvent(ctx, featureEvent(t, demo)))
	require.NoError(t, n.HandleEvent(ctx, models.Event{Type: models.EventEvaluationAttempted}))
	assert.Len(t, poster.posted, 1)

	poster.err = errors.New("forum down")
	assert.Error(t, n.HandleEvent(ctx, featureEvent(t, sampleFeature())))
}
