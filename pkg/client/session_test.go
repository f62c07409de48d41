package client

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/featurehub-ai/platform/pkg/common/models"
	"github.com/featurehub-ai/platform/pkg/evaluation"
	"github.com/featurehub-ai/platform/pkg/executor"
	"github.com/featurehub-ai/platform/pkg/gateway/auth"
	"github.com/featurehub-ai/platform/pkg/gateway/routes"
	"github.com/featurehub-ai/platform/pkg/registry"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const prefix = "/services/eval-server"

func writeUsers(t *testing.T, dir string, n int) {
	t.Helper()
	var b strings.Builder
	b.WriteString("id,age,country\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%d,%d,%s\n", i+1, 20+(i*7)%31, []string{"NDF", "US", "FR"}[i%3])
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "users.csv"), []byte(b.String()), 0o644))
}

type hub struct {
	repo *registry.Repository
	url  string
	jwt  *auth.JWTAuthenticator
}

func newHub(t *testing.T) *hub {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	repo := registry.NewRepository(db)
	require.NoError(t, repo.AutoMigrate())

	train, test := t.TempDir(), t.TempDir()
	writeUsers(t, train, 90)
	writeUsers(t, test, 30)
	ctx := context.Background()
	require.NoError(t, repo.SaveProblem(ctx, &registry.Problem{
		Name:         "airbnb",
		ProblemType:  "classification",
		DataDirTrain: train,
		DataDirTest:  test,
		Files:        []string{"users.csv"},
		TargetTable:  "users",
		TargetColumn: "country",
	}))
	_, _, err = repo.CreateUser(ctx, "bob")
	require.NoError(t, err)

	jwtAuth, err := auth.NewJWTAuthenticator("0123456789abcdef0123", time.Hour)
	require.NoError(t, err)
	runner := executor.NewInlineRunner(executor.Limits{Timeout: 10 * time.Second})
	server := evaluation.NewServerEvaluator(evaluation.ServerConfig{Registry: repo, Runner: runner})
	router := routes.NewRouter(routes.RouterConfig{
		Prefix:         prefix,
		Authenticator:  jwtAuth,
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	}, routes.NewEvaluationHandler(server, repo, nil), routes.NewMetricsHandler(db, nil))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &hub{repo: repo, url: srv.URL + prefix, jwt: jwtAuth}
}

func (h *hub) session(t *testing.T, user string) *Session {
	t.Helper()
	token, err := h.jwt.IssueToken(models.HubUser{Name: user})
	require.NoError(t, err)
	s, err := NewSession(context.Background(), Config{
		ServerURL: h.url,
		Token:     token,
		Problem:   "airbnb",
		User:      user,
		Runner:    executor.NewInlineRunner(executor.Limits{Timeout: 10 * time.Second}),
	})
	require.NoError(t, err)
	require.NoError(t, s.CreateUser(context.Background()))
	return s
}

const leak = `
def leak(dataset):
    codes = {"NDF": 0, "US": 1, "FR": 2}
    return [codes[c] for c in dataset["users"]["country"]]
`

func TestEvaluateLogsAttempt(t *testing.T) {
	h := newHub(t)
	s := h.session(t, "alice")
	assert.Equal(t, "airbnb", s.Problem().Name)

	metrics, err := s.Evaluate(context.Background(), executor.Feature{Source: leak})
	require.NoError(t, err)
	acc, ok := metrics.Get("Accuracy")
	require.True(t, ok)
	assert.InDelta(t, 1.0, *acc.Value, 1e-9)

	ctx := context.Background()
	user, err := h.repo.GetUser(ctx, "alice")
	require.NoError(t, err)
	problem, err := h.repo.GetProblem(ctx, "airbnb")
	require.NoError(t, err)
	n, err := h.repo.CountAttempts(ctx, problem.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSubmitThenDuplicate(t *testing.T) {
	h := newHub(t)
	s := h.session(t, "alice")

	resp, err := s.Submit(context.Background(), executor.Feature{Source: leak}, "country code")
	require.NoError(t, err)
	require.Equal(t, evaluation.StatusOkay, resp.StatusCode, resp.Message)
	assert.NotEmpty(t, resp.Metrics)

	resp, err = s.Submit(context.Background(), executor.Feature{Source: leak}, "country code")
	require.NoError(t, err)
	assert.Equal(t, evaluation.StatusDuplicateFeature, resp.StatusCode)
}

func TestSubmitRejectsLocallyBrokenFeature(t *testing.T) {
	h := newHub(t)
	s := h.session(t, "alice")

	resp, err := s.Submit(context.Background(), executor.Feature{Source: "def f(dataset):\n    return 1 / 0\n"}, "broken")
	require.NoError(t, err)
	assert.Equal(t, evaluation.StatusBadFeature, resp.StatusCode)
	assert.Contains(t, resp.Message, "division")

	resp, err = s.Submit(context.Background(), executor.Feature{Source: leak}, " ")
	require.NoError(t, err)
	assert.Equal(t, evaluation.StatusBadRequest, resp.StatusCode)

	problem, err := h.repo.GetProblem(context.Background(), "airbnb")
	require.NoError(t, err)
	features, err := h.repo.ListFeatures(context.Background(), registry.FeatureQuery{ProblemID: problem.ID})
	require.NoError(t, err)
	assert.Empty(t, features)
}

func TestDiscoverFeatures(t *testing.T) {
	h := newHub(t)
	alice := h.session(t, "alice")
	bob := h.session(t, "bob")

	resp, err := bob.Submit(context.Background(), executor.Feature{Source: leak}, "country code")
	require.NoError(t, err)
	require.Equal(t, evaluation.StatusOkay, resp.StatusCode, resp.Message)

	found, err := alice.DiscoverFeatures(context.Background(), "codes", false, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "bob", found[0].UserName)

	own, err := bob.DiscoverFeatures(context.Background(), "", false, 10)
	require.NoError(t, err)
	assert.Empty(t, own)

	none, err := alice.DiscoverFeatures(context.Background(), "no such code", true, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMyFeatures(t *testing.T) {
	h := newHub(t)
	alice := h.session(t, "alice")
	bob := h.session(t, "bob")

	resp, err := bob.Submit(context.Background(), executor.Feature{Source: leak}, "country code")
	require.NoError(t, err)
	require.Equal(t, evaluation.StatusOkay, resp.StatusCode, resp.Message)

	mine, err := bob.MyFeatures(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "country code", mine[0].Description)

	filtered, err := bob.MyFeatures(context.Background(), "no such code", 0)
	require.NoError(t, err)
	assert.Empty(t, filtered)

	none, err := alice.MyFeatures(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSampleDataset(t *testing.T) {
	h := newHub(t)
	s := h.session(t, "alice")

	sample, err := s.SampleDataset(context.Background(), 5)
	require.NoError(t, err)
	users, ok := sample.Table("users")
	require.True(t, ok)
	assert.Equal(t, 5, users.NumRows())
	country, ok := users.Column("country")
	require.True(t, ok)
	assert.Equal(t, "NDF", country.Values[0].Str)

	// Changing the sample leaves the evaluation data alone.
	country.Values[0].Str = "XX"
	full, err := s.SampleDataset(context.Background(), 0)
	require.NoError(t, err)
	users, _ = full.Table("users")
	assert.Equal(t, 90, users.NumRows())
	country, _ = users.Column("country")
	assert.Equal(t, "NDF", country.Values[0].Str)
}

func TestNewSessionUnknownProblem(t *testing.T) {
	h := newHub(t)
	token, err := h.jwt.IssueToken(models.HubUser{Name: "alice"})
	require.NoError(t, err)
	_, err = NewSession(context.Background(), Config{
		ServerURL: h.url,
		Token:     token,
		Problem:   "titanic",
		Runner:    executor.NewInlineRunner(executor.Limits{}),
	})
	assert.Error(t, err)

	_, err = NewSession(context.Background(), Config{ServerURL: h.url, Problem: "airbnb"})
	assert.Error(t, err)
}
