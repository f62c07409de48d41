package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/featurehub-ai/platform/pkg/common/httpclient"
	"github.com/featurehub-ai/platform/pkg/common/logger"
	"github.com/featurehub-ai/platform/pkg/common/models"
	"github.com/featurehub-ai/platform/pkg/dataset"
	"github.com/featurehub-ai/platform/pkg/evaluation"
	"github.com/featurehub-ai/platform/pkg/executor"
	"github.com/featurehub-ai/platform/pkg/modeling"
	"github.com/featurehub-ai/platform/pkg/registry"
	"github.com/sirupsen/logrus"
)

type Config struct {
	ServerURL string
	Token     string
	Problem   string
	// User labels local log lines; the server identifies the caller by token.
	User    string
	Runner  executor.Runner
	Timeout time.Duration
	evaluation.Options
}

// Session is one user's connection to one problem. Evaluation happens
// locally on the training split; submission is decided by the server.
type Session struct {
	cfg       Config
	baseURL   string
	http      *http.Client
	evaluator *evaluation.ClientEvaluator
}

func NewSession(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.ServerURL == "" || cfg.Problem == "" {
		return nil, errors.New("server url and problem are required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("runner is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	s := &Session{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.ServerURL, "/"),
		http:    httpclient.New(cfg.Timeout),
	}

	var spec registry.ProblemSpec
	if err := s.getJSON(ctx, "/problems/"+url.PathEscape(cfg.Problem), nil, &spec); err != nil {
		return nil, fmt.Errorf("fetch problem %s: %w", cfg.Problem, err)
	}
	problem, err := evaluation.FromRecord(spec.Model())
	if err != nil {
		return nil, err
	}
	if s.evaluator, err = evaluation.NewClientEvaluator(problem, cfg.User, cfg.Runner, cfg.Options); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) Problem() *evaluation.Problem {
	return s.evaluator.Problem()
}

// Evaluate scores a feature locally and records the attempt on the server.
// A rejected feature returns a *evaluation.FeatureError.
func (s *Session) Evaluate(ctx context.Context, feature executor.Feature) (modeling.MetricList, error) {
	s.logAttempt(ctx, feature)
	return s.evaluator.Evaluate(ctx, feature)
}

// Submit evaluates locally first so broken features never reach the server,
// then posts the feature and returns the server's verdict.
func (s *Session) Submit(ctx context.Context, feature executor.Feature, description string) (evaluation.Response, error) {
	if strings.TrimSpace(description) == "" {
		return evaluation.Failure(evaluation.StatusBadRequest, "a feature description is required"), nil
	}
	if _, err := s.Evaluate(ctx, feature); err != nil {
		var featureErr *evaluation.FeatureError
		if errors.As(err, &featureErr) {
			return evaluation.Failure(evaluation.StatusBadFeature, featureErr.Detail()), nil
		}
		return evaluation.Response{}, err
	}

	body, err := json.Marshal(map[string]interface{}{
		"problem":     s.cfg.Problem,
		"code":        feature.Source,
		"imports":     feature.Imports,
		"description": description,
	})
	if err != nil {
		return evaluation.Response{}, err
	}
	// Not retried: a resubmission after a lost reply would only come back
	// as a duplicate.
	data, err := s.do(ctx, http.MethodPost, "/submit", body)
	if err != nil {
		return evaluation.Response{}, err
	}
	return evaluation.ParseResponse(data)
}

// DiscoverFeatures lists registered features of the problem whose code
// contains fragment. Own features are left out unless includeSelf is set.
func (s *Session) DiscoverFeatures(ctx context.Context, fragment string, includeSelf bool, limit int) ([]models.FeatureSummary, error) {
	q := url.Values{"problem": {s.cfg.Problem}}
	if fragment != "" {
		q.Set("code", fragment)
	}
	if !includeSelf {
		q.Set("exclude_self", "true")
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []models.FeatureSummary
	if err := s.getJSON(ctx, "/features", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MyFeatures lists the caller's own registered features of the problem,
// optionally filtered by a code fragment.
func (s *Session) MyFeatures(ctx context.Context, fragment string, limit int) ([]models.FeatureSummary, error) {
	q := url.Values{"problem": {s.cfg.Problem}, "only_self": {"true"}}
	if fragment != "" {
		q.Set("code", fragment)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []models.FeatureSummary
	if err := s.getJSON(ctx, "/features", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SampleDataset returns the first n rows of every training table, the same
// data a feature receives during Evaluate. n <= 0 returns every row.
func (s *Session) SampleDataset(ctx context.Context, n int) (*dataset.Dataset, error) {
	return s.evaluator.Sample(ctx, n)
}

// CreateUser registers the token's owner with the server.
func (s *Session) CreateUser(ctx context.Context) error {
	_, err := s.do(ctx, http.MethodPost, "/create-user", nil)
	return err
}

func (s *Session) logAttempt(ctx context.Context, feature executor.Feature) {
	body, err := json.Marshal(map[string]string{"problem": s.cfg.Problem, "code": feature.Source})
	if err == nil {
		_, err = s.do(ctx, http.MethodPost, "/log-evaluation-attempt", body)
	}
	if err != nil {
		logger.WithFields(logrus.Fields{"problem": s.cfg.Problem}).WithError(err).Debug("Failed to log evaluation attempt")
	}
}

func (s *Session) getJSON(ctx context.Context, path string, q url.Values, out interface{}) error {
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return httpclient.Retry(ctx, 3, 200*time.Millisecond, func() error {
		data, err := s.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, out)
	})
}

func (s *Session) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "token "+s.cfg.Token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := httpclient.CheckStatus(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}
