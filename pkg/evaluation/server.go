package evaluation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/featurehub-ai/platform/pkg/common/logger"
	"github.com/featurehub-ai/platform/pkg/common/models"
	"github.com/featurehub-ai/platform/pkg/executor"
	"github.com/featurehub-ai/platform/pkg/modeling"
	"github.com/featurehub-ai/platform/pkg/registry"
	"github.com/sirupsen/logrus"
)

// Registry is the registration store as the server evaluator uses it.
type Registry interface {
	GetProblem(ctx context.Context, name string) (*registry.Problem, error)
	GetUser(ctx context.Context, name string) (*registry.User, error)
	IsRegistered(ctx context.Context, problemID, userID uint, md5 string) (bool, error)
	Register(ctx context.Context, input registry.RegisterInput) (*registry.Feature, error)
}

// Poster publishes a registered feature for discussion and returns the
// topic URL.
type Poster interface {
	PostFeature(ctx context.Context, feature models.RegisteredFeature) (string, error)
}

type Publisher interface {
	PublishFeatureRegistered(ctx context.Context, feature models.RegisteredFeature) error
}

type SubmitRequest struct {
	Problem     string
	User        string
	Feature     executor.Feature
	Description string
}

type ServerConfig struct {
	Registry Registry
	Runner   executor.Runner
	Locker   registry.Locker
	// Forum is optional. With PostAsync set the forum post is left to the
	// consumer of the registration event.
	Forum     Poster
	PostAsync bool
	Events    Publisher
	// DemoProblem is never announced.
	DemoProblem string
	Options
}

// ServerEvaluator scores features against the held-out test split and
// registers the ones that succeed. Problem datasets are cached per
// evaluator; every submission gets its own Pipeline.
type ServerEvaluator struct {
	cfg ServerConfig

	mu       sync.Mutex
	problems map[uint]*serverProblem
}

type serverProblem struct {
	revision string
	problem  *Problem
	engine   *modeling.Engine
	train    *split
	test     *split
}

func NewServerEvaluator(cfg ServerConfig) *ServerEvaluator {
	if cfg.Locker == nil {
		cfg.Locker = registry.NewLocalLocker()
	}
	return &ServerEvaluator{cfg: cfg, problems: make(map[uint]*serverProblem)}
}

// Submit runs the whole submission protocol and never returns an error:
// every outcome is a Response.
func (s *ServerEvaluator) Submit(ctx context.Context, req SubmitRequest) Response {
	log := logger.WithFields(logrus.Fields{"problem": req.Problem, "user": req.User})
	if req.Problem == "" || req.User == "" || strings.TrimSpace(req.Feature.Source) == "" {
		return Failure(StatusBadRequest, "problem, user and feature code are required")
	}

	record, err := s.cfg.Registry.GetProblem(ctx, req.Problem)
	if errors.Is(err, registry.ErrProblemNotFound) {
		return Failure(StatusBadRequest, fmt.Sprintf("unknown problem %q", req.Problem))
	}
	if err != nil {
		log.WithError(err).Error("Problem lookup failed")
		return Failure(StatusServerError, "")
	}
	user, err := s.cfg.Registry.GetUser(ctx, req.User)
	if errors.Is(err, registry.ErrUserNotFound) {
		return Failure(StatusBadRequest, fmt.Sprintf("unknown user %q", req.User))
	}
	if err != nil {
		log.WithError(err).Error("User lookup failed")
		return Failure(StatusServerError, "")
	}
	state, err := s.problemState(record)
	if err != nil {
		log.WithError(err).Error("Problem is misconfigured")
		return Failure(StatusServerError, "")
	}

	md5 := req.Feature.Hash()
	log = log.WithField("md5", md5)
	unlock, err := s.cfg.Locker.Lock(ctx, registry.SubmissionKey(record.ID, user.ID, md5))
	if err != nil {
		log.WithError(err).Error("Could not lock submission")
		return Failure(StatusServerError, "")
	}
	defer unlock()

	registered, err := s.cfg.Registry.IsRegistered(ctx, record.ID, user.ID, md5)
	if err != nil {
		log.WithError(err).Error("Duplicate check failed")
		return Failure(StatusServerError, "")
	}
	if registered {
		return Failure(StatusDuplicateFeature, "")
	}

	p := NewPipeline(state.problem, req.User, ModeTrainTest, s.cfg.Runner, s.cfg.Observers)
	metrics, err := s.evaluate(ctx, p, state, req.Feature)
	if err != nil {
		status := statusFor(err)
		p.finish(status, err)
		var featureErr *FeatureError
		if errors.As(err, &featureErr) {
			return Failure(status, featureErr.Detail())
		}
		return Failure(status, "")
	}

	feature, err := s.cfg.Registry.Register(ctx, registry.RegisterInput{
		ProblemID:   record.ID,
		UserID:      user.ID,
		Code:        req.Feature.Source,
		MD5:         md5,
		Description: req.Description,
		Metrics:     metrics.ToDB(),
	})
	if errors.Is(err, registry.ErrDuplicateFeature) {
		p.finish(StatusDuplicateFeature, err)
		return Failure(StatusDuplicateFeature, "")
	}
	if err != nil {
		p.finish(StatusDBError, err)
		return Failure(StatusDBError, "")
	}

	topicURL := s.announce(ctx, feature.Registered(), log)
	p.finish(StatusOkay, nil)
	return Okay(metrics, topicURL)
}

func (s *ServerEvaluator) evaluate(ctx context.Context, p *Pipeline, state *serverProblem, feature executor.Feature) (modeling.MetricList, error) {
	parts, err := p.build(ctx, feature, state.train, state.test)
	if err != nil {
		return nil, err
	}
	train, test := parts[0], parts[1]
	metrics, err := state.engine.TrainTest(ctx, train.x, train.target, test.x, test.target)
	if err != nil {
		return nil, err
	}
	p.advance(StageMetricsComputed)
	return metrics, nil
}

// announce publishes the registration event and, unless posting is left to
// the event consumer, posts to the forum. Failures only cost the topic URL.
func (s *ServerEvaluator) announce(ctx context.Context, feature models.RegisteredFeature, log *logrus.Entry) string {
	if s.cfg.Events != nil {
		if err := s.cfg.Events.PublishFeatureRegistered(ctx, feature); err != nil {
			log.WithError(err).Warn("Failed to publish feature event")
		}
	}
	if s.cfg.Forum == nil || s.cfg.PostAsync || feature.ProblemName == s.cfg.DemoProblem {
		return ""
	}
	url, err := s.cfg.Forum.PostFeature(ctx, feature)
	if err != nil {
		log.WithError(err).Warn("Failed to post feature to forum")
		return ""
	}
	return url
}

// problemState returns the cached datasets for a problem, rebuilding them
// when the stored record changed.
func (s *ServerEvaluator) problemState(record *registry.Problem) (*serverProblem, error) {
	revision := fmt.Sprintf("%s|%s|%s|%v|%v|%s|%s|%s|%v",
		record.ProblemType, record.DataDirTrain, record.DataDirTest, []string(record.Files), []string(record.TableNames),
		record.TargetTable, record.TargetColumn, record.EntitiesFeaturizedTable, map[string]interface{}(record.ProblemTypeDetails))

	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.problems[record.ID]; ok && state.revision == revision {
		return state, nil
	}

	problem, err := FromRecord(record)
	if err != nil {
		return nil, err
	}
	if len(problem.Test) == 0 {
		return nil, fmt.Errorf("problem %s has no test data", problem.Name)
	}
	engine, err := problem.engine(s.cfg.Folds, s.cfg.Seed)
	if err != nil {
		return nil, err
	}
	state := &serverProblem{
		revision: revision,
		problem:  problem,
		engine:   engine,
		train:    newSplit("train", problem.Train),
		test:     newSplit("test", problem.Test),
	}
	s.problems[record.ID] = state
	return state, nil
}
