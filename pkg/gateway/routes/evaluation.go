package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/featurehub-ai/platform/pkg/common/logger"
	"github.com/featurehub-ai/platform/pkg/evaluation"
	"github.com/featurehub-ai/platform/pkg/executor"
	"github.com/featurehub-ai/platform/pkg/gateway/auth"
	"github.com/featurehub-ai/platform/pkg/gateway/middleware"
	"github.com/featurehub-ai/platform/pkg/observability/metrics"
	"github.com/featurehub-ai/platform/pkg/registry"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Submitter interface {
	Submit(ctx context.Context, req evaluation.SubmitRequest) evaluation.Response
}

// SubmitRequest is the body of POST /submit. Database is accepted for
// compatibility with older clients and ignored.
type SubmitRequest struct {
	Database    string   `json:"database,omitempty"`
	Problem     string   `json:"problem" validate:"required,max=100"`
	Code        string   `json:"code" validate:"required"`
	Imports     []string `json:"imports,omitempty" validate:"dive,oneof=math json"`
	Description string   `json:"description" validate:"required,max=1000"`
}

type AttemptRequest struct {
	Database string `json:"database,omitempty"`
	Problem  string `json:"problem" validate:"required,max=100"`
	Code     string `json:"code"`
}

// EvaluationHandler serves the evaluation protocol endpoints.
type EvaluationHandler struct {
	submitter Submitter
	repo      *registry.Repository
	metrics   *metrics.Registry
	validate  *validator.Validate
}

func NewEvaluationHandler(submitter Submitter, repo *registry.Repository, m *metrics.Registry) *EvaluationHandler {
	return &EvaluationHandler{
		submitter: submitter,
		repo:      repo,
		metrics:   m,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Register mounts the endpoints on an already authenticated router.
func (h *EvaluationHandler) Register(r *mux.Router) {
	r.HandleFunc("/submit", h.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/log-evaluation-attempt", h.handleLogAttempt).Methods(http.MethodPost)
	r.HandleFunc("/create-user", h.handleCreateUser).Methods(http.MethodPost)
	r.HandleFunc("/problems", h.handleListProblems).Methods(http.MethodGet)
	r.HandleFunc("/problems/{name}", h.handleGetProblem).Methods(http.MethodGet)
	r.HandleFunc("/features", h.handleListFeatures).Methods(http.MethodGet)
}

func (h *EvaluationHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.respond(w, "/submit", evaluation.Failure(evaluation.StatusBadAuth, ""))
		return
	}
	var req SubmitRequest
	if err := h.decode(r, &req); err != nil {
		logger.Log.WithError(err).Info("Rejected submit request")
		h.respond(w, "/submit", evaluation.Failure(evaluation.StatusBadRequest, err.Error()))
		return
	}

	resp := h.submitter.Submit(r.Context(), evaluation.SubmitRequest{
		Problem:     req.Problem,
		User:        user.Name,
		Feature:     executor.Feature{Source: req.Code, Imports: req.Imports},
		Description: req.Description,
	})
	logger.Log.WithFields(logrus.Fields{
		"problem":     req.Problem,
		"user":        user.Name,
		"status_code": resp.StatusCode,
		"request_id":  r.Header.Get("X-Request-ID"),
	}).Info("Submission processed")
	h.respond(w, "/submit", resp)
}

// handleLogAttempt never fails the caller; attempts are best-effort
// telemetry.
func (h *EvaluationHandler) handleLogAttempt(w http.ResponseWriter, r *http.Request) {
	defer w.WriteHeader(http.StatusOK)
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		return
	}
	var req AttemptRequest
	if err := h.decode(r, &req); err != nil {
		logger.Log.WithError(err).Warn("Couldn't read evaluation attempt")
		return
	}
	log := logger.WithFields(logrus.Fields{"problem": req.Problem, "user": user.Name})
	problem, err := h.repo.GetProblem(r.Context(), req.Problem)
	if err != nil {
		log.WithError(err).Warn("Couldn't log evaluation attempt")
		return
	}
	dbUser, err := h.repo.GetUser(r.Context(), user.Name)
	if err != nil {
		log.WithError(err).Warn("Couldn't log evaluation attempt")
		return
	}
	if err := h.repo.LogAttempt(r.Context(), problem.ID, dbUser.ID, req.Code); err != nil {
		log.WithError(err).Error("Couldn't insert evaluation attempt into database")
		return
	}
	log.Debug("Logged evaluation attempt")
}

func (h *EvaluationHandler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	_, created, err := h.repo.CreateUser(r.Context(), user.Name)
	if err != nil {
		logger.Log.WithError(err).WithField("user", user.Name).Error("Couldn't create new user")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	logger.Log.WithFields(logrus.Fields{"user": user.Name, "created": created}).Debug("Created user")
	w.WriteHeader(http.StatusCreated)
}

func (h *EvaluationHandler) handleListProblems(w http.ResponseWriter, r *http.Request) {
	problems, err := h.repo.ListProblems(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("failed to list problems")
		http.Error(w, "failed to list problems", http.StatusInternalServerError)
		return
	}
	specs := make([]registry.ProblemSpec, 0, len(problems))
	for i := range problems {
		specs = append(specs, problems[i].Spec())
	}
	respondJSON(w, http.StatusOK, specs)
}

func (h *EvaluationHandler) handleGetProblem(w http.ResponseWriter, r *http.Request) {
	problem, err := h.repo.GetProblem(r.Context(), mux.Vars(r)["name"])
	if errors.Is(err, registry.ErrProblemNotFound) {
		http.Error(w, "problem not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Log.WithError(err).Error("failed to load problem")
		http.Error(w, "failed to load problem", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, problem.Spec())
}

// handleListFeatures serves feature discovery:
// ?problem=<name>&code=<fragment>&exclude_self=true|only_self=true&limit=<n>.
func (h *EvaluationHandler) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	excludeSelf, onlySelf := q.Get("exclude_self") == "true", q.Get("only_self") == "true"
	if excludeSelf && onlySelf {
		http.Error(w, "exclude_self and only_self are mutually exclusive", http.StatusBadRequest)
		return
	}
	problem, err := h.repo.GetProblem(r.Context(), q.Get("problem"))
	if errors.Is(err, registry.ErrProblemNotFound) {
		http.Error(w, "problem not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Log.WithError(err).Error("failed to load problem")
		http.Error(w, "failed to list features", http.StatusInternalServerError)
		return
	}
	query := registry.FeatureQuery{ProblemID: problem.ID, CodeContains: q.Get("code")}
	if n, err := parseLimit(q.Get("limit")); err == nil {
		query.Limit = n
	}
	if user, ok := auth.UserFromContext(r.Context()); ok && (excludeSelf || onlySelf) {
		dbUser, err := h.repo.GetUser(r.Context(), user.Name)
		switch {
		case err == nil && excludeSelf:
			query.ExcludeUserID = dbUser.ID
		case err == nil:
			query.OnlyUserID = dbUser.ID
		case onlySelf:
			// A caller without a user record has registered nothing.
			respondJSON(w, http.StatusOK, []interface{}{})
			return
		}
	}
	features, err := h.repo.ListFeatures(r.Context(), query)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list features")
		http.Error(w, "failed to list features", http.StatusInternalServerError)
		return
	}
	out := make([]interface{}, 0, len(features))
	for i := range features {
		out = append(out, features[i].Summary())
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *EvaluationHandler) decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return errors.New("invalid payload: " + strings.Join(fields, ", "))
		}
		return err
	}
	return nil
}

func (h *EvaluationHandler) respond(w http.ResponseWriter, route string, resp evaluation.Response) {
	if h.metrics != nil {
		h.metrics.ObserveRequest(route, resp.StatusCode)
	}
	middleware.WriteResponse(w, resp)
}
