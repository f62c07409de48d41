package routes

import (
	"github.com/featurehub-ai/platform/pkg/gateway/auth"
	"github.com/featurehub-ai/platform/pkg/gateway/middleware"
	"github.com/gorilla/mux"
)

type RouterConfig struct {
	Prefix         string
	Authenticator  auth.Authenticator
	CookieName     string
	MaxRequestBody int64
	RateLimitRPS   int
	RateLimitBurst int
}

// NewRouter assembles the evaluation server: operational endpoints are
// public, protocol endpoints under the prefix require authentication.
func NewRouter(cfg RouterConfig, eval *EvaluationHandler, ops *MetricsHandler) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)
	router.Use(middleware.CORS)

	base := router.PathPrefix(cfg.Prefix).Subrouter()
	ops.Register(base)

	api := base.NewRoute().Subrouter()
	api.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	if cfg.MaxRequestBody > 0 {
		api.Use(middleware.BodyLimit(cfg.MaxRequestBody))
	}
	api.Use(middleware.Authenticate(cfg.Authenticator, cfg.CookieName))
	eval.Register(api)
	return router
}
