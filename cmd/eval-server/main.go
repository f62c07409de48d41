package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/featurehub-ai/platform/pkg/common/config"
	"github.com/featurehub-ai/platform/pkg/common/database"
	"github.com/featurehub-ai/platform/pkg/common/kafka"
	"github.com/featurehub-ai/platform/pkg/common/logger"
	"github.com/featurehub-ai/platform/pkg/evaluation"
	"github.com/featurehub-ai/platform/pkg/executor"
	"github.com/featurehub-ai/platform/pkg/forum"
	"github.com/featurehub-ai/platform/pkg/gateway/auth"
	"github.com/featurehub-ai/platform/pkg/gateway/routes"
	"github.com/featurehub-ai/platform/pkg/observability/metrics"
	"github.com/featurehub-ai/platform/pkg/registry"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetDB()
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to connect to database")
	}
	defer database.Close()

	repo := registry.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate database")
	}

	authenticator, err := newAuthenticator(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("Authentication not configured")
	}

	registryMetrics := metrics.NewRegistry()
	serverCfg := evaluation.ServerConfig{
		Registry:    repo,
		Runner:      newRunner(cfg),
		DemoProblem: cfg.DemoProblemName,
		Options: evaluation.Options{
			Observers: []evaluation.Observer{evaluation.LogObserver{}, registryMetrics},
			Folds:     cfg.CVFolds,
			Seed:      int64(cfg.RandomState),
		},
	}
	if cfg.UseRedisLock {
		redisClient, err := database.OpenRedis(context.Background(), cfg)
		if err != nil {
			logger.Log.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redisClient.Close()
		serverCfg.Locker = registry.NewRedisLocker(redisClient, cfg.RedisLockTTL)
	}
	if cfg.UseDiscourse {
		discourse, err := forum.NewDiscourseClient(cfg.DiscourseDomainName, cfg.DiscourseAPIUsername, cfg.DiscourseAPIToken, cfg.DiscourseFeatureCategory)
		if err != nil {
			logger.Log.WithError(err).Fatal("Forum not configured")
		}
		serverCfg.Forum = discourse
		serverCfg.PostAsync = cfg.DiscourseMode == "async"
	}
	// Async forum posting depends on the notifier consuming these events.
	if cfg.PublishFeatureEvents || serverCfg.PostAsync {
		producer := kafka.NewProducer(cfg.FeatureEventsTopic)
		defer producer.Close()
		serverCfg.Events = producer
	}

	router := routes.NewRouter(routes.RouterConfig{
		Prefix:         cfg.ServerPrefix,
		Authenticator:  authenticator,
		CookieName:     cfg.HubCookieName,
		MaxRequestBody: cfg.MaxRequestBody,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	},
		routes.NewEvaluationHandler(evaluation.NewServerEvaluator(serverCfg), repo, registryMetrics),
		routes.NewMetricsHandler(db, registryMetrics),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":   cfg.ServerHost,
			"port":   cfg.ServerPort,
			"prefix": cfg.ServerPrefix,
		}).Info("Evaluation server started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down evaluation server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Evaluation server stopped")
}

// newAuthenticator prefers the hub; a JWT secret is the standalone mode.
func newAuthenticator(cfg *config.Config) (auth.Authenticator, error) {
	if cfg.HubAPIToken != "" {
		return auth.NewHubAuthenticator(cfg.HubAPIURL, cfg.HubAPIToken, cfg.AuthCacheMaxAge)
	}
	if cfg.JWTSecret != "" {
		logger.Log.Warn("No hub token configured, accepting self-issued JWTs")
		return auth.NewJWTAuthenticator(cfg.JWTSecret, 0)
	}
	return nil, fmt.Errorf("set EVAL_API_TOKEN or JWT_SECRET")
}

func newRunner(cfg *config.Config) executor.Runner {
	limits := executor.Limits{Timeout: cfg.ExecutorTimeout, MaxSteps: uint64(cfg.ExecutorMaxSteps)}
	if !cfg.ExecutorIsolated {
		logger.Log.Warn("Executor isolation disabled, features run in-process")
		return executor.NewInlineRunner(limits)
	}
	return executor.NewProcessRunner(cfg.ExecutorWorkerPath, limits, cfg.ExecutorMaxOutputBytes)
}
