package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/featurehub-ai/platform/pkg/common/config"
	"github.com/featurehub-ai/platform/pkg/common/kafka"
	"github.com/featurehub-ai/platform/pkg/common/logger"
	"github.com/featurehub-ai/platform/pkg/forum"
)

func main() {
	logger.Init()
	cfg := config.Load()

	discourse, err := forum.NewDiscourseClient(cfg.DiscourseDomainName, cfg.DiscourseAPIUsername, cfg.DiscourseAPIToken, cfg.DiscourseFeatureCategory)
	if err != nil {
		logger.Log.WithError(err).Fatal("Forum not configured")
	}
	notifier := &forum.Notifier{Poster: discourse, DemoProblem: cfg.DemoProblemName}

	consumer := kafka.NewConsumer(cfg.FeatureEventsTopic, cfg.KafkaGroupID)
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Log.WithField("topic", cfg.FeatureEventsTopic).Info("Notifier service started")
	if err := consumer.Consume(ctx, notifier.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
		logger.Log.WithError(err).Error("Consumer stopped")
	}
	logger.Log.Info("Notifier service stopped")
}
