// Command feature-worker runs a single feature job. It reads the job from
// stdin and writes the result to stdout, so its logs go to stderr.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/featurehub-ai/platform/pkg/common/logger"
	"github.com/featurehub-ai/platform/pkg/executor"
)

func main() {
	logger.InitWithWriter(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := executor.ServeWorker(ctx, os.Stdin, os.Stdout); err != nil {
		logger.Log.WithError(err).Error("Feature worker failed")
		os.Exit(2)
	}
}
