package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/featurehub-ai/platform/pkg/client"
	"github.com/featurehub-ai/platform/pkg/common/database"
	"github.com/featurehub-ai/platform/pkg/common/logger"
	"github.com/featurehub-ai/platform/pkg/common/models"
	"github.com/featurehub-ai/platform/pkg/dataset"
	"github.com/featurehub-ai/platform/pkg/evaluation"
	"github.com/featurehub-ai/platform/pkg/executor"
	"github.com/featurehub-ai/platform/pkg/registry"
	"github.com/spf13/cobra"
)

func runEvaluate(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	feature, err := readFeature(args[0])
	if err != nil {
		return err
	}
	session, err := newSession(ctx)
	if err != nil {
		return err
	}
	metrics, err := session.Evaluate(ctx, feature)
	var featureErr *evaluation.FeatureError
	if errors.As(err, &featureErr) {
		fmt.Fprintln(cmd.OutOrStdout(), featureErr.Detail())
		return errors.New("feature rejected")
	}
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), metrics.String())
	return nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	feature, err := readFeature(args[0])
	if err != nil {
		return err
	}
	session, err := newSession(ctx)
	if err != nil {
		return err
	}
	resp, err := session.Submit(ctx, feature, description)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), resp.String())
	if resp.StatusCode != evaluation.StatusOkay {
		return fmt.Errorf("submission %s", resp.StatusCode)
	}
	return nil
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	if onlyMine && includeSelf {
		return errors.New("--mine and --include-self cannot be combined")
	}
	session, err := newSession(ctx)
	if err != nil {
		return err
	}
	var fragment string
	if len(args) == 1 {
		fragment = args[0]
	}
	var found []models.FeatureSummary
	if onlyMine {
		found, err = session.MyFeatures(ctx, fragment, limit)
	} else {
		found, err = session.DiscoverFeatures(ctx, fragment, includeSelf, limit)
	}
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(found) == 0 {
		fmt.Fprintln(out, "No features found.")
		return nil
	}
	for _, f := range found {
		fmt.Fprintf(out, "--- feature %d by %s\n", f.ID, f.UserName)
		fmt.Fprintf(out, "Description: %s\n", f.Description)
		for _, m := range f.Metrics {
			if m.Value != nil {
				fmt.Fprintf(out, "    %s: %g\n", m.Name, *m.Value)
			}
		}
		fmt.Fprintln(out, strings.TrimRight(f.Code, "\n"))
	}
	return nil
}

func runSample(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	session, err := newSession(ctx)
	if err != nil {
		return err
	}
	sample, err := session.SampleDataset(ctx, sampleRows)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, name := range sample.Names() {
		table, _ := sample.Table(name)
		fmt.Fprintf(out, "# %s\n", name)
		w := csv.NewWriter(out)
		header := make([]string, len(table.Columns))
		for j, c := range table.Columns {
			header[j] = c.Name
		}
		if err := w.Write(header); err != nil {
			return err
		}
		row := make([]string, len(table.Columns))
		for i := 0; i < table.NumRows(); i++ {
			for j, c := range table.Columns {
				row[j] = cellText(c.Values[i])
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return err
		}
	}
	return nil
}

func cellText(v dataset.Value) string {
	switch v.Kind {
	case dataset.KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case dataset.KindString:
		return v.Str
	default:
		return ""
	}
}

func runProblemsLoad(cmd *cobra.Command, args []string) error {
	manifest, err := registry.LoadManifest(args[0])
	if err != nil {
		return err
	}
	db, err := database.Open(cfg)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err == nil {
		defer sqlDB.Close()
	}
	repo := registry.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		return err
	}
	if err := repo.Apply(cmd.Context(), manifest); err != nil {
		return err
	}
	logger.Log.WithField("problems", len(manifest.Problems)).WithField("users", len(manifest.Users)).Info("Manifest applied")
	fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d problems and %d users\n", len(manifest.Problems), len(manifest.Users))
	return nil
}

func newSession(ctx context.Context) (*client.Session, error) {
	if problemName == "" {
		return nil, errors.New("--problem is required")
	}
	limits := executor.Limits{Timeout: cfg.ExecutorTimeout, MaxSteps: uint64(cfg.ExecutorMaxSteps)}
	return client.NewSession(ctx, client.Config{
		ServerURL: serverURL,
		Token:     token,
		Problem:   problemName,
		User:      userName,
		Runner:    executor.NewInlineRunner(limits),
		Timeout:   cfg.ClientTimeout,
		Options: evaluation.Options{
			Observers: []evaluation.Observer{evaluation.LogObserver{}},
			Folds:     cfg.CVFolds,
			Seed:      int64(cfg.RandomState),
		},
	})
}

func readFeature(path string) (executor.Feature, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return executor.Feature{}, err
	}
	return executor.Feature{Source: string(source), Imports: imports}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
