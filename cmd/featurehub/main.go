// Command featurehub is the participant CLI: it evaluates features locally,
// submits them to the evaluation server and browses registered features.
package main

import (
	"os"

	"github.com/featurehub-ai/platform/pkg/common/config"
	"github.com/featurehub-ai/platform/pkg/common/logger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfg *config.Config

	serverURL   string
	token       string
	problemName string
	userName    string
	imports     []string
	description string
	includeSelf bool
	onlyMine    bool
	limit       int
	sampleRows  int
	verbose     bool

	rootCmd = &cobra.Command{
		Use:           "featurehub",
		Short:         "Develop, evaluate and submit features for a FeatureHub problem",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Log.SetLevel(logrus.WarnLevel)
			if verbose {
				logger.Log.SetLevel(logrus.DebugLevel)
			}
		},
	}

	evaluateCmd = &cobra.Command{
		Use:   "evaluate [feature.star]",
		Short: "Score a feature on the training split with cross-validation",
		Args:  cobra.ExactArgs(1),
		RunE:  runEvaluate,
	}

	submitCmd = &cobra.Command{
		Use:   "submit [feature.star]",
		Short: "Evaluate a feature locally, then submit it to the server",
		Args:  cobra.ExactArgs(1),
		RunE:  runSubmit,
	}

	discoverCmd = &cobra.Command{
		Use:   "discover [code fragment]",
		Short: "List features other participants registered for the problem",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDiscover,
	}

	sampleCmd = &cobra.Command{
		Use:   "sample",
		Short: "Print the first rows of every training table as CSV",
		Args:  cobra.NoArgs,
		RunE:  runSample,
	}

	problemsCmd = &cobra.Command{
		Use:   "problems",
		Short: "Administer problem definitions",
	}
	problemsLoadCmd = &cobra.Command{
		Use:   "load [manifest.yaml]",
		Short: "Create or update problems from a manifest, directly against the database",
		Args:  cobra.ExactArgs(1),
		RunE:  runProblemsLoad,
	}
)

func init() {
	logger.InitWithWriter(os.Stderr)
	cfg = config.Load()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&serverURL, "server", cfg.EvalServerURL, "evaluation server base URL")
	flags.StringVar(&token, "token", cfg.ClientAPIToken, "hub API token")
	flags.StringVarP(&problemName, "problem", "p", os.Getenv("FEATUREHUB_PROBLEM"), "problem name")
	flags.StringVarP(&userName, "user", "u", os.Getenv("USER"), "user name for local log lines")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log evaluation stages")

	for _, c := range []*cobra.Command{evaluateCmd, submitCmd} {
		c.Flags().StringSliceVarP(&imports, "import", "i", nil, "modules the feature imports (math, json)")
	}
	submitCmd.Flags().StringVarP(&description, "description", "d", "", "feature description (required)")
	discoverCmd.Flags().BoolVar(&includeSelf, "include-self", false, "include your own features")
	discoverCmd.Flags().BoolVar(&onlyMine, "mine", false, "list only your own features")
	discoverCmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of features to list")
	sampleCmd.Flags().IntVarP(&sampleRows, "rows", "n", 10, "rows per table (0 for all)")

	problemsCmd.AddCommand(problemsLoadCmd)
	rootCmd.AddCommand(evaluateCmd, submitCmd, discoverCmd, sampleCmd, problemsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Log.WithError(err).Error("featurehub failed")
		os.Exit(1)
	}
}
