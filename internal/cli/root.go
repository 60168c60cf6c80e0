package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gkobilansky/abgoat/internal/config"
	"github.com/gkobilansky/abgoat/internal/logging"
	"github.com/gkobilansky/abgoat/internal/metrics"
)

const envConfigPath = "ABG_CONFIG"

// app carries the state shared by every command once flags are parsed.
type app struct {
	configPath string
	dbPath     string
	logLevel   string
	jsonOutput bool

	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Recorder
}

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	return (&app{}).rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "abg",
		Short: "abgoat - statistical analysis for A/B tests",
		Long: `abgoat records A/B test events and observations in an embedded SQLite
database and analyses them: frequentist and Bayesian tests, sequential
boundaries, multiple-comparison corrections, sample ratio mismatch,
novelty effects, CUPED and power planning.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", os.Getenv(envConfigPath), "path to a YAML config file")
	flags.StringVar(&a.dbPath, "db", "", "database path (overrides config)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.BoolVar(&a.jsonOutput, "json", false, "print results as JSON")

	rootCmd.AddCommand(
		newCreateCmd(a),
		newListCmd(a),
		newResultsCmd(a),
		newWinnerCmd(a),
		newStateCmd(a),
		newDeleteCmd(a),
		newRecordCmd(a),
		newImportCmd(a),
		newReportCmd(a),
		newHistoryCmd(a),
		newBayesCmd(a),
		newSequentialCmd(a),
		newCorrectCmd(a),
		newSRMCmd(a),
		newPlanCmd(a),
		newExportCmd(a),
		newServeCmd(a),
		newTokenCmd(a),
	)
	return rootCmd
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.DBPath = a.dbPath
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.metrics = metrics.New()
	return nil
}
