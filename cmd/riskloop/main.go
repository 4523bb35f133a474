package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"riskloop/internal/config"
	"riskloop/internal/logging"
)

var version = "1.0.0"

var (
	// Global flags
	configPath string
	verbose    bool
	dbPath     string

	// Loaded in PersistentPreRunE, shared by all commands
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "riskloop",
	Short: "riskloop - iterative pre-mortem convergence for project plans",
	Long: `riskloop drives a project's SPEC and PLAN documents through an
iterative risk-reduction loop: gather evidence, run a pre-mortem analysis
against a catalog of failure heuristics, and remediate the documents until
the estimated failure rate drops below target.

Examples:
  riskloop run --spec spec.md --plan plan.md --project payments
  riskloop analyze --spec spec.md --plan plan.md
  riskloop history
  riskloop history <run-id>`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if dbPath != "" {
			cfg.Store.DBPath = dbPath
		}
		return logging.Init(cfg.Logging)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the riskloop version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("riskloop %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".riskloop/config.yaml", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Override run history database path")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
