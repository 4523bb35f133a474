package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"riskloop/internal/premortem"
)

var (
	analyzeSpecPath string
	analyzePlanPath string
)

// analyzeCmd runs a single pre-mortem pass without touching the loop or the
// history store. Useful for a quick risk read on a document pair.
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run a one-shot pre-mortem analysis",
	Long: `Scans the SPEC and PLAN against the failure heuristic catalog and
prints the detected scenarios with their estimated failure rate. No
evidence gathering, no remediation, nothing is persisted.`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeSpecPath, "spec", "", "Path to the SPEC document (required)")
	analyzeCmd.Flags().StringVar(&analyzePlanPath, "plan", "", "Path to the PLAN document (required)")
	_ = analyzeCmd.MarkFlagRequired("spec")
	_ = analyzeCmd.MarkFlagRequired("plan")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	spec, err := os.ReadFile(analyzeSpecPath)
	if err != nil {
		return fmt.Errorf("read spec: %w", err)
	}
	plan, err := os.ReadFile(analyzePlanPath)
	if err != nil {
		return fmt.Errorf("read plan: %w", err)
	}

	result, err := buildAnalyzer().Analyze(cmd.Context(), string(spec), string(plan), nil)
	if err != nil {
		return err
	}

	if len(result.Scenarios) == 0 {
		fmt.Println("No failure scenarios detected.")
		return nil
	}

	fmt.Printf("%-4s %-9s %-6s %-6s %s\n", "PRI", "IMPACT", "PROB", "RISK", "SCENARIO")
	for _, s := range result.Scenarios {
		fmt.Printf("%-4s %-9s %-6.2f %-6.0f %s\n",
			s.Priority, s.Impact, s.Probability, s.RiskScore, s.Description)
	}
	fmt.Printf("\nEstimated failure rate: %.1f%%\n", result.FailureRate)
	return nil
}

func buildAnalyzer() *premortem.Analyzer {
	return premortem.NewAnalyzer()
}
