package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"riskloop/internal/store"
)

var historyLimit int

// historyCmd inspects past convergence runs.
var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List past runs or show one run's iteration history",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of runs to list")
}

func runHistory(cmd *cobra.Command, args []string) error {
	runStore, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		return err
	}
	defer runStore.Close()

	if len(args) == 1 {
		return showRun(cmd, runStore, args[0])
	}

	runs, err := runStore.ListRuns(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	fmt.Printf("%-36s %-16s %-10s %-5s %-6s %s\n", "RUN", "PROJECT", "STATUS", "ITER", "RATE", "STARTED")
	for _, r := range runs {
		fmt.Printf("%-36s %-16s %-10s %-5d %-6.1f %s\n",
			r.ID, r.ProjectID, r.Status, r.Iterations, r.FinalRate,
			r.StartedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func showRun(cmd *cobra.Command, runStore *store.RunStore, runID string) error {
	run, err := runStore.GetRun(cmd.Context(), runID)
	if err != nil {
		return err
	}

	fmt.Printf("Run %s\n", run.ID)
	fmt.Printf("  project:    %s\n", run.ProjectID)
	fmt.Printf("  status:     %s\n", run.Status)
	fmt.Printf("  converged:  %v\n", run.Converged)
	fmt.Printf("  iterations: %d\n", run.Iterations)
	fmt.Printf("  final rate: %.1f%%\n", run.FinalRate)

	records, err := runStore.ListIterations(cmd.Context(), run.ID)
	if err != nil {
		return err
	}
	if len(records) > 0 {
		fmt.Println("  history:")
		for _, rec := range records {
			fmt.Printf("    %2d: %.1f%% (%d scenarios)\n", rec.Iteration, rec.FailureRate, rec.Scenarios)
		}
	}
	return nil
}
