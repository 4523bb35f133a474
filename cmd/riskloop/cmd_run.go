package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"riskloop/internal/loop"
	"riskloop/internal/remediate"
	"riskloop/internal/research"
	"riskloop/internal/store"
)

var (
	runSpecPath string
	runPlanPath string
	runProject  string
	runOffline  bool
	runMaxIter  int
	runTarget   float64
	runOutDir   string
)

// runCmd drives a full convergence run and records it in the history store.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the convergence loop over a SPEC and PLAN",
	Long: `Runs the full loop: each iteration gathers evidence, analyzes failure
scenarios, and either remediates the documents or stops once the failure
rate is below target.

Remediation uses the configured LLM provider when an API key is set;
--offline forces the deterministic rule-based remediator.

Examples:
  riskloop run --spec spec.md --plan plan.md --project payments
  riskloop run --spec spec.md --plan plan.md --offline --target 10
  riskloop run --spec spec.md --plan plan.md --out ./revised/`,
	RunE: runConvergence,
}

func init() {
	runCmd.Flags().StringVar(&runSpecPath, "spec", "", "Path to the SPEC document (required)")
	runCmd.Flags().StringVar(&runPlanPath, "plan", "", "Path to the PLAN document (required)")
	runCmd.Flags().StringVar(&runProject, "project", "", "Project identifier (default: spec file basename)")
	runCmd.Flags().BoolVar(&runOffline, "offline", false, "Use the rule-based remediator instead of the LLM")
	runCmd.Flags().IntVar(&runMaxIter, "max-iterations", 0, "Override the iteration cap")
	runCmd.Flags().Float64Var(&runTarget, "target", 0, "Override the target failure rate (0-100)")
	runCmd.Flags().StringVar(&runOutDir, "out", "", "Directory to write the revised documents into")
	_ = runCmd.MarkFlagRequired("spec")
	_ = runCmd.MarkFlagRequired("plan")
}

func runConvergence(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	spec, err := os.ReadFile(runSpecPath)
	if err != nil {
		return fmt.Errorf("read spec: %w", err)
	}
	plan, err := os.ReadFile(runPlanPath)
	if err != nil {
		return fmt.Errorf("read plan: %w", err)
	}

	project := runProject
	if project == "" {
		project = strings.TrimSuffix(filepath.Base(runSpecPath), filepath.Ext(runSpecPath))
	}

	opts := loop.Options{
		MaxIterations:       cfg.Loop.MaxIterations,
		TargetFailureRate:   cfg.Loop.TargetFailureRate,
		EvidenceLimit:       cfg.Loop.EvidenceLimit,
		CollaboratorTimeout: cfg.CollaboratorTimeout(),
	}
	if runMaxIter > 0 {
		opts.MaxIterations = runMaxIter
	}
	if runTarget > 0 {
		opts.TargetFailureRate = runTarget
	}

	controller, err := loop.New(project, string(spec), string(plan), loop.Deps{
		Gatherer:   buildGatherer(),
		Analyzer:   buildAnalyzer(),
		Remediator: buildRemediator(),
	}, opts)
	if err != nil {
		return err
	}

	runStore, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		return err
	}
	defer runStore.Close()

	run, err := runStore.CreateRun(ctx, project, string(spec), string(plan))
	if err != nil {
		return err
	}
	fmt.Printf("Run %s started for project %q (max %d iterations, target %.1f%%)\n",
		run.ID, project, opts.MaxIterations, opts.TargetFailureRate)

	iteration := 0
	sub := controller.OnEvent(func(e loop.Event) {
		switch p := e.Payload.(type) {
		case loop.IterationStartPayload:
			fmt.Printf("--- iteration %d ---\n", p.Iteration+1)
		case loop.ResearchCompletePayload:
			fmt.Printf("  evidence: %d artifacts\n", p.ArtifactCount)
			for _, w := range p.Warnings {
				fmt.Printf("  warning: %s\n", w)
			}
		case loop.PremortemCompletePayload:
			iteration++
			fmt.Printf("  failure rate: %.1f%% (%d scenarios)\n", p.FailureRate, len(p.Scenarios))
			if err := runStore.RecordIteration(ctx, run.ID, iteration, p.FailureRate, len(p.Scenarios)); err != nil {
				fmt.Fprintf(os.Stderr, "  history write failed: %v\n", err)
			}
		case loop.RemediationCompletePayload:
			fmt.Println("  documents revised")
		case loop.LoopCompletePayload:
			if p.Converged {
				fmt.Printf("Converged after %d iteration(s) at %.1f%%\n", p.Iteration, p.FailureRate)
			} else {
				fmt.Printf("Stopped at iteration cap (%d) without convergence; last rate %.1f%%\n",
					p.Iteration, p.FailureRate)
			}
		case loop.ErrorPayload:
			fmt.Fprintf(os.Stderr, "Failed during %s: %v\n", p.Phase, p.Cause)
		}
	})
	defer sub.Unsubscribe()

	finalState, execErr := controller.Execute(ctx)

	var converged bool
	if n := len(finalState.FailureRateHistory); execErr == nil && n > 0 {
		converged = finalState.FailureRateHistory[n-1] < opts.TargetFailureRate
	}
	if err := runStore.FinishRun(context.Background(), run.ID, string(finalState.Status),
		converged, finalState.Spec, finalState.Plan); err != nil {
		fmt.Fprintf(os.Stderr, "history write failed: %v\n", err)
	}

	if execErr != nil {
		return execErr
	}

	if runOutDir != "" {
		if err := writeRevisedDocs(finalState); err != nil {
			return err
		}
		fmt.Printf("Revised documents written to %s\n", runOutDir)
	}
	return nil
}

func writeRevisedDocs(state loop.State) error {
	if err := os.MkdirAll(runOutDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	specOut := filepath.Join(runOutDir, filepath.Base(runSpecPath))
	if err := os.WriteFile(specOut, []byte(state.Spec), 0o644); err != nil {
		return fmt.Errorf("write revised spec: %w", err)
	}
	planOut := filepath.Join(runOutDir, filepath.Base(runPlanPath))
	if err := os.WriteFile(planOut, []byte(state.Plan), 0o644); err != nil {
		return fmt.Errorf("write revised plan: %w", err)
	}
	return nil
}

func buildGatherer() *research.Gatherer {
	code := research.NewGitHubSource(research.GitHubConfig{
		BaseURL:   cfg.Research.GitHubBaseURL,
		Token:     cfg.Research.GitHubToken,
		Timeout:   cfg.ResearchTimeout(),
		UserAgent: cfg.Research.UserAgent,
	})
	papers := research.NewArxivSource(research.ArxivConfig{
		BaseURL:   cfg.Research.ArxivBaseURL,
		Timeout:   cfg.ResearchTimeout(),
		UserAgent: cfg.Research.UserAgent,
	})
	return research.NewGatherer(code, papers)
}

func buildRemediator() remediate.Remediator {
	if runOffline || cfg.LLM.APIKey == "" {
		return remediate.NewRuleRemediator()
	}
	client := remediate.NewAnthropicClient(remediate.AnthropicConfig{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLMTimeout(),
	})
	return remediate.NewLLMRemediator(client)
}
