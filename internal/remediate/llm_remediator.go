package remediate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"riskloop/internal/logging"
	"riskloop/internal/premortem"
)

const (
	specMarker = "=== SPEC ==="
	planMarker = "=== PLAN ==="
)

const remediationSystemPrompt = `You are a project risk engineer. You rewrite a project SPEC and PLAN to
mitigate the failure scenarios listed by a pre-mortem analysis. Keep the
documents' intent and structure; add concrete mitigations (buffers, test
strategy, rollback paths, monitoring, fallbacks) rather than vague promises.
Reply with the full rewritten documents under the exact markers
"` + specMarker + `" and "` + planMarker + `", nothing else.`

// LLMRemediator rewrites the SPEC/PLAN through an LLM collaborator.
type LLMRemediator struct {
	client LLMClient
}

// NewLLMRemediator wraps an LLM client as a Remediator.
func NewLLMRemediator(client LLMClient) *LLMRemediator {
	return &LLMRemediator{client: client}
}

// Remediate asks the LLM for rewritten documents. If the reply drops a
// section, the original text for that section is kept so the loop never
// loses a document to a malformed completion.
func (r *LLMRemediator) Remediate(ctx context.Context, spec, plan string, scenarios []premortem.FailureScenario) (Revision, error) {
	prompt := buildRemediationPrompt(spec, plan, scenarios)

	reply, err := r.client.CompleteWithSystem(ctx, remediationSystemPrompt, prompt)
	if err != nil {
		return Revision{}, fmt.Errorf("remediation completion: %w", err)
	}

	revision := parseRevision(reply)
	if revision.Spec == "" {
		logging.Remediate().Warn("completion missing SPEC section, keeping original")
		revision.Spec = spec
	}
	if revision.Plan == "" {
		logging.Remediate().Warn("completion missing PLAN section, keeping original")
		revision.Plan = plan
	}

	logging.Remediate().Debug("documents rewritten",
		zap.Int("scenarios", len(scenarios)),
		zap.Int("spec_bytes", len(revision.Spec)),
		zap.Int("plan_bytes", len(revision.Plan)))
	return revision, nil
}

// buildRemediationPrompt lists scenarios worst-first so the model addresses
// the highest tiers even if it truncates.
func buildRemediationPrompt(spec, plan string, scenarios []premortem.FailureScenario) string {
	ordered := make([]premortem.FailureScenario, len(scenarios))
	copy(ordered, scenarios)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].RiskScore > ordered[j].RiskScore
	})

	var b strings.Builder
	b.WriteString("Failure scenarios to mitigate:\n")
	for _, s := range ordered {
		fmt.Fprintf(&b, "- [%s] %s (probability %.2f, impact %s)\n",
			s.Priority, s.Description, s.Probability, s.Impact)
	}
	b.WriteString("\nCurrent documents:\n\n")
	b.WriteString(specMarker + "\n")
	b.WriteString(spec)
	b.WriteString("\n" + planMarker + "\n")
	b.WriteString(plan)
	return b.String()
}

// parseRevision extracts the marked sections from a completion.
func parseRevision(reply string) Revision {
	var rev Revision
	specIdx := strings.Index(reply, specMarker)
	planIdx := strings.Index(reply, planMarker)
	if specIdx >= 0 {
		end := len(reply)
		if planIdx > specIdx {
			end = planIdx
		}
		rev.Spec = strings.TrimSpace(reply[specIdx+len(specMarker) : end])
	}
	if planIdx >= 0 {
		rev.Plan = strings.TrimSpace(reply[planIdx+len(planMarker):])
	}
	return rev
}
