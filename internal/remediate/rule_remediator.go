package remediate

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"riskloop/internal/logging"
	"riskloop/internal/premortem"
)

// mitigation maps a scenario family (matched by description keyword) to the
// clause appended to the relevant document. The clauses are phrased so the
// detector that raised the scenario no longer fires on the revised text.
type mitigation struct {
	keyword string
	toSpec  string
	toPlan  string
}

var mitigations = []mitigation{
	{
		keyword: "timeline",
		toPlan:  "Schedule includes a contingency buffer of one week per delivery milestone.",
	},
	{
		keyword: "testing",
		toPlan:  "Each milestone ends with automated test and QA verification gates.",
	},
	{
		keyword: "rollback",
		toPlan:  "Every deployment and migration documents a tested rollback procedure.",
	},
	{
		keyword: "external dependency",
		toPlan:  "External calls get a timeout, bounded retry, and a fallback path.",
	},
	{
		keyword: "data change",
		toPlan:  "Destructive data operations run only after a verified backup and a dry run.",
	},
	{
		keyword: "monitoring",
		toPlan:  "Launch is gated on monitoring dashboards and alerting being live.",
	},
	{
		keyword: "requirements",
		toSpec:  "All previously deferred decisions are resolved; no TBD items remain.",
	},
	{
		keyword: "scope",
		toSpec:  "Deliverables are fully enumerated; nothing is left open-ended.",
	},
}

// RuleRemediator deterministically appends targeted mitigation clauses for
// each scenario. It is the offline fallback when no LLM is configured and
// the collaborator used by tests that need reproducible convergence.
type RuleRemediator struct{}

// NewRuleRemediator returns the deterministic remediator.
func NewRuleRemediator() *RuleRemediator {
	return &RuleRemediator{}
}

// Remediate appends one mitigation clause per matched scenario, skipping
// clauses already present so repeated passes stay idempotent.
func (r *RuleRemediator) Remediate(ctx context.Context, spec, plan string, scenarios []premortem.FailureScenario) (Revision, error) {
	if err := ctx.Err(); err != nil {
		return Revision{}, err
	}

	var specAdds, planAdds []string
	for _, scenario := range scenarios {
		desc := strings.ToLower(scenario.Description)
		for _, m := range mitigations {
			if !strings.Contains(desc, m.keyword) {
				continue
			}
			if m.toSpec != "" && !strings.Contains(spec, m.toSpec) && !contains(specAdds, m.toSpec) {
				specAdds = append(specAdds, m.toSpec)
			}
			if m.toPlan != "" && !strings.Contains(plan, m.toPlan) && !contains(planAdds, m.toPlan) {
				planAdds = append(planAdds, m.toPlan)
			}
		}
	}

	revision := Revision{
		Spec: appendSection(spec, "Clarifications", specAdds),
		Plan: appendSection(plan, "Risk mitigations", planAdds),
	}

	logging.Remediate().Debug("rule remediation applied",
		zap.Int("scenarios", len(scenarios)),
		zap.Int("spec_clauses", len(specAdds)),
		zap.Int("plan_clauses", len(planAdds)))
	return revision, nil
}

func appendSection(doc, title string, clauses []string) string {
	if len(clauses) == 0 {
		return doc
	}
	var b strings.Builder
	b.WriteString(doc)
	if doc != "" && !strings.HasSuffix(doc, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("\n## " + title + "\n")
	for _, c := range clauses {
		b.WriteString("- " + c + "\n")
	}
	return b.String()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
