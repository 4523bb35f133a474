// Package remediate rewrites a SPEC/PLAN pair to address the failure
// scenarios surfaced by a pre-mortem pass. Two implementations are provided:
// an LLM-backed collaborator and a deterministic rule-based fallback for
// offline use.
package remediate

import (
	"context"

	"riskloop/internal/premortem"
)

// Revision is a rewritten SPEC/PLAN pair.
type Revision struct {
	Spec string
	Plan string
}

// Remediator rewrites project documents to mitigate the given scenarios.
type Remediator interface {
	Remediate(ctx context.Context, spec, plan string, scenarios []premortem.FailureScenario) (Revision, error)
}
