// Package premortem turns a SPEC/PLAN pair plus prior evidence into a set of
// scored failure scenarios and an aggregate failure rate. The analysis is
// deterministic: the same inputs always produce the same result.
package premortem

// Impact buckets the blast radius of a failure scenario.
type Impact string

const (
	ImpactLow      Impact = "low"
	ImpactMedium   Impact = "medium"
	ImpactHigh     Impact = "high"
	ImpactCritical Impact = "critical"
)

// Priority is the discrete severity tier derived from probability and
// impact. P0 is the most severe.
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

// impactWeights is the fixed weighting table for aggregate scoring.
var impactWeights = map[Impact]float64{
	ImpactLow:      1,
	ImpactMedium:   5,
	ImpactHigh:     10,
	ImpactCritical: 20,
}

// ImpactWeight returns the scoring weight for an impact level.
// Unknown impacts weigh as medium.
func ImpactWeight(impact Impact) float64 {
	if w, ok := impactWeights[impact]; ok {
		return w
	}
	return impactWeights[ImpactMedium]
}

// maxImpactWeight anchors failure-rate normalization to the worst case.
const maxImpactWeight = 20

// FailureScenario is a single identified way the project could fail.
// Never mutated after creation; superseded on the next iteration.
type FailureScenario struct {
	Description string   `json:"description"`
	Probability float64  `json:"probability"` // 0.0-1.0
	Impact      Impact   `json:"impact"`
	Priority    Priority `json:"priority"`
	RiskScore   float64  `json:"risk_score"` // probability * impactWeight * 100
}

// Result aggregates one analysis pass.
type Result struct {
	Scenarios   []FailureScenario `json:"scenarios"`
	RiskScore   float64           `json:"risk_score"`   // unnormalized weighted sum
	FailureRate float64           `json:"failure_rate"` // 0-100
}

// ClassifyPriority derives the priority tier from probability and impact:
// critical is always P0; high splits on probability 0.5 into P1/P2; medium
// is P2; low is P3.
func ClassifyPriority(probability float64, impact Impact) Priority {
	switch impact {
	case ImpactCritical:
		return PriorityP0
	case ImpactHigh:
		if probability >= 0.5 {
			return PriorityP1
		}
		return PriorityP2
	case ImpactMedium:
		return PriorityP2
	default:
		return PriorityP3
	}
}
