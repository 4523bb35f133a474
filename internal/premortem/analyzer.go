package premortem

import (
	"context"

	"go.uber.org/zap"

	"riskloop/internal/logging"
	"riskloop/internal/research"
)

// evidenceDampingStep is how much each gathered artifact lowers scenario
// probability, up to evidenceDampingCap. Prior evidence means the team has
// looked at how others solved the problem, which shaves estimated risk
// without ever erasing a scenario.
const (
	evidenceDampingStep = 0.01
	evidenceDampingCap  = 0.05
	probabilityFloor    = 0.05
)

// Analyzer runs the detector catalog and aggregates the results.
type Analyzer struct {
	detectors []Detector
}

// NewAnalyzer builds an analyzer. With no arguments it uses the default
// detector catalog.
func NewAnalyzer(detectors ...Detector) *Analyzer {
	if len(detectors) == 0 {
		detectors = DefaultDetectors()
	}
	return &Analyzer{detectors: detectors}
}

// Analyze scans the SPEC/PLAN text with every registered detector, derives
// priorities, and computes the aggregate failure rate:
//
//	failureRate = 100 * Σ riskScore_i / (N * maxImpactWeight * 100)
//
// clamped to [0,100], where riskScore_i = probability_i * weight_i * 100 and
// N is the scenario count. Zero scenarios yield a failure rate of 0. All
// fired scenarios are returned unfiltered; overlapping detectors are counted
// independently.
func (a *Analyzer) Analyze(ctx context.Context, spec, plan string, artifacts []research.Artifact) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	damping := evidenceDampingStep * float64(len(artifacts))
	if damping > evidenceDampingCap {
		damping = evidenceDampingCap
	}

	result := &Result{Scenarios: []FailureScenario{}}
	for _, detector := range a.detectors {
		scenario := detector.Run(spec, plan)
		if scenario == nil {
			continue
		}

		scenario.Probability -= damping
		if scenario.Probability < probabilityFloor {
			scenario.Probability = probabilityFloor
		}
		scenario.Priority = ClassifyPriority(scenario.Probability, scenario.Impact)
		scenario.RiskScore = scenario.Probability * ImpactWeight(scenario.Impact) * 100

		result.Scenarios = append(result.Scenarios, *scenario)
		result.RiskScore += scenario.RiskScore
	}

	if n := len(result.Scenarios); n > 0 {
		result.FailureRate = 100 * result.RiskScore / (float64(n) * maxImpactWeight * 100)
		if result.FailureRate < 0 {
			result.FailureRate = 0
		}
		if result.FailureRate > 100 {
			result.FailureRate = 100
		}
	}

	logging.Premortem().Debug("analysis complete",
		zap.Int("scenarios", len(result.Scenarios)),
		zap.Float64("failure_rate", result.FailureRate))
	return result, nil
}
