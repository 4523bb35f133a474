package premortem

import (
	"regexp"
	"strings"
)

// Detector is a pure heuristic over the SPEC/PLAN text. It returns nil when
// it does not fire. Detectors must be total: no panics, no side effects.
type Detector struct {
	Name string
	Run  func(spec, plan string) *FailureScenario
}

var (
	durationRe       = regexp.MustCompile(`(?i)\b\d+\s*(?:day|week|month)s?\b`)
	bufferRe         = regexp.MustCompile(`(?i)\b(?:contingency|buffer|slack|margin|padding)\b`)
	negatedBufferRe  = regexp.MustCompile(`(?i)\b(?:no|without|lacks?|zero)\s+(?:\w+\s+)?(?:contingency|buffer|slack|margin)`)
	testStrategyRe   = regexp.MustCompile(`(?i)\b(?:test|tests|testing|qa|verification|validation)\b`)
	vaguenessRe      = regexp.MustCompile(`(?i)\btbd\b|to be (?:determined|decided)|\bunclear\b|figure (?:this |it )?out later|\bsomehow\b`)
	deploymentRe     = regexp.MustCompile(`(?i)\b(?:deploy|deployment|release|rollout|migrat\w*)\b`)
	rollbackRe       = regexp.MustCompile(`(?i)\b(?:rollback|roll back|revert|backout|back-out)\b`)
	externalDepRe    = regexp.MustCompile(`(?i)third[- ]party|external (?:api|service|provider)|\bvendor\b`)
	guardRe          = regexp.MustCompile(`(?i)\b(?:fallback|retry|retries|timeout|circuit breaker|rate limit)\b`)
	destructiveRe    = regexp.MustCompile(`(?i)drop table|delete data|\bdestructive\b|\birreversible\b|truncate`)
	backupRe         = regexp.MustCompile(`(?i)\b(?:backup|snapshot|dry[- ]run|restore)\b`)
	launchRe         = regexp.MustCompile(`(?i)\b(?:production|launch|go[- ]live)\b`)
	monitoringRe     = regexp.MustCompile(`(?i)\b(?:monitor\w*|alert\w*|observab\w*|metric\w*|dashboards?)\b`)
	openEndedRe      = regexp.MustCompile(`(?i)\betc\b|and so on|and more\b|among others`)
)

// hasBuffer reports whether the plan genuinely provisions schedule slack.
// An explicit negation ("no contingency buffer") counts as absence even
// though the buffer keyword appears.
func hasBuffer(plan string) bool {
	return bufferRe.MatchString(plan) && !negatedBufferRe.MatchString(plan)
}

// DefaultDetectors is the fixed catalog scanned on every analysis pass.
// Each entry emits at most one scenario with a probability and impact tuned
// to that failure mode. The catalog is open for extension; scoring lives
// entirely in the analyzer, so new detectors do not change the aggregation
// contract.
func DefaultDetectors() []Detector {
	return []Detector{
		{
			Name: "aggressive-timeline",
			Run: func(spec, plan string) *FailureScenario {
				if durationRe.MatchString(plan) && !hasBuffer(plan) {
					return &FailureScenario{
						Description: "Aggressive timeline: the plan commits to an explicit duration with no contingency buffer for overruns",
						Probability: 0.7,
						Impact:      ImpactHigh,
					}
				}
				return nil
			},
		},
		{
			Name: "missing-test-strategy",
			Run: func(spec, plan string) *FailureScenario {
				if strings.TrimSpace(plan) != "" && !testStrategyRe.MatchString(plan) {
					return &FailureScenario{
						Description: "No testing strategy: the plan never mentions tests, QA, or verification before delivery",
						Probability: 0.6,
						Impact:      ImpactHigh,
					}
				}
				return nil
			},
		},
		{
			Name: "vague-requirements",
			Run: func(spec, plan string) *FailureScenario {
				if vaguenessRe.MatchString(spec) {
					return &FailureScenario{
						Description: "Vague requirements: the spec defers key decisions (TBD/unclear), inviting scope disputes mid-build",
						Probability: 0.5,
						Impact:      ImpactMedium,
					}
				}
				return nil
			},
		},
		{
			Name: "no-rollback-path",
			Run: func(spec, plan string) *FailureScenario {
				if deploymentRe.MatchString(plan) && !rollbackRe.MatchString(plan) {
					return &FailureScenario{
						Description: "No rollback path: the plan ships a deployment or migration without a documented way back",
						Probability: 0.4,
						Impact:      ImpactHigh,
					}
				}
				return nil
			},
		},
		{
			Name: "unguarded-external-dependency",
			Run: func(spec, plan string) *FailureScenario {
				combined := spec + "\n" + plan
				if externalDepRe.MatchString(combined) && !guardRe.MatchString(combined) {
					return &FailureScenario{
						Description: "Unguarded external dependency: a third-party service is on the critical path with no fallback, retry, or timeout policy",
						Probability: 0.5,
						Impact:      ImpactMedium,
					}
				}
				return nil
			},
		},
		{
			Name: "destructive-data-change",
			Run: func(spec, plan string) *FailureScenario {
				if destructiveRe.MatchString(plan) && !backupRe.MatchString(plan) {
					return &FailureScenario{
						Description: "Destructive data change: the plan performs irreversible data operations without a backup or dry run",
						Probability: 0.3,
						Impact:      ImpactCritical,
					}
				}
				return nil
			},
		},
		{
			Name: "no-monitoring-at-launch",
			Run: func(spec, plan string) *FailureScenario {
				if launchRe.MatchString(plan) && !monitoringRe.MatchString(plan) {
					return &FailureScenario{
						Description: "Blind launch: the plan reaches production with no monitoring or alerting in place",
						Probability: 0.4,
						Impact:      ImpactMedium,
					}
				}
				return nil
			},
		},
		{
			Name: "open-ended-scope",
			Run: func(spec, plan string) *FailureScenario {
				if openEndedRe.MatchString(spec) {
					return &FailureScenario{
						Description: "Open-ended scope: the spec trails off (etc., and so on) instead of enumerating deliverables",
						Probability: 0.3,
						Impact:      ImpactLow,
					}
				}
				return nil
			},
		},
	}
}
