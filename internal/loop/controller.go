package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"riskloop/internal/logging"
	"riskloop/internal/premortem"
	"riskloop/internal/remediate"
	"riskloop/internal/research"
)

// Caller-contract violations. These never corrupt state: Execute rejects
// cleanly and Pause/Resume in the wrong state are ignored.
var (
	ErrNotRunning      = errors.New("controller is not in running state")
	ErrExecuteInFlight = errors.New("an execution is already in flight")
)

// EvidenceGatherer is the ranked-search collaborator. A non-nil error marks
// a transient failure; the artifact slice is still usable.
type EvidenceGatherer interface {
	SearchCode(ctx context.Context, query string, limit int) ([]research.Artifact, error)
	SearchPapers(ctx context.Context, query string, limit int) ([]research.Artifact, error)
}

// RiskAnalyzer is the pre-mortem collaborator. An error is fatal to the run.
type RiskAnalyzer interface {
	Analyze(ctx context.Context, spec, plan string, artifacts []research.Artifact) (*premortem.Result, error)
}

// Deps bundles the collaborators a controller drives.
type Deps struct {
	Gatherer   EvidenceGatherer
	Analyzer   RiskAnalyzer
	Remediator remediate.Remediator
}

// Controller owns one convergence run for one project. All state mutation
// happens under the controller's mutex; external reads go through GetState's
// deep copy.
type Controller struct {
	mu   sync.Mutex
	cond *sync.Cond // signalled by Resume and by context cancellation

	state State
	opts  Options
	deps  Deps
	bus   *eventBus

	inFlight bool
	log      *zap.Logger
}

// New builds a controller in running state at iteration 0. It does not start
// execution; call Execute for that.
func New(projectID, spec, plan string, deps Deps, opts Options) (*Controller, error) {
	if projectID == "" {
		return nil, errors.New("project id required")
	}
	if deps.Gatherer == nil || deps.Analyzer == nil || deps.Remediator == nil {
		return nil, errors.New("all collaborators (gatherer, analyzer, remediator) are required")
	}

	opts = opts.withDefaults()
	now := time.Now()
	c := &Controller{
		state: State{
			ProjectID:          projectID,
			Spec:               spec,
			Plan:               plan,
			MaxIterations:      opts.MaxIterations,
			TargetFailureRate:  opts.TargetFailureRate,
			Status:             StatusRunning,
			FailureRateHistory: []float64{},
			StartedAt:          now,
			UpdatedAt:          now,
		},
		opts: opts,
		deps: deps,
		bus:  newEventBus(),
		log:  logging.Loop().With(zap.String("project", projectID)),
	}
	c.cond = sync.NewCond(&c.mu)
	return c, nil
}

// OnEvent registers a listener for every emitted event. Listeners run
// synchronously in registration order.
func (c *Controller) OnEvent(fn Listener) *Subscription {
	return c.bus.subscribe(fn)
}

// GetState returns a deep copy of the current state.
func (c *Controller) GetState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Pause requests suspension at the next checkpoint. Valid only while
// running; ignored otherwise. In-flight collaborator calls are never
// aborted, only the next checkpoint blocks.
func (c *Controller) Pause() {
	c.mu.Lock()
	if c.state.Status != StatusRunning {
		c.mu.Unlock()
		return
	}
	c.state.Status = StatusPaused
	c.state.UpdatedAt = time.Now()
	c.mu.Unlock()

	c.log.Info("paused")
	c.emit(EventPaused, PausedPayload{})
}

// Resume releases a paused controller. Valid only while paused; ignored
// otherwise.
func (c *Controller) Resume() {
	c.mu.Lock()
	if c.state.Status != StatusPaused {
		c.mu.Unlock()
		return
	}
	c.state.Status = StatusRunning
	c.state.UpdatedAt = time.Now()
	c.cond.Broadcast()
	c.mu.Unlock()

	c.log.Info("resumed")
	c.emit(EventResumed, ResumedPayload{})
}

// Execute drives the iteration loop until convergence, the iteration cap,
// or a collaborator failure. Single-flight per instance: a second concurrent
// call rejects immediately with no state mutation, as does a call on a
// controller that is not in running state.
func (c *Controller) Execute(ctx context.Context) (State, error) {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return State{}, ErrExecuteInFlight
	}
	if c.state.Status != StatusRunning {
		c.mu.Unlock()
		return State{}, fmt.Errorf("%w: status is %s", ErrNotRunning, c.state.Status)
	}
	c.inFlight = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	// A paused checkpoint waits on the condition variable, which cannot
	// observe ctx on its own. This watcher wakes all waiters on
	// cancellation so checkpoint can re-check ctx.Err.
	watcherDone := make(chan struct{})
	defer close(watcherDone)
	go func() {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.cond.Broadcast()
			c.mu.Unlock()
		case <-watcherDone:
		}
	}()

	c.log.Info("execution started",
		zap.Int("max_iterations", c.opts.MaxIterations),
		zap.Float64("target_failure_rate", c.opts.TargetFailureRate))

	if err := c.run(ctx); err != nil {
		return c.GetState(), err
	}
	return c.GetState(), nil
}

// run is the iteration loop. CurrentIteration counts completed iterations:
// it is incremented once the iteration's failure rate is recorded, so a run
// that converges on its fourth analysis ends with CurrentIteration == 4.
func (c *Controller) run(ctx context.Context) error {
	for {
		c.mu.Lock()
		iteration := c.state.CurrentIteration
		maxIterations := c.state.MaxIterations
		target := c.state.TargetFailureRate
		spec, plan := c.state.Spec, c.state.Plan
		c.mu.Unlock()

		if iteration >= maxIterations {
			break
		}

		c.emit(EventIterationStart, IterationStartPayload{Iteration: iteration})
		if err := c.checkpoint(ctx); err != nil {
			return c.fail("checkpoint", err)
		}

		// Evidence gathering degrades, never aborts: transient source
		// failures surface as warnings on the research-complete event.
		artifacts, warnings := c.gatherEvidence(ctx, spec, plan)
		c.emit(EventResearchComplete, ResearchCompletePayload{
			ArtifactCount: len(artifacts),
			Warnings:      warnings,
		})
		if err := c.checkpoint(ctx); err != nil {
			return c.fail("checkpoint", err)
		}

		result, err := c.analyze(ctx, spec, plan, artifacts)
		if err != nil {
			return c.fail("premortem", err)
		}

		c.mu.Lock()
		c.state.FailureRateHistory = append(c.state.FailureRateHistory, result.FailureRate)
		c.state.CurrentIteration++
		completed := c.state.CurrentIteration
		c.state.UpdatedAt = time.Now()
		c.mu.Unlock()

		c.emit(EventPremortemComplete, PremortemCompletePayload{
			FailureRate: result.FailureRate,
			Scenarios:   result.Scenarios,
		})

		c.log.Info("iteration analyzed",
			zap.Int("iteration", completed),
			zap.Float64("failure_rate", result.FailureRate),
			zap.Int("scenarios", len(result.Scenarios)))

		if result.FailureRate < target {
			c.transitionTo(StatusCompleted)
			c.emit(EventLoopComplete, LoopCompletePayload{
				Iteration:   completed,
				FailureRate: result.FailureRate,
				Converged:   true,
			})
			c.log.Info("converged", zap.Int("iterations", completed))
			return nil
		}

		if err := c.checkpoint(ctx); err != nil {
			return c.fail("checkpoint", err)
		}

		revision, err := c.remediate(ctx, spec, plan, result.Scenarios)
		if err != nil {
			return c.fail("remediation", err)
		}

		c.mu.Lock()
		c.state.Spec = revision.Spec
		c.state.Plan = revision.Plan
		c.state.UpdatedAt = time.Now()
		c.mu.Unlock()

		c.emit(EventRemediationComplete, RemediationCompletePayload{})
	}

	// Iteration cap reached without convergence: a soft stop with a
	// best-effort result, not an error.
	c.mu.Lock()
	completed := c.state.CurrentIteration
	lastRate := 0.0
	if n := len(c.state.FailureRateHistory); n > 0 {
		lastRate = c.state.FailureRateHistory[n-1]
	}
	c.mu.Unlock()

	c.transitionTo(StatusCompleted)
	c.emit(EventLoopComplete, LoopCompletePayload{
		Iteration:   completed,
		FailureRate: lastRate,
		Converged:   false,
	})
	c.log.Warn("iteration cap reached without convergence",
		zap.Int("iterations", completed),
		zap.Float64("last_failure_rate", lastRate))
	return nil
}

// checkpoint is the cooperative yield point: it blocks while paused and
// returns once running again. Context cancellation releases the wait and
// fails the run.
func (c *Controller) checkpoint(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.state.Status == StatusPaused {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.cond.Wait()
	}
	return ctx.Err()
}

// fail marks the run failed and surfaces the cause on both channels: the
// error event for observers and the returned error for the caller.
func (c *Controller) fail(phase string, cause error) error {
	c.transitionTo(StatusFailed)
	c.emit(EventError, ErrorPayload{Phase: phase, Cause: cause})
	c.log.Error("execution failed", zap.String("phase", phase), zap.Error(cause))
	return fmt.Errorf("%s: %w", phase, cause)
}

// transitionTo moves to a terminal-or-running status. Terminal states are
// sticky: once completed or failed, nothing transitions out.
func (c *Controller) transitionTo(status Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status.Terminal() {
		return
	}
	c.state.Status = status
	c.state.UpdatedAt = time.Now()
}

func (c *Controller) emit(eventType EventType, payload any) {
	c.bus.publish(Event{
		Type:      eventType,
		ProjectID: c.state.ProjectID,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

// gatherEvidence fans out to both sources. Per-source failures become
// warnings; the returned slice is always usable.
func (c *Controller) gatherEvidence(ctx context.Context, spec, plan string) ([]research.Artifact, []string) {
	query := research.BuildQuery(spec, plan)
	if query == "" {
		return nil, nil
	}

	callCtx, cancel := c.collaboratorContext(ctx)
	defer cancel()

	var (
		codeArtifacts  []research.Artifact
		paperArtifacts []research.Artifact
		codeErr        error
		paperErr       error
	)
	// Source errors are captured, not returned: one degraded source must not
	// cancel the other's search.
	g, gctx := errgroup.WithContext(callCtx)
	g.Go(func() error {
		codeArtifacts, codeErr = c.deps.Gatherer.SearchCode(gctx, query, c.opts.EvidenceLimit)
		return nil
	})
	g.Go(func() error {
		paperArtifacts, paperErr = c.deps.Gatherer.SearchPapers(gctx, query, c.opts.EvidenceLimit)
		return nil
	})
	_ = g.Wait()

	var warnings []string
	if codeErr != nil {
		warnings = append(warnings, fmt.Sprintf("code search degraded: %v", codeErr))
	}
	if paperErr != nil {
		warnings = append(warnings, fmt.Sprintf("paper search degraded: %v", paperErr))
	}
	return research.Merge(codeArtifacts, paperArtifacts), warnings
}

func (c *Controller) analyze(ctx context.Context, spec, plan string, artifacts []research.Artifact) (*premortem.Result, error) {
	callCtx, cancel := c.collaboratorContext(ctx)
	defer cancel()
	return c.deps.Analyzer.Analyze(callCtx, spec, plan, artifacts)
}

func (c *Controller) remediate(ctx context.Context, spec, plan string, scenarios []premortem.FailureScenario) (remediate.Revision, error) {
	callCtx, cancel := c.collaboratorContext(ctx)
	defer cancel()
	return c.deps.Remediator.Remediate(callCtx, spec, plan, scenarios)
}

// collaboratorContext applies the per-call timeout when configured. A
// timeout is a collaborator failure, not a special controller state.
func (c *Controller) collaboratorContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.CollaboratorTimeout > 0 {
		return context.WithTimeout(ctx, c.opts.CollaboratorTimeout)
	}
	return context.WithCancel(ctx)
}
