package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"riskloop/internal/premortem"
	"riskloop/internal/remediate"
	"riskloop/internal/research"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubGatherer returns canned artifacts, optionally with a transient error.
type stubGatherer struct {
	artifacts []research.Artifact
	err       error
}

func (g *stubGatherer) SearchCode(ctx context.Context, query string, limit int) ([]research.Artifact, error) {
	return g.artifacts, g.err
}

func (g *stubGatherer) SearchPapers(ctx context.Context, query string, limit int) ([]research.Artifact, error) {
	return nil, nil
}

// stubAnalyzer replays a fixed failure-rate sequence, one rate per call.
// The last rate repeats if the loop outlives the script.
type stubAnalyzer struct {
	mu    sync.Mutex
	rates []float64
	calls int
	err   error
	gate  chan struct{} // when set, each call waits for one receive
}

func (a *stubAnalyzer) Analyze(ctx context.Context, spec, plan string, artifacts []research.Artifact) (*premortem.Result, error) {
	if a.gate != nil {
		select {
		case <-a.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.err != nil {
		return nil, a.err
	}
	a.mu.Lock()
	idx := a.calls
	a.calls++
	a.mu.Unlock()
	if idx >= len(a.rates) {
		idx = len(a.rates) - 1
	}
	rate := a.rates[idx]
	return &premortem.Result{
		Scenarios: []premortem.FailureScenario{{
			Description: "synthetic scenario",
			Probability: 0.5,
			Impact:      premortem.ImpactHigh,
			Priority:    premortem.PriorityP1,
			RiskScore:   500,
		}},
		RiskScore:   500,
		FailureRate: rate,
	}, nil
}

// stubRemediator appends a marker so document evolution is observable.
type stubRemediator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *stubRemediator) Remediate(ctx context.Context, spec, plan string, scenarios []premortem.FailureScenario) (remediate.Revision, error) {
	if r.err != nil {
		return remediate.Revision{}, r.err
	}
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return remediate.Revision{Spec: spec + " [revised]", Plan: plan + " [revised]"}, nil
}

// recorder collects events for assertion.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) count(t EventType) int {
	n := 0
	for _, et := range r.types() {
		if et == t {
			n++
		}
	}
	return n
}

func (r *recorder) last(t EventType) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == t {
			return r.events[i], true
		}
	}
	return Event{}, false
}

func newController(t *testing.T, analyzer *stubAnalyzer, opts Options) (*Controller, *stubRemediator, *recorder) {
	t.Helper()
	rem := &stubRemediator{}
	c, err := New("proj-"+t.Name(), "spec text", "plan text", Deps{
		Gatherer:   &stubGatherer{},
		Analyzer:   analyzer,
		Remediator: rem,
	}, opts)
	require.NoError(t, err)
	rec := &recorder{}
	c.OnEvent(rec.listen)
	return c, rem, rec
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New("p", "s", "pl", Deps{}, Options{})
	require.Error(t, err)

	_, err = New("", "s", "pl", Deps{
		Gatherer:   &stubGatherer{},
		Analyzer:   &stubAnalyzer{rates: []float64{0}},
		Remediator: &stubRemediator{},
	}, Options{})
	require.Error(t, err)
}

func TestExecute_ConvergesOnFourthIteration(t *testing.T) {
	analyzer := &stubAnalyzer{rates: []float64{80, 40, 10, 4}}
	c, rem, rec := newController(t, analyzer, Options{MaxIterations: 10, TargetFailureRate: 5})

	state, err := c.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, 4, state.CurrentIteration)
	assert.Equal(t, []float64{80, 40, 10, 4}, state.FailureRateHistory)
	assert.Equal(t, 3, rem.calls)

	final, ok := rec.last(EventLoopComplete)
	require.True(t, ok)
	payload := final.Payload.(LoopCompletePayload)
	assert.True(t, payload.Converged)
	assert.Equal(t, 4, payload.Iteration)
	assert.InDelta(t, 4, payload.FailureRate, 1e-9)
}

func TestExecute_EventPhaseOrder(t *testing.T) {
	analyzer := &stubAnalyzer{rates: []float64{50, 1}}
	c, _, rec := newController(t, analyzer, Options{})

	_, err := c.Execute(context.Background())
	require.NoError(t, err)

	want := []EventType{
		EventIterationStart, EventResearchComplete, EventPremortemComplete, EventRemediationComplete,
		EventIterationStart, EventResearchComplete, EventPremortemComplete, EventLoopComplete,
	}
	assert.Equal(t, want, rec.types())
}

func TestExecute_SoftStopAtIterationCap(t *testing.T) {
	analyzer := &stubAnalyzer{rates: []float64{80}}
	c, _, rec := newController(t, analyzer, Options{MaxIterations: 3})

	state, err := c.Execute(context.Background())
	require.NoError(t, err)

	// Non-convergence is a soft stop, not an error.
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, 3, state.CurrentIteration)
	assert.Len(t, state.FailureRateHistory, 3)

	final, ok := rec.last(EventLoopComplete)
	require.True(t, ok)
	payload := final.Payload.(LoopCompletePayload)
	assert.False(t, payload.Converged)
	assert.Equal(t, 3, payload.Iteration)
	assert.InDelta(t, 80, payload.FailureRate, 1e-9)
}

func TestExecute_IterationNeverExceedsMax(t *testing.T) {
	analyzer := &stubAnalyzer{rates: []float64{99}}
	c, _, _ := newController(t, analyzer, Options{MaxIterations: 5})

	done := make(chan struct{})
	var maxObserved int
	go func() {
		defer close(done)
		for {
			state := c.GetState()
			if state.CurrentIteration > maxObserved {
				maxObserved = state.CurrentIteration
			}
			if state.Status.Terminal() {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	state, err := c.Execute(context.Background())
	require.NoError(t, err)
	<-done
	assert.Equal(t, 5, state.CurrentIteration)
	assert.LessOrEqual(t, maxObserved, 5)
}

func TestExecute_AnalyzerFailureFirstIteration(t *testing.T) {
	analyzer := &stubAnalyzer{err: errors.New("model unavailable")}
	c, _, rec := newController(t, analyzer, Options{})

	state, err := c.Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "premortem")

	assert.Equal(t, StatusFailed, state.Status)
	// Dual channel: events were emitted before the rejection.
	assert.NotEmpty(t, rec.types())
	assert.Equal(t, 1, rec.count(EventIterationStart))

	errEvent, ok := rec.last(EventError)
	require.True(t, ok)
	payload := errEvent.Payload.(ErrorPayload)
	assert.Equal(t, "premortem", payload.Phase)
	assert.ErrorContains(t, payload.Cause, "model unavailable")
}

func TestExecute_RemediatorFailure(t *testing.T) {
	analyzer := &stubAnalyzer{rates: []float64{80}}
	rem := &stubRemediator{err: errors.New("provider down")}
	c, err := New("proj", "s", "p", Deps{
		Gatherer:   &stubGatherer{},
		Analyzer:   analyzer,
		Remediator: rem,
	}, Options{})
	require.NoError(t, err)
	rec := &recorder{}
	c.OnEvent(rec.listen)

	state, execErr := c.Execute(context.Background())
	require.Error(t, execErr)
	assert.Equal(t, StatusFailed, state.Status)

	errEvent, ok := rec.last(EventError)
	require.True(t, ok)
	assert.Equal(t, "remediation", errEvent.Payload.(ErrorPayload).Phase)
}

func TestExecute_TransientEvidenceFailureProceeds(t *testing.T) {
	analyzer := &stubAnalyzer{rates: []float64{1}}
	rem := &stubRemediator{}
	c, err := New("proj", "s", "p", Deps{
		Gatherer:   &stubGatherer{err: errors.New("connection reset")},
		Analyzer:   analyzer,
		Remediator: rem,
	}, Options{})
	require.NoError(t, err)
	rec := &recorder{}
	c.OnEvent(rec.listen)

	state, err := c.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Status)

	research, ok := rec.last(EventResearchComplete)
	require.True(t, ok)
	payload := research.Payload.(ResearchCompletePayload)
	assert.Zero(t, payload.ArtifactCount)
	require.NotEmpty(t, payload.Warnings)
	assert.Contains(t, payload.Warnings[0], "code search degraded")
}

func TestExecute_SingleFlight(t *testing.T) {
	gate := make(chan struct{})
	analyzer := &stubAnalyzer{rates: []float64{1}, gate: gate}
	c, _, rec := newController(t, analyzer, Options{})

	results := make(chan error, 1)
	go func() {
		_, err := c.Execute(context.Background())
		results <- err
	}()

	// Wait until the first call is provably inside the analyzer, then a
	// second call must reject without touching state.
	require.Eventually(t, func() bool {
		return rec.count(EventResearchComplete) == 1
	}, time.Second, 5*time.Millisecond)
	_, err := c.Execute(context.Background())
	require.ErrorIs(t, err, ErrExecuteInFlight)

	close(gate)
	require.NoError(t, <-results)

	// After completion the controller is terminal, not re-runnable.
	_, err = c.Execute(context.Background())
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestPauseResume_Idempotent(t *testing.T) {
	analyzer := &stubAnalyzer{rates: []float64{1}}
	c, _, rec := newController(t, analyzer, Options{})

	c.Pause()
	c.Pause()
	assert.Equal(t, StatusPaused, c.GetState().Status)
	assert.Equal(t, 1, rec.count(EventPaused))

	c.Resume()
	c.Resume()
	assert.Equal(t, StatusRunning, c.GetState().Status)
	assert.Equal(t, 1, rec.count(EventResumed))
}

func TestPause_IgnoredWhenTerminal(t *testing.T) {
	analyzer := &stubAnalyzer{rates: []float64{1}}
	c, _, rec := newController(t, analyzer, Options{})

	_, err := c.Execute(context.Background())
	require.NoError(t, err)

	c.Pause()
	c.Resume()
	assert.Equal(t, StatusCompleted, c.GetState().Status)
	assert.Zero(t, rec.count(EventPaused))
	assert.Zero(t, rec.count(EventResumed))
}

func TestExecute_RejectsWhenPausedBeforeStart(t *testing.T) {
	analyzer := &stubAnalyzer{rates: []float64{1}}
	c, _, _ := newController(t, analyzer, Options{})

	c.Pause()
	_, err := c.Execute(context.Background())
	require.ErrorIs(t, err, ErrNotRunning)
	// The rejected call mutated nothing.
	assert.Equal(t, 0, c.GetState().CurrentIteration)
	assert.Equal(t, StatusPaused, c.GetState().Status)
}

func TestPause_BlocksAtCheckpointAndResumes(t *testing.T) {
	analyzer := &stubAnalyzer{rates: []float64{50, 1}}
	c, rem, rec := newController(t, analyzer, Options{})

	// Pause from inside the event stream so the controller hits the next
	// checkpoint already paused.
	var once sync.Once
	c.OnEvent(func(e Event) {
		if e.Type == EventPremortemComplete {
			once.Do(c.Pause)
		}
	})

	done := make(chan error, 1)
	go func() {
		_, err := c.Execute(context.Background())
		done <- err
	}()

	// The run must stop before remediation while paused.
	require.Eventually(t, func() bool {
		return rec.count(EventPaused) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	rem.mu.Lock()
	calls := rem.calls
	rem.mu.Unlock()
	assert.Zero(t, calls, "remediation ran past a paused checkpoint")
	assert.Equal(t, StatusPaused, c.GetState().Status)

	c.Resume()
	require.NoError(t, <-done)
	assert.Equal(t, StatusCompleted, c.GetState().Status)
	assert.Equal(t, 1, rec.count(EventResumed))
}

func TestExecute_ContextCancellationFailsRun(t *testing.T) {
	analyzer := &stubAnalyzer{rates: []float64{50}}
	c, _, rec := newController(t, analyzer, Options{})

	c.OnEvent(func(e Event) {
		if e.Type == EventPremortemComplete {
			c.Pause()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Execute(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool {
		return rec.count(EventPaused) == 1
	}, time.Second, 5*time.Millisecond)

	// Cancellation must release the paused checkpoint wait.
	cancel()
	err := <-done
	require.Error(t, err)
	assert.Equal(t, StatusFailed, c.GetState().Status)
}

func TestGetState_DefensiveCopy(t *testing.T) {
	analyzer := &stubAnalyzer{rates: []float64{50, 1}}
	c, _, _ := newController(t, analyzer, Options{})

	_, err := c.Execute(context.Background())
	require.NoError(t, err)

	snapshot := c.GetState()
	snapshot.FailureRateHistory[0] = -1
	snapshot.Status = StatusFailed

	fresh := c.GetState()
	assert.Equal(t, 50.0, fresh.FailureRateHistory[0])
	assert.Equal(t, StatusCompleted, fresh.Status)
}

func TestExecute_EmptyDocumentsConvergeImmediately(t *testing.T) {
	// A real analyzer finds zero scenarios in empty documents; failure rate
	// 0 is convergence, not an error.
	c, err := New("proj", "", "", Deps{
		Gatherer:   &stubGatherer{},
		Analyzer:   premortem.NewAnalyzer(),
		Remediator: &stubRemediator{},
	}, Options{})
	require.NoError(t, err)

	state, err := c.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, 1, state.CurrentIteration)
	assert.Equal(t, []float64{0}, state.FailureRateHistory)
}

func TestExecute_IndependentInstances(t *testing.T) {
	run := func(project string) (State, []EventType, error) {
		analyzer := &stubAnalyzer{rates: []float64{60, 30, 1}}
		c, err := New(project, "spec", "plan", Deps{
			Gatherer:   &stubGatherer{},
			Analyzer:   analyzer,
			Remediator: &stubRemediator{},
		}, Options{})
		if err != nil {
			return State{}, nil, err
		}
		rec := &recorder{}
		c.OnEvent(rec.listen)
		state, err := c.Execute(context.Background())
		if err != nil {
			return State{}, nil, err
		}
		// Execute has returned and listeners are synchronous, so the
		// recorder is quiescent here.
		for _, e := range rec.events {
			if e.ProjectID != project {
				return State{}, nil, fmt.Errorf("event for %s leaked into %s", e.ProjectID, project)
			}
		}
		return state, rec.types(), nil
	}

	type outcome struct {
		state State
		types []EventType
		err   error
	}
	results := make(chan outcome, 2)
	for _, p := range []string{"alpha", "beta"} {
		go func(project string) {
			s, types, err := run(project)
			results <- outcome{s, types, err}
		}(p)
	}

	want := []EventType{
		EventIterationStart, EventResearchComplete, EventPremortemComplete, EventRemediationComplete,
		EventIterationStart, EventResearchComplete, EventPremortemComplete, EventRemediationComplete,
		EventIterationStart, EventResearchComplete, EventPremortemComplete, EventLoopComplete,
	}
	for i := 0; i < 2; i++ {
		got := <-results
		require.NoError(t, got.err)
		assert.Equal(t, StatusCompleted, got.state.Status)
		assert.Equal(t, 3, got.state.CurrentIteration)
		assert.Equal(t, want, got.types)
	}
}

func TestExecute_CollaboratorTimeout(t *testing.T) {
	gate := make(chan struct{}) // never released: analyzer hangs until ctx fires
	defer close(gate)
	analyzer := &stubAnalyzer{rates: []float64{1}, gate: gate}
	c, _, rec := newController(t, analyzer, Options{CollaboratorTimeout: 20 * time.Millisecond})

	state, err := c.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusFailed, state.Status)

	errEvent, ok := rec.last(EventError)
	require.True(t, ok)
	assert.Equal(t, "premortem", errEvent.Payload.(ErrorPayload).Phase)
}
