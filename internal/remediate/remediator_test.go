package remediate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskloop/internal/premortem"
)

// stubLLM implements LLMClient for unit tests.
type stubLLM struct {
	reply string
	err   error
	seen  string
}

func (s *stubLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return s.CompleteWithSystem(ctx, "", prompt)
}

func (s *stubLLM) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	s.seen = userPrompt
	return s.reply, s.err
}

func scenarios() []premortem.FailureScenario {
	return []premortem.FailureScenario{
		{Description: "No testing strategy: nothing verifies delivery", Probability: 0.6, Impact: premortem.ImpactHigh, Priority: premortem.PriorityP1, RiskScore: 600},
		{Description: "Aggressive timeline: no contingency buffer", Probability: 0.7, Impact: premortem.ImpactHigh, Priority: premortem.PriorityP1, RiskScore: 700},
		{Description: "Open-ended scope: spec trails off", Probability: 0.3, Impact: premortem.ImpactLow, Priority: premortem.PriorityP3, RiskScore: 30},
	}
}

func TestLLMRemediator_ParsesSections(t *testing.T) {
	stub := &stubLLM{reply: "preamble\n=== SPEC ===\nnew spec\n=== PLAN ===\nnew plan\n"}
	rev, err := NewLLMRemediator(stub).Remediate(context.Background(), "old spec", "old plan", scenarios())
	require.NoError(t, err)

	assert.Equal(t, "new spec", rev.Spec)
	assert.Equal(t, "new plan", rev.Plan)
	// Prompt lists the worst scenarios first and carries both documents.
	assert.Less(t, strings.Index(stub.seen, "timeline"), strings.Index(stub.seen, "Open-ended"))
	assert.Contains(t, stub.seen, "old spec")
	assert.Contains(t, stub.seen, "old plan")
}

func TestLLMRemediator_KeepsOriginalOnMissingSection(t *testing.T) {
	stub := &stubLLM{reply: "=== SPEC ===\nonly spec rewritten"}
	rev, err := NewLLMRemediator(stub).Remediate(context.Background(), "old spec", "old plan", scenarios())
	require.NoError(t, err)

	assert.Equal(t, "only spec rewritten", rev.Spec)
	assert.Equal(t, "old plan", rev.Plan)
}

func TestLLMRemediator_PropagatesClientError(t *testing.T) {
	stub := &stubLLM{err: errors.New("rate limited")}
	_, err := NewLLMRemediator(stub).Remediate(context.Background(), "s", "p", scenarios())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestRuleRemediator_AppendsTargetedClauses(t *testing.T) {
	rev, err := NewRuleRemediator().Remediate(context.Background(), "spec body", "plan body", scenarios())
	require.NoError(t, err)

	assert.Contains(t, rev.Plan, "contingency buffer")
	assert.Contains(t, rev.Plan, "QA verification")
	assert.Contains(t, rev.Spec, "fully enumerated")
	// Untouched families add nothing.
	assert.NotContains(t, rev.Plan, "rollback procedure")
}

func TestRuleRemediator_Idempotent(t *testing.T) {
	r := NewRuleRemediator()
	first, err := r.Remediate(context.Background(), "spec", "plan", scenarios())
	require.NoError(t, err)
	second, err := r.Remediate(context.Background(), first.Spec, first.Plan, scenarios())
	require.NoError(t, err)

	assert.Equal(t, strings.Count(second.Plan, "contingency buffer"),
		strings.Count(first.Plan, "contingency buffer"))
}

func TestRuleRemediator_QuietsDetectors(t *testing.T) {
	spec := "Build the reporting service."
	plan := "Deliver in 3 weeks."

	result, err := premortem.NewAnalyzer().Analyze(context.Background(), spec, plan, nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.Scenarios)

	rev, err := NewRuleRemediator().Remediate(context.Background(), spec, plan, result.Scenarios)
	require.NoError(t, err)

	after, err := premortem.NewAnalyzer().Analyze(context.Background(), rev.Spec, rev.Plan, nil)
	require.NoError(t, err)
	assert.Less(t, after.FailureRate, result.FailureRate)
}

func TestAnthropicClient_CompleteWithSystem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"done"}],"stop_reason":"end_turn"}`))
	}))
	defer srv.Close()

	client := NewAnthropicClient(AnthropicConfig{APIKey: "key", BaseURL: srv.URL})
	reply, err := client.CompleteWithSystem(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, "done", reply)
}

func TestAnthropicClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	client := NewAnthropicClient(AnthropicConfig{APIKey: "key", BaseURL: srv.URL})
	_, err := client.Complete(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slow down")
}

func TestAnthropicClient_RequiresAPIKey(t *testing.T) {
	client := NewAnthropicClient(AnthropicConfig{})
	_, err := client.Complete(context.Background(), "hi")
	require.Error(t, err)
}
