package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborlabs/bunkerplan/pkg/config"
	"github.com/harborlabs/bunkerplan/pkg/llm"
	"github.com/harborlabs/bunkerplan/pkg/oerr"
	"github.com/harborlabs/bunkerplan/pkg/plan"
	"github.com/harborlabs/bunkerplan/pkg/state"
)

type stubProvider struct {
	text string
	err  error
}

func (s *stubProvider) Name() string  { return "stub" }
func (s *stubProvider) Model() string { return "stub-model" }
func (s *stubProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.CompletionResponse{Text: s.text}, nil
}

const bunkerClassification = `{
	"query_type": "bunker_planning",
	"confidence": 0.93,
	"reasoning": "explicit request for cheapest bunker ports on a named route",
	"extracted_entities": {
		"origin": "Singapore",
		"destination": "Rotterdam",
		"fuel_types": ["VLSFO"],
		"fuel_quantity_mt": 1000
	}
}`

func newTestOrchestrator(t *testing.T, provider llm.Provider) *Orchestrator {
	t.Helper()
	o, err := New(context.Background(), &config.Config{}, &Options{Provider: provider})
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func TestRun_BunkerPlanningEndToEnd(t *testing.T) {
	o := newTestOrchestrator(t, &stubProvider{text: bunkerClassification})

	query := "Find cheapest bunker ports from Singapore to Rotterdam for VLSFO, 1000 MT, vessel speed 14 kn, daily burn 35 MT."
	p, err := o.GeneratePlan(context.Background(), query, state.New(),
		&plan.Options{CorrelationID: "thread-s1"})
	require.NoError(t, err)

	assert.Equal(t, "bunker_planning", p.QueryType)
	assert.GreaterOrEqual(t, p.Classification.Confidence, 0.8)
	assert.True(t, p.Validation.IsValid,
		"missing=%v agents=%v", p.Validation.MissingInputs, p.Validation.InvalidAgents)

	var stageIDs []string
	for _, st := range p.Stages {
		stageIDs = append(stageIDs, st.StageID)
	}
	assert.Equal(t, []string{"route", "entity_extractor", "vessel_info", "bunker", "finalize"}, stageIDs)
	assert.Equal(t, []string{"route"}, p.Stage("bunker").DependsOn)

	res, err := o.ExecutePlan(context.Background(), p, state.New())
	require.NoError(t, err)
	require.True(t, res.Success, "errors: %v", res.Errors)

	// No LLM is invoked during execution.
	assert.Zero(t, res.Costs.LLMCalls)

	route, ok := res.State["route_data"].(map[string]any)
	require.True(t, ok)
	assert.Greater(t, route["distance_nm"].(float64), 0.0)

	analysis, ok := res.State["bunker_analysis"].(map[string]any)
	require.True(t, ok)
	assert.NotNil(t, analysis["best_option"])

	final, ok := res.State["analysis"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, final["recommendations"])

	payload, err := o.Synthesize(context.Background(), res)
	require.NoError(t, err)
	assert.True(t, payload.Success)
	require.NotNil(t, payload.Data.Bunker)
	assert.Equal(t, "SGSIN", payload.Data.Bunker.BestPort)
	assert.NotEmpty(t, payload.Reasoning)
}

func TestRun_RouteOnly(t *testing.T) {
	// No provider: the regex fallback must classify the distance query.
	o := newTestOrchestrator(t, nil)

	p, err := o.GeneratePlan(context.Background(),
		"Calculate distance between Tokyo and Shanghai.", state.New(), nil)
	require.NoError(t, err)

	assert.Equal(t, "route_only", p.QueryType)
	assert.Equal(t, []string{"route_data"}, p.ExpectedOutputs)
	require.Len(t, p.Stages, 2)
	assert.Equal(t, "route", p.Stages[0].StageID)
	assert.Equal(t, "finalize", p.Stages[1].StageID)

	res, err := o.ExecutePlan(context.Background(), p, state.New())
	require.NoError(t, err)
	require.True(t, res.Success, "errors: %v", res.Errors)

	route := res.State["route_data"].(map[string]any)
	assert.Equal(t, 1050.0, route["distance_nm"])
}

func TestExecutePlan_InvalidPlanRefused(t *testing.T) {
	o := newTestOrchestrator(t, nil)

	p := &plan.Plan{
		PlanID:     "bad-plan",
		Stages:     []*plan.Stage{{StageID: "s1", AgentID: "ghost_agent"}},
		Validation: plan.Validation{IsValid: false, InvalidAgents: []string{"ghost_agent"}},
	}
	_, err := o.ExecutePlan(context.Background(), p, state.New())
	require.Error(t, err)
	assert.Equal(t, oerr.CodePlanInvalid, oerr.CodeOf(err))
}

func TestResume_RestoresCheckpointedState(t *testing.T) {
	o := newTestOrchestrator(t, &stubProvider{text: bunkerClassification})

	p, err := o.GeneratePlan(context.Background(), "bunker from Singapore to Rotterdam",
		state.New(), &plan.Options{CorrelationID: "thread-s5"})
	require.NoError(t, err)

	res, err := o.ExecutePlan(context.Background(), p, state.New())
	require.NoError(t, err)
	require.True(t, res.Success)

	restored, err := o.Resume(context.Background(), "thread-s5")
	require.NoError(t, err)

	// The checkpointed state matches the in-memory final state field for
	// field, plus the schema version stamp.
	assert.Equal(t, state.CurrentVersion, restored.Version())
	assert.Equal(t, res.State["route_data"], restored["route_data"])
	assert.Equal(t, res.State["bunker_analysis"], restored["bunker_analysis"])
	assert.Equal(t, res.State["analysis"], restored["analysis"])
}

func TestResume_UnknownThread(t *testing.T) {
	o := newTestOrchestrator(t, nil)

	_, err := o.Resume(context.Background(), "no-such-thread")
	require.Error(t, err)
	assert.Equal(t, oerr.CodeNotFound, oerr.CodeOf(err))
}

func TestHealth_MemoryBackend(t *testing.T) {
	o := newTestOrchestrator(t, nil)

	h := o.Health(context.Background())
	require.NotNil(t, h)
	assert.True(t, h.Healthy)
	assert.Equal(t, "memory", h.Backend)
}
