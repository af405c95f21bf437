package plan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborlabs/bunkerplan/pkg/agent"
	"github.com/harborlabs/bunkerplan/pkg/llm"
	"github.com/harborlabs/bunkerplan/pkg/state"
	"github.com/harborlabs/bunkerplan/pkg/tool"
	"github.com/harborlabs/bunkerplan/pkg/workflow"
)

// stubProvider returns a canned completion, or an error.
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

func noopHandler(ctx context.Context, inv *agent.Invocation) (state.Update, error) {
	return nil, nil
}

func testAgents(t *testing.T, tools *tool.Registry) *agent.Registry {
	t.Helper()
	r := agent.NewRegistry(tools, nil)
	defs := []*agent.Definition{
		{
			ID: "route_agent", Name: "Route Agent", Type: agent.TypeSpecialist,
			Produces:          agent.Produces{StateFields: []string{"route_data"}},
			Tools:             agent.Tools{Required: []string{"sea_route_calculator"}},
			EstimatedDuration: 2 * time.Second,
			Handler:           noopHandler,
		},
		{
			ID: "weather_agent", Name: "Weather Agent", Type: agent.TypeSpecialist,
			Produces:  agent.Produces{StateFields: []string{"weather_data"}},
			Tools:     agent.Tools{Required: []string{"weather_forecast"}},
			Execution: agent.ExecutionHints{CanRunInParallel: true},
			Handler:   noopHandler,
		},
		{
			ID: "price_agent", Name: "Price Agent", Type: agent.TypeSpecialist,
			Produces:  agent.Produces{StateFields: []string{"fuel_prices"}},
			Tools:     agent.Tools{Required: []string{"bunker_price_feed"}},
			Execution: agent.ExecutionHints{CanRunInParallel: true},
			Handler:   noopHandler,
		},
		{
			ID: "bunker_agent", Name: "Bunker Agent", Type: agent.TypeSpecialist,
			Consumes:          agent.Consumes{Required: []string{"route_data", "fuel_prices"}},
			Produces:          agent.Produces{StateFields: []string{"bunker_analysis", "bunker_ports"}},
			EstimatedDuration: 3 * time.Second,
			Handler:           noopHandler,
		},
		{
			ID: "finalizer_agent", Name: "Finalizer", Type: agent.TypeFinalizer,
			Consumes: agent.Consumes{Required: []string{"bunker_analysis"}},
			Produces: agent.Produces{StateFields: []string{"analysis"}},
			UsesLLM:  true,
			Handler:  noopHandler,
		},
	}
	for _, d := range defs {
		require.NoError(t, r.RegisterAgent(d))
	}
	return r
}

func testTools(t *testing.T) *tool.Registry {
	t.Helper()
	r := tool.NewRegistry()
	defs := []*tool.Definition{
		{
			ID: "sea_route_calculator", Name: "Sea Route Calculator",
			Category: tool.CategoryRouting, Cost: tool.CostAPICall, Reliability: 0.99,
			AvgLatency: time.Second,
			Pricing:    &tool.Pricing{PerCallUSD: 0.02},
			Handler: func(ctx context.Context, args map[string]any) (tool.Result, error) {
				return tool.Result{Success: true}, nil
			},
		},
		{
			ID: "weather_forecast", Name: "Weather Forecast",
			Category: tool.CategoryWeather, Cost: tool.CostAPICall, Reliability: 0.97,
			Handler: func(ctx context.Context, args map[string]any) (tool.Result, error) {
				return tool.Result{Success: true}, nil
			},
		},
		{
			ID: "bunker_price_feed", Name: "Bunker Price Feed",
			Category: tool.CategoryBunker, Cost: tool.CostAPICall, Reliability: 0.98,
			Pricing: &tool.Pricing{PerCallUSD: 0.05},
			Handler: func(ctx context.Context, args map[string]any) (tool.Result, error) {
				return tool.Result{Success: true}, nil
			},
		},
	}
	for _, d := range defs {
		require.NoError(t, r.RegisterTool(d))
	}
	return r
}

func testWorkflows(t *testing.T) *workflow.Registry {
	t.Helper()
	r := workflow.NewRegistry()
	exists := true
	require.NoError(t, r.RegisterWorkflow(&workflow.Workflow{
		ID: "bunker_planning_v1", Name: "Bunker Planning", Version: "1.0",
		QueryType: "bunker_planning",
		Stages: []workflow.StageTemplate{
			{
				StageID: "route", AgentID: "route_agent", Required: true,
				SkipWhen: &workflow.Predicate{StateChecks: map[string]workflow.StateCheck{
					"route_data": {Exists: &exists},
				}},
			},
			{StageID: "weather", AgentID: "weather_agent"},
			{StageID: "price", AgentID: "price_agent", Required: true},
			{StageID: "bunker", AgentID: "bunker_agent", Required: true},
			{StageID: "finalize", AgentID: "finalizer_agent", Required: true},
		},
		ExpectedOutputs: []string{"bunker_analysis", "analysis"},
	}))
	require.NoError(t, r.RegisterWorkflow(&workflow.Workflow{
		ID: "route_only_v1", Name: "Route Only", Version: "1.0",
		QueryType: "route_only",
		Stages: []workflow.StageTemplate{
			{StageID: "route", AgentID: "route_agent", Required: true},
			{StageID: "finalize", AgentID: "finalizer_agent", Required: true},
		},
		ExpectedOutputs: []string{"route_data"},
	}))
	return r
}

func newTestGenerator(t *testing.T, provider llm.Provider) *Generator {
	t.Helper()
	tools := testTools(t)
	return NewGenerator(testAgents(t, tools), tools, testWorkflows(t), provider, 5*time.Minute)
}

func TestGenerate_BunkerPlanningPlanShape(t *testing.T) {
	provider := &stubProvider{text: `{
		"query_type": "bunker_planning",
		"confidence": 0.92,
		"reasoning": "explicit bunker request with route",
		"extracted_entities": {"origin": "Singapore", "destination": "Rotterdam", "fuel_types": ["VLSFO"]}
	}`}
	g := newTestGenerator(t, provider)

	p, err := g.Generate(context.Background(),
		"Plan bunkering from Singapore to Rotterdam for VLSFO", state.New(), nil)
	require.NoError(t, err)

	assert.Equal(t, "bunker_planning", p.QueryType)
	assert.Equal(t, "bunker_planning_v1", p.WorkflowID)
	assert.True(t, p.Validation.IsValid, "warnings: %v missing: %v", p.Validation.Warnings, p.Validation.MissingInputs)
	assert.Equal(t, 0.92, p.Classification.Confidence)
	assert.Equal(t, "Singapore", p.Classification.ExtractedEntities.Origin)
	require.Len(t, p.Stages, 5)

	// The bunker stage depends on the producers of its required fields.
	bunker := p.Stage("bunker")
	require.NotNil(t, bunker)
	assert.ElementsMatch(t, []string{"route", "price"}, bunker.DependsOn)
	assert.ElementsMatch(t, []string{"route_data", "fuel_prices"}, bunker.Requires)

	finalize := p.Stage("finalize")
	require.NotNil(t, finalize)
	assert.Equal(t, []string{"bunker"}, finalize.DependsOn)
}

func TestGenerate_ParallelGroupsFromAgentHints(t *testing.T) {
	provider := &stubProvider{text: `{"query_type": "bunker_planning", "confidence": 0.9}`}
	g := newTestGenerator(t, provider)

	p, err := g.Generate(context.Background(), "bunker plan", state.New(),
		&Options{EnableParallelExecution: true})
	require.NoError(t, err)

	// Weather and price agents allow concurrency and have no mutual deps.
	weather, price := p.Stage("weather"), p.Stage("price")
	require.NotNil(t, weather.ParallelGroup)
	require.NotNil(t, price.ParallelGroup)
	assert.Equal(t, *weather.ParallelGroup, *price.ParallelGroup)
	require.Len(t, p.ParallelGroups, 1)
	assert.ElementsMatch(t, []string{"weather", "price"}, p.ParallelGroups[0])

	// Sequential stages stay ungrouped.
	assert.Nil(t, p.Stage("bunker").ParallelGroup)
}

func TestGenerate_DependencySatisfiedByState(t *testing.T) {
	provider := &stubProvider{text: `{"query_type": "bunker_planning", "confidence": 0.9}`}
	g := newTestGenerator(t, provider)

	s := state.New()
	s["route_data"] = map[string]any{"distance_nm": 3000.0}

	p, err := g.Generate(context.Background(), "bunker plan", s, nil)
	require.NoError(t, err)

	// route_data already present: the bunker stage only waits on the price
	// producer.
	assert.Equal(t, []string{"price"}, p.Stage("bunker").DependsOn)
}

func TestGenerate_EstimatesCountLLMAndAPICalls(t *testing.T) {
	provider := &stubProvider{text: `{"query_type": "bunker_planning", "confidence": 0.9}`}
	g := newTestGenerator(t, provider)

	p, err := g.Generate(context.Background(), "bunker plan", state.New(), nil)
	require.NoError(t, err)

	assert.Equal(t, 5, p.Estimates.TotalAgents)
	assert.Equal(t, 1, p.Estimates.LLMCalls, "only the finalizer declares LLM use")
	assert.Equal(t, 3, p.Estimates.APICalls)
	assert.InDelta(t, 0.07, p.Estimates.EstCostUSD, 1e-9)
	assert.Greater(t, p.Estimates.EstDuration, time.Duration(0))
}

func TestGenerate_ExcludeAgents(t *testing.T) {
	provider := &stubProvider{text: `{"query_type": "bunker_planning", "confidence": 0.9}`}
	g := newTestGenerator(t, provider)

	p, err := g.Generate(context.Background(), "bunker plan", state.New(),
		&Options{ExcludeAgents: []string{"weather_agent"}})
	require.NoError(t, err)

	assert.Nil(t, p.Stage("weather"))
	require.Len(t, p.Stages, 4)
}

func TestGenerate_ProposedWorkflowWins(t *testing.T) {
	provider := &stubProvider{text: `{
		"query_type": "bunker_planning",
		"confidence": 0.8,
		"proposed_workflow_id": "route_only_v1"
	}`}
	g := newTestGenerator(t, provider)

	p, err := g.Generate(context.Background(), "how far is it", state.New(), nil)
	require.NoError(t, err)
	assert.Equal(t, "route_only_v1", p.WorkflowID)
}

func TestGenerate_LLMFailureFallsBackToHeuristics(t *testing.T) {
	g := newTestGenerator(t, &stubProvider{err: errors.New("upstream 503")})

	p, err := g.Generate(context.Background(),
		"cheapest VLSFO bunker from Singapore to Rotterdam", state.New(), nil)
	require.NoError(t, err)

	assert.Equal(t, "bunker_planning", p.QueryType)
	assert.Equal(t, 0.3, p.Classification.Confidence)
	assert.Equal(t, "Singapore", p.Classification.ExtractedEntities.Origin)
	assert.Equal(t, "Rotterdam", p.Classification.ExtractedEntities.Destination)
}

func TestGenerate_UnknownQueryTypeFallsBack(t *testing.T) {
	g := newTestGenerator(t, &stubProvider{text: `{"query_type": "stock_trading", "confidence": 0.99}`})

	p, err := g.Generate(context.Background(), "route from Tokyo to Busan", state.New(), nil)
	require.NoError(t, err)
	assert.Equal(t, "route_only", p.QueryType)
	assert.Equal(t, 0.3, p.Classification.Confidence)
}

func TestGenerate_NilProviderUsesFallback(t *testing.T) {
	g := newTestGenerator(t, nil)

	p, err := g.Generate(context.Background(), "weather and swell near Taiwan", state.New(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0.3, p.Classification.Confidence)
}

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    string
		wantErr bool
	}{
		{
			name: "plain json",
			text: `{"query_type": "route_only", "confidence": 0.7}`,
			want: "route_only",
		},
		{
			name: "code fenced",
			text: "```json\n{\"query_type\": \"weather_check\", \"confidence\": 0.8}\n```",
			want: "weather_check",
		},
		{
			name: "weakly typed confidence",
			text: `{"query_type": "route_only", "confidence": "0.55"}`,
			want: "route_only",
		},
		{
			name:    "not json",
			text:    "I think this is about bunkering.",
			wantErr: true,
		},
		{
			name:    "missing query type",
			text:    `{"confidence": 0.9}`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := parseClassification(tt.text)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.QueryType)
		})
	}
}

func TestFallbackClassify_EntityExtraction(t *testing.T) {
	known := []string{"bunker_planning", "route_only", "weather_check", "vessel_info", "price_check"}

	c := fallbackClassify("Bunker 1500 MT of VLSFO from Singapore to Rotterdam for IMO 9434761", known)
	assert.Equal(t, "bunker_planning", c.QueryType)
	assert.Equal(t, "Singapore", c.ExtractedEntities.Origin)
	assert.Equal(t, "Rotterdam", c.ExtractedEntities.Destination)
	assert.Equal(t, []string{"VLSFO"}, c.ExtractedEntities.FuelTypes)
	assert.Equal(t, 1500.0, c.ExtractedEntities.FuelQuantityMT)
	assert.Equal(t, "IMO9434761", c.ExtractedEntities.VesselName)

	c = fallbackClassify("distance between Tokyo and Busan", known)
	assert.Equal(t, "route_only", c.QueryType)
	assert.Equal(t, "Tokyo", c.ExtractedEntities.Origin)
	assert.Equal(t, "Busan", c.ExtractedEntities.Destination)

	c = fallbackClassify("route SGSIN NLRTM", known)
	assert.Equal(t, "SGSIN", c.ExtractedEntities.Origin)
	assert.Equal(t, "NLRTM", c.ExtractedEntities.Destination)
}
