package synthesis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborlabs/bunkerplan/pkg/executor"
	"github.com/harborlabs/bunkerplan/pkg/llm"
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

func successfulResult() *executor.Result {
	s := state.New()
	s["route_data"] = map[string]any{
		"origin":      "Singapore",
		"destination": "Rotterdam",
		"distance_nm": 8450.0,
		"eta_days":    24.5,
		"waypoints":   []any{"SGSIN", "EGSUZ", "NLRTM"},
	}
	s["bunker_analysis"] = map[string]any{
		"best_port":         "SGSIN",
		"best_price_usd_mt": 545.50,
		"max_savings_usd":   12500.0,
		"fuel_type":         "VLSFO",
		"quantity_mt":       1500.0,
		"alternatives": []any{
			map[string]any{"port": "AEFJR", "price_usd_mt": 553.00, "deviation_hours": 4.0},
		},
	}
	s["compliance_zones"] = []any{"ECA-NorthSea"}

	return &executor.Result{
		PlanID:          "plan-1",
		QueryType:       "bunker_planning",
		Success:         true,
		State:           s,
		StagesCompleted: []string{"route", "price", "bunker", "finalize"},
		Costs:           executor.Costs{APICalls: 3, ActualCostUSD: 0.07},
		Duration:        3 * time.Second,
	}
}

func TestSynthesize_CoreDataProjections(t *testing.T) {
	e := NewEngine(nil, DefaultThresholds())

	p, err := e.Synthesize(context.Background(), successfulResult())
	require.NoError(t, err)

	require.NotNil(t, p.Data.Route)
	assert.Equal(t, "Singapore", p.Data.Route.Origin)
	assert.Equal(t, 8450.0, p.Data.Route.DistanceNM)
	assert.Equal(t, 3, p.Data.Route.Waypoints)

	require.NotNil(t, p.Data.Bunker)
	assert.Equal(t, "SGSIN", p.Data.Bunker.BestPort)
	assert.Equal(t, 545.50, p.Data.Bunker.BestPriceUSDMT)
	require.Len(t, p.Data.Bunker.Alternatives, 1)
	assert.Equal(t, "AEFJR", p.Data.Bunker.Alternatives[0].Port)

	assert.Equal(t, []string{"ECA-NorthSea"}, p.Data.ComplianceZones)
}

func TestSynthesize_SavingsInsightAboveThreshold(t *testing.T) {
	e := NewEngine(nil, DefaultThresholds())

	p, err := e.Synthesize(context.Background(), successfulResult())
	require.NoError(t, err)

	var found *Insight
	for i := range p.Insights {
		if p.Insights[i].Type == "cost_optimization" {
			found = &p.Insights[i]
		}
	}
	require.NotNil(t, found, "savings above threshold must yield a cost insight")
	assert.Equal(t, PriorityHigh, found.Priority)
	assert.Equal(t, 12500.0, found.Impact["savings_usd"])
}

func TestSynthesize_NoInsightBelowThreshold(t *testing.T) {
	e := NewEngine(nil, Thresholds{SavingsUSD: 50000, WaveHeightM: 6, PriceStaleness: time.Hour})

	p, err := e.Synthesize(context.Background(), successfulResult())
	require.NoError(t, err)

	for _, in := range p.Insights {
		assert.NotEqual(t, "cost_optimization", in.Type)
	}
}

func TestSynthesize_FailedPlanStillYieldsPayload(t *testing.T) {
	s := state.New()
	s["route_data"] = map[string]any{"origin": "Tokyo", "destination": "Busan", "distance_nm": 650.0}

	res := &executor.Result{
		PlanID:          "plan-2",
		QueryType:       "bunker_planning",
		Success:         false,
		State:           s,
		StagesCompleted: []string{"route"},
		StagesFailed:    []string{"bunker"},
		Errors:          map[string]string{"bunker": "price feed unavailable"},
	}
	e := NewEngine(nil, DefaultThresholds())

	p, err := e.Synthesize(context.Background(), res)
	require.NoError(t, err)

	assert.False(t, p.Success)
	require.NotNil(t, p.Data.Route, "partial data survives a failed plan")

	require.NotEmpty(t, p.Warnings)
	assert.Equal(t, WarningExecution, p.Warnings[0].Kind)
	assert.Contains(t, p.Warnings[0].Message, "price feed unavailable")

	// No bunker option on a bunker_planning query is a critical alert.
	require.NotEmpty(t, p.Alerts)
	assert.Equal(t, "No viable bunker option", p.Alerts[0].Title)

	assert.Equal(t, 1, p.Metrics.StagesFailed)
	assert.NotEmpty(t, p.Reasoning)
}

func TestSynthesize_SevereWeatherAlert(t *testing.T) {
	res := successfulResult()
	res.State["weather_data"] = map[string]any{
		"max_wave_height_m": 7.5,
		"delay_hours":       18.0,
	}
	e := NewEngine(nil, DefaultThresholds())

	p, err := e.Synthesize(context.Background(), res)
	require.NoError(t, err)

	var weatherAlert bool
	for _, a := range p.Alerts {
		if a.Title == "Severe weather on route" {
			weatherAlert = true
		}
	}
	assert.True(t, weatherAlert)

	var rec bool
	for _, r := range p.Recommendations {
		if r.ID == "weather-review" {
			rec = true
			assert.Equal(t, PriorityCritical, r.Priority)
		}
	}
	assert.True(t, rec)
}

func TestSynthesize_StalePriceWarning(t *testing.T) {
	res := successfulResult()
	res.State["fuel_prices"] = map[string]any{
		"as_of":  time.Now().Add(-48 * time.Hour).UTC().Format(time.RFC3339),
		"prices": map[string]any{"VLSFO": 545.50},
	}
	e := NewEngine(nil, DefaultThresholds())

	p, err := e.Synthesize(context.Background(), res)
	require.NoError(t, err)

	var stale bool
	for _, w := range p.Warnings {
		if w.Kind == WarningDataQuality {
			stale = true
		}
	}
	assert.True(t, stale, "48h old prices exceed the 24h staleness threshold")
}

func TestSynthesize_ReasoningUsesProvider(t *testing.T) {
	e := NewEngine(&stubProvider{text: "All clear, bunker at Singapore."}, DefaultThresholds())

	p, err := e.Synthesize(context.Background(), successfulResult())
	require.NoError(t, err)
	assert.Equal(t, "All clear, bunker at Singapore.", p.Reasoning)
}

func TestSynthesize_ReasoningFallsBackToTemplate(t *testing.T) {
	e := NewEngine(&stubProvider{err: errors.New("upstream 500")}, DefaultThresholds())

	p, err := e.Synthesize(context.Background(), successfulResult())
	require.NoError(t, err)
	assert.Contains(t, p.Reasoning, "SGSIN")
	assert.Contains(t, p.Reasoning, "bunker_planning")
}

func TestSynthesize_NextStepsOrdered(t *testing.T) {
	e := NewEngine(nil, DefaultThresholds())

	p, err := e.Synthesize(context.Background(), successfulResult())
	require.NoError(t, err)

	require.NotEmpty(t, p.NextSteps)
	for i, step := range p.NextSteps {
		assert.Equal(t, i+1, step.Order)
	}
}

func TestSynthesize_NilResult(t *testing.T) {
	e := NewEngine(nil, DefaultThresholds())
	_, err := e.Synthesize(context.Background(), nil)
	require.Error(t, err)
}

func TestSynthesize_DeterministicWithoutProvider(t *testing.T) {
	e := NewEngine(nil, DefaultThresholds())

	a, err := e.Synthesize(context.Background(), successfulResult())
	require.NoError(t, err)
	b, err := e.Synthesize(context.Background(), successfulResult())
	require.NoError(t, err)

	assert.Equal(t, a.Insights, b.Insights)
	assert.Equal(t, a.Recommendations, b.Recommendations)
	assert.Equal(t, a.Reasoning, b.Reasoning)
	assert.Equal(t, a.NextSteps, b.NextSteps)
}
