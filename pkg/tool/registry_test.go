package tool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborlabs/bunkerplan/pkg/oerr"
)

func okHandler(ctx context.Context, args map[string]any) (Result, error) {
	return Result{Success: true, Data: map[string]any{"echo": args}}, nil
}

func routeDef() *Definition {
	return &Definition{
		ID:          "route_calculator",
		Name:        "Route Calculator",
		Version:     "1.0.0",
		Category:    CategoryRouting,
		Domains:     []string{"maritime"},
		Cost:        CostFree,
		Reliability: 0.99,
		AvgLatency:  50 * time.Millisecond,
		Parameters: []Parameter{
			{Name: "origin", Type: "string", Required: true},
			{Name: "destination", Type: "string", Required: true},
		},
		Handler: okHandler,
	}
}

func TestRegistry_RegisterTool(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterTool(routeDef()))
	assert.True(t, r.HasTool("route_calculator"))

	// Same structural definition registers as a no-op.
	require.NoError(t, r.RegisterTool(routeDef()))

	// Different definition under the same id is rejected.
	changed := routeDef()
	changed.Reliability = 0.5
	err := r.RegisterTool(changed)
	require.Error(t, err)
	assert.Equal(t, oerr.CodeDuplicateID, oerr.CodeOf(err))
}

func TestRegistry_RegisterTool_Invalid(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name   string
		mutate func(*Definition)
	}{
		{"missing id", func(d *Definition) { d.ID = "" }},
		{"bad category", func(d *Definition) { d.Category = "astrology" }},
		{"reliability out of range", func(d *Definition) { d.Reliability = 1.5 }},
		{"no handler", func(d *Definition) { d.Handler = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := routeDef()
			tt.mutate(d)
			err := r.RegisterTool(d)
			require.Error(t, err)
			assert.Equal(t, oerr.CodeInvalidDefinition, oerr.CodeOf(err))
		})
	}
}

func TestRegistry_Find(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterTool(routeDef()))

	weather := routeDef()
	weather.ID = "weather_api"
	weather.Category = CategoryWeather
	weather.Cost = CostAPICall
	weather.Reliability = 0.9
	require.NoError(t, r.RegisterTool(weather))

	old := routeDef()
	old.ID = "legacy_router"
	old.Deprecated = true
	old.ReplacedBy = "route_calculator"
	require.NoError(t, r.RegisterTool(old))

	byCategory := r.Find(FindCriteria{Category: CategoryWeather})
	require.Len(t, byCategory, 1)
	assert.Equal(t, "weather_api", byCategory[0].ID)

	fresh := r.Find(FindCriteria{ExcludeDeprecated: true})
	require.Len(t, fresh, 2)
	// Stable order by id.
	assert.Equal(t, "route_calculator", fresh[0].ID)
	assert.Equal(t, "weather_api", fresh[1].ID)

	reliable := r.Find(FindCriteria{MinReliability: 0.95})
	require.Len(t, reliable, 2)
}

func TestRegistry_Invoke_RecordsMetrics(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterTool(routeDef()))

	res, err := r.Invoke(context.Background(), "route_calculator", map[string]any{"origin": "SGSIN"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	snap, err := r.MetricsFor("route_calculator")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Total)
	assert.Equal(t, int64(1), snap.Success)
	assert.False(t, snap.LastInvokedAt.IsZero())
}

func TestRegistry_Invoke_ToolFailure(t *testing.T) {
	r := NewRegistry()
	d := routeDef()
	d.ID = "flaky"
	d.Handler = func(ctx context.Context, args map[string]any) (Result, error) {
		return Result{}, errors.New("upstream unavailable")
	}
	require.NoError(t, r.RegisterTool(d))

	res, err := r.Invoke(context.Background(), "flaky", nil)
	require.Error(t, err)
	assert.Equal(t, oerr.CodeToolFailed, oerr.CodeOf(err))
	assert.False(t, res.Success)

	snap, _ := r.MetricsFor("flaky")
	assert.Equal(t, int64(1), snap.Fail)
}

func TestRegistry_Invoke_NotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.Invoke(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.Equal(t, oerr.CodeNotFound, oerr.CodeOf(err))
}

func TestRegistry_Invoke_RateLimited(t *testing.T) {
	r := NewRegistry()
	d := routeDef()
	d.ID = "limited"
	d.RateLimit = &RateLimit{Calls: 1, Window: time.Hour}
	require.NoError(t, r.RegisterTool(d))

	_, err := r.Invoke(context.Background(), "limited", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Invoke(ctx, "limited", nil)
	require.Error(t, err)
	assert.Equal(t, oerr.CodeRateLimited, oerr.CodeOf(err))
}
