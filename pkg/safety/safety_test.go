package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/harborlabs/bunkerplan/pkg/state"
)

func TestGetSafeNextAgent_RewritesBunkerWithoutRoute(t *testing.T) {
	set := DefaultSet()

	next, ok := set.GetSafeNextAgent(state.New(), "bunker_agent")
	assert.True(t, ok)
	assert.Equal(t, "route_agent", next, "bunker optimization without a route must run the route agent first")
}

func TestGetSafeNextAgent_PassesWithRouteData(t *testing.T) {
	set := DefaultSet()
	s := state.New()
	s["route_data"] = map[string]any{"distance_nm": 4200.0}

	next, ok := set.GetSafeNextAgent(s, "bunker_agent")
	assert.True(t, ok)
	assert.Equal(t, "bunker_agent", next)
}

func TestGetSafeNextAgent_VesselSelectionNeedsAnalysis(t *testing.T) {
	set := DefaultSet()

	next, ok := set.GetSafeNextAgent(state.New(), "vessel_selection_agent")
	assert.True(t, ok)
	assert.Equal(t, "bunker_agent", next)

	s := state.New()
	s["bunker_ports"] = []any{"SGSIN"}
	next, ok = set.GetSafeNextAgent(s, "vessel_selection_agent")
	assert.True(t, ok)
	assert.Equal(t, "vessel_selection_agent", next)
}

func TestGetSafeNextAgent_UnguardedAgentPasses(t *testing.T) {
	set := DefaultSet()

	next, ok := set.GetSafeNextAgent(state.New(), "weather_agent")
	assert.True(t, ok)
	assert.Equal(t, "weather_agent", next)
}

func TestValidateAll_WarningSeverityDoesNotFail(t *testing.T) {
	set := DefaultSet()

	// The finalizer check is warning-severity only; an empty state still
	// routes through.
	res := set.ValidateAll(state.New(), "finalizer_agent")
	assert.True(t, res.Valid)
}

func TestValidateAll_ReportsFirstCriticalFailure(t *testing.T) {
	set := DefaultSet()

	res := set.ValidateAll(state.New(), "bunker_agent")
	assert.False(t, res.Valid)
	assert.Equal(t, "route_agent", res.RequiredAgent)
	assert.Equal(t, SeverityCritical, res.Severity)
	assert.NotEmpty(t, res.Reason)
}

func TestSet_CustomValidatorWithoutRecovery(t *testing.T) {
	set := NewSet(Validator{
		Name:        "compliance_gate",
		AppliesWhen: func(next string) bool { return next == "bunker_agent" },
		Check: func(s state.State) CheckResult {
			if s.Has("compliance_zones") {
				return CheckResult{Valid: true}
			}
			return CheckResult{
				Reason:   "compliance zones must be loaded before optimization",
				Severity: SeverityCritical,
			}
		},
	})

	_, ok := set.GetSafeNextAgent(state.New(), "bunker_agent")
	assert.False(t, ok, "a critical failure without a recovery agent hard-blocks routing")

	s := state.New()
	s["compliance_zones"] = []any{"ECA-NorthSea"}
	next, ok := set.GetSafeNextAgent(s, "bunker_agent")
	assert.True(t, ok)
	assert.Equal(t, "bunker_agent", next)
}
