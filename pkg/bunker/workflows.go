package bunker

import "github.com/harborlabs/bunkerplan/pkg/workflow"

// Workflow ids of the default catalog.
const (
	WorkflowBunkerPlanning = "bunker_planning"
	WorkflowRouteOnly      = "route_only"
	WorkflowWeatherCheck   = "weather_check"
	WorkflowVesselInfo     = "vessel_info"
	WorkflowPriceCheck     = "price_check"
)

// Workflows builds the default workflow templates. Stage ids are stable;
// plans and checkpoints reference them.
func Workflows() []*workflow.Workflow {
	exists := true
	routeAlreadyKnown := &workflow.Predicate{StateChecks: map[string]workflow.StateCheck{
		"route_data": {Exists: &exists},
	}}

	return []*workflow.Workflow{
		{
			ID: WorkflowBunkerPlanning, Name: "Bunker Planning", Version: "1.0",
			QueryType:   WorkflowBunkerPlanning,
			Description: "full voyage bunker optimization: route, entities, vessel, prices, analysis",
			Stages: []workflow.StageTemplate{
				{StageID: "route", AgentID: AgentRoute, Required: true, SkipWhen: routeAlreadyKnown},
				{StageID: "entity_extractor", AgentID: AgentExtractor, Required: true},
				{StageID: "vessel_info", AgentID: AgentVessel, Required: true},
				{StageID: "bunker", AgentID: AgentBunker, Required: true},
				{StageID: "finalize", AgentID: AgentFinalizer, Required: true},
			},
			Inputs:          []string{"extracted_entities"},
			ExpectedOutputs: []string{"route_data", "bunker_analysis", "analysis"},
		},
		{
			ID: WorkflowRouteOnly, Name: "Route Only", Version: "1.0",
			QueryType:   WorkflowRouteOnly,
			Description: "distance and passage estimate between two ports",
			Stages: []workflow.StageTemplate{
				{StageID: "route", AgentID: AgentRoute, Required: true, SkipWhen: routeAlreadyKnown},
				{StageID: "finalize", AgentID: AgentFinalizer, Required: true},
			},
			Inputs:          []string{"extracted_entities"},
			ExpectedOutputs: []string{"route_data"},
		},
		{
			ID: WorkflowWeatherCheck, Name: "Weather Check", Version: "1.0",
			QueryType:   WorkflowWeatherCheck,
			Description: "forecast along a route",
			Stages: []workflow.StageTemplate{
				{StageID: "route", AgentID: AgentRoute, Required: true, SkipWhen: routeAlreadyKnown},
				{StageID: "weather", AgentID: AgentWeather, Required: true},
				{StageID: "finalize", AgentID: AgentFinalizer, Required: true},
			},
			Inputs:          []string{"extracted_entities"},
			ExpectedOutputs: []string{"weather_data"},
		},
		{
			ID: WorkflowVesselInfo, Name: "Vessel Info", Version: "1.0",
			QueryType:   WorkflowVesselInfo,
			Description: "vessel master data, noon reports and consumption profile",
			Stages: []workflow.StageTemplate{
				{StageID: "vessel_info", AgentID: AgentVessel, Required: true},
				{StageID: "finalize", AgentID: AgentFinalizer, Required: true},
			},
			ExpectedOutputs: []string{"vessel_list"},
		},
		{
			ID: WorkflowPriceCheck, Name: "Price Check", Version: "1.0",
			QueryType:   WorkflowPriceCheck,
			Description: "current bunker prices for the relevant ports",
			Stages: []workflow.StageTemplate{
				{StageID: "price", AgentID: AgentPrice, Required: true},
				{StageID: "finalize", AgentID: AgentFinalizer, Required: true},
			},
			ExpectedOutputs: []string{"fuel_prices"},
		},
	}
}
