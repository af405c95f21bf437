package bunker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harborlabs/bunkerplan/pkg/agent"
	"github.com/harborlabs/bunkerplan/pkg/state"
)

// Agent ids of the default catalog.
const (
	AgentRoute      = "route_agent"
	AgentExtractor  = "entity_extractor"
	AgentVessel     = "vessel_info_agent"
	AgentWeather    = "weather_agent"
	AgentPrice      = "price_agent"
	AgentBunker     = "bunker_agent"
	AgentFinalizer  = "finalizer_agent"
	AgentSupervisor = "supervisor_agent"
)

// Agents builds the default agent definitions. Handlers only touch state
// and tools; none of them calls an LLM.
func Agents() []*agent.Definition {
	return []*agent.Definition{
		{
			ID: AgentRoute, Name: "Route Agent", Type: agent.TypeSpecialist,
			Domains:      []string{"routing"},
			Capabilities: []string{"route_calculation"},
			Intents:      []string{"route_only", "bunker_planning"},
			Produces:     agent.Produces{StateFields: []string{"route_data", "compliance_zones"}},
			Consumes:     agent.Consumes{Optional: []string{"extracted_entities"}},
			Tools:        agent.Tools{Required: []string{ToolSeaRoute}},
			Execution: agent.ExecutionHints{
				MaxExecutionTime: 30 * time.Second,
				Retry:            agent.RetryPolicy{MaxRetries: 1, Backoff: 200 * time.Millisecond},
			},
			EstimatedDuration: 2 * time.Second,
			Handler:           routeHandler,
		},
		{
			ID: AgentExtractor, Name: "Entity Extractor", Type: agent.TypeCoordinator,
			Capabilities: []string{"entity_extraction"},
			Produces:     agent.Produces{StateFields: []string{"extracted_entities"}},
			Execution:    agent.ExecutionHints{MaxExecutionTime: 5 * time.Second},
			Handler:      extractorHandler,
		},
		{
			ID: AgentVessel, Name: "Vessel Info Agent", Type: agent.TypeSpecialist,
			Domains:      []string{"vessel"},
			Capabilities: []string{"vessel_lookup", "consumption_profiling"},
			Intents:      []string{"vessel_info"},
			Produces:     agent.Produces{StateFields: []string{"vessel_list", "noon_reports", "consumption_profile"}},
			Consumes:     agent.Consumes{Optional: []string{"extracted_entities"}},
			Tools:        agent.Tools{Required: []string{ToolVesselLookup, ToolNoonReports}},
			Execution: agent.ExecutionHints{
				CanRunInParallel: true,
				MaxExecutionTime: 20 * time.Second,
			},
			EstimatedDuration: time.Second,
			Handler:           vesselHandler,
		},
		{
			ID: AgentWeather, Name: "Weather Agent", Type: agent.TypeSpecialist,
			Domains:      []string{"weather"},
			Capabilities: []string{"weather_forecast"},
			Intents:      []string{"weather_check"},
			Produces:     agent.Produces{StateFields: []string{"weather_data"}},
			Consumes:     agent.Consumes{Required: []string{"route_data"}},
			Tools:        agent.Tools{Required: []string{ToolWeather}},
			Execution: agent.ExecutionHints{
				CanRunInParallel: true,
				MaxExecutionTime: 20 * time.Second,
				Retry:            agent.RetryPolicy{MaxRetries: 2, Backoff: 200 * time.Millisecond, Exponential: true},
			},
			EstimatedDuration: time.Second,
			Handler:           weatherHandler,
		},
		{
			ID: AgentPrice, Name: "Price Agent", Type: agent.TypeSpecialist,
			Domains:      []string{"bunker"},
			Capabilities: []string{"price_lookup"},
			Intents:      []string{"price_check"},
			Produces:     agent.Produces{StateFields: []string{"fuel_prices"}},
			Consumes:     agent.Consumes{Optional: []string{"extracted_entities", "route_data"}},
			Tools:        agent.Tools{Required: []string{ToolPriceFeed}},
			Execution: agent.ExecutionHints{
				CanRunInParallel: true,
				MaxExecutionTime: 20 * time.Second,
			},
			EstimatedDuration: time.Second,
			Handler:           priceHandler,
		},
		{
			ID: AgentBunker, Name: "Bunker Agent", Type: agent.TypeSpecialist,
			Domains:      []string{"bunker"},
			Capabilities: []string{"bunker_optimization"},
			Intents:      []string{"bunker_planning"},
			Produces:     agent.Produces{StateFields: []string{"bunker_analysis", "bunker_ports", "fuel_prices"}},
			Consumes: agent.Consumes{
				Required: []string{"route_data"},
				Optional: []string{"extracted_entities", "consumption_profile"},
			},
			Tools: agent.Tools{Required: []string{ToolPriceFeed, ToolOptimizer}},
			Execution: agent.ExecutionHints{
				MaxExecutionTime: 45 * time.Second,
				Retry:            agent.RetryPolicy{MaxRetries: 1, Backoff: 300 * time.Millisecond},
			},
			EstimatedDuration: 3 * time.Second,
			Handler:           bunkerHandler,
		},
		{
			ID: AgentFinalizer, Name: "Finalizer Agent", Type: agent.TypeFinalizer,
			Capabilities: []string{"result_assembly"},
			Produces:     agent.Produces{StateFields: []string{"analysis", "workflow_stage"}},
			Consumes: agent.Consumes{Optional: []string{
				"route_data", "bunker_analysis", "weather_data", "vessel_list", "fuel_prices",
			}},
			Execution:         agent.ExecutionHints{MaxExecutionTime: 10 * time.Second},
			EstimatedDuration: 500 * time.Millisecond,
			Handler:           finalizerHandler,
		},
		{
			ID: AgentSupervisor, Name: "Supervisor Agent", Type: agent.TypeSupervisor,
			Capabilities: []string{"recovery"},
			Produces:     agent.Produces{StateFields: []string{"agent_status"}},
			Execution:    agent.ExecutionHints{MaxExecutionTime: 5 * time.Second},
			Handler:      supervisorHandler,
		},
	}
}

// entitiesFrom reads the extracted entities out of the state, tolerating
// absence.
func entitiesFrom(s state.State) map[string]any {
	if m, ok := s["extracted_entities"].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func routeHandler(ctx context.Context, inv *agent.Invocation) (state.Update, error) {
	ents := entitiesFrom(inv.State)
	origin := stringField(ents, "origin")
	destination := stringField(ents, "destination")
	if origin == "" || destination == "" {
		return state.Update{
			"needs_clarification":    true,
			"clarification_question": "Which ports is the voyage between? Please give origin and destination.",
		}, nil
	}

	res, err := inv.Tools.Invoke(ctx, ToolSeaRoute, map[string]any{
		"origin": origin, "destination": destination,
	})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("route calculation failed: %s", res.Error)
	}

	update := state.Update{"route_data": res.Data}
	if route, ok := res.Data.(map[string]any); ok {
		if legs, ok := route["eca_legs"].([]any); ok && len(legs) > 0 {
			update["compliance_zones"] = legs
		}
	}
	inv.Logger.Info("Route calculated", "origin", origin, "destination", destination)
	return update, nil
}

func extractorHandler(ctx context.Context, inv *agent.Invocation) (state.Update, error) {
	ents := entitiesFrom(inv.State)
	normalized := make(map[string]any, len(ents))
	for k, v := range ents {
		normalized[k] = v
	}

	if fuels, ok := normalized["fuel_types"].([]any); ok {
		upper := make([]any, 0, len(fuels))
		for _, f := range fuels {
			if s, ok := f.(string); ok {
				upper = append(upper, strings.ToUpper(s))
			}
		}
		normalized["fuel_types"] = upper
	}
	if _, ok := normalized["fuel_quantity_mt"]; !ok {
		normalized["fuel_quantity_mt"] = 1000.0
	}
	return state.Update{"extracted_entities": normalized}, nil
}

func vesselHandler(ctx context.Context, inv *agent.Invocation) (state.Update, error) {
	ents := entitiesFrom(inv.State)
	name := stringField(ents, "vessel_name")

	res, err := inv.Tools.Invoke(ctx, ToolVesselLookup, map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("vessel lookup failed: %s", res.Error)
	}
	vessels, _ := res.Data.([]any)

	update := state.Update{"vessel_list": res.Data}
	if len(vessels) > 0 {
		first, _ := vessels[0].(map[string]any)
		vesselName := stringField(first, "name")

		reports, err := inv.Tools.Invoke(ctx, ToolNoonReports, map[string]any{"vessel": vesselName})
		if err == nil && reports.Success {
			update["noon_reports"] = reports.Data
			update["consumption_profile"] = consumptionProfile(reports.Data, first)
		}
	}
	return update, nil
}

// consumptionProfile averages recent noon reports, falling back to the
// vessel's declared burn rate.
func consumptionProfile(reports any, vessel map[string]any) map[string]any {
	list, _ := reports.([]any)
	var speedSum, burnSum float64
	var n int
	for _, r := range list {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		speedSum += numberArg(m["speed_kn"], 0)
		burnSum += numberArg(m["consumption_mt"], 0)
		n++
	}
	if n == 0 {
		return map[string]any{
			"avg_speed_kn":      numberArg(vessel["speed_kn"], 14),
			"avg_daily_burn_mt": numberArg(vessel["daily_burn_mt"], 35),
			"source":            "vessel_master",
		}
	}
	return map[string]any{
		"avg_speed_kn":      speedSum / float64(n),
		"avg_daily_burn_mt": burnSum / float64(n),
		"source":            "noon_reports",
	}
}

func weatherHandler(ctx context.Context, inv *agent.Invocation) (state.Update, error) {
	route, _ := inv.State["route_data"].(map[string]any)
	res, err := inv.Tools.Invoke(ctx, ToolWeather, map[string]any{
		"origin":      stringField(route, "origin_port"),
		"destination": stringField(route, "dest_port"),
	})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("weather lookup failed: %s", res.Error)
	}
	return state.Update{"weather_data": res.Data}, nil
}

func priceHandler(ctx context.Context, inv *agent.Invocation) (state.Update, error) {
	ports := candidatePorts(inv.State)
	res, err := inv.Tools.Invoke(ctx, ToolPriceFeed, map[string]any{"ports": ports})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("price lookup failed: %s", res.Error)
	}
	return state.Update{"fuel_prices": res.Data}, nil
}

func bunkerHandler(ctx context.Context, inv *agent.Invocation) (state.Update, error) {
	ports := candidatePorts(inv.State)

	priceRes, err := inv.Tools.Invoke(ctx, ToolPriceFeed, map[string]any{"ports": ports})
	if err != nil {
		return nil, err
	}
	if !priceRes.Success {
		return nil, fmt.Errorf("price lookup failed: %s", priceRes.Error)
	}
	priceData, _ := priceRes.Data.(map[string]any)

	ents := entitiesFrom(inv.State)
	fuelType := "VLSFO"
	if fuels, ok := ents["fuel_types"].([]any); ok && len(fuels) > 0 {
		if s, ok := fuels[0].(string); ok && s != "" {
			fuelType = strings.ToUpper(s)
		}
	}

	optRes, err := inv.Tools.Invoke(ctx, ToolOptimizer, map[string]any{
		"prices":      priceData["prices"],
		"fuel_type":   fuelType,
		"quantity_mt": numberArg(ents["fuel_quantity_mt"], 1000),
	})
	if err != nil {
		return nil, err
	}
	if !optRes.Success {
		return nil, fmt.Errorf("bunker optimization failed: %s", optRes.Error)
	}

	update := state.Update{
		"bunker_analysis": optRes.Data,
		"fuel_prices":     priceRes.Data,
	}
	if prices, ok := priceData["prices"].(map[string]any); ok {
		portList := make([]any, 0, len(prices))
		for _, port := range sortedPortKeys(prices) {
			portList = append(portList, port)
		}
		update["bunker_ports"] = portList
	}
	inv.Logger.Info("Bunker analysis complete", "candidates", len(ports), "fuel_type", fuelType)
	return update, nil
}

// candidatePorts derives the port list to quote: route waypoints when a
// route exists, else the entity ports, else the whole canned table.
func candidatePorts(s state.State) []string {
	if route, ok := s["route_data"].(map[string]any); ok {
		if wps, ok := route["waypoints"].([]any); ok && len(wps) > 0 {
			return stringSlice(wps)
		}
	}
	ents := entitiesFrom(s)
	var out []string
	for _, key := range []string{"origin", "destination"} {
		if v := stringField(ents, key); v != "" {
			out = append(out, v)
		}
	}
	if len(out) > 0 {
		return out
	}
	out = make([]string, 0, len(cannedPorts))
	for _, p := range cannedPorts {
		out = append(out, p.code)
	}
	return out
}

func sortedPortKeys(prices map[string]any) []string {
	out := make([]string, 0, len(prices))
	for port := range prices {
		out = append(out, port)
	}
	sort.Strings(out)
	return out
}

func finalizerHandler(ctx context.Context, inv *agent.Invocation) (state.Update, error) {
	recommendations := []any{}
	summaryParts := []string{}

	if analysis, ok := inv.State["bunker_analysis"].(map[string]any); ok {
		best := stringField(analysis, "best_port")
		price := numberArg(analysis["best_price_usd_mt"], 0)
		if best != "" {
			recommendations = append(recommendations,
				fmt.Sprintf("Bunker at %s (%.2f USD/MT)", best, price))
			summaryParts = append(summaryParts, fmt.Sprintf("best bunker option %s", best))
		}
	}
	if route, ok := inv.State["route_data"].(map[string]any); ok {
		summaryParts = append(summaryParts,
			fmt.Sprintf("route distance %.0f nm", numberArg(route["distance_nm"], 0)))
	}
	if weather, ok := inv.State["weather_data"].(map[string]any); ok {
		if numberArg(weather["delay_hours"], 0) > 0 {
			recommendations = append(recommendations, "Review schedule for weather delay")
		}
	}
	if len(recommendations) == 0 {
		recommendations = append(recommendations, "Review the gathered data and refine the query")
	}

	return state.Update{
		"analysis": map[string]any{
			"summary":         strings.Join(summaryParts, "; "),
			"recommendations": recommendations,
		},
		"workflow_stage": "finalized",
	}, nil
}

func supervisorHandler(ctx context.Context, inv *agent.Invocation) (state.Update, error) {
	statuses := map[string]any{}
	if existing, ok := inv.State["agent_status"].(map[string]any); ok {
		for k, v := range existing {
			statuses[k] = v
		}
	}
	statuses[AgentSupervisor] = "recovered"
	inv.Logger.Warn("Supervisor invoked for recovery", "stage", inv.StageID)
	return state.Update{"agent_status": statuses}, nil
}
