package bunker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/harborlabs/bunkerplan/pkg/tool"
)

// Tool ids of the default catalog.
const (
	ToolSeaRoute     = "sea_route_calculator"
	ToolWeather      = "weather_forecast"
	ToolPriceFeed    = "bunker_price_feed"
	ToolVesselLookup = "vessel_registry"
	ToolNoonReports  = "noon_report_log"
	ToolOptimizer    = "bunker_optimizer"
)

// Tools builds the default tool definitions over the given providers.
func Tools(p Providers) []*tool.Definition {
	p = p.withDefaults()

	return []*tool.Definition{
		{
			ID: ToolSeaRoute, Name: "Sea Route Calculator", Version: "1.0",
			Category: tool.CategoryRouting, Cost: tool.CostAPICall,
			Reliability: 0.99, AvgLatency: 800 * time.Millisecond,
			Parameters: []tool.Parameter{
				{Name: "origin", Type: "string", Required: true},
				{Name: "destination", Type: "string", Required: true},
			},
			Outputs: []tool.Parameter{{Name: "route", Type: "object"}},
			Pricing: &tool.Pricing{PerCallUSD: 0.02},
			Handler: func(ctx context.Context, args map[string]any) (tool.Result, error) {
				origin, _ := args["origin"].(string)
				destination, _ := args["destination"].(string)
				if origin == "" || destination == "" {
					return tool.Result{Error: "origin and destination are required"}, nil
				}
				data, err := p.Route(ctx, origin, destination)
				if err != nil {
					return tool.Result{Error: err.Error()}, nil
				}
				return tool.Result{Success: true, Data: data}, nil
			},
		},
		{
			ID: ToolWeather, Name: "Weather Forecast", Version: "1.0",
			Category: tool.CategoryWeather, Cost: tool.CostAPICall,
			Reliability: 0.97, AvgLatency: 600 * time.Millisecond,
			Parameters: []tool.Parameter{
				{Name: "origin", Type: "string", Required: true},
				{Name: "destination", Type: "string", Required: true},
			},
			Pricing: &tool.Pricing{PerCallUSD: 0.01},
			Handler: func(ctx context.Context, args map[string]any) (tool.Result, error) {
				origin, _ := args["origin"].(string)
				destination, _ := args["destination"].(string)
				data, err := p.Weather(ctx, origin, destination)
				if err != nil {
					return tool.Result{Error: err.Error()}, nil
				}
				return tool.Result{Success: true, Data: data}, nil
			},
		},
		{
			ID: ToolPriceFeed, Name: "Bunker Price Feed", Version: "1.0",
			Category: tool.CategoryBunker, Cost: tool.CostAPICall,
			Reliability: 0.98, AvgLatency: 500 * time.Millisecond,
			Parameters: []tool.Parameter{{Name: "ports", Type: "array", Required: true}},
			Pricing:    &tool.Pricing{PerCallUSD: 0.05},
			RateLimit:  &tool.RateLimit{Calls: 30, Window: time.Minute},
			Handler: func(ctx context.Context, args map[string]any) (tool.Result, error) {
				ports := stringSlice(args["ports"])
				if len(ports) == 0 {
					return tool.Result{Error: "at least one port is required"}, nil
				}
				data, err := p.Prices(ctx, ports)
				if err != nil {
					return tool.Result{Error: err.Error()}, nil
				}
				return tool.Result{Success: true, Data: data}, nil
			},
		},
		{
			ID: ToolVesselLookup, Name: "Vessel Registry", Version: "1.0",
			Category: tool.CategoryVessel, Cost: tool.CostAPICall,
			Reliability: 0.99, AvgLatency: 400 * time.Millisecond,
			Parameters: []tool.Parameter{{Name: "name", Type: "string"}},
			Pricing:    &tool.Pricing{PerCallUSD: 0.01},
			Handler: func(ctx context.Context, args map[string]any) (tool.Result, error) {
				name, _ := args["name"].(string)
				vessels, err := p.Vessels(ctx, name)
				if err != nil {
					return tool.Result{Error: err.Error()}, nil
				}
				return tool.Result{Success: true, Data: vessels}, nil
			},
		},
		{
			ID: ToolNoonReports, Name: "Noon Report Log", Version: "1.0",
			Category: tool.CategoryVessel, Cost: tool.CostFree,
			Reliability: 1.0, AvgLatency: 50 * time.Millisecond,
			Parameters: []tool.Parameter{{Name: "vessel", Type: "string", Required: true}},
			Handler: func(ctx context.Context, args map[string]any) (tool.Result, error) {
				vessel, _ := args["vessel"].(string)
				reports, err := p.NoonReports(ctx, vessel)
				if err != nil {
					return tool.Result{Error: err.Error()}, nil
				}
				return tool.Result{Success: true, Data: reports}, nil
			},
		},
		{
			ID: ToolOptimizer, Name: "Bunker Optimizer", Version: "1.0",
			Category: tool.CategoryCalculation, Cost: tool.CostFree,
			Reliability: 1.0, AvgLatency: 20 * time.Millisecond,
			Parameters: []tool.Parameter{
				{Name: "prices", Type: "object", Required: true},
				{Name: "fuel_type", Type: "string"},
				{Name: "quantity_mt", Type: "number"},
			},
			Handler: func(ctx context.Context, args map[string]any) (tool.Result, error) {
				return optimize(args)
			},
		},
	}
}

// optimize ranks candidate ports by total cost for the requested fuel lift.
func optimize(args map[string]any) (tool.Result, error) {
	priceTable, ok := args["prices"].(map[string]any)
	if !ok || len(priceTable) == 0 {
		return tool.Result{Error: "prices table is required"}, nil
	}
	fuelType, _ := args["fuel_type"].(string)
	if fuelType == "" {
		fuelType = "VLSFO"
	}
	quantity := numberArg(args["quantity_mt"], 1000)

	type option struct {
		port  string
		price float64
	}
	var options []option
	for port, v := range priceTable {
		entry, ok := v.(map[string]any)
		if !ok {
			continue
		}
		price := numberArg(entry[fuelType], 0)
		if price <= 0 {
			continue
		}
		options = append(options, option{port: port, price: price})
	}
	if len(options) == 0 {
		return tool.Result{Error: fmt.Sprintf("no port quotes %s", fuelType)}, nil
	}
	sort.Slice(options, func(i, j int) bool {
		if options[i].price != options[j].price {
			return options[i].price < options[j].price
		}
		return options[i].port < options[j].port
	})

	best := options[0]
	worst := options[len(options)-1]
	maxSavings := (worst.price - best.price) * quantity

	alternatives := make([]any, 0, len(options)-1)
	for _, o := range options[1:] {
		alternatives = append(alternatives, map[string]any{
			"port":         o.port,
			"price_usd_mt": o.price,
			"savings_usd":  (best.price - o.price) * quantity,
		})
	}

	bestOption := map[string]any{
		"port":           best.port,
		"price_usd_mt":   best.price,
		"total_cost_usd": best.price * quantity,
	}
	return tool.Result{Success: true, Data: map[string]any{
		"best_option":       bestOption,
		"best_port":         best.port,
		"best_price_usd_mt": best.price,
		"max_savings_usd":   maxSavings,
		"fuel_type":         fuelType,
		"quantity_mt":       quantity,
		"alternatives":      alternatives,
	}}, nil
}

func stringSlice(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func numberArg(v any, fallback float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return fallback
}
