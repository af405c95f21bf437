// Package bunker is the maritime catalog: the default tools, agents and
// workflows the orchestrator registers at startup. External data sources
// are injected as providers; the bundled defaults serve deterministic
// canned data so the engine runs end to end without network access.
package bunker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Providers are the injectable data sources behind the default tools. Any
// nil field falls back to the canned default.
type Providers struct {
	// Route returns route data between two named ports.
	Route func(ctx context.Context, origin, destination string) (map[string]any, error)

	// Weather returns forecast data along a route.
	Weather func(ctx context.Context, origin, destination string) (map[string]any, error)

	// Prices returns a fuel price table for the given ports.
	Prices func(ctx context.Context, ports []string) (map[string]any, error)

	// Vessels returns vessel master data, optionally filtered by name.
	Vessels func(ctx context.Context, name string) ([]any, error)

	// NoonReports returns recent noon reports for a vessel.
	NoonReports func(ctx context.Context, vessel string) ([]any, error)
}

// withDefaults fills nil providers with the canned implementations.
func (p Providers) withDefaults() Providers {
	d := DefaultProviders()
	if p.Route == nil {
		p.Route = d.Route
	}
	if p.Weather == nil {
		p.Weather = d.Weather
	}
	if p.Prices == nil {
		p.Prices = d.Prices
	}
	if p.Vessels == nil {
		p.Vessels = d.Vessels
	}
	if p.NoonReports == nil {
		p.NoonReports = d.NoonReports
	}
	return p
}

// portInfo is one entry of the canned port table.
type portInfo struct {
	code    string
	aliases []string
	// prices in USD/MT by fuel type
	prices map[string]float64
}

var cannedPorts = []portInfo{
	{code: "SGSIN", aliases: []string{"singapore"}, prices: map[string]float64{"VLSFO": 545.50, "HSFO": 470.00, "LSMGO": 692.00}},
	{code: "NLRTM", aliases: []string{"rotterdam"}, prices: map[string]float64{"VLSFO": 552.25, "HSFO": 462.75, "LSMGO": 701.50}},
	{code: "AEFJR", aliases: []string{"fujairah"}, prices: map[string]float64{"VLSFO": 558.00, "HSFO": 475.50, "LSMGO": 710.25}},
	{code: "JPTYO", aliases: []string{"tokyo"}, prices: map[string]float64{"VLSFO": 571.00, "HSFO": 489.00, "LSMGO": 724.00}},
	{code: "CNSHA", aliases: []string{"shanghai"}, prices: map[string]float64{"VLSFO": 563.75, "HSFO": 481.25, "LSMGO": 715.00}},
	{code: "KRPUS", aliases: []string{"busan"}, prices: map[string]float64{"VLSFO": 560.50, "HSFO": 478.00, "LSMGO": 712.75}},
	{code: "EGSUZ", aliases: []string{"suez"}, prices: map[string]float64{"VLSFO": 575.00, "HSFO": 492.00, "LSMGO": 730.00}},
	{code: "ZADUR", aliases: []string{"durban"}, prices: map[string]float64{"VLSFO": 566.25, "HSFO": 483.50, "LSMGO": 718.50}},
}

// cannedDistances lists great-circle-ish distances in nautical miles between
// canned port pairs, keyed origin|destination with both directions present.
var cannedDistances = map[string]float64{
	"SGSIN|NLRTM": 8450, "SGSIN|AEFJR": 3350, "SGSIN|JPTYO": 2900,
	"SGSIN|CNSHA": 2190, "SGSIN|KRPUS": 2480, "SGSIN|EGSUZ": 5020,
	"JPTYO|CNSHA": 1050, "JPTYO|KRPUS": 650, "CNSHA|KRPUS": 490,
	"NLRTM|EGSUZ": 3290, "AEFJR|EGSUZ": 1680, "SGSIN|ZADUR": 4870,
}

// resolvePort maps a free-text name or UN/LOCODE to the canned port code.
func resolvePort(name string) (string, bool) {
	trimmed := strings.TrimSpace(name)
	upper := strings.ToUpper(trimmed)
	lower := strings.ToLower(trimmed)
	for _, p := range cannedPorts {
		if p.code == upper {
			return p.code, true
		}
		for _, a := range p.aliases {
			if a == lower {
				return p.code, true
			}
		}
	}
	return "", false
}

func distanceBetween(origin, destination string) float64 {
	if d, ok := cannedDistances[origin+"|"+destination]; ok {
		return d
	}
	if d, ok := cannedDistances[destination+"|"+origin]; ok {
		return d
	}
	// Unknown pair: a plausible deep-sea passage.
	return 5000
}

// DefaultProviders returns the deterministic canned data sources.
func DefaultProviders() Providers {
	return Providers{
		Route: func(ctx context.Context, origin, destination string) (map[string]any, error) {
			from, okFrom := resolvePort(origin)
			to, okTo := resolvePort(destination)
			if !okFrom || !okTo {
				return nil, fmt.Errorf("unknown port in pair '%s' -> '%s'", origin, destination)
			}
			distance := distanceBetween(from, to)
			waypoints := []any{from}
			if distance > 4500 && from != "EGSUZ" && to != "EGSUZ" {
				waypoints = append(waypoints, "EGSUZ")
			}
			waypoints = append(waypoints, to)
			return map[string]any{
				"origin":      origin,
				"destination": destination,
				"origin_port": from,
				"dest_port":   to,
				"distance_nm": distance,
				"eta_days":    distance / (14 * 24),
				"waypoints":   waypoints,
				"eca_legs":    ecaLegs(from, to),
			}, nil
		},
		Weather: func(ctx context.Context, origin, destination string) (map[string]any, error) {
			return map[string]any{
				"max_wave_height_m": 2.5,
				"max_wind_kts":      18.0,
				"delay_hours":       0.0,
				"advisories":        []any{},
			}, nil
		},
		Prices: func(ctx context.Context, ports []string) (map[string]any, error) {
			table := make(map[string]any)
			for _, port := range ports {
				code, ok := resolvePort(port)
				if !ok {
					continue
				}
				for _, p := range cannedPorts {
					if p.code == code {
						entry := make(map[string]any, len(p.prices))
						for fuel, price := range p.prices {
							entry[fuel] = price
						}
						table[code] = entry
					}
				}
			}
			return map[string]any{
				"as_of":  time.Now().UTC().Format(time.RFC3339),
				"prices": table,
			}, nil
		},
		Vessels: func(ctx context.Context, name string) ([]any, error) {
			fleet := []any{
				map[string]any{"name": "MV Coral Trader", "imo": "9434761", "type": "bulk_carrier", "dwt": 81600, "speed_kn": 14.0, "daily_burn_mt": 35.0},
				map[string]any{"name": "MV Pacific Dawn", "imo": "9517290", "type": "container", "dwt": 52400, "speed_kn": 18.5, "daily_burn_mt": 62.0},
			}
			if name == "" {
				return fleet, nil
			}
			var out []any
			needle := strings.ToLower(name)
			for _, v := range fleet {
				m := v.(map[string]any)
				if strings.Contains(strings.ToLower(m["name"].(string)), needle) ||
					strings.Contains(strings.ToLower("imo"+m["imo"].(string)), needle) {
					out = append(out, v)
				}
			}
			return out, nil
		},
		NoonReports: func(ctx context.Context, vessel string) ([]any, error) {
			return []any{
				map[string]any{"vessel": vessel, "day": 1, "speed_kn": 13.8, "consumption_mt": 34.2},
				map[string]any{"vessel": vessel, "day": 2, "speed_kn": 14.1, "consumption_mt": 35.6},
				map[string]any{"vessel": vessel, "day": 3, "speed_kn": 13.9, "consumption_mt": 34.9},
			}, nil
		},
	}
}

// ecaLegs reports the emission-control zones a canned route crosses.
func ecaLegs(from, to string) []any {
	zones := make(map[string]bool)
	for _, code := range []string{from, to} {
		if code == "NLRTM" {
			zones["ECA-NorthSea"] = true
		}
	}
	names := make([]string, 0, len(zones))
	for z := range zones {
		names = append(names, z)
	}
	sort.Strings(names)
	out := make([]any, 0, len(names))
	for _, n := range names {
		out = append(out, n)
	}
	return out
}
