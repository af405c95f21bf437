package synthesis

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/harborlabs/bunkerplan/pkg/executor"
	"github.com/harborlabs/bunkerplan/pkg/state"
)

// RouteSummary is the compact route projection.
type RouteSummary struct {
	Origin      string  `json:"origin" mapstructure:"origin"`
	Destination string  `json:"destination" mapstructure:"destination"`
	DistanceNM  float64 `json:"distance_nm" mapstructure:"distance_nm"`
	ETADays     float64 `json:"eta_days,omitempty" mapstructure:"eta_days"`
	Waypoints   int     `json:"waypoints,omitempty" mapstructure:"-"`
}

// BunkerOption is one priced bunkering alternative.
type BunkerOption struct {
	Port       string  `json:"port" mapstructure:"port"`
	PriceUSDMT float64 `json:"price_usd_mt" mapstructure:"price_usd_mt"`
	DeviationH float64 `json:"deviation_hours,omitempty" mapstructure:"deviation_hours"`
	SavingsUSD float64 `json:"savings_usd,omitempty" mapstructure:"savings_usd"`
}

// BunkerSummary is the compact bunker-analysis projection.
type BunkerSummary struct {
	BestPort       string         `json:"best_port" mapstructure:"best_port"`
	BestPriceUSDMT float64        `json:"best_price_usd_mt" mapstructure:"best_price_usd_mt"`
	MaxSavingsUSD  float64        `json:"max_savings_usd,omitempty" mapstructure:"max_savings_usd"`
	FuelType       string         `json:"fuel_type,omitempty" mapstructure:"fuel_type"`
	QuantityMT     float64        `json:"quantity_mt,omitempty" mapstructure:"quantity_mt"`
	Alternatives   []BunkerOption `json:"alternatives,omitempty" mapstructure:"alternatives"`
}

// WeatherSummary is the compact weather projection.
type WeatherSummary struct {
	MaxWaveHeightM float64  `json:"max_wave_height_m,omitempty" mapstructure:"max_wave_height_m"`
	MaxWindKts     float64  `json:"max_wind_kts,omitempty" mapstructure:"max_wind_kts"`
	DelayHours     float64  `json:"delay_hours,omitempty" mapstructure:"delay_hours"`
	Advisories     []string `json:"advisories,omitempty" mapstructure:"advisories"`
}

// PriceSummary is the compact fuel-price projection.
type PriceSummary struct {
	AsOf   string             `json:"as_of,omitempty" mapstructure:"as_of"`
	Prices map[string]float64 `json:"prices,omitempty" mapstructure:"prices"`
}

// CoreData is the set of compact projections pulled from the final state.
// Absent state fields leave the corresponding projection nil.
type CoreData struct {
	Route           *RouteSummary   `json:"route,omitempty"`
	Bunker          *BunkerSummary  `json:"bunker,omitempty"`
	Weather         *WeatherSummary `json:"weather,omitempty"`
	Prices          *PriceSummary   `json:"prices,omitempty"`
	VesselCount     int             `json:"vessel_count,omitempty"`
	NoonReportCount int             `json:"noon_report_count,omitempty"`
	ComplianceZones []string        `json:"compliance_zones,omitempty"`
}

// extractCoreData projects the final state into compact summaries, ignoring
// fields that are absent or fail to decode.
func extractCoreData(s state.State) CoreData {
	var d CoreData
	if s == nil {
		return d
	}

	if v, ok := s["route_data"]; ok {
		var r RouteSummary
		if decodeLoose(v, &r) == nil {
			if m, ok := v.(map[string]any); ok {
				if wps, ok := m["waypoints"].([]any); ok {
					r.Waypoints = len(wps)
				}
			}
			d.Route = &r
		}
	}
	if v, ok := s["bunker_analysis"]; ok {
		var b BunkerSummary
		if decodeLoose(v, &b) == nil {
			d.Bunker = &b
		}
	}
	if v, ok := s["weather_data"]; ok {
		var w WeatherSummary
		if decodeLoose(v, &w) == nil {
			d.Weather = &w
		}
	}
	if v, ok := s["fuel_prices"]; ok {
		var p PriceSummary
		if decodeLoose(v, &p) == nil {
			d.Prices = &p
		}
	}
	if v, ok := s["vessel_list"].([]any); ok {
		d.VesselCount = len(v)
	}
	if v, ok := s["noon_reports"].([]any); ok {
		d.NoonReportCount = len(v)
	}
	if v, ok := s["compliance_zones"].([]any); ok {
		for _, z := range v {
			if name, ok := z.(string); ok {
				d.ComplianceZones = append(d.ComplianceZones, name)
			}
		}
	}
	return d
}

func decodeLoose(in, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

// deriveInsights applies the numeric thresholds to the projections.
func deriveInsights(d CoreData, th Thresholds) []Insight {
	var out []Insight

	if d.Bunker != nil && d.Bunker.MaxSavingsUSD > th.SavingsUSD {
		out = append(out, Insight{
			Type:     "cost_optimization",
			Priority: PriorityHigh,
			Category: "bunker",
			Title:    fmt.Sprintf("Bunkering at %s saves %.0f USD", d.Bunker.BestPort, d.Bunker.MaxSavingsUSD),
			Description: fmt.Sprintf("Best option %s at %.2f USD/MT outperforms the alternatives by up to %.0f USD.",
				d.Bunker.BestPort, d.Bunker.BestPriceUSDMT, d.Bunker.MaxSavingsUSD),
			Impact:     map[string]any{"savings_usd": d.Bunker.MaxSavingsUSD},
			Confidence: 0.9,
		})
	}
	if d.Weather != nil && d.Weather.MaxWaveHeightM >= th.WaveHeightM {
		out = append(out, Insight{
			Type:     "weather_risk",
			Priority: PriorityCritical,
			Category: "weather",
			Title:    fmt.Sprintf("Severe weather on route: waves up to %.1f m", d.Weather.MaxWaveHeightM),
			Description: fmt.Sprintf("Forecast wave height %.1f m exceeds the %.1f m operating threshold.",
				d.Weather.MaxWaveHeightM, th.WaveHeightM),
			Impact:     map[string]any{"delay_hours": d.Weather.DelayHours},
			Confidence: 0.8,
		})
	} else if d.Weather != nil && d.Weather.DelayHours > 0 {
		out = append(out, Insight{
			Type:        "schedule_impact",
			Priority:    PriorityMedium,
			Category:    "weather",
			Title:       fmt.Sprintf("Weather adds %.0f hours to the passage", d.Weather.DelayHours),
			Description: "Forecast conditions slow the vessel below service speed on part of the route.",
			Impact:      map[string]any{"delay_hours": d.Weather.DelayHours},
			Confidence:  0.7,
		})
	}
	if len(d.ComplianceZones) > 0 {
		out = append(out, Insight{
			Type:        "compliance",
			Priority:    PriorityMedium,
			Category:    "compliance",
			Title:       fmt.Sprintf("Route crosses %d emission control zone(s)", len(d.ComplianceZones)),
			Description: "Low-sulphur fuel must be available for the ECA transit legs.",
			Impact:      map[string]any{"zones": d.ComplianceZones},
			Confidence:  0.95,
		})
	}
	return out
}

// deriveRecommendations turns the projections and insights into actions.
func deriveRecommendations(d CoreData, insights []Insight) []Recommendation {
	var out []Recommendation

	if d.Bunker != nil && d.Bunker.BestPort != "" {
		rec := Recommendation{
			ID:       "bunker-best-option",
			Priority: PriorityHigh,
			Action:   fmt.Sprintf("Nominate %s for bunkering", d.Bunker.BestPort),
			Details: fmt.Sprintf("%.0f MT %s at %.2f USD/MT",
				d.Bunker.QuantityMT, d.Bunker.FuelType, d.Bunker.BestPriceUSDMT),
			Rationale:  "Lowest total cost across the evaluated ports including deviation.",
			Confidence: 0.85,
			Urgency:    "before_departure",
			Owner:      "operations",
		}
		if d.Bunker.MaxSavingsUSD > 0 {
			rec.Impact = map[string]any{"savings_usd": d.Bunker.MaxSavingsUSD}
		}
		out = append(out, rec)
	}
	for _, in := range insights {
		if in.Type == "weather_risk" {
			out = append(out, Recommendation{
				ID:         "weather-review",
				Priority:   PriorityCritical,
				Action:     "Review routing against the severe weather window",
				Rationale:  in.Description,
				Confidence: in.Confidence,
				Urgency:    "immediate",
				Owner:      "master",
			})
		}
		if in.Type == "compliance" {
			out = append(out, Recommendation{
				ID:         "compliance-fuel-check",
				Priority:   PriorityMedium,
				Action:     "Confirm compliant fuel for ECA transit",
				Rationale:  in.Description,
				Confidence: in.Confidence,
				Owner:      "operations",
			})
		}
	}
	return out
}

// deriveWarnings collects execution, data-quality and system warnings.
func deriveWarnings(res *executor.Result, d CoreData, th Thresholds) []Warning {
	var out []Warning

	for _, id := range res.StagesFailed {
		msg := fmt.Sprintf("stage '%s' did not complete", id)
		if detail, ok := res.Errors[id]; ok {
			msg = fmt.Sprintf("stage '%s' failed: %s", id, detail)
		}
		out = append(out, Warning{Kind: WarningExecution, Message: msg, StageID: id})
	}

	if d.Prices != nil && d.Prices.AsOf != "" {
		if asOf, err := time.Parse(time.RFC3339, d.Prices.AsOf); err == nil {
			if age := time.Since(asOf); age > th.PriceStaleness {
				out = append(out, Warning{
					Kind:    WarningDataQuality,
					Message: fmt.Sprintf("fuel prices are %.0f hours old", age.Hours()),
				})
			}
		}
	}

	if res.State != nil {
		if statuses, ok := res.State["agent_status"].(map[string]any); ok {
			for id, v := range statuses {
				if v == "degraded" {
					out = append(out, Warning{
						Kind:    WarningSystem,
						Message: fmt.Sprintf("agent '%s' ran in degraded mode", id),
					})
				}
			}
		}
	}
	if res.NeedsClarification {
		out = append(out, Warning{Kind: WarningSystem, Message: "execution paused awaiting clarification"})
	}
	return out
}

// deriveAlerts flags critical conditions.
func deriveAlerts(res *executor.Result, d CoreData, th Thresholds) []Alert {
	var out []Alert

	if res.QueryType == "bunker_planning" && (d.Bunker == nil || d.Bunker.BestPort == "") {
		out = append(out, Alert{
			Severity: "critical",
			Title:    "No viable bunker option",
			Message:  "The analysis produced no bunkering option for the requested voyage.",
		})
	}
	if d.Weather != nil && d.Weather.MaxWaveHeightM >= th.WaveHeightM {
		out = append(out, Alert{
			Severity: "critical",
			Title:    "Severe weather on route",
			Message: fmt.Sprintf("Forecast wave height %.1f m exceeds the %.1f m threshold.",
				d.Weather.MaxWaveHeightM, th.WaveHeightM),
		})
	}
	if res.Cancelled {
		out = append(out, Alert{
			Severity: "warning",
			Title:    "Execution cancelled",
			Message:  "The plan was cancelled before all stages completed.",
		})
	}
	return out
}

// deriveNextSteps orders the operational actions implied by the
// recommendations and the execution outcome.
func deriveNextSteps(recs []Recommendation, res *executor.Result) []NextStep {
	var out []NextStep
	order := 1

	if res.NeedsClarification {
		note := "answer the clarification question and rerun"
		if q, ok := res.State["clarification_question"].(string); ok && q != "" {
			note = q
		}
		out = append(out, NextStep{Order: order, Action: "Provide clarification", Owner: "charterer", Notes: []string{note}})
		order++
	}
	for _, rec := range recs {
		step := NextStep{Order: order, Action: rec.Action, Owner: rec.Owner}
		if order > 1 {
			step.DependsOn = []int{order - 1}
		}
		out = append(out, step)
		order++
	}
	if len(res.StagesFailed) > 0 {
		out = append(out, NextStep{
			Order:  order,
			Action: fmt.Sprintf("Investigate %d failed stage(s) and rerun if needed", len(res.StagesFailed)),
			Owner:  "operations",
		})
	}
	return out
}
