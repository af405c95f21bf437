// Package synthesis turns a finished plan execution into a structured
// payload: compact data projections, threshold-derived insights and
// recommendations, warnings, alerts, metrics and operational next steps.
// Everything is deterministic for a given final state except the optional
// LLM reasoning paragraph, which degrades to a template when the provider
// is absent or failing.
package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/harborlabs/bunkerplan/pkg/executor"
	"github.com/harborlabs/bunkerplan/pkg/llm"
)

// Priority ranks insights and recommendations.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Insight is one typed finding derived from numeric thresholds over the
// final state.
type Insight struct {
	Type        string         `json:"type"`
	Priority    Priority       `json:"priority"`
	Category    string         `json:"category"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Impact      map[string]any `json:"impact,omitempty"`
	Confidence  float64        `json:"confidence"`
}

// Recommendation is one actionable item for the operator.
type Recommendation struct {
	ID         string         `json:"id"`
	Priority   Priority       `json:"priority"`
	Action     string         `json:"action"`
	Details    string         `json:"details,omitempty"`
	Rationale  string         `json:"rationale,omitempty"`
	Impact     map[string]any `json:"impact,omitempty"`
	Confidence float64        `json:"confidence"`
	Urgency    string         `json:"urgency,omitempty"`
	Owner      string         `json:"owner,omitempty"`
}

// WarningKind distinguishes the warning origin.
type WarningKind string

const (
	WarningExecution   WarningKind = "execution"
	WarningDataQuality WarningKind = "data_quality"
	WarningSystem      WarningKind = "system"
)

// Warning flags a non-fatal problem with the execution or its data.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
	StageID string      `json:"stage_id,omitempty"`
}

// Alert flags a critical condition that needs operator attention.
type Alert struct {
	Severity string `json:"severity"`
	Title    string `json:"title"`
	Message  string `json:"message"`
}

// NextStep is one ordered operational action.
type NextStep struct {
	Order     int      `json:"order"`
	Action    string   `json:"action"`
	Owner     string   `json:"owner,omitempty"`
	DependsOn []int    `json:"depends_on,omitempty"`
	Notes     []string `json:"notes,omitempty"`
}

// Metrics summarize the executor's accounting for the payload.
type Metrics struct {
	Duration        time.Duration `json:"duration"`
	StagesCompleted int           `json:"stages_completed"`
	StagesSkipped   int           `json:"stages_skipped"`
	StagesFailed    int           `json:"stages_failed"`
	LLMCalls        int           `json:"llm_calls"`
	APICalls        int           `json:"api_calls"`
	CostUSD         float64       `json:"cost_usd"`
}

// Payload is the full synthesis output returned to the client. A failed
// plan still yields a payload carrying warnings, alerts, metrics and
// whatever partial data the stages produced.
type Payload struct {
	Success   bool   `json:"success"`
	PlanID    string `json:"plan_id"`
	QueryType string `json:"query_type"`

	Data            CoreData         `json:"data"`
	Insights        []Insight        `json:"insights,omitempty"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
	Warnings        []Warning        `json:"warnings,omitempty"`
	Alerts          []Alert          `json:"alerts,omitempty"`
	Metrics         Metrics          `json:"metrics"`
	Reasoning       string           `json:"reasoning,omitempty"`
	NextSteps       []NextStep       `json:"next_steps,omitempty"`

	GeneratedAt time.Time `json:"generated_at"`
}

// Thresholds tune insight derivation.
type Thresholds struct {
	// SavingsUSD is the minimum projected saving that yields a
	// cost-optimization insight.
	SavingsUSD float64

	// WaveHeightM is the wave height above which weather is flagged severe.
	WaveHeightM float64

	// PriceStaleness is the maximum acceptable age of fuel prices.
	PriceStaleness time.Duration
}

// DefaultThresholds mirror the operational defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SavingsUSD:     5000,
		WaveHeightM:    6.0,
		PriceStaleness: 24 * time.Hour,
	}
}

// Engine synthesizes payloads. provider may be nil; reasoning then always
// uses the deterministic template.
type Engine struct {
	provider   llm.Provider
	thresholds Thresholds
}

func NewEngine(provider llm.Provider, thresholds Thresholds) *Engine {
	return &Engine{provider: provider, thresholds: thresholds}
}

// Synthesize builds the payload from a plan execution result.
func (e *Engine) Synthesize(ctx context.Context, res *executor.Result) (*Payload, error) {
	if res == nil {
		return nil, fmt.Errorf("synthesis requires an execution result")
	}

	p := &Payload{
		Success:     res.Success,
		PlanID:      res.PlanID,
		QueryType:   res.QueryType,
		Data:        extractCoreData(res.State),
		GeneratedAt: time.Now().UTC(),
		Metrics: Metrics{
			Duration:        res.Duration,
			StagesCompleted: len(res.StagesCompleted),
			StagesSkipped:   len(res.StagesSkipped),
			StagesFailed:    len(res.StagesFailed),
			LLMCalls:        res.Costs.LLMCalls,
			APICalls:        res.Costs.APICalls,
			CostUSD:         res.Costs.ActualCostUSD,
		},
	}

	p.Insights = deriveInsights(p.Data, e.thresholds)
	p.Recommendations = deriveRecommendations(p.Data, p.Insights)
	p.Warnings = deriveWarnings(res, p.Data, e.thresholds)
	p.Alerts = deriveAlerts(res, p.Data, e.thresholds)
	p.NextSteps = deriveNextSteps(p.Recommendations, res)
	p.Reasoning = e.reasoning(ctx, p)

	slog.Debug("Synthesized payload",
		"plan", res.PlanID, "insights", len(p.Insights),
		"recommendations", len(p.Recommendations),
		"warnings", len(p.Warnings), "alerts", len(p.Alerts))
	return p, nil
}

// reasoning produces the free-form summary. This is the only LLM use in
// synthesis and the only non-deterministic part of the payload.
func (e *Engine) reasoning(ctx context.Context, p *Payload) string {
	if e.provider != nil {
		resp, err := e.provider.Complete(ctx, &llm.CompletionRequest{
			System: "You summarize maritime bunker-planning results for a vessel operator. " +
				"Two or three sentences, plain language, no markdown.",
			Prompt:    reasoningPrompt(p),
			MaxTokens: 300,
		})
		if err == nil && strings.TrimSpace(resp.Text) != "" {
			return strings.TrimSpace(resp.Text)
		}
		if err != nil {
			slog.Warn("Reasoning LLM call failed, using template", "error", err)
		}
	}
	return templateReasoning(p)
}

func reasoningPrompt(p *Payload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query type: %s. Success: %v.\n", p.QueryType, p.Success)
	if p.Data.Route != nil {
		fmt.Fprintf(&b, "Route: %s to %s, %.0f nm.\n",
			p.Data.Route.Origin, p.Data.Route.Destination, p.Data.Route.DistanceNM)
	}
	if p.Data.Bunker != nil && p.Data.Bunker.BestPort != "" {
		fmt.Fprintf(&b, "Best bunker option: %s at %.2f USD/MT, projected savings %.0f USD.\n",
			p.Data.Bunker.BestPort, p.Data.Bunker.BestPriceUSDMT, p.Data.Bunker.MaxSavingsUSD)
	}
	for _, in := range p.Insights {
		fmt.Fprintf(&b, "Insight: %s.\n", in.Title)
	}
	for _, w := range p.Warnings {
		fmt.Fprintf(&b, "Warning: %s.\n", w.Message)
	}
	return b.String()
}

// templateReasoning is the deterministic fallback summary.
func templateReasoning(p *Payload) string {
	var parts []string
	if p.Success {
		parts = append(parts, fmt.Sprintf("Completed %s with %d stages.",
			p.QueryType, p.Metrics.StagesCompleted))
	} else {
		parts = append(parts, fmt.Sprintf("The %s run did not complete cleanly (%d stages failed).",
			p.QueryType, p.Metrics.StagesFailed))
	}
	if p.Data.Route != nil {
		parts = append(parts, fmt.Sprintf("Route %s to %s covers %.0f nm.",
			p.Data.Route.Origin, p.Data.Route.Destination, p.Data.Route.DistanceNM))
	}
	if p.Data.Bunker != nil && p.Data.Bunker.BestPort != "" {
		parts = append(parts, fmt.Sprintf("Best bunker option is %s at %.2f USD/MT.",
			p.Data.Bunker.BestPort, p.Data.Bunker.BestPriceUSDMT))
	}
	if len(p.Alerts) > 0 {
		parts = append(parts, fmt.Sprintf("%d alert(s) need attention.", len(p.Alerts)))
	}
	return strings.Join(parts, " ")
}
