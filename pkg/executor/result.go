// Package executor runs execution plans deterministically: topological
// stage scheduling with parallel groups, skip and continue predicates,
// per-agent retry and circuit breaking, state merging at group boundaries,
// checkpointing after every stage and full cost accounting. The executor
// itself never calls an LLM; every routing decision was fixed at planning
// time.
package executor

import (
	"time"

	"github.com/harborlabs/bunkerplan/pkg/plan"
	"github.com/harborlabs/bunkerplan/pkg/state"
)

// StageStatus is the per-stage state machine:
// pending -> (skipped | running) -> (success | failed | timeout).
// Terminal states are recorded immutably.
type StageStatus string

const (
	StagePending StageStatus = "pending"
	StageRunning StageStatus = "running"
	StageSkipped StageStatus = "skipped"
	StageSuccess StageStatus = "success"
	StageFailed  StageStatus = "failed"
	StageTimeout StageStatus = "timeout"
)

// ToolCall records one tool invocation made by a stage's agent.
type ToolCall struct {
	ToolID   string        `json:"tool_id"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
}

// StageResult is the immutable record of one stage execution.
type StageResult struct {
	StageID string      `json:"stage_id"`
	AgentID string      `json:"agent_id"`
	Status  StageStatus `json:"status"`

	StartedAt   time.Time     `json:"started_at,omitempty"`
	CompletedAt time.Time     `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration"`

	ProducedFields []string   `json:"produced_fields,omitempty"`
	Error          string     `json:"error,omitempty"`
	SkipReason     string     `json:"skip_reason,omitempty"`
	Attempts       int        `json:"attempts,omitempty"`
	ToolCalls      []ToolCall `json:"tool_calls,omitempty"`

	// EscalatedTo is set when the circuit breaker redirected the stage
	// to the supervisor agent.
	EscalatedTo string `json:"escalated_to,omitempty"`
}

// Costs aggregate actual execution spend.
type Costs struct {
	LLMCalls      int     `json:"llm_calls"`
	APICalls      int     `json:"api_calls"`
	ActualCostUSD float64 `json:"actual_cost_usd"`
}

// VsEstimates compares actuals to the plan's predictions.
type VsEstimates struct {
	EstCostUSD     float64       `json:"est_cost_usd"`
	ActualCostUSD  float64       `json:"actual_cost_usd"`
	CostDeltaUSD   float64       `json:"cost_delta_usd"`
	EstDuration    time.Duration `json:"est_duration"`
	ActualDuration time.Duration `json:"actual_duration"`
	DurationDelta  time.Duration `json:"duration_delta"`
	EstLLMCalls    int           `json:"est_llm_calls"`
	ActualLLMCalls int           `json:"actual_llm_calls"`
	EstAPICalls    int           `json:"est_api_calls"`
	ActualAPICalls int           `json:"actual_api_calls"`
}

// Result is the outcome of one plan execution. The executor owns stage
// results during execution and transfers them here on completion.
type Result struct {
	PlanID    string `json:"plan_id"`
	QueryType string `json:"query_type"`
	Success   bool   `json:"success"`

	// State is the final merged state.
	State state.State `json:"state"`

	StageResults    []*StageResult    `json:"stage_results"`
	StagesCompleted []string          `json:"stages_completed,omitempty"`
	StagesSkipped   []string          `json:"stages_skipped,omitempty"`
	StagesFailed    []string          `json:"stages_failed,omitempty"`
	Errors          map[string]string `json:"errors,omitempty"`

	Costs       Costs       `json:"costs"`
	VsEstimates VsEstimates `json:"vs_estimates"`

	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`

	Cancelled          bool `json:"cancelled,omitempty"`
	NeedsClarification bool `json:"needs_clarification,omitempty"`
}

// ResultFor looks up the stage result by stage id, or nil.
func (r *Result) ResultFor(stageID string) *StageResult {
	for _, sr := range r.StageResults {
		if sr.StageID == stageID {
			return sr
		}
	}
	return nil
}

func (r *Result) finalize(p *plan.Plan) {
	r.CompletedAt = time.Now().UTC()
	r.Duration = r.CompletedAt.Sub(r.StartedAt)

	r.VsEstimates = VsEstimates{
		EstCostUSD:     p.Estimates.EstCostUSD,
		ActualCostUSD:  r.Costs.ActualCostUSD,
		CostDeltaUSD:   r.Costs.ActualCostUSD - p.Estimates.EstCostUSD,
		EstDuration:    p.Estimates.EstDuration,
		ActualDuration: r.Duration,
		DurationDelta:  r.Duration - p.Estimates.EstDuration,
		EstLLMCalls:    p.Estimates.LLMCalls,
		ActualLLMCalls: r.Costs.LLMCalls,
		EstAPICalls:    p.Estimates.APICalls,
		ActualAPICalls: r.Costs.APICalls,
	}
}
