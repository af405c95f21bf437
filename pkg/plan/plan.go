// Package plan turns a classified user query into an executable plan: an
// ordered list of agent stages with resolved data dependencies, parallel
// groups, validation findings and cost estimates. Plans are immutable once
// generated; every routing decision the executor will take is pre-computed
// here, which is what keeps execution free of LLM calls.
package plan

import (
	"time"

	"github.com/harborlabs/bunkerplan/pkg/workflow"
)

// Entities are the domain values extracted from the user query.
type Entities struct {
	Origin         string   `json:"origin,omitempty" mapstructure:"origin"`
	Destination    string   `json:"destination,omitempty" mapstructure:"destination"`
	VesselName     string   `json:"vessel_name,omitempty" mapstructure:"vessel_name"`
	FuelTypes      []string `json:"fuel_types,omitempty" mapstructure:"fuel_types"`
	FuelQuantityMT float64  `json:"fuel_quantity_mt,omitempty" mapstructure:"fuel_quantity_mt"`
	DepartureDate  string   `json:"departure_date,omitempty" mapstructure:"departure_date"`
}

// Classification is the outcome of the single planning LLM call, or of the
// regex fallback when the call fails.
type Classification struct {
	QueryType          string   `json:"query_type" mapstructure:"query_type"`
	Confidence         float64  `json:"confidence" mapstructure:"confidence"`
	Reasoning          string   `json:"reasoning,omitempty" mapstructure:"reasoning"`
	SecondaryIntents   []string `json:"secondary_intents,omitempty" mapstructure:"secondary_intents"`
	ExtractedEntities  Entities `json:"extracted_entities" mapstructure:"extracted_entities"`
	ProposedWorkflowID string   `json:"proposed_workflow_id,omitempty" mapstructure:"proposed_workflow_id"`
}

// Stage is one instantiated workflow stage bound to a concrete agent.
type Stage struct {
	StageID  string `json:"stage_id"`
	AgentID  string `json:"agent_id"`
	Order    int    `json:"order"`
	Required bool   `json:"required"`

	// ParallelGroup is set when the stage may run concurrently with its
	// group peers; nil means strictly sequential.
	ParallelGroup *int `json:"parallel_group,omitempty"`

	SkipWhen     *workflow.Predicate `json:"skip_when,omitempty"`
	ContinueWhen *workflow.Predicate `json:"continue_when,omitempty"`

	// DependsOn lists earlier stage ids whose provides intersect this
	// stage's requires.
	DependsOn   []string `json:"depends_on,omitempty"`
	Provides    []string `json:"provides,omitempty"`
	Requires    []string `json:"requires,omitempty"`
	ToolsNeeded []string `json:"tools_needed,omitempty"`

	EstimatedDuration time.Duration `json:"estimated_duration,omitempty"`
	EstimatedCostUSD  float64       `json:"estimated_cost_usd,omitempty"`
}

// Validation reports structural and semantic plan checks.
type Validation struct {
	IsValid       bool     `json:"is_valid"`
	MissingInputs []string `json:"missing_inputs,omitempty"`
	InvalidAgents []string `json:"invalid_agents,omitempty"`
	InvalidTools  []string `json:"invalid_tools,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
}

// Estimates aggregate predicted plan cost.
type Estimates struct {
	TotalAgents int           `json:"total_agents"`
	LLMCalls    int           `json:"llm_calls"`
	APICalls    int           `json:"api_calls"`
	EstCostUSD  float64       `json:"est_cost_usd"`
	EstDuration time.Duration `json:"est_duration"`
}

// Context carries per-plan execution settings.
type Context struct {
	Timeout       time.Duration `json:"timeout"`
	Priority      string        `json:"priority,omitempty"`
	CorrelationID string        `json:"correlation_id"`
}

// Plan is an instantiated, validated workflow bound to a query and state.
// Immutable after generation.
type Plan struct {
	PlanID          string         `json:"plan_id"`
	QueryType       string         `json:"query_type"`
	WorkflowID      string         `json:"workflow_id"`
	WorkflowVersion string         `json:"workflow_version,omitempty"`
	Classification  Classification `json:"classification"`
	Stages          []*Stage       `json:"stages"`
	Validation      Validation     `json:"validation"`
	Estimates       Estimates      `json:"estimates"`
	RequiredState   []string       `json:"required_state,omitempty"`
	ExpectedOutputs []string       `json:"expected_outputs,omitempty"`
	Context         Context        `json:"context"`

	// SupervisorStage names the stage the executor escalates to when an
	// agent's circuit breaker opens. Copied from the workflow.
	SupervisorStage string `json:"supervisor_stage,omitempty"`

	// ParallelGroups lists the stage ids of each parallel group, indexed
	// by group number.
	ParallelGroups [][]string `json:"parallel_groups,omitempty"`
}

// Stage returns the stage with the given id, or nil.
func (p *Plan) Stage(stageID string) *Stage {
	for _, st := range p.Stages {
		if st.StageID == stageID {
			return st
		}
	}
	return nil
}

// StageByAgent returns the first stage bound to the agent, or nil.
func (p *Plan) StageByAgent(agentID string) *Stage {
	for _, st := range p.Stages {
		if st.AgentID == agentID {
			return st
		}
	}
	return nil
}
