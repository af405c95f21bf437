// Package workflow declares the named stage templates that bind query types
// to ordered agent sequences. Workflows are declarative data; the plan
// generator resolves them against the agent registry and current state.
package workflow

import (
	"github.com/harborlabs/bunkerplan/pkg/state"
)

// StateCheck is one condition over a single state field.
type StateCheck struct {
	// Exists asserts field presence (true) or absence (false).
	Exists *bool `json:"exists,omitempty" yaml:"exists,omitempty"`

	// Equals asserts the field holds exactly this value.
	Equals any `json:"equals,omitempty" yaml:"equals,omitempty"`
}

// Predicate is a conjunction of state checks.
type Predicate struct {
	StateChecks map[string]StateCheck `json:"state_checks,omitempty" yaml:"state_checks,omitempty"`
}

// Matches reports whether every check holds against the state. A nil
// predicate never matches.
func (p *Predicate) Matches(s state.State) bool {
	if p == nil || len(p.StateChecks) == 0 {
		return false
	}
	for field, check := range p.StateChecks {
		if check.Exists != nil {
			if s.Has(field) != *check.Exists {
				return false
			}
		}
		if check.Equals != nil {
			v, ok := s[field]
			if !ok || !looseEqual(v, check.Equals) {
				return false
			}
		}
	}
	return true
}

func looseEqual(a, b any) bool {
	if a == b {
		return true
	}
	// Numeric values may arrive as int from code and float64 from JSON.
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	return aok && bok && af == bf
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// StageTemplate is one step of a workflow, keyed by agent id.
type StageTemplate struct {
	StageID  string `json:"stage_id" yaml:"stage_id"`
	AgentID  string `json:"agent_id" yaml:"agent_id"`
	Required bool   `json:"required" yaml:"required"`

	// ParallelGroup pre-assigns a group; the plan generator may also infer
	// groups from dependencies and agent hints.
	ParallelGroup *int `json:"parallel_group,omitempty" yaml:"parallel_group,omitempty"`

	SkipWhen     *Predicate `json:"skip_when,omitempty" yaml:"skip_when,omitempty"`
	ContinueWhen *Predicate `json:"continue_when,omitempty" yaml:"continue_when,omitempty"`
}

// Workflow is a named ordered template of stages for a query type.
type Workflow struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version" yaml:"version"`
	QueryType   string `json:"query_type" yaml:"query_type"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	Stages []StageTemplate `json:"stages" yaml:"stages"`

	// SupervisorStage names the stage the executor escapes to when an
	// agent's circuit breaker opens. Empty disables escalation.
	SupervisorStage string `json:"supervisor_stage,omitempty" yaml:"supervisor_stage,omitempty"`

	// Inputs and ExpectedOutputs document the state fields the workflow
	// consumes and produces; both feed the planner prompt.
	Inputs          []string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	ExpectedOutputs []string `json:"expected_outputs,omitempty" yaml:"expected_outputs,omitempty"`
}
