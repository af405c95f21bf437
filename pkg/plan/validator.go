package plan

import (
	"fmt"

	"github.com/harborlabs/bunkerplan/pkg/agent"
	"github.com/harborlabs/bunkerplan/pkg/state"
	"github.com/harborlabs/bunkerplan/pkg/tool"
)

// Validator performs the structural and semantic checks of a generated
// plan: agent and tool existence, acyclic dependencies, satisfiable stage
// inputs and covered expected outputs.
type Validator struct {
	agents *agent.Registry
	tools  *tool.Registry
}

func NewValidator(agents *agent.Registry, tools *tool.Registry) *Validator {
	return &Validator{agents: agents, tools: tools}
}

// Validate checks the plan against the registries and the initial state.
func (v *Validator) Validate(p *Plan, s state.State) Validation {
	result := Validation{IsValid: true}

	stageIndex := make(map[string]int, len(p.Stages))
	for i, st := range p.Stages {
		stageIndex[st.StageID] = i
	}

	provided := make(map[string]bool)
	for _, st := range p.Stages {
		def, err := v.agents.GetAgent(st.AgentID)
		if err != nil {
			result.IsValid = false
			result.InvalidAgents = append(result.InvalidAgents, st.AgentID)
			continue
		}
		if def.Disabled {
			result.IsValid = false
			result.InvalidAgents = append(result.InvalidAgents, st.AgentID)
			result.Warnings = append(result.Warnings, fmt.Sprintf("agent '%s' is disabled", st.AgentID))
		}

		for _, toolID := range st.ToolsNeeded {
			if !v.tools.HasTool(toolID) {
				result.IsValid = false
				result.InvalidTools = append(result.InvalidTools, toolID)
			}
		}

		// Dependencies must reference earlier stages only.
		for _, dep := range st.DependsOn {
			j, ok := stageIndex[dep]
			if !ok {
				result.IsValid = false
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("stage '%s' depends on unknown stage '%s'", st.StageID, dep))
				continue
			}
			if j >= stageIndex[st.StageID] {
				result.IsValid = false
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("stage '%s' depends on later stage '%s'", st.StageID, dep))
			}
		}

		// Inputs must come from the initial state, a predecessor's
		// provides, or be optional for the agent.
		for _, field := range st.Requires {
			if s.Has(field) || provided[field] {
				continue
			}
			result.IsValid = false
			result.MissingInputs = append(result.MissingInputs, fmt.Sprintf("%s (stage %s)", field, st.StageID))
		}

		for _, field := range st.Provides {
			provided[field] = true
		}
	}

	for _, out := range p.ExpectedOutputs {
		if !provided[out] && !s.Has(out) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("expected output '%s' is not produced by any stage", out))
		}
	}

	return result
}
