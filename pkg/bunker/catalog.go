package bunker

import (
	"fmt"

	"github.com/harborlabs/bunkerplan/pkg/agent"
	"github.com/harborlabs/bunkerplan/pkg/state"
	"github.com/harborlabs/bunkerplan/pkg/tool"
	"github.com/harborlabs/bunkerplan/pkg/workflow"
)

// Catalog bundles the populated registries for the bunker-planning domain.
type Catalog struct {
	Tools     *tool.Registry
	Agents    *agent.Registry
	Workflows *workflow.Registry
	Schema    *state.Schema
}

// NewCatalog registers the default tools, agents and workflows over the
// given providers. Registration order matters: agents validate their tool
// bindings against the tool registry.
func NewCatalog(p Providers) (*Catalog, error) {
	schema := state.DefaultSchema()

	tools := tool.NewRegistry()
	for _, def := range Tools(p) {
		if err := tools.RegisterTool(def); err != nil {
			return nil, fmt.Errorf("registering tool '%s': %w", def.ID, err)
		}
	}

	agents := agent.NewRegistry(tools, schema.FieldNames())
	for _, def := range Agents() {
		if err := agents.RegisterAgent(def); err != nil {
			return nil, fmt.Errorf("registering agent '%s': %w", def.ID, err)
		}
	}

	workflows := workflow.NewRegistry()
	for _, w := range Workflows() {
		if err := workflows.RegisterWorkflow(w); err != nil {
			return nil, fmt.Errorf("registering workflow '%s': %w", w.ID, err)
		}
	}

	return &Catalog{Tools: tools, Agents: agents, Workflows: workflows, Schema: schema}, nil
}
