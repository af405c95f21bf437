package workflow

import (
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/harborlabs/bunkerplan/pkg/oerr"
	"github.com/harborlabs/bunkerplan/pkg/registry"
)

// Registry holds workflows indexed by id and by query type.
type Registry struct {
	*registry.BaseRegistry[*Workflow]

	mu          sync.RWMutex
	byQueryType map[string][]string
}

func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[*Workflow](),
		byQueryType:  make(map[string][]string),
	}
}

// RegisterWorkflow adds a workflow. The stage list must be non-empty with
// unique stage ids.
func (r *Registry) RegisterWorkflow(w *Workflow) error {
	if w == nil {
		return oerr.New(oerr.CodeInvalidDefinition, "WorkflowRegistry", "RegisterWorkflow", "workflow cannot be nil")
	}
	if w.ID == "" || w.QueryType == "" {
		return oerr.New(oerr.CodeInvalidDefinition, "WorkflowRegistry", "RegisterWorkflow",
			"workflow requires id and query_type")
	}
	if len(w.Stages) == 0 {
		return oerr.New(oerr.CodeInvalidDefinition, "WorkflowRegistry", "RegisterWorkflow",
			fmt.Sprintf("workflow '%s' has no stages", w.ID))
	}
	seen := make(map[string]bool, len(w.Stages))
	for _, st := range w.Stages {
		if st.StageID == "" || st.AgentID == "" {
			return oerr.New(oerr.CodeInvalidDefinition, "WorkflowRegistry", "RegisterWorkflow",
				fmt.Sprintf("workflow '%s' has a stage without stage_id or agent_id", w.ID))
		}
		if seen[st.StageID] {
			return oerr.New(oerr.CodeInvalidDefinition, "WorkflowRegistry", "RegisterWorkflow",
				fmt.Sprintf("workflow '%s' repeats stage id '%s'", w.ID, st.StageID))
		}
		seen[st.StageID] = true
	}

	if err := r.Register(w.ID, w); err != nil {
		return oerr.Wrap(oerr.CodeDuplicateID, "WorkflowRegistry", "RegisterWorkflow",
			fmt.Sprintf("workflow '%s' already registered", w.ID), err)
	}

	r.mu.Lock()
	r.byQueryType[w.QueryType] = append(r.byQueryType[w.QueryType], w.ID)
	sort.Strings(r.byQueryType[w.QueryType])
	r.mu.Unlock()
	return nil
}

// GetWorkflow returns a workflow by id.
func (r *Registry) GetWorkflow(id string) (*Workflow, error) {
	w, ok := r.Get(id)
	if !ok {
		return nil, oerr.New(oerr.CodeNotFound, "WorkflowRegistry", "GetWorkflow",
			fmt.Sprintf("workflow '%s' not found", id))
	}
	return w, nil
}

// ForQueryType returns the workflows declared for a query type, ordered by
// id. The first is the default selection.
func (r *Registry) ForQueryType(queryType string) []*Workflow {
	r.mu.RLock()
	ids := append([]string{}, r.byQueryType[queryType]...)
	r.mu.RUnlock()

	out := make([]*Workflow, 0, len(ids))
	for _, id := range ids {
		if w, ok := r.Get(id); ok {
			out = append(out, w)
		}
	}
	return out
}

// QueryTypes returns all known query types, sorted.
func (r *Registry) QueryTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byQueryType))
	for qt := range r.byQueryType {
		out = append(out, qt)
	}
	sort.Strings(out)
	return out
}

// LoadYAML registers workflows declared in a YAML document of the form
// {workflows: [...]}.
func (r *Registry) LoadYAML(data []byte) error {
	var doc struct {
		Workflows []*Workflow `yaml:"workflows"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return oerr.Wrap(oerr.CodeInvalidDefinition, "WorkflowRegistry", "LoadYAML",
			"failed to parse workflow document", err)
	}
	for _, w := range doc.Workflows {
		if err := r.RegisterWorkflow(w); err != nil {
			return err
		}
	}
	return nil
}
