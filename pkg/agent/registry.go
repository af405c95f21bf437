package agent

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/harborlabs/bunkerplan/pkg/oerr"
	"github.com/harborlabs/bunkerplan/pkg/registry"
	"github.com/harborlabs/bunkerplan/pkg/tool"
)

// entry binds a definition to its execution metrics.
type entry struct {
	def     *Definition
	metrics *tool.Metrics
}

// Registry is the process-wide agent catalog. Registration validates the
// definition against the state schema and tool registry, and rejects any
// agent that would introduce a dependency cycle.
type Registry struct {
	*registry.BaseRegistry[*entry]
	validate *validator.Validate

	tools        *tool.Registry
	schemaFields map[string]bool

	mu sync.RWMutex
	// intentIndex maps an intent to the capabilities that serve it;
	// capabilityIndex maps a capability to the agents declaring it.
	intentIndex     map[string]map[string]bool
	capabilityIndex map[string]map[string]bool
}

// NewRegistry creates an agent registry. schemaFields is the set of declared
// state-schema field names used to check produces declarations; tools may be
// nil to skip tool existence checks (tests only).
func NewRegistry(tools *tool.Registry, schemaFields []string) *Registry {
	fields := make(map[string]bool, len(schemaFields))
	for _, f := range schemaFields {
		fields[f] = true
	}
	return &Registry{
		BaseRegistry:    registry.NewBaseRegistry[*entry](),
		validate:        validator.New(),
		tools:           tools,
		schemaFields:    fields,
		intentIndex:     make(map[string]map[string]bool),
		capabilityIndex: make(map[string]map[string]bool),
	}
}

// RegisterAgent adds an agent definition. It fails with InvalidDefinition
// when the definition violates the schema, references unknown tools or
// state fields, or introduces a dependency cycle; and with DuplicateId when
// the id is taken by a structurally different definition.
func (r *Registry) RegisterAgent(def *Definition) error {
	if def == nil {
		return oerr.New(oerr.CodeInvalidDefinition, "AgentRegistry", "RegisterAgent", "definition cannot be nil")
	}
	if err := r.validate.Struct(def); err != nil {
		return oerr.Wrap(oerr.CodeInvalidDefinition, "AgentRegistry", "RegisterAgent",
			fmt.Sprintf("agent '%s' failed schema validation", def.ID), err)
	}
	if def.Handler == nil {
		return oerr.New(oerr.CodeInvalidDefinition, "AgentRegistry", "RegisterAgent",
			fmt.Sprintf("agent '%s' has no implementation handle", def.ID))
	}

	if len(r.schemaFields) > 0 {
		for _, f := range def.Produces.StateFields {
			if !r.schemaFields[f] {
				return oerr.New(oerr.CodeInvalidDefinition, "AgentRegistry", "RegisterAgent",
					fmt.Sprintf("agent '%s' produces undeclared state field '%s'", def.ID, f))
			}
		}
	}
	if r.tools != nil {
		for _, id := range def.Tools.Required {
			if !r.tools.HasTool(id) {
				return oerr.New(oerr.CodeInvalidDefinition, "AgentRegistry", "RegisterAgent",
					fmt.Sprintf("agent '%s' requires unknown tool '%s'", def.ID, id))
			}
		}
	}

	if existing, ok := r.Get(def.ID); ok {
		if definitionKey(existing.def) == definitionKey(def) {
			return nil
		}
		return oerr.New(oerr.CodeDuplicateID, "AgentRegistry", "RegisterAgent",
			fmt.Sprintf("agent '%s' already registered with a different definition", def.ID))
	}

	// Cycle check: the graph including the candidate must stay acyclic.
	defs := r.definitions()
	defs = append(defs, def)
	if cycles := buildGraph(defs).DetectCycles(); len(cycles) > 0 {
		return oerr.New(oerr.CodeInvalidDefinition, "AgentRegistry", "RegisterAgent",
			fmt.Sprintf("agent '%s' introduces dependency cycle: %s", def.ID, strings.Join(cycles[0], " -> ")))
	}

	if err := r.Register(def.ID, &entry{def: def, metrics: &tool.Metrics{}}); err != nil {
		return oerr.Wrap(oerr.CodeDuplicateID, "AgentRegistry", "RegisterAgent",
			fmt.Sprintf("failed to register agent '%s'", def.ID), err)
	}
	r.index(def)

	slog.Debug("Registered agent", "agent", def.ID, "type", def.Type, "capabilities", len(def.Capabilities))
	return nil
}

func (r *Registry) index(def *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, intent := range def.Intents {
		if r.intentIndex[intent] == nil {
			r.intentIndex[intent] = make(map[string]bool)
		}
		for _, c := range def.Capabilities {
			r.intentIndex[intent][c] = true
		}
	}
	for _, c := range def.Capabilities {
		if r.capabilityIndex[c] == nil {
			r.capabilityIndex[c] = make(map[string]bool)
		}
		r.capabilityIndex[c][def.ID] = true
	}
}

// GetAgent returns an agent definition.
func (r *Registry) GetAgent(id string) (*Definition, error) {
	e, ok := r.Get(id)
	if !ok {
		return nil, oerr.New(oerr.CodeNotFound, "AgentRegistry", "GetAgent",
			fmt.Sprintf("agent '%s' not found", id))
	}
	return e.def, nil
}

// HasAgent reports whether the agent id is registered.
func (r *Registry) HasAgent(id string) bool {
	return r.Has(id)
}

// RecordExecution updates an agent's rolling metrics.
func (r *Registry) RecordExecution(id string, success bool, duration time.Duration) {
	if e, ok := r.Get(id); ok {
		e.metrics.Record(success, duration)
	}
}

// MetricsFor returns a snapshot of an agent's execution metrics.
func (r *Registry) MetricsFor(id string) (tool.Snapshot, error) {
	e, ok := r.Get(id)
	if !ok {
		return tool.Snapshot{}, oerr.New(oerr.CodeNotFound, "AgentRegistry", "MetricsFor",
			fmt.Sprintf("agent '%s' not found", id))
	}
	return e.metrics.Snapshot(), nil
}

// FindCriteria filters the agent catalog. Zero values match everything.
type FindCriteria struct {
	Type       Type
	Domain     string
	Capability string
	Intent     string
}

// Find returns matching definitions stable-ordered by id.
func (r *Registry) Find(c FindCriteria) []*Definition {
	var out []*Definition
	for _, e := range r.List() {
		d := e.def
		if c.Type != "" && d.Type != c.Type {
			continue
		}
		if c.Domain != "" && !containsString(d.Domains, c.Domain) {
			continue
		}
		if c.Capability != "" && !containsString(d.Capabilities, c.Capability) {
			continue
		}
		if c.Intent != "" && !containsString(d.Intents, c.Intent) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// CapabilitiesForIntent resolves an intent to its capability set. Unknown
// intents return an empty set.
func (r *Registry) CapabilitiesForIntent(intent string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for c := range r.intentIndex[intent] {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// AgentsForCapability resolves a capability to the agents declaring it.
func (r *Registry) AgentsForCapability(capability string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for id := range r.capabilityIndex[capability] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// AgentsForIntent resolves an intent through the capability index to the
// agents that can serve it.
func (r *Registry) AgentsForIntent(intent string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range r.CapabilitiesForIntent(intent) {
		for _, id := range r.AgentsForCapability(c) {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	sort.Strings(out)
	return out
}

// BuildDependencyGraph assembles the dependency graph over all registered
// agents: explicit upstream/downstream hints plus edges inferred from
// required-field production.
func (r *Registry) BuildDependencyGraph() *Graph {
	return buildGraph(r.definitions())
}

// TopologicalSort orders the given agent subset respecting the dependency
// graph; ties break by priority, then id.
func (r *Registry) TopologicalSort(subset []string) ([]string, error) {
	return r.BuildDependencyGraph().TopologicalSort(subset)
}

func (r *Registry) definitions() []*Definition {
	entries := r.List()
	defs := make([]*Definition, 0, len(entries))
	for _, e := range entries {
		defs = append(defs, e.def)
	}
	return defs
}

func definitionKey(d *Definition) string {
	return fmt.Sprintf("%s|%s|%v|%v|%v|%v|%v|%v", d.ID, d.Type,
		d.Capabilities, d.Intents, d.Produces, d.Consumes, d.Tools, d.Dependencies)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
