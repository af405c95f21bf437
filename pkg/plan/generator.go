package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harborlabs/bunkerplan/pkg/agent"
	"github.com/harborlabs/bunkerplan/pkg/llm"
	"github.com/harborlabs/bunkerplan/pkg/observability"
	"github.com/harborlabs/bunkerplan/pkg/state"
	"github.com/harborlabs/bunkerplan/pkg/tool"
	"github.com/harborlabs/bunkerplan/pkg/workflow"
)

// Options tune plan generation.
type Options struct {
	ForceRegenerate         bool
	IncludeOptionalAgents   bool
	EnableParallelExecution bool
	MaxStages               int
	ExcludeAgents           []string

	// Timeout and Priority override the generator defaults for this plan.
	Timeout       time.Duration
	Priority      string
	CorrelationID string
}

// Generator builds execution plans. It performs exactly one LLM call per
// plan (the classification); everything downstream is deterministic
// resolution against the registries.
type Generator struct {
	agents    *agent.Registry
	tools     *tool.Registry
	workflows *workflow.Registry
	provider  llm.Provider // nil falls back to regex classification
	validator *Validator

	defaultTimeout time.Duration
}

// NewGenerator assembles a plan generator. provider may be nil; every
// classification then uses the regex fallback with low confidence.
func NewGenerator(agents *agent.Registry, tools *tool.Registry, workflows *workflow.Registry,
	provider llm.Provider, defaultTimeout time.Duration) *Generator {
	return &Generator{
		agents:         agents,
		tools:          tools,
		workflows:      workflows,
		provider:       provider,
		validator:      NewValidator(agents, tools),
		defaultTimeout: defaultTimeout,
	}
}

// Generate produces a plan for the query against the current state. The
// plan is returned regardless of its validation outcome; callers decide
// whether to execute.
func (g *Generator) Generate(ctx context.Context, query string, s state.State, opts *Options) (*Plan, error) {
	if opts == nil {
		opts = &Options{EnableParallelExecution: true}
	}
	if s == nil {
		s = state.New()
	}

	tracer := observability.GetTracer("bunkerplan.plan")
	ctx, span := tracer.Start(ctx, observability.SpanPlanGeneration)
	defer span.End()

	classification := g.classify(ctx, query)
	span.SetAttributes(attribute.String("plan.query_type", classification.QueryType))

	wf, err := g.selectWorkflow(classification)
	if err != nil {
		return nil, err
	}

	correlationID := opts.CorrelationID
	if correlationID == "" {
		if v, ok := s["correlation_id"].(string); ok && v != "" {
			correlationID = v
		} else {
			correlationID = uuid.NewString()
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = g.defaultTimeout
	}

	p := &Plan{
		PlanID:          uuid.NewString(),
		QueryType:       classification.QueryType,
		WorkflowID:      wf.ID,
		WorkflowVersion: wf.Version,
		Classification:  classification,
		RequiredState:   wf.Inputs,
		ExpectedOutputs: wf.ExpectedOutputs,
		SupervisorStage: wf.SupervisorStage,
		Context: Context{
			Timeout:       timeout,
			Priority:      opts.Priority,
			CorrelationID: correlationID,
		},
	}

	if err := g.instantiateStages(p, wf, opts); err != nil {
		return nil, err
	}
	g.computeDependencies(p, s)
	if opts.EnableParallelExecution {
		g.groupParallelStages(p)
	}
	g.estimate(p)
	p.Validation = g.validator.Validate(p, s)

	slog.Info("Generated execution plan",
		"plan", p.PlanID, "query_type", p.QueryType, "workflow", p.WorkflowID,
		"stages", len(p.Stages), "valid", p.Validation.IsValid,
		"confidence", classification.Confidence, "correlation_id", correlationID)
	return p, nil
}

// classify runs the single planning LLM call, falling back to regex
// heuristics on any failure.
func (g *Generator) classify(ctx context.Context, query string) Classification {
	if g.provider == nil {
		return fallbackClassify(query, g.workflows.QueryTypes())
	}

	resp, err := g.provider.Complete(ctx, &llm.CompletionRequest{
		System:    classifierSystemPrompt,
		Prompt:    g.classifierPrompt(query),
		MaxTokens: 700,
		ForceJSON: true,
	})
	if err != nil {
		slog.Warn("Classification LLM call failed, using fallback heuristics", "error", err)
		return fallbackClassify(query, g.workflows.QueryTypes())
	}

	c, err := parseClassification(resp.Text)
	if err != nil {
		slog.Warn("Failed to parse classification response, using fallback heuristics", "error", err)
		return fallbackClassify(query, g.workflows.QueryTypes())
	}

	// An unknown query type means the model hallucinated; trust the
	// heuristics instead.
	if len(g.workflows.ForQueryType(c.QueryType)) == 0 && c.ProposedWorkflowID == "" {
		slog.Warn("Classifier returned unknown query type, using fallback heuristics",
			"query_type", c.QueryType)
		return fallbackClassify(query, g.workflows.QueryTypes())
	}
	return c
}

const classifierSystemPrompt = `You classify maritime bunker-planning queries. ` +
	`Respond with a single JSON object and nothing else. Fields: query_type (one of the listed types), ` +
	`confidence (0..1), reasoning (short), secondary_intents (array), ` +
	`extracted_entities {origin, destination, vessel_name, fuel_types, fuel_quantity_mt, departure_date}, ` +
	`proposed_workflow_id (one of the listed workflow ids, or empty).`

func (g *Generator) classifierPrompt(query string) string {
	var b strings.Builder
	b.WriteString("Known query types: ")
	b.WriteString(strings.Join(g.workflows.QueryTypes(), ", "))
	b.WriteString("\n\nWorkflows:\n")
	for _, id := range g.workflows.IDs() {
		w, ok := g.workflows.Get(id)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %s (query_type=%s, inputs=%s, outputs=%s)\n",
			w.ID, w.QueryType, strings.Join(w.Inputs, "/"), strings.Join(w.ExpectedOutputs, "/"))
	}
	b.WriteString("\nCapabilities: ")
	b.WriteString(strings.Join(g.knownCapabilities(), ", "))
	b.WriteString("\n\nUser query: ")
	b.WriteString(query)
	return b.String()
}

func (g *Generator) knownCapabilities() []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range g.agents.Find(agent.FindCriteria{}) {
		for _, c := range d.Capabilities {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

// parseClassification decodes the model's JSON, tolerating loosely typed
// values (numbers as strings, single values where arrays are expected).
func parseClassification(text string) (Classification, error) {
	text = strings.TrimSpace(text)
	// Models occasionally wrap JSON in a code fence despite instructions.
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return Classification{}, fmt.Errorf("classification is not valid JSON: %w", err)
	}

	var c Classification
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &c,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Classification{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return Classification{}, fmt.Errorf("classification has unexpected shape: %w", err)
	}
	if c.QueryType == "" {
		return Classification{}, fmt.Errorf("classification is missing query_type")
	}
	return c, nil
}

// selectWorkflow prefers the workflow the classifier proposed when it
// exists, else the first workflow declared for the query type.
func (g *Generator) selectWorkflow(c Classification) (*workflow.Workflow, error) {
	if c.ProposedWorkflowID != "" {
		if w, err := g.workflows.GetWorkflow(c.ProposedWorkflowID); err == nil {
			return w, nil
		}
	}
	candidates := g.workflows.ForQueryType(c.QueryType)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no workflow registered for query type '%s'", c.QueryType)
	}
	return candidates[0], nil
}

// instantiateStages resolves workflow stage templates against the agent
// registry: requires from consumed-required fields, provides from produced
// fields, tools from required bindings.
func (g *Generator) instantiateStages(p *Plan, wf *workflow.Workflow, opts *Options) error {
	excluded := make(map[string]bool, len(opts.ExcludeAgents))
	for _, id := range opts.ExcludeAgents {
		excluded[id] = true
	}

	order := 0
	for _, tpl := range wf.Stages {
		if excluded[tpl.AgentID] {
			slog.Debug("Excluding agent from plan", "agent", tpl.AgentID, "stage", tpl.StageID)
			continue
		}
		if opts.MaxStages > 0 && order >= opts.MaxStages {
			break
		}

		def, err := g.agents.GetAgent(tpl.AgentID)
		if err != nil {
			// Keep the stage so validation can report the unknown agent.
			p.Stages = append(p.Stages, &Stage{
				StageID:  tpl.StageID,
				AgentID:  tpl.AgentID,
				Order:    order,
				Required: tpl.Required,
			})
			order++
			continue
		}
		if !tpl.Required && !opts.IncludeOptionalAgents && def.Type == agent.TypeCoordinator {
			// Optional coordination stages only join on request.
			continue
		}

		st := &Stage{
			StageID:           tpl.StageID,
			AgentID:           tpl.AgentID,
			Order:             order,
			Required:          tpl.Required,
			ParallelGroup:     tpl.ParallelGroup,
			SkipWhen:          tpl.SkipWhen,
			ContinueWhen:      tpl.ContinueWhen,
			Requires:          append([]string{}, def.Consumes.Required...),
			Provides:          append([]string{}, def.Produces.StateFields...),
			ToolsNeeded:       append([]string{}, def.Tools.Required...),
			EstimatedDuration: g.stageDuration(def),
			EstimatedCostUSD:  g.stageCost(def),
		}
		p.Stages = append(p.Stages, st)
		order++
	}

	if len(p.Stages) == 0 {
		return fmt.Errorf("workflow '%s' produced no stages", wf.ID)
	}
	return nil
}

// computeDependencies links each stage to the earlier stages that provide
// its required fields. Fields already present in the current state create
// no dependency.
func (g *Generator) computeDependencies(p *Plan, s state.State) {
	for i, st := range p.Stages {
		deps := make(map[string]bool)
		for _, field := range st.Requires {
			if s.Has(field) {
				continue
			}
			for j := 0; j < i; j++ {
				for _, provided := range p.Stages[j].Provides {
					if provided == field {
						deps[p.Stages[j].StageID] = true
					}
				}
			}
		}
		st.DependsOn = sortedKeys(deps)
	}
}

// groupParallelStages assigns the same group number to contiguous stages
// that do not depend on each other and whose agents allow concurrency.
func (g *Generator) groupParallelStages(p *Plan) {
	group := 0
	var current []*Stage

	flush := func() {
		if len(current) >= 2 {
			n := group
			ids := make([]string, 0, len(current))
			for _, st := range current {
				gn := n
				st.ParallelGroup = &gn
				ids = append(ids, st.StageID)
			}
			p.ParallelGroups = append(p.ParallelGroups, ids)
			group++
		}
		current = nil
	}

	for _, st := range p.Stages {
		def, err := g.agents.GetAgent(st.AgentID)
		if err != nil || !def.Execution.CanRunInParallel {
			flush()
			continue
		}
		if dependsOnAny(st, current) {
			flush()
		}
		current = append(current, st)
	}
	flush()
}

func dependsOnAny(st *Stage, peers []*Stage) bool {
	for _, dep := range st.DependsOn {
		for _, peer := range peers {
			if peer.StageID == dep {
				return true
			}
		}
	}
	return false
}

// estimate sums per-stage durations (max within a parallel group), costs,
// LLM calls from agent declarations and API calls from tool cost classes.
func (g *Generator) estimate(p *Plan) {
	est := Estimates{TotalAgents: len(p.Stages)}

	groupMax := make(map[int]time.Duration)
	for _, st := range p.Stages {
		est.EstCostUSD += st.EstimatedCostUSD

		if st.ParallelGroup != nil {
			if st.EstimatedDuration > groupMax[*st.ParallelGroup] {
				groupMax[*st.ParallelGroup] = st.EstimatedDuration
			}
		} else {
			est.EstDuration += st.EstimatedDuration
		}

		if def, err := g.agents.GetAgent(st.AgentID); err == nil && def.UsesLLM {
			est.LLMCalls++
		}
		for _, toolID := range st.ToolsNeeded {
			if td, err := g.tools.GetTool(toolID); err == nil && td.Cost != tool.CostFree {
				est.APICalls++
			}
		}
	}
	for _, d := range groupMax {
		est.EstDuration += d
	}

	p.Estimates = est
}

func (g *Generator) stageDuration(def *agent.Definition) time.Duration {
	if def.EstimatedDuration > 0 {
		return def.EstimatedDuration
	}
	var total time.Duration
	for _, toolID := range def.Tools.Required {
		if td, err := g.tools.GetTool(toolID); err == nil {
			total += td.AvgLatency
		}
	}
	if total == 0 {
		total = time.Second
	}
	return total
}

func (g *Generator) stageCost(def *agent.Definition) float64 {
	cost := def.EstimatedCostUSD
	for _, toolID := range def.Tools.Required {
		if td, err := g.tools.GetTool(toolID); err == nil && td.Pricing != nil {
			cost += td.Pricing.PerCallUSD
		}
	}
	return cost
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	// Stable order keeps plans deterministic.
	sort.Strings(out)
	return out
}
