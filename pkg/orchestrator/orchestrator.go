// Package orchestrator is the public surface of the engine: it wires the
// catalog registries, plan generator, deterministic executor, checkpointer
// and synthesis engine into one object with a small API. Typical use is
// Run (query in, synthesis payload out); the individual phases are exposed
// for callers that need finer control.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/harborlabs/bunkerplan/pkg/bunker"
	"github.com/harborlabs/bunkerplan/pkg/checkpoint"
	"github.com/harborlabs/bunkerplan/pkg/config"
	"github.com/harborlabs/bunkerplan/pkg/executor"
	"github.com/harborlabs/bunkerplan/pkg/llm"
	"github.com/harborlabs/bunkerplan/pkg/oerr"
	"github.com/harborlabs/bunkerplan/pkg/plan"
	"github.com/harborlabs/bunkerplan/pkg/refstore"
	"github.com/harborlabs/bunkerplan/pkg/safety"
	"github.com/harborlabs/bunkerplan/pkg/state"
	"github.com/harborlabs/bunkerplan/pkg/synthesis"
)

// Options override the orchestrator's default wiring.
type Options struct {
	// Providers back the default catalog tools. Ignored when Catalog is
	// set.
	Providers bunker.Providers

	// Catalog replaces the default bunker catalog entirely.
	Catalog *bunker.Catalog

	// Provider overrides the LLM provider. Nil builds one from the config
	// when an API key is present; without a key the engine runs LLM-free
	// (regex classification, template reasoning).
	Provider llm.Provider

	// Saver overrides the checkpoint backend. Nil uses the factory, which
	// falls back to memory when the configured backend is unreachable.
	Saver checkpoint.Saver
}

// Orchestrator owns the engine components for one process.
type Orchestrator struct {
	cfg     *config.Config
	catalog *bunker.Catalog

	generator *plan.Generator
	executor  *executor.Executor
	cp        *checkpoint.Checkpointer
	synth     *synthesis.Engine
}

// New assembles an orchestrator. The context bounds backend probes only.
func New(ctx context.Context, cfg *config.Config, opts *Options) (*Orchestrator, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if opts == nil {
		opts = &Options{}
	}

	catalog := opts.Catalog
	if catalog == nil {
		var err error
		catalog, err = bunker.NewCatalog(opts.Providers)
		if err != nil {
			return nil, fmt.Errorf("building catalog: %w", err)
		}
	}

	provider := opts.Provider
	if provider == nil && cfg.LLM.APIKey != "" {
		p, err := llm.NewOpenAIProvider(cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("building llm provider: %w", err)
		}
		provider = p
	}
	if provider == nil {
		slog.Info("No LLM provider configured, running with heuristic classification")
	}

	validator := state.NewValidator(catalog.Schema)
	migrator := state.NewMigrator(validator)
	compressor := state.NewCompressor(catalog.Schema,
		newReferenceStore(cfg), cfg.State.InlineSizeThreshold)

	saver := opts.Saver
	if saver == nil {
		saver = checkpoint.NewSaver(ctx, cfg.Checkpoint)
	}
	cp := checkpoint.NewCheckpointer(saver, validator, compressor, migrator,
		cfg.Checkpoint, cfg.State)

	return &Orchestrator{
		cfg:     cfg,
		catalog: catalog,
		generator: plan.NewGenerator(catalog.Agents, catalog.Tools, catalog.Workflows,
			provider, cfg.Executor.PlanTimeout),
		executor: executor.New(catalog.Agents, catalog.Tools, safety.DefaultSet(),
			cp, cfg.Executor),
		cp:    cp,
		synth: synthesis.NewEngine(provider, synthesis.DefaultThresholds()),
	}, nil
}

// newReferenceStore picks the reference store KV to match the checkpoint
// backend: redis when configured and reachable, else in-process memory.
func newReferenceStore(cfg *config.Config) *refstore.Store {
	if url := cfg.Checkpoint.BackendURL; strings.HasPrefix(url, "redis://") ||
		strings.HasPrefix(url, "rediss://") {
		kv, err := refstore.NewRedisKV(url, cfg.Checkpoint.BackendToken)
		if err == nil {
			return refstore.NewStore(kv, cfg.State.ReferenceTTL)
		}
		slog.Warn("Reference store falling back to memory", "error", err)
	}
	return refstore.NewStore(refstore.NewMemoryKV(), cfg.State.ReferenceTTL)
}

// Catalog exposes the registries, mainly for inspection commands.
func (o *Orchestrator) Catalog() *bunker.Catalog { return o.catalog }

// Checkpointer exposes the checkpoint pipeline.
func (o *Orchestrator) Checkpointer() *checkpoint.Checkpointer { return o.cp }

// GeneratePlan classifies the query and instantiates a validated plan.
func (o *Orchestrator) GeneratePlan(ctx context.Context, query string, s state.State,
	opts *plan.Options) (*plan.Plan, error) {
	return o.generator.Generate(ctx, query, s, opts)
}

// ExecutePlan runs the plan. The classification's extracted entities are
// seeded into the state so stage agents can read them.
func (o *Orchestrator) ExecutePlan(ctx context.Context, p *plan.Plan, s state.State) (*executor.Result, error) {
	if p == nil {
		return nil, oerr.New(oerr.CodePlanInvalid, "Orchestrator", "ExecutePlan", "plan cannot be nil")
	}
	if !p.Validation.IsValid {
		return nil, oerr.New(oerr.CodePlanInvalid, "Orchestrator", "ExecutePlan",
			fmt.Sprintf("plan %s failed validation: agents=%v tools=%v missing=%v",
				p.PlanID, p.Validation.InvalidAgents, p.Validation.InvalidTools, p.Validation.MissingInputs))
	}
	if s == nil {
		s = state.New()
	}
	seedEntities(s, p.Classification.ExtractedEntities)
	return o.executor.Execute(ctx, p, s)
}

// Synthesize builds the structured payload from an execution result.
func (o *Orchestrator) Synthesize(ctx context.Context, res *executor.Result) (*synthesis.Payload, error) {
	return o.synth.Synthesize(ctx, res)
}

// Run is the end-to-end path: generate, execute, synthesize. A failed
// execution still synthesizes; only generation and validation errors
// abort.
func (o *Orchestrator) Run(ctx context.Context, query string, s state.State) (*synthesis.Payload, *executor.Result, error) {
	p, err := o.GeneratePlan(ctx, query, s, nil)
	if err != nil {
		return nil, nil, err
	}
	res, err := o.ExecutePlan(ctx, p, s)
	if res == nil && err != nil {
		return nil, nil, err
	}
	payload, synthErr := o.Synthesize(ctx, res)
	if synthErr != nil {
		return nil, res, synthErr
	}
	return payload, res, err
}

// Resume loads the latest checkpointed state for a thread, reconstructing
// deltas, resolving references and migrating old schema versions.
func (o *Orchestrator) Resume(ctx context.Context, threadID string) (state.State, error) {
	s, err := o.cp.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, oerr.New(oerr.CodeNotFound, "Orchestrator", "Resume",
			fmt.Sprintf("no checkpoint for thread '%s'", threadID))
	}
	return s, nil
}

// Health probes the checkpoint backend.
func (o *Orchestrator) Health(ctx context.Context) *checkpoint.Health {
	return o.cp.CheckHealth(ctx, "health-probe")
}

// Close releases backend connections.
func (o *Orchestrator) Close() error {
	return o.cp.Close()
}

// seedEntities writes the classifier's entities into the state without
// clobbering caller-provided values.
func seedEntities(s state.State, e plan.Entities) {
	if _, exists := s["extracted_entities"]; exists {
		return
	}
	ents := map[string]any{}
	if e.Origin != "" {
		ents["origin"] = e.Origin
	}
	if e.Destination != "" {
		ents["destination"] = e.Destination
	}
	if e.VesselName != "" {
		ents["vessel_name"] = e.VesselName
	}
	if len(e.FuelTypes) > 0 {
		fuels := make([]any, 0, len(e.FuelTypes))
		for _, f := range e.FuelTypes {
			fuels = append(fuels, f)
		}
		ents["fuel_types"] = fuels
	}
	if e.FuelQuantityMT > 0 {
		ents["fuel_quantity_mt"] = e.FuelQuantityMT
	}
	if e.DepartureDate != "" {
		ents["departure_date"] = e.DepartureDate
	}
	if len(ents) > 0 {
		s["extracted_entities"] = ents
	}
}
