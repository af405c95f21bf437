package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/harborlabs/bunkerplan/pkg/observability"
	"github.com/harborlabs/bunkerplan/pkg/oerr"
	"github.com/harborlabs/bunkerplan/pkg/registry"
)

// entry binds a definition to its mutable runtime companions.
type entry struct {
	def     *Definition
	metrics *Metrics
	limiter *rate.Limiter
}

// Registry is the process-wide tool catalog. It is populated at startup and
// immutable afterwards except for metrics.
type Registry struct {
	*registry.BaseRegistry[*entry]
	validate *validator.Validate
}

func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[*entry](),
		validate:     validator.New(),
	}
}

// RegisterTool adds a tool definition. Registering an id twice succeeds only
// when the definitions are structurally equal.
func (r *Registry) RegisterTool(def *Definition) error {
	if def == nil {
		return oerr.New(oerr.CodeInvalidDefinition, "ToolRegistry", "RegisterTool", "definition cannot be nil")
	}
	if err := r.validate.Struct(def); err != nil {
		return oerr.Wrap(oerr.CodeInvalidDefinition, "ToolRegistry", "RegisterTool",
			fmt.Sprintf("tool '%s' failed schema validation", def.ID), err)
	}
	if def.Handler == nil {
		return oerr.New(oerr.CodeInvalidDefinition, "ToolRegistry", "RegisterTool",
			fmt.Sprintf("tool '%s' has no implementation handle", def.ID))
	}

	if existing, ok := r.Get(def.ID); ok {
		if structuralKey(existing.def) == structuralKey(def) {
			return nil
		}
		return oerr.New(oerr.CodeDuplicateID, "ToolRegistry", "RegisterTool",
			fmt.Sprintf("tool '%s' already registered with a different definition", def.ID))
	}

	e := &entry{def: def, metrics: &Metrics{}}
	if rl := def.RateLimit; rl != nil {
		e.limiter = rate.NewLimiter(rate.Every(rl.Window/time.Duration(rl.Calls)), rl.Calls)
	}

	if err := r.Register(def.ID, e); err != nil {
		return oerr.Wrap(oerr.CodeDuplicateID, "ToolRegistry", "RegisterTool",
			fmt.Sprintf("failed to register tool '%s'", def.ID), err)
	}

	slog.Debug("Registered tool", "tool", def.ID, "category", def.Category, "cost", def.Cost)
	return nil
}

// GetTool returns a tool definition.
func (r *Registry) GetTool(id string) (*Definition, error) {
	e, ok := r.Get(id)
	if !ok {
		return nil, oerr.New(oerr.CodeNotFound, "ToolRegistry", "GetTool",
			fmt.Sprintf("tool '%s' not found", id))
	}
	return e.def, nil
}

// HasTool reports whether the tool id is registered.
func (r *Registry) HasTool(id string) bool {
	return r.Has(id)
}

// MetricsFor returns a snapshot of a tool's execution metrics.
func (r *Registry) MetricsFor(id string) (Snapshot, error) {
	e, ok := r.Get(id)
	if !ok {
		return Snapshot{}, oerr.New(oerr.CodeNotFound, "ToolRegistry", "MetricsFor",
			fmt.Sprintf("tool '%s' not found", id))
	}
	return e.metrics.Snapshot(), nil
}

// FindCriteria filters the tool catalog. Zero values match everything.
type FindCriteria struct {
	Category          Category
	Domain            string
	Cost              CostClass
	MinReliability    float64
	MaxLatency        time.Duration
	ExcludeDeprecated bool
}

// Find returns matching definitions stable-ordered by id.
func (r *Registry) Find(c FindCriteria) []*Definition {
	var out []*Definition
	for _, e := range r.List() {
		d := e.def
		if c.Category != "" && d.Category != c.Category {
			continue
		}
		if c.Domain != "" && !contains(d.Domains, c.Domain) {
			continue
		}
		if c.Cost != "" && d.Cost != c.Cost {
			continue
		}
		if c.MinReliability > 0 && d.Reliability < c.MinReliability {
			continue
		}
		if c.MaxLatency > 0 && d.AvgLatency > c.MaxLatency {
			continue
		}
		if c.ExcludeDeprecated && d.Deprecated {
			continue
		}
		out = append(out, d)
	}
	return out
}

// RecordExecution updates a tool's rolling metrics. Used by the executor
// and by Invoke.
func (r *Registry) RecordExecution(id string, success bool, duration time.Duration) {
	if e, ok := r.Get(id); ok {
		e.metrics.Record(success, duration)
	}
}

// Invoke runs a tool's handler with rate limiting, tracing and metrics.
// Exceeding a tool's rate limit queues the caller up to the context
// deadline, then fails with RateLimited.
func (r *Registry) Invoke(ctx context.Context, toolID string, args map[string]any) (Result, error) {
	e, ok := r.Get(toolID)
	if !ok {
		return Result{Success: false, Error: "tool not found"},
			oerr.New(oerr.CodeNotFound, "ToolRegistry", "Invoke",
				fmt.Sprintf("tool '%s' not found", toolID))
	}

	tracer := observability.GetTracer("bunkerplan.tool")
	ctx, span := tracer.Start(ctx, observability.SpanToolInvocation,
		trace.WithAttributes(attribute.String(observability.AttrToolID, toolID)))
	defer span.End()

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			if pm := observability.GetGlobalMetrics(); pm != nil {
				pm.RateLimitedTotal.WithLabelValues(toolID).Inc()
			}
			span.SetStatus(codes.Error, "rate limited")
			return Result{Success: false, Error: "rate limited"},
				oerr.Wrap(oerr.CodeRateLimited, "ToolRegistry", "Invoke",
					fmt.Sprintf("tool '%s' rate limit exceeded", toolID), err)
		}
	}

	start := time.Now()
	result, err := e.def.Handler(ctx, args)
	duration := time.Since(start)

	success := err == nil && result.Success
	e.metrics.Record(success, duration)

	if pm := observability.GetGlobalMetrics(); pm != nil {
		outcome := "success"
		if !success {
			outcome = "failure"
		}
		pm.ToolInvocations.WithLabelValues(toolID, outcome).Inc()
		pm.ToolDuration.WithLabelValues(toolID).Observe(duration.Seconds())
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{Success: false, Error: err.Error(), Metadata: result.Metadata},
			oerr.Wrap(oerr.CodeToolFailed, "ToolRegistry", "Invoke",
				fmt.Sprintf("tool '%s' failed", toolID), err)
	}
	if !result.Success {
		span.SetStatus(codes.Error, result.Error)
	} else {
		span.SetStatus(codes.Ok, "success")
	}
	span.SetAttributes(attribute.Int64("tool.duration_ms", duration.Milliseconds()))

	return result, nil
}

// structuralKey serializes a definition without its implementation handle so
// re-registration of an identical definition is a no-op.
func structuralKey(d *Definition) string {
	b, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	return string(b)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
