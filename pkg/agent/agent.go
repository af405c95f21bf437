// Package agent catalogs the units of work the executor schedules. An agent
// is a data record: capabilities, intents, the state fields it produces and
// consumes, its tool bindings and execution hints, plus a function handle.
// Dispatch is a table lookup over this metadata, never type-based.
package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/harborlabs/bunkerplan/pkg/state"
	"github.com/harborlabs/bunkerplan/pkg/tool"
)

// Type classifies an agent's role in a plan.
type Type string

const (
	TypeSupervisor  Type = "supervisor"
	TypeSpecialist  Type = "specialist"
	TypeCoordinator Type = "coordinator"
	TypeFinalizer   Type = "finalizer"
)

// Produces declares the state fields an agent writes.
type Produces struct {
	StateFields []string `json:"state_fields,omitempty"`
}

// Consumes declares the state fields an agent reads.
type Consumes struct {
	Required []string `json:"required,omitempty"`
	Optional []string `json:"optional,omitempty"`
}

// Tools declares an agent's tool bindings.
type Tools struct {
	Required []string `json:"required,omitempty"`
	Optional []string `json:"optional,omitempty"`
}

// DependencyHints declare explicit ordering relative to other agents, in
// addition to the edges inferred from produced/consumed fields.
type DependencyHints struct {
	Upstream   []string `json:"upstream,omitempty"`
	Downstream []string `json:"downstream,omitempty"`
}

// RetryPolicy bounds agent retries within a stage.
type RetryPolicy struct {
	MaxRetries  int           `json:"max_retries"`
	Backoff     time.Duration `json:"backoff"`
	Exponential bool          `json:"exponential,omitempty"`
}

// ExecutionHints tune how the executor schedules the agent.
type ExecutionHints struct {
	CanRunInParallel bool          `json:"can_run_in_parallel"`
	MaxExecutionTime time.Duration `json:"max_execution_time,omitempty"`
	Retry            RetryPolicy   `json:"retry_policy"`
}

// Invocation is the read-only context handed to an agent handler. State is
// a snapshot; the handler returns its writes as a partial update.
type Invocation struct {
	State  state.State
	Tools  tool.Invoker
	Logger *slog.Logger

	// StageID identifies the plan stage driving this invocation.
	StageID string

	// CorrelationID ties the invocation to the originating request.
	CorrelationID string
}

// Handler is an agent's implementation handle: state snapshot in, partial
// state update out.
type Handler func(ctx context.Context, inv *Invocation) (state.Update, error)

// Definition is a self-describing agent record.
type Definition struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required"`
	Type Type   `json:"type" validate:"required,oneof=supervisor specialist coordinator finalizer"`

	Domains      []string `json:"domains,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`

	// Intents are the user-visible routing keys this agent answers to.
	Intents []string `json:"intents,omitempty"`

	Produces Produces `json:"produces"`
	Consumes Consumes `json:"consumes"`
	Tools    Tools    `json:"tools"`

	Dependencies DependencyHints `json:"dependencies"`
	Execution    ExecutionHints  `json:"execution"`

	// Priority breaks ties in topological ordering; higher runs earlier.
	Priority int `json:"priority,omitempty"`

	// UsesLLM marks agents whose invocations count as LLM calls in plan
	// estimates.
	UsesLLM bool `json:"uses_llm,omitempty"`

	// Disabled agents fail plan validation.
	Disabled bool `json:"disabled,omitempty"`

	// EstimatedDuration and EstimatedCostUSD feed plan estimates.
	EstimatedDuration time.Duration `json:"estimated_duration,omitempty"`
	EstimatedCostUSD  float64       `json:"estimated_cost_usd,omitempty"`

	Handler Handler `json:"-"`
}
