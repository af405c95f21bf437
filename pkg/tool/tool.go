// Package tool catalogs the external capabilities agents may invoke: data
// APIs, calculators and validators. The engine never implements a tool; it
// registers definitions, indexes them by classification, enforces rate
// limits and records per-tool metrics.
package tool

import (
	"context"
	"sync/atomic"
	"time"
)

// Category classifies a tool by the domain concern it serves.
type Category string

const (
	CategoryRouting     Category = "routing"
	CategoryWeather     Category = "weather"
	CategoryBunker      Category = "bunker"
	CategoryCompliance  Category = "compliance"
	CategoryVessel      Category = "vessel"
	CategoryCalculation Category = "calculation"
	CategoryValidation  Category = "validation"
)

// CostClass classifies a tool's invocation cost.
type CostClass string

const (
	CostFree      CostClass = "free"
	CostAPICall   CostClass = "api_call"
	CostExpensive CostClass = "expensive"
)

// Parameter describes one named input or output of a tool.
type Parameter struct {
	Name        string `json:"name" validate:"required"`
	Type        string `json:"type" validate:"required,oneof=string number integer boolean object array"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// RateLimit declares the maximum invocation rate of a tool.
type RateLimit struct {
	Calls  int           `json:"calls" validate:"gt=0"`
	Window time.Duration `json:"window" validate:"gt=0"`
}

// Pricing drives cost accounting. LLM-backed tools price per million
// tokens, API tools price flat per call.
type Pricing struct {
	PerCallUSD       float64 `json:"per_call_usd,omitempty"`
	InputPerMTokUSD  float64 `json:"input_per_mtok_usd,omitempty"`
	OutputPerMTokUSD float64 `json:"output_per_mtok_usd,omitempty"`
}

// Result is the uniform tool invocation outcome. The executor never
// inspects Data; it hands it to the invoking agent.
type Result struct {
	Success  bool           `json:"success"`
	Data     any            `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Handler is the implementation handle of a tool.
type Handler func(ctx context.Context, args map[string]any) (Result, error)

// Definition is a self-describing tool record.
type Definition struct {
	ID         string `json:"id" validate:"required"`
	Name       string `json:"name" validate:"required"`
	Version    string `json:"version,omitempty"`
	Deprecated bool   `json:"deprecated,omitempty"`

	// ReplacedBy links a deprecated tool to its replacement.
	ReplacedBy string `json:"replaced_by,omitempty"`

	Category Category `json:"category" validate:"required,oneof=routing weather bunker compliance vessel calculation validation"`
	Domains  []string `json:"domains,omitempty"`

	Parameters []Parameter `json:"parameters,omitempty" validate:"dive"`
	Outputs    []Parameter `json:"outputs,omitempty" validate:"dive"`

	Cost        CostClass     `json:"cost" validate:"required,oneof=free api_call expensive"`
	AvgLatency  time.Duration `json:"avg_latency,omitempty"`
	MaxLatency  time.Duration `json:"max_latency,omitempty"`
	Reliability float64       `json:"reliability" validate:"gte=0,lte=1"`

	ExternalServices []string `json:"external_services,omitempty"`
	DependsOnTools   []string `json:"depends_on_tools,omitempty"`

	PermittedAgents []string   `json:"permitted_agents,omitempty"`
	RequiresAuth    bool       `json:"requires_auth,omitempty"`
	RateLimit       *RateLimit `json:"rate_limit,omitempty"`

	Pricing *Pricing `json:"pricing,omitempty"`

	// IsLLM marks tools whose invocations count as LLM calls in cost
	// accounting.
	IsLLM bool `json:"is_llm,omitempty"`

	Handler Handler `json:"-"`
}

// Metrics tracks per-tool execution counters. All updates are atomic.
type Metrics struct {
	total         atomic.Int64
	success       atomic.Int64
	fail          atomic.Int64
	lastInvokedAt atomic.Int64 // unix nanos
	totalDuration atomic.Int64 // nanos
}

// Record updates the counters for one execution. Safe for concurrent use.
func (m *Metrics) Record(success bool, duration time.Duration) {
	m.total.Add(1)
	if success {
		m.success.Add(1)
	} else {
		m.fail.Add(1)
	}
	m.totalDuration.Add(int64(duration))
	m.lastInvokedAt.Store(time.Now().UnixNano())
}

// Snapshot is an immutable view of tool metrics.
type Snapshot struct {
	Total         int64         `json:"total"`
	Success       int64         `json:"success"`
	Fail          int64         `json:"fail"`
	AvgDuration   time.Duration `json:"avg_duration"`
	LastInvokedAt time.Time     `json:"last_invoked_at"`
}

func (m *Metrics) Snapshot() Snapshot {
	total := m.total.Load()
	snap := Snapshot{
		Total:   total,
		Success: m.success.Load(),
		Fail:    m.fail.Load(),
	}
	if total > 0 {
		snap.AvgDuration = time.Duration(m.totalDuration.Load() / total)
	}
	if ns := m.lastInvokedAt.Load(); ns > 0 {
		snap.LastInvokedAt = time.Unix(0, ns)
	}
	return snap
}

// Invoker is the capability handed to agents for calling tools. The
// executor wraps the registry's invoker to record per-stage tool calls.
type Invoker interface {
	Invoke(ctx context.Context, toolID string, args map[string]any) (Result, error)
}
