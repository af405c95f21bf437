package executor

import (
	"context"
	"sync"
	"time"

	"github.com/harborlabs/bunkerplan/pkg/tool"
)

// recordingInvoker wraps the tool registry's invoker for one stage: every
// call is recorded for the stage result and priced into the plan's cost
// accounting.
type recordingInvoker struct {
	tools *tool.Registry

	mu    sync.Mutex
	calls []ToolCall

	llmCalls int
	apiCalls int
	costUSD  float64
}

func newRecordingInvoker(tools *tool.Registry) *recordingInvoker {
	return &recordingInvoker{tools: tools}
}

func (r *recordingInvoker) Invoke(ctx context.Context, toolID string, args map[string]any) (tool.Result, error) {
	start := time.Now()
	result, err := r.tools.Invoke(ctx, toolID, args)
	duration := time.Since(start)

	success := err == nil && result.Success

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, ToolCall{ToolID: toolID, Success: success, Duration: duration})

	def, derr := r.tools.GetTool(toolID)
	if derr != nil {
		return result, err
	}

	if def.IsLLM {
		r.llmCalls++
	}
	if def.Cost != tool.CostFree {
		r.apiCalls++
	}
	r.costUSD += priceCall(def, result)

	return result, err
}

// priceCall computes one invocation's cost: token pricing for LLM tools
// (token counts read from result metadata), flat per-call otherwise.
func priceCall(def *tool.Definition, result tool.Result) float64 {
	p := def.Pricing
	if p == nil {
		return 0
	}
	if def.IsLLM {
		in := metadataTokens(result.Metadata, "input_tokens")
		out := metadataTokens(result.Metadata, "output_tokens")
		return float64(in)/1e6*p.InputPerMTokUSD + float64(out)/1e6*p.OutputPerMTokUSD
	}
	return p.PerCallUSD
}

func metadataTokens(md map[string]any, key string) int {
	if md == nil {
		return 0
	}
	switch v := md[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// snapshot drains the recorded calls and accounting for one stage.
func (r *recordingInvoker) snapshot() (calls []ToolCall, llm, api int, cost float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls, r.llmCalls, r.apiCalls, r.costUSD
}
